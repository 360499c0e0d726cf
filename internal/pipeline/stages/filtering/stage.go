// Package filtering implements the pipeline stage that removes channels
// and EPG programmes rejected by the configured filter rules. A record
// survives only if every enabled rule in its domain matches (after
// applying each rule's Inverse flag) — an AND-of-rules chain, not a
// first-match-wins one.
package filtering

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/m3uproxy-core/internal/expression"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/core"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/shared"
	"github.com/jmylchreest/m3uproxy-core/internal/record"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "filtering"
	// StageName is the human-readable name for this stage.
	StageName = "Filtering"

	channelArtifactFile = "filtered_channels.jsonl"
	programArtifactFile = "filtered_programs.jsonl"
)

// Stage applies filter rules to the mapping_applied channel and programme
// artifacts, producing filtered artifacts containing only surviving
// records.
type Stage struct {
	shared.BaseStage
	cache  *expression.ParserCache
	logger *slog.Logger
}

// New creates a new filtering stage. cache may be nil; see datamapping.New.
func New(cache *expression.ParserCache) *Stage {
	return &Stage{BaseStage: shared.NewBaseStage(StageID, StageName), cache: cache}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New(deps.ParserCache)
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()
	cache := s.cache
	if cache == nil {
		cache = expression.NewParserCache(0)
	}

	channelRules, programRules := splitRulesByDomain(state.FilterRules)

	chanTotal, chanKept, err := s.filterChannels(state, channelRules, cache, result)
	if err != nil {
		return result, err
	}

	progTotal, progKept, err := s.filterPrograms(state, programRules, cache, result)
	if err != nil {
		return result, err
	}

	result.RecordsProcessed = chanTotal + progTotal
	result.RecordsModified = (chanTotal - chanKept) + (progTotal - progKept)
	result.Message = fmt.Sprintf("Kept %d/%d channels, %d/%d programmes", chanKept, chanTotal, progKept, progTotal)

	return result, nil
}

func splitRulesByDomain(rules []record.FilterRule) (channel, program []expression.FilterRuleSpec) {
	for _, r := range rules {
		domain, ok := expression.ParseExpressionDomain(r.Domain)
		if !ok {
			continue
		}
		spec := expression.FilterRuleSpec{
			ID:         r.ID,
			Name:       r.Name,
			Expression: r.Expr,
			Domain:     domain,
			Priority:   r.Priority,
			Inverse:    r.Inverse,
			Disabled:   r.Disabled,
		}
		switch domain {
		case expression.DomainStreamFilter:
			channel = append(channel, spec)
		case expression.DomainEpgFilter:
			program = append(program, spec)
		}
	}
	return channel, program
}

func (s *Stage) filterChannels(state *core.State, rules []expression.FilterRuleSpec, cache *expression.ParserCache, result *core.StageResult) (total, kept int, err error) {
	artifact, ok := state.LatestArtifactByType(core.ArtifactTypeChannels)
	if !ok {
		return 0, 0, fmt.Errorf("filtering: no channel artifact available from an earlier stage")
	}

	channels, err := core.ReadJSONL[record.Channel](state.Sandbox, artifact.FilePath)
	if err != nil {
		return 0, 0, fmt.Errorf("reading channel artifact: %w", err)
	}
	total = len(channels)

	evaluator := expression.NewFilterEvaluator(rules, cache)
	survivors := make([]record.Channel, 0, len(channels))
	seenStreamURL := make(map[string]bool, len(channels))
	for i := range channels {
		acc := record.NewChannelAccessor(&channels[i])
		survives, rejectedBy, err := evaluator.Evaluate(acc)
		if err != nil {
			return 0, 0, fmt.Errorf("evaluating filter rules for channel %s: %w", channels[i].ID, err)
		}
		if !survives {
			s.log(slog.LevelDebug, "channel rejected by filter", slog.String("channel_id", channels[i].ID), slog.String("rule_id", rejectedBy))
			continue
		}
		if channels[i].StreamURL != "" && seenStreamURL[channels[i].StreamURL] {
			s.log(slog.LevelDebug, "channel dropped as duplicate stream_url", slog.String("channel_id", channels[i].ID))
			continue
		}
		seenStreamURL[channels[i].StreamURL] = true
		survivors = append(survivors, channels[i])
	}

	relPath := shared.RunArtifactPath(state.ProxyID, channelArtifactFile)
	size, err := core.WriteJSONL(state.Sandbox, relPath, survivors)
	if err != nil {
		return 0, 0, fmt.Errorf("writing filtered channel artifact: %w", err)
	}

	out := core.NewArtifact(core.ArtifactTypeChannels, core.ProcessingStageFiltered, StageID).
		WithFilePath(relPath).
		WithRecordCount(len(survivors)).
		WithFileSize(size)
	result.Artifacts = append(result.Artifacts, out)

	s.log(slog.LevelInfo, "filtered channels", slog.Int("total", total), slog.Int("kept", len(survivors)))
	return total, len(survivors), nil
}

func (s *Stage) filterPrograms(state *core.State, rules []expression.FilterRuleSpec, cache *expression.ParserCache, result *core.StageResult) (total, kept int, err error) {
	artifact, ok := state.LatestArtifactByType(core.ArtifactTypePrograms)
	if !ok {
		relPath := shared.RunArtifactPath(state.ProxyID, programArtifactFile)
		size, err := core.WriteJSONL(state.Sandbox, relPath, []record.EpgProgramme{})
		if err != nil {
			return 0, 0, fmt.Errorf("writing empty filtered programme artifact: %w", err)
		}
		out := core.NewArtifact(core.ArtifactTypePrograms, core.ProcessingStageFiltered, StageID).
			WithFilePath(relPath).WithRecordCount(0).WithFileSize(size)
		result.Artifacts = append(result.Artifacts, out)
		return 0, 0, nil
	}

	programs, err := core.ReadJSONL[record.EpgProgramme](state.Sandbox, artifact.FilePath)
	if err != nil {
		return 0, 0, fmt.Errorf("reading programme artifact: %w", err)
	}
	total = len(programs)

	evaluator := expression.NewFilterEvaluator(rules, cache)
	survivors := make([]record.EpgProgramme, 0, len(programs))
	seenKey := make(map[string]bool, len(programs))
	for i := range programs {
		acc := record.NewEpgProgrammeAccessor(&programs[i])
		survives, rejectedBy, err := evaluator.Evaluate(acc)
		if err != nil {
			return 0, 0, fmt.Errorf("evaluating filter rules for programme %s: %w", programs[i].ID, err)
		}
		if !survives {
			s.log(slog.LevelDebug, "programme rejected by filter", slog.String("programme_id", programs[i].ID), slog.String("rule_id", rejectedBy))
			continue
		}
		key := programDedupKey(&programs[i])
		if seenKey[key] {
			s.log(slog.LevelDebug, "programme dropped as duplicate", slog.String("programme_id", programs[i].ID))
			continue
		}
		seenKey[key] = true
		survivors = append(survivors, programs[i])
	}

	relPath := shared.RunArtifactPath(state.ProxyID, programArtifactFile)
	size, err := core.WriteJSONL(state.Sandbox, relPath, survivors)
	if err != nil {
		return 0, 0, fmt.Errorf("writing filtered programme artifact: %w", err)
	}

	out := core.NewArtifact(core.ArtifactTypePrograms, core.ProcessingStageFiltered, StageID).
		WithFilePath(relPath).
		WithRecordCount(len(survivors)).
		WithFileSize(size)
	result.Artifacts = append(result.Artifacts, out)

	s.log(slog.LevelInfo, "filtered programmes", slog.Int("total", total), slog.Int("kept", len(survivors)))
	return total, len(survivors), nil
}

// programDedupKey mirrors the EPG dedup key from the record model:
// (channel_id, title, start epoch).
func programDedupKey(p *record.EpgProgramme) string {
	return p.ChannelID + "\x00" + p.ProgrammeTitle + "\x00" + fmt.Sprintf("%d", p.Start.Unix())
}

func (s *Stage) log(level slog.Level, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Log(context.Background(), level, msg, attrs...)
	}
}

var _ core.Stage = (*Stage)(nil)
