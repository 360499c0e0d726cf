// Package datamapping implements the pipeline stage that applies
// data-mapping rules to channels and EPG programmes, rewriting fields
// (title, group, logo, tvg-id, ...) via priority-ordered condition/action
// expressions before filtering sees the records.
package datamapping

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
	StageID = "data_mapping"
	// StageName is the human-readable name for this stage.
	StageName = "Data Mapping"

	channelArtifactFile = "mapping_applied_channels.jsonl"
	programArtifactFile = "mapping_applied_programs.jsonl"
)

// Stage applies data-mapping rules to the source_loaded channel and
// programme artifacts, producing mapping_applied artifacts of both kinds.
type Stage struct {
	shared.BaseStage
	cache  *expression.ParserCache
	logger *slog.Logger
}

// New creates a new data-mapping stage. cache may be nil, in which case
// the stage builds its own unbounded parser cache for this run only;
// pass a shared, process-wide cache to amortize parsing across runs.
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

	channelRules, programRules := splitRulesByDomain(state.MappingRules)

	chanCount, chanModified, err := s.mapChannels(state, channelRules, cache, result)
	if err != nil {
		return result, err
	}

	progCount, progModified, err := s.mapPrograms(state, programRules, cache, result)
	if err != nil {
		return result, err
	}

	result.RecordsProcessed = chanCount + progCount
	result.RecordsModified = chanModified + progModified
	result.Message = fmt.Sprintf("Mapped %d channels (%d modified), %d programmes (%d modified)",
		chanCount, chanModified, progCount, progModified)

	return result, nil
}

func splitRulesByDomain(rules []record.DataMappingRule) (channel, program []expression.MappingRuleSpec) {
	for _, r := range rules {
		domain, ok := expression.ParseExpressionDomain(r.Domain)
		if !ok {
			continue
		}
		spec := expression.MappingRuleSpec{
			ID:         r.ID,
			Name:       r.Name,
			Expression: r.Expr,
			Domain:     domain,
			Priority:   r.Priority,
			Disabled:   r.Disabled,
		}
		switch domain {
		case expression.DomainStreamDataMapping:
			channel = append(channel, spec)
		case expression.DomainEpgDataMapping:
			program = append(program, spec)
		}
	}
	return channel, program
}

func (s *Stage) mapChannels(state *core.State, rules []expression.MappingRuleSpec, cache *expression.ParserCache, result *core.StageResult) (count, modified int, err error) {
	artifact, ok := state.LatestArtifactByType(core.ArtifactTypeChannels)
	if !ok {
		return 0, 0, fmt.Errorf("data_mapping: no channel artifact available from an earlier stage")
	}

	channels, err := core.ReadJSONL[record.Channel](state.Sandbox, artifact.FilePath)
	if err != nil {
		return 0, 0, fmt.Errorf("reading channel artifact: %w", err)
	}

	evaluator := expression.NewMappingEvaluator(rules, cache)
	for i := range channels {
		acc := record.NewChannelAccessor(&channels[i])
		outcome, err := evaluator.Apply(acc)
		if err != nil {
			s.log(slog.LevelError, "mapping rule failed", slog.String("channel_id", channels[i].ID), slog.String("error", err.Error()))
			return 0, 0, fmt.Errorf("applying channel mapping rules: %w", err)
		}
		if outcome.RulesMatched > 0 {
			modified++
		}
	}

	relPath := shared.RunArtifactPath(state.ProxyID, channelArtifactFile)
	size, err := core.WriteJSONL(state.Sandbox, relPath, channels)
	if err != nil {
		return 0, 0, fmt.Errorf("writing mapping_applied channel artifact: %w", err)
	}

	out := core.NewArtifact(core.ArtifactTypeChannels, core.ProcessingStageMappingApplied, StageID).
		WithFilePath(relPath).
		WithRecordCount(len(channels)).
		WithFileSize(size)
	result.Artifacts = append(result.Artifacts, out)

	s.log(slog.LevelInfo, "applied channel data mapping", slog.Int("count", len(channels)), slog.Int("modified", modified))
	return len(channels), modified, nil
}

func (s *Stage) mapPrograms(state *core.State, rules []expression.MappingRuleSpec, cache *expression.ParserCache, result *core.StageResult) (count, modified int, err error) {
	artifact, ok := state.LatestArtifactByType(core.ArtifactTypePrograms)
	if !ok {
		// No EPG sources configured is a valid configuration; pass through
		// an empty programme artifact.
		relPath := shared.RunArtifactPath(state.ProxyID, programArtifactFile)
		size, err := core.WriteJSONL(state.Sandbox, relPath, []record.EpgProgramme{})
		if err != nil {
			return 0, 0, fmt.Errorf("writing empty mapping_applied programme artifact: %w", err)
		}
		out := core.NewArtifact(core.ArtifactTypePrograms, core.ProcessingStageMappingApplied, StageID).
			WithFilePath(relPath).WithRecordCount(0).WithFileSize(size)
		result.Artifacts = append(result.Artifacts, out)
		return 0, 0, nil
	}

	programs, err := core.ReadJSONL[record.EpgProgramme](state.Sandbox, artifact.FilePath)
	if err != nil {
		return 0, 0, fmt.Errorf("reading programme artifact: %w", err)
	}

	evaluator := expression.NewMappingEvaluator(rules, cache)
	for i := range programs {
		acc := record.NewEpgProgrammeAccessor(&programs[i])
		outcome, err := evaluator.Apply(acc)
		if err != nil {
			s.log(slog.LevelError, "mapping rule failed", slog.String("programme_id", programs[i].ID), slog.String("error", err.Error()))
			return 0, 0, fmt.Errorf("applying programme mapping rules: %w", err)
		}
		if outcome.RulesMatched > 0 {
			modified++
		}
	}

	relPath := shared.RunArtifactPath(state.ProxyID, programArtifactFile)
	size, err := core.WriteJSONL(state.Sandbox, relPath, programs)
	if err != nil {
		return 0, 0, fmt.Errorf("writing mapping_applied programme artifact: %w", err)
	}

	out := core.NewArtifact(core.ArtifactTypePrograms, core.ProcessingStageMappingApplied, StageID).
		WithFilePath(relPath).
		WithRecordCount(len(programs)).
		WithFileSize(size)
	result.Artifacts = append(result.Artifacts, out)

	s.log(slog.LevelInfo, "applied programme data mapping", slog.Int("count", len(programs)), slog.Int("modified", modified))
	return len(programs), modified, nil
}

func (s *Stage) log(level slog.Level, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Log(context.Background(), level, msg, attrs...)
	}
}

var _ core.Stage = (*Stage)(nil)
