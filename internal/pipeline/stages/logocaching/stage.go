// Package logocaching implements the pipeline stage that promotes remote
// channel/programme logo URLs to stable, locally served URLs. Each
// distinct remote URL is resolved at most once per run via a bounded
// worker pool; a resolution failure is counted but never aborts the
// record — the original URL is kept.
package logocaching

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/core"
	"github.com/jmylchreest/m3uproxy-core/internal/pipeline/shared"
	"github.com/jmylchreest/m3uproxy-core/internal/record"
	"github.com/jmylchreest/m3uproxy-core/internal/urlutil"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "logo_caching"
	// StageName is the human-readable name for this stage.
	StageName = "Logo Caching"

	channelArtifactFile = "logo_cached_channels.jsonl"
	programArtifactFile = "logo_cached_programs.jsonl"

	// DefaultConcurrency is the default number of concurrent logo resolution workers.
	DefaultConcurrency = 10

	// progressBatchSize is how many resolutions are grouped between
	// progress reports.
	progressBatchSize = 1000
)

// logoClass classifies a logo URL before deciding whether it needs
// resolution at all.
type logoClass int

const (
	logoClassUnknown logoClass = iota
	logoClassLocalProxy
	logoClassRemoteURL
)

func classifyLogo(raw, baseURL string) logoClass {
	if raw == "" {
		return logoClassUnknown
	}
	if baseURL != "" && strings.HasPrefix(raw, baseURL) {
		return logoClassLocalProxy
	}
	if urlutil.IsRemoteURL(raw) {
		return logoClassRemoteURL
	}
	return logoClassUnknown
}

// Stats holds statistics from one logo-caching stage execution.
type Stats struct {
	ChannelsWithLogos int
	ProgramsWithLogos int
	UniqueRemoteURLs  int
	Resolved          int
	Failed            int
	LocalSkipped      int
}

// Stage resolves remote logo URLs on channels and programmes through a
// core.LogoResolver (C7, implemented by internal/logocache).
type Stage struct {
	shared.BaseStage
	resolver    core.LogoResolver
	baseURL     string
	concurrency int
	logger      *slog.Logger
	stats       Stats
}

// New creates a new logo-caching stage. resolver may be nil, in which
// case every record passes through with its logo URL unchanged.
func New(resolver core.LogoResolver) *Stage {
	return &Stage{
		BaseStage:   shared.NewBaseStage(StageID, StageName),
		resolver:    resolver,
		concurrency: DefaultConcurrency,
	}
}

// NewConstructor returns a stage constructor for use with the factory.
func NewConstructor() core.StageConstructor {
	return func(deps *core.Dependencies) core.Stage {
		s := New(deps.LogoCache)
		s.baseURL = deps.BaseURL
		if deps.Logger != nil {
			s.logger = deps.Logger.With("stage", StageID)
		}
		return s
	}
}

// Stats returns the stats collected during the last execution.
func (s *Stage) Stats() Stats {
	return s.stats
}

type logoTarget struct {
	originalURL string
	name        string
	group       string
}

func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()
	s.stats = Stats{}

	chanArtifact, ok := state.LatestArtifactByType(core.ArtifactTypeChannels)
	if !ok {
		return result, fmt.Errorf("logo_caching: no channel artifact available from an earlier stage")
	}
	channels, err := core.ReadJSONL[record.Channel](state.Sandbox, chanArtifact.FilePath)
	if err != nil {
		return result, fmt.Errorf("reading channel artifact: %w", err)
	}

	programs, haveProgramArtifact, err := s.readLatestPrograms(state)
	if err != nil {
		return result, err
	}

	// Gather every distinct remote URL that needs resolving, across both
	// channels and programmes, so each is resolved at most once.
	targets := make(map[string]logoTarget)
	for i := range channels {
		s.noteRecordLogo(channels[i].TvgLogo, &s.stats.ChannelsWithLogos)
		switch classifyLogo(channels[i].TvgLogo, s.baseURL) {
		case logoClassRemoteURL:
			if _, seen := targets[channels[i].TvgLogo]; !seen {
				targets[channels[i].TvgLogo] = logoTarget{
					originalURL: channels[i].TvgLogo,
					name:        channels[i].ChannelName,
					group:       channels[i].GroupTitle,
				}
			}
		case logoClassLocalProxy:
			s.stats.LocalSkipped++
		}
	}
	for i := range programs {
		s.noteRecordLogo(programs[i].ProgrammeIcon, &s.stats.ProgramsWithLogos)
		if classifyLogo(programs[i].ProgrammeIcon, s.baseURL) == logoClassRemoteURL {
			if _, seen := targets[programs[i].ProgrammeIcon]; !seen {
				targets[programs[i].ProgrammeIcon] = logoTarget{originalURL: programs[i].ProgrammeIcon}
			}
		}
	}
	s.stats.UniqueRemoteURLs = len(targets)

	resolved := s.resolveAll(ctx, targets)

	for i := range channels {
		if url, ok := resolved[channels[i].TvgLogo]; ok {
			channels[i].TvgLogo = url
		}
	}
	for i := range programs {
		if url, ok := resolved[programs[i].ProgrammeIcon]; ok {
			programs[i].ProgrammeIcon = url
		}
	}

	relPath := shared.RunArtifactPath(state.ProxyID, channelArtifactFile)
	size, err := core.WriteJSONL(state.Sandbox, relPath, channels)
	if err != nil {
		return result, fmt.Errorf("writing logo_cached channel artifact: %w", err)
	}
	out := core.NewArtifact(core.ArtifactTypeChannels, core.ProcessingStageLogoCached, StageID).
		WithFilePath(relPath).WithRecordCount(len(channels)).WithFileSize(size)
	result.Artifacts = append(result.Artifacts, out)

	if haveProgramArtifact || len(programs) > 0 {
		progRelPath := shared.RunArtifactPath(state.ProxyID, programArtifactFile)
		progSize, err := core.WriteJSONL(state.Sandbox, progRelPath, programs)
		if err != nil {
			return result, fmt.Errorf("writing logo_cached programme artifact: %w", err)
		}
		progOut := core.NewArtifact(core.ArtifactTypePrograms, core.ProcessingStageLogoCached, StageID).
			WithFilePath(progRelPath).WithRecordCount(len(programs)).WithFileSize(progSize)
		result.Artifacts = append(result.Artifacts, progOut)
	}

	result.RecordsProcessed = len(channels) + len(programs)
	result.RecordsModified = s.stats.Resolved
	result.Message = fmt.Sprintf("Resolved %d/%d unique logo URLs (%d failed, %d local, %d total records)",
		s.stats.Resolved, s.stats.UniqueRemoteURLs, s.stats.Failed, s.stats.LocalSkipped, result.RecordsProcessed)

	return result, nil
}

func (s *Stage) readLatestPrograms(state *core.State) ([]record.EpgProgramme, bool, error) {
	artifact, ok := state.LatestArtifactByType(core.ArtifactTypePrograms)
	if !ok {
		return nil, false, nil
	}
	programs, err := core.ReadJSONL[record.EpgProgramme](state.Sandbox, artifact.FilePath)
	if err != nil {
		return nil, true, fmt.Errorf("reading programme artifact: %w", err)
	}
	return programs, true, nil
}

func (s *Stage) noteRecordLogo(url string, counter *int) {
	if url != "" {
		*counter++
	}
}

// resolveAll resolves every target through s.resolver using a bounded
// worker pool, returning a map from original URL to serving URL. URLs the
// resolver fails on are simply absent from the result, leaving the
// original URL in place downstream.
func (s *Stage) resolveAll(ctx context.Context, targets map[string]logoTarget) map[string]string {
	resolved := make(map[string]string, len(targets))
	if s.resolver == nil || len(targets) == 0 {
		return resolved
	}

	type job struct{ t logoTarget }
	type res struct {
		original, serving string
		err               error
	}

	jobs := make(chan job, len(targets))
	results := make(chan res, len(targets))

	concurrency := s.concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				servingURL, err := s.resolver.ResolveLogo(ctx, j.t.originalURL, j.t.name, j.t.group)
				results <- res{original: j.t.originalURL, serving: servingURL, err: err}
			}
		}()
	}

	for _, t := range targets {
		jobs <- job{t: t}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	processed := 0
	for r := range results {
		processed++
		if r.err != nil {
			s.stats.Failed++
			s.log(slog.LevelWarn, "logo resolution failed", slog.String("url", r.original), slog.String("error", r.err.Error()))
			continue
		}
		s.stats.Resolved++
		resolved[r.original] = r.serving

		if processed%progressBatchSize == 0 {
			s.log(slog.LevelDebug, "logo caching progress", slog.Int("processed", processed), slog.Int("total", len(targets)))
		}
	}

	return resolved
}

func (s *Stage) log(level slog.Level, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Log(context.Background(), level, msg, attrs...)
	}
}

var _ core.Stage = (*Stage)(nil)
