package ingestion

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/licitaciones/platform/pkg/acquisition"
	"github.com/licitaciones/platform/pkg/common/config"
	"github.com/licitaciones/platform/pkg/common/logger"
	"github.com/licitaciones/platform/pkg/common/models"
	"github.com/licitaciones/platform/pkg/dedup"
	"github.com/licitaciones/platform/pkg/normalizer"
	"github.com/licitaciones/platform/pkg/schedule"
	"github.com/licitaciones/platform/pkg/storage"
)

var (
	ErrPanic         = errors.New("run panicked")
	ErrSinceRequired = errors.New("historical run without since")
)

// Checkpoint persists the state after every committed artifact.
type Checkpoint func(ctx context.Context, state models.SourceRunState) error

type RunnerConfig struct {
	ArtifactRoot string
	Settle       time.Duration
	ChunkSize    int
	Location     *time.Location
	Clock        schedule.Clock
}

// Runner executes one run of one source: acquisition, scan, normalization,
// dedup and upsert, with the source's state passed in and handed back.
type Runner struct {
	cfg       RunnerConfig
	registry  *normalizer.Registry
	engine    *dedup.Engine
	archiver  storage.Archiver
	acquirers map[string]acquisition.Acquirer
}

func NewRunner(cfg RunnerConfig, registry *normalizer.Registry, engine *dedup.Engine, archiver storage.Archiver, acquirers map[string]acquisition.Acquirer) *Runner {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 25
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = schedule.SystemClock
	}
	if archiver == nil {
		archiver = storage.NoopArchiver{}
	}
	return &Runner{
		cfg:       cfg,
		registry:  registry,
		engine:    engine,
		archiver:  archiver,
		acquirers: acquirers,
	}
}

// run carries the mutable pieces of one execution.
type run struct {
	id         string
	src        config.SourceConfig
	job        models.Job
	state      models.SourceRunState
	stats      models.RunStats
	checkpoint Checkpoint
	log        *logrus.Entry
}

// Run never returns an error: failures are recorded in the state and result.
func (r *Runner) Run(ctx context.Context, src config.SourceConfig, job models.Job, state models.SourceRunState, cp Checkpoint) (models.SourceRunState, models.RunResult) {
	started := r.cfg.Clock.Now().UTC()
	ru := r.begin(src, job, state, cp, started)
	ru.log.Info("Run started")

	err := r.safeExecute(ctx, ru)
	return r.finish(ctx, ru, started, err)
}

// Fail records a run that could not start, such as one whose lock backend
// is unreachable, so the error shows up in the state like any failed run.
func (r *Runner) Fail(ctx context.Context, src config.SourceConfig, job models.Job, state models.SourceRunState, cause error) (models.SourceRunState, models.RunResult) {
	started := r.cfg.Clock.Now().UTC()
	ru := r.begin(src, job, state, nil, started)
	return r.finish(ctx, ru, started, cause)
}

func (r *Runner) begin(src config.SourceConfig, job models.Job, state models.SourceRunState, cp Checkpoint, started time.Time) *run {
	ru := &run{
		id:         uuid.New().String(),
		src:        src,
		job:        job,
		state:      state,
		checkpoint: cp,
	}
	ru.state.Source = src.Name
	ru.state.LastRunID = ru.id
	ru.state.LastRunAt = &started
	ru.state.LastMode = job.Mode
	ru.log = logger.WithSource(src.Name).WithFields(logrus.Fields{
		"mode":   job.Mode,
		"run_id": ru.id,
	})
	return ru
}

func (r *Runner) safeExecute(ctx context.Context, ru *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			ru.log.WithField("stack", string(debug.Stack())).Errorf("Run panicked: %v", p)
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return r.execute(ctx, ru)
}

func (r *Runner) execute(ctx context.Context, ru *run) error {
	dir := ru.src.ArtifactDir(r.cfg.ArtifactRoot)

	if acq, ok := r.acquirers[ru.src.Name]; ok && acq != nil {
		err := acq.Acquire(ctx, acquisition.Request{
			Source: ru.src.Name,
			Mode:   ru.job.Mode,
			Since:  ru.job.Since,
			OutDir: dir,
		})
		if err != nil {
			return fmt.Errorf("acquisition: %w", err)
		}
	}

	scan, err := normalizer.Scan(dir, ru.src.Name, r.cfg.Settle, r.cfg.Clock.Now())
	if err != nil {
		return err
	}
	ru.stats.ArtifactsSkipped = scan.Skipped

	artifacts, err := r.selectArtifacts(ru, scan.Artifacts)
	if err != nil {
		return err
	}
	ru.log.WithFields(logrus.Fields{
		"pending": len(artifacts),
		"skipped": scan.Skipped,
	}).Debug("Artifacts selected")

	for start := 0; start < len(artifacts); start += r.cfg.ChunkSize {
		end := start + r.cfg.ChunkSize
		if end > len(artifacts) {
			end = len(artifacts)
		}
		if err := r.processChunk(ctx, ru, artifacts[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// selectArtifacts applies the mode to the scanned artifacts.
func (r *Runner) selectArtifacts(ru *run, all []normalizer.Artifact) ([]normalizer.Artifact, error) {
	switch ru.job.Mode {
	case models.ModeIncremental:
		return normalizer.After(all, ru.state.Cursor), nil
	case models.ModeBatch:
		return all, nil
	case models.ModeHistorical:
		if ru.job.Since == nil {
			return nil, ErrSinceRequired
		}
		s := ru.job.Since.In(r.cfg.Location)
		since := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, r.cfg.Location)

		resuming := ru.state.HistoricalSince != nil && ru.state.HistoricalSince.Equal(since)
		if !resuming {
			ru.state.HistoricalWatermark = ""
		}
		sinceUTC := since.UTC()
		ru.state.HistoricalSince = &sinceUTC

		var selected []normalizer.Artifact
		for _, a := range all {
			if !a.Date(r.cfg.Location).Before(since) {
				selected = append(selected, a)
			}
		}
		if resuming && ru.state.HistoricalWatermark != "" {
			ru.log.WithField("watermark", ru.state.HistoricalWatermark).Info("Resuming historical run")
			selected = normalizer.After(selected, ru.state.HistoricalWatermark)
		}
		return selected, nil
	}
	return nil, fmt.Errorf("unsupported mode %q", ru.job.Mode)
}

// processChunk collapses the candidates of a chunk together, then commits
// the winners artifact by artifact, advancing the watermark after each one.
func (r *Runner) processChunk(ctx context.Context, ru *run, chunk []normalizer.Artifact) error {
	var candidates []dedup.Candidate
	for i, a := range chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := r.registry.Normalize(a)
		if err != nil {
			ru.stats.ParseFailures++
			ru.log.WithError(err).WithField("artifact", a.Name).Warn("Artifact could not be read")
			continue
		}
		if res.Failures > 0 {
			ru.log.WithFields(logrus.Fields{
				"artifact": a.Name,
				"failures": res.Failures,
			}).Warn("Records could not be normalized")
		}
		ru.stats.ParseFailures += res.Failures
		for _, t := range res.Tenders {
			candidates = append(candidates, dedup.Candidate{Tender: t, Origin: i})
		}
	}

	collapsed := dedup.Collapse(candidates)
	ru.stats.Extracted += len(candidates) - collapsed.Invalid
	ru.stats.Unique += len(collapsed.Winners)
	ru.stats.Duplicates += collapsed.Collapsed
	ru.stats.ParseFailures += collapsed.Invalid

	byOrigin := make(map[int][]dedup.Candidate, len(chunk))
	for _, w := range collapsed.Winners {
		byOrigin[w.Origin] = append(byOrigin[w.Origin], w)
	}

	for i, a := range chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats, err := r.engine.Upsert(ctx, byOrigin[i])
		ru.stats.Inserted += stats.Inserted
		ru.stats.Updated += stats.Updated
		ru.stats.Duplicates += stats.Duplicates
		if err != nil {
			return err
		}

		r.advance(ru, a)
		ru.stats.Artifacts++
		if ru.checkpoint != nil {
			if err := ru.checkpoint(context.WithoutCancel(ctx), r.snapshot(ru)); err != nil {
				return fmt.Errorf("checkpoint after %s: %w", a.Name, err)
			}
		}
		if err := r.archiver.Archive(ctx, ru.src.Name, a.Path); err != nil {
			ru.log.WithError(err).WithField("artifact", a.Name).Warn("Artifact archive failed")
		}
	}
	return nil
}

func (r *Runner) advance(ru *run, a normalizer.Artifact) {
	switch ru.job.Mode {
	case models.ModeHistorical:
		ru.state.HistoricalWatermark = a.Key
	default:
		if a.Key > ru.state.Cursor {
			ru.state.Cursor = a.Key
		}
	}
}

// snapshot is the state as it would read if the run stopped here.
func (r *Runner) snapshot(ru *run) models.SourceRunState {
	s := ru.state
	s.LastStats = ru.stats
	return s
}

func (r *Runner) finish(ctx context.Context, ru *run, started time.Time, err error) (models.SourceRunState, models.RunResult) {
	finished := r.cfg.Clock.Now().UTC()
	outcome := models.OutcomeSuccess
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil:
		outcome = models.OutcomeInterrupted
	case err != nil:
		outcome = models.OutcomeFailed
	case ru.stats.ParseFailures > 0:
		outcome = models.OutcomePartial
	}

	state := ru.state
	state.LastFinishedAt = &finished
	state.LastOutcome = outcome
	state.LastStats = ru.stats
	state.LastError = ""
	if err != nil {
		state.LastError = err.Error()
	}
	if outcome.Completed() {
		state.LastSuccessAt = &started
		if ru.job.Mode == models.ModeHistorical {
			state.HistoricalSince = nil
			state.HistoricalWatermark = ""
		}
	}
	state.Totals.Observe(outcome, ru.stats)

	result := models.RunResult{
		RunID:   ru.id,
		Source:  ru.src.Name,
		Mode:    ru.job.Mode,
		Outcome: outcome,
		Stats:   ru.stats,
		Error:   state.LastError,
	}

	entry := ru.log.WithFields(logrus.Fields{
		"outcome":        outcome,
		"artifacts":      ru.stats.Artifacts,
		"extracted":      ru.stats.Extracted,
		"unique":         ru.stats.Unique,
		"inserted":       ru.stats.Inserted,
		"updated":        ru.stats.Updated,
		"duplicates":     ru.stats.Duplicates,
		"parse_failures": ru.stats.ParseFailures,
		"duration_ms":    finished.Sub(started).Milliseconds(),
	})
	switch outcome {
	case models.OutcomeFailed:
		entry.WithError(err).Error("Run failed")
	case models.OutcomeInterrupted:
		entry.Warn("Run interrupted")
	default:
		entry.Info("Run finished")
	}
	return state, result
}
