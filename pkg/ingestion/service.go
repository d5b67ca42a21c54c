package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/licitaciones/platform/pkg/common/config"
	"github.com/licitaciones/platform/pkg/common/logger"
	"github.com/licitaciones/platform/pkg/common/models"
	"github.com/licitaciones/platform/pkg/observability/metrics"
	"github.com/licitaciones/platform/pkg/schedule"
)

// EventRunCompleted is published after every run that was not skipped.
const EventRunCompleted = "run.completed"

type StateStore interface {
	Load(ctx context.Context, source string) (models.SourceRunState, error)
	Save(ctx context.Context, state models.SourceRunState) error
	List(ctx context.Context) ([]models.SourceRunState, error)
}

type HistoryStore interface {
	Create(ctx context.Context, rec *RunRecord) error
	Get(ctx context.Context, id string) (*RunRecord, error)
	List(ctx context.Context, source string, limit int) ([]RunRecord, error)
	CleanupExpired(ctx context.Context, ttl time.Duration) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Dependencies struct {
	Sources     config.SourcesConfig
	Schedule    *schedule.Engine
	Runner      *Runner
	States      StateStore
	History     HistoryStore
	Locker      Locker
	Events      EventPublisher
	Validator   *Validator
	MaxParallel int
	HistoryTTL  time.Duration
}

// Service is the command surface: status, incremental, historical, batch,
// plus the scheduled tick that drives the polling loop.
type Service struct {
	sources     config.SourcesConfig
	sched       *schedule.Engine
	runner      *Runner
	states      StateStore
	history     HistoryStore
	locker      Locker
	events      EventPublisher
	validator   *Validator
	maxParallel int
	historyTTL  time.Duration
}

func NewService(d Dependencies) *Service {
	if d.MaxParallel <= 0 {
		d.MaxParallel = 1
	}
	if d.Locker == nil {
		d.Locker = NewLocalLocker()
	}
	if d.Validator == nil {
		d.Validator = NewValidator(d.Sources, time.UTC)
	}
	return &Service{
		sources:     d.Sources,
		sched:       d.Schedule,
		runner:      d.Runner,
		states:      d.States,
		history:     d.History,
		locker:      d.Locker,
		events:      d.Events,
		validator:   d.Validator,
		maxParallel: d.MaxParallel,
		historyTTL:  d.HistoryTTL,
	}
}

func (s *Service) Validator() *Validator { return s.validator }

func (s *Service) loadStates(ctx context.Context) (map[string]models.SourceRunState, error) {
	list, err := s.states.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading run states: %w", err)
	}
	states := make(map[string]models.SourceRunState, len(list))
	for _, st := range list {
		states[st.Source] = st
	}
	return states, nil
}

// Status reports every declared source with its policy, run history and
// next eligible time.
func (s *Service) Status(ctx context.Context) ([]models.SourceStatus, error) {
	states, err := s.loadStates(ctx)
	if err != nil {
		return nil, err
	}
	now := s.sched.Now()
	out := make([]models.SourceStatus, 0, len(s.sources.Sources))
	for _, src := range s.sources.Sources {
		state, ok := states[src.Name]
		if !ok {
			state = models.SourceRunState{Source: src.Name}
		}
		row := models.SourceStatus{
			Source:       src.Name,
			Enabled:      src.IsEnabled(),
			NextEligible: s.sched.NextEligible(now, src.Name, state),
			State:        state,
		}
		if p, ok := s.sched.Policy(src.Name); ok {
			row.Policy = p.String()
		}
		out = append(out, row)
	}
	return out, nil
}

// Eligible lists the jobs the schedule owes right now.
func (s *Service) Eligible(ctx context.Context) ([]models.Job, error) {
	states, err := s.loadStates(ctx)
	if err != nil {
		return nil, err
	}
	return s.sched.EligibleSources(s.sched.Now(), states), nil
}

// Tick runs every eligible source once.
func (s *Service) Tick(ctx context.Context) ([]models.RunResult, error) {
	jobs, err := s.Eligible(ctx)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return s.Run(ctx, jobs, TriggerSchedule), nil
}

// IncrementalJobs plans an incremental run of one source, or of every
// enabled source when source is empty.
func (s *Service) IncrementalJobs(source string) ([]models.Job, error) {
	if source != "" {
		src, err := s.validator.Source(source)
		if err != nil {
			return nil, err
		}
		return []models.Job{{Source: src.Name, Mode: models.ModeIncremental}}, nil
	}
	var jobs []models.Job
	for _, src := range s.sources.Sources {
		if src.IsEnabled() {
			jobs = append(jobs, models.Job{Source: src.Name, Mode: models.ModeIncremental})
		}
	}
	return jobs, nil
}

func (s *Service) HistoricalJob(source, since string) (models.Job, error) {
	src, err := s.validator.Source(source)
	if err != nil {
		return models.Job{}, err
	}
	t, err := s.validator.Since(since)
	if err != nil {
		return models.Job{}, err
	}
	return models.Job{Source: src.Name, Mode: models.ModeHistorical, Since: &t}, nil
}

func (s *Service) BatchJobs(profile string) ([]models.Job, error) {
	name, err := s.validator.Profile(profile)
	if err != nil {
		return nil, err
	}
	planned, err := s.sched.Profile(name)
	if err != nil {
		return nil, ValidationError{reason: err}
	}
	jobs := planned[:0]
	for _, job := range planned {
		if src, ok := s.sources.Source(job.Source); ok && src.IsEnabled() {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (s *Service) Incremental(ctx context.Context, source string) ([]models.RunResult, error) {
	jobs, err := s.IncrementalJobs(source)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, jobs, TriggerManual), nil
}

func (s *Service) Historical(ctx context.Context, source, since string) (models.RunResult, error) {
	job, err := s.HistoricalJob(source, since)
	if err != nil {
		return models.RunResult{}, err
	}
	return s.Run(ctx, []models.Job{job}, TriggerManual)[0], nil
}

func (s *Service) Batch(ctx context.Context, profile string) ([]models.RunResult, error) {
	jobs, err := s.BatchJobs(profile)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, jobs, TriggerManual), nil
}

// Run executes jobs with bounded parallelism. A failing source never stops
// the others; results come back in job order.
func (s *Service) Run(ctx context.Context, jobs []models.Job, trigger string) []models.RunResult {
	results := make([]models.RunResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(s.maxParallel)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			results[i] = s.runOne(ctx, job, trigger)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) runOne(ctx context.Context, job models.Job, trigger string) models.RunResult {
	log := logger.WithSource(job.Source).WithField("mode", job.Mode)
	src, ok := s.sources.Source(job.Source)
	if !ok {
		return models.RunResult{Source: job.Source, Mode: job.Mode, Outcome: models.OutcomeFailed, Error: ErrUnknownSource.Error()}
	}

	release, lockErr := s.locker.Acquire(ctx, job.Source)
	if errors.Is(lockErr, ErrSourceBusy) {
		log.WithError(lockErr).Info("Run skipped")
		result := models.RunResult{Source: job.Source, Mode: job.Mode, Skipped: true, Error: lockErr.Error()}
		metrics.ObserveRun(result, time.Now().Unix())
		return result
	}
	if lockErr == nil {
		defer release()
	}

	state, err := s.states.Load(ctx, job.Source)
	if err != nil {
		log.WithError(err).Error("Failed to load run state")
		return models.RunResult{Source: job.Source, Mode: job.Mode, Outcome: models.OutcomeFailed, Error: err.Error()}
	}

	started := time.Now().UTC()
	var result models.RunResult
	if lockErr != nil {
		state, result = s.runner.Fail(ctx, src, job, state, fmt.Errorf("run lock: %w", lockErr))
	} else {
		state, result = s.runner.Run(ctx, src, job, state, s.states.Save)
	}
	finished := time.Now().UTC()

	persistCtx := context.WithoutCancel(ctx)
	if err := s.states.Save(persistCtx, state); err != nil {
		log.WithError(err).Error("Failed to save run state")
		if result.Error == "" {
			result.Error = err.Error()
		}
	}
	s.record(persistCtx, job, trigger, result, started, finished)
	metrics.ObserveRun(result, finished.Unix())
	s.publish(persistCtx, result)
	return result
}

func (s *Service) record(ctx context.Context, job models.Job, trigger string, result models.RunResult, started, finished time.Time) {
	if s.history == nil {
		return
	}
	stats, _ := json.Marshal(result.Stats)
	rec := &RunRecord{
		ID:         result.RunID,
		Source:     result.Source,
		Mode:       string(result.Mode),
		Trigger:    trigger,
		Outcome:    string(result.Outcome),
		Stats:      datatypes.JSON(stats),
		Error:      result.Error,
		Since:      job.Since,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err := s.history.Create(ctx, rec); err != nil {
		logger.WithSource(result.Source).WithError(err).Warn("Failed to record run history")
	}
}

func (s *Service) publish(ctx context.Context, result models.RunResult) {
	if s.events == nil {
		return
	}
	data := map[string]interface{}{
		"run_id":  result.RunID,
		"mode":    string(result.Mode),
		"outcome": string(result.Outcome),
		"stats":   result.Stats,
	}
	if result.Error != "" {
		data["error"] = result.Error
	}
	if err := s.events.PublishEvent(ctx, EventRunCompleted, result.Source, data); err != nil {
		logger.WithSource(result.Source).WithError(err).Warn("Failed to publish run event")
	}
}

// History lists recorded runs, newest first.
func (s *Service) History(ctx context.Context, source string, limit int) ([]RunRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.List(ctx, source, limit)
}

// RunByID returns one recorded run; ErrNotFound when there is none.
func (s *Service) RunByID(ctx context.Context, id string) (*RunRecord, error) {
	if s.history == nil {
		return nil, ErrNotFound
	}
	return s.history.Get(ctx, id)
}

func (s *Service) Cleanup(ctx context.Context) error {
	if s.history == nil {
		return nil
	}
	return s.history.CleanupExpired(ctx, s.historyTTL)
}

// Loop ticks immediately and then every interval until ctx is done.
func (s *Service) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil {
			logger.Log.WithError(err).Error("Scheduler tick failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
