package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/licitaciones/platform/pkg/common/config"
	"github.com/licitaciones/platform/pkg/common/models"
)

// ProfileAll expands to every enabled source in its policy mode.
const ProfileAll = "all"

var ErrUnknownProfile = errors.New("unknown batch profile")

// Engine evaluates the declared policies against run history.
type Engine struct {
	sources    []config.SourceConfig
	policies   map[string]Policy
	profiles   map[string][]config.ProfileEntry
	clock      Clock
	retryAfter time.Duration
}

// NewEngine parses every source's policy. retryAfter is how long a source
// whose last attempt failed waits before it is offered again.
func NewEngine(cfg config.SourcesConfig, loc *time.Location, clock Clock, retryAfter time.Duration) (*Engine, error) {
	if clock == nil {
		clock = SystemClock
	}
	e := &Engine{
		sources:    cfg.Sources,
		policies:   make(map[string]Policy, len(cfg.Sources)),
		profiles:   cfg.Profiles,
		clock:      clock,
		retryAfter: retryAfter,
	}
	for _, src := range cfg.Sources {
		p, err := ParsePolicy(src.Schedule, loc)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		e.policies[src.Name] = p
	}
	return e, nil
}

func (e *Engine) Now() time.Time { return e.clock.Now() }

func (e *Engine) Policy(source string) (Policy, bool) {
	p, ok := e.policies[source]
	return p, ok
}

// EligibleSources lists the (source, mode) pairs owed a run at now, in
// declaration order. Disabled sources are never eligible.
func (e *Engine) EligibleSources(now time.Time, states map[string]models.SourceRunState) []models.Job {
	var jobs []models.Job
	for _, src := range e.sources {
		if !src.IsEnabled() {
			continue
		}
		p := e.policies[src.Name]
		state := states[src.Name]
		if !p.Eligible(now, state.LastSuccessAt) || e.backingOff(now, state) {
			continue
		}
		jobs = append(jobs, models.Job{Source: src.Name, Mode: p.Mode()})
	}
	return jobs
}

// NextEligible is when the source will next be offered, nil when never.
func (e *Engine) NextEligible(now time.Time, source string, state models.SourceRunState) *time.Time {
	src, ok := e.source(source)
	if !ok || !src.IsEnabled() {
		return nil
	}
	next, ok := e.policies[source].Next(now, state.LastSuccessAt)
	if !ok {
		return nil
	}
	if until := e.retryAt(state); until != nil && until.After(next) {
		next = *until
	}
	return &next
}

func (e *Engine) backingOff(now time.Time, state models.SourceRunState) bool {
	until := e.retryAt(state)
	return until != nil && now.Before(*until)
}

func (e *Engine) retryAt(state models.SourceRunState) *time.Time {
	if e.retryAfter <= 0 || state.LastRunAt == nil {
		return nil
	}
	if state.LastOutcome != models.OutcomeFailed && state.LastOutcome != models.OutcomeInterrupted {
		return nil
	}
	t := state.LastRunAt.Add(e.retryAfter)
	return &t
}

// Profile expands a named batch profile into jobs.
func (e *Engine) Profile(name string) ([]models.Job, error) {
	if name == ProfileAll {
		var jobs []models.Job
		for _, src := range e.sources {
			if src.IsEnabled() {
				jobs = append(jobs, models.Job{Source: src.Name, Mode: e.policies[src.Name].Mode()})
			}
		}
		return jobs, nil
	}
	entries, ok := e.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	jobs := make([]models.Job, 0, len(entries))
	for _, entry := range entries {
		mode, ok := models.ParseMode(entry.Mode)
		if !ok || mode == models.ModeHistorical {
			mode = e.policies[entry.Source].Mode()
		}
		jobs = append(jobs, models.Job{Source: entry.Source, Mode: mode})
	}
	return jobs, nil
}

// ProfileNames lists the declared profiles plus "all".
func (e *Engine) ProfileNames() []string {
	names := make([]string, 0, len(e.profiles)+1)
	for name := range e.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return append(names, ProfileAll)
}

func (e *Engine) source(name string) (config.SourceConfig, bool) {
	for _, s := range e.sources {
		if s.Name == name {
			return s, true
		}
	}
	return config.SourceConfig{}, false
}
