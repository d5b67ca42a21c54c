package models

import "time"

type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeHistorical  Mode = "historical"
	ModeBatch       Mode = "batch"
)

func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeIncremental, ModeHistorical, ModeBatch:
		return Mode(s), true
	}
	return "", false
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomePartial: the run finished but some records or artifacts failed to parse.
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
	// OutcomeInterrupted: cancelled mid-run; the cursor reflects what was committed.
	OutcomeInterrupted Outcome = "interrupted"
)

// Completed reports whether the run reached the end of its artifact set.
func (o Outcome) Completed() bool {
	return o == OutcomeSuccess || o == OutcomePartial
}

// RunStats are the counts produced by one run.
type RunStats struct {
	Artifacts        int `json:"artifacts"`
	ArtifactsSkipped int `json:"artifacts_skipped"`
	Extracted        int `json:"extracted"`
	Unique           int `json:"unique"`
	Inserted         int `json:"inserted"`
	Updated          int `json:"updated"`
	Duplicates       int `json:"duplicates"`
	ParseFailures    int `json:"parse_failures"`
}

func (s *RunStats) Add(o RunStats) {
	s.Artifacts += o.Artifacts
	s.ArtifactsSkipped += o.ArtifactsSkipped
	s.Extracted += o.Extracted
	s.Unique += o.Unique
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Duplicates += o.Duplicates
	s.ParseFailures += o.ParseFailures
}

// Totals accumulate across every run of a source.
type Totals struct {
	Runs          int64 `json:"runs"`
	FailedRuns    int64 `json:"failed_runs"`
	Extracted     int64 `json:"extracted"`
	Inserted      int64 `json:"inserted"`
	Updated       int64 `json:"updated"`
	Duplicates    int64 `json:"duplicates"`
	ParseFailures int64 `json:"parse_failures"`
}

func (t *Totals) Observe(outcome Outcome, s RunStats) {
	t.Runs++
	if outcome == OutcomeFailed {
		t.FailedRuns++
	}
	t.Extracted += int64(s.Extracted)
	t.Inserted += int64(s.Inserted)
	t.Updated += int64(s.Updated)
	t.Duplicates += int64(s.Duplicates)
	t.ParseFailures += int64(s.ParseFailures)
}

// SourceRunState is the run history of one source. It is passed into a run
// and returned from it; nothing else holds it between runs.
type SourceRunState struct {
	Source string `json:"source"`
	// Cursor is the key of the last artifact fully committed by an
	// incremental or batch run.
	Cursor         string     `json:"cursor,omitempty"`
	LastRunID      string     `json:"last_run_id,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastFinishedAt *time.Time `json:"last_finished_at,omitempty"`
	LastSuccessAt  *time.Time `json:"last_success_at,omitempty"`
	LastMode       Mode       `json:"last_mode,omitempty"`
	LastOutcome    Outcome    `json:"last_outcome,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	LastStats      RunStats   `json:"last_stats"`

	// An unfinished backfill; cleared once the backfill completes.
	HistoricalSince     *time.Time `json:"historical_since,omitempty"`
	HistoricalWatermark string     `json:"historical_watermark,omitempty"`

	Totals Totals `json:"totals"`
}

// Job is one (source, mode) pair selected for execution.
type Job struct {
	Source string     `json:"source"`
	Mode   Mode       `json:"mode"`
	Since  *time.Time `json:"since,omitempty"`
}

// RunResult is what a command reports back for one source.
type RunResult struct {
	RunID   string   `json:"run_id,omitempty"`
	Source  string   `json:"source"`
	Mode    Mode     `json:"mode"`
	Outcome Outcome  `json:"outcome,omitempty"`
	Stats   RunStats `json:"stats"`
	Error   string   `json:"error,omitempty"`
	// Skipped is set when the source was already running elsewhere.
	Skipped bool `json:"skipped,omitempty"`
}

// SourceStatus is one row of the status report.
type SourceStatus struct {
	Source       string         `json:"source"`
	Enabled      bool           `json:"enabled"`
	Policy       string         `json:"policy"`
	NextEligible *time.Time     `json:"next_eligible,omitempty"`
	State        SourceRunState `json:"state"`
}
