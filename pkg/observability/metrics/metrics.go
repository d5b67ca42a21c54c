package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/licitaciones/platform/pkg/common/models"
)

var (
	runsSuccess     atomic.Int64
	runsPartial     atomic.Int64
	runsFailed      atomic.Int64
	runsInterrupted atomic.Int64
	runsSkipped     atomic.Int64
	extracted       atomic.Int64
	inserted        atomic.Int64
	updated         atomic.Int64
	duplicates      atomic.Int64
	parseFailures   atomic.Int64

	mu         sync.Mutex
	lastRunsAt = map[string]int64{}
)

// Reset zeroes every counter; used by tests.
func Reset() {
	for _, c := range []*atomic.Int64{
		&runsSuccess, &runsPartial, &runsFailed, &runsInterrupted, &runsSkipped,
		&extracted, &inserted, &updated, &duplicates, &parseFailures,
	} {
		c.Store(0)
	}
	mu.Lock()
	lastRunsAt = map[string]int64{}
	mu.Unlock()
}

// ObserveRun records the outcome and counts of one finished run.
func ObserveRun(r models.RunResult, finishedUnix int64) {
	if r.Skipped {
		runsSkipped.Add(1)
		return
	}
	switch r.Outcome {
	case models.OutcomeSuccess:
		runsSuccess.Add(1)
	case models.OutcomePartial:
		runsPartial.Add(1)
	case models.OutcomeFailed:
		runsFailed.Add(1)
	case models.OutcomeInterrupted:
		runsInterrupted.Add(1)
	}
	extracted.Add(int64(r.Stats.Extracted))
	inserted.Add(int64(r.Stats.Inserted))
	updated.Add(int64(r.Stats.Updated))
	duplicates.Add(int64(r.Stats.Duplicates))
	parseFailures.Add(int64(r.Stats.ParseFailures))

	mu.Lock()
	lastRunsAt[r.Source] = finishedUnix
	mu.Unlock()
}

func counter(w http.ResponseWriter, name, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, v)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP tenders_runs_total Ingestion runs by outcome.\n")
	fmt.Fprintf(w, "# TYPE tenders_runs_total counter\n")
	fmt.Fprintf(w, "tenders_runs_total{outcome=\"success\"} %d\n", runsSuccess.Load())
	fmt.Fprintf(w, "tenders_runs_total{outcome=\"partial\"} %d\n", runsPartial.Load())
	fmt.Fprintf(w, "tenders_runs_total{outcome=\"failed\"} %d\n", runsFailed.Load())
	fmt.Fprintf(w, "tenders_runs_total{outcome=\"interrupted\"} %d\n", runsInterrupted.Load())
	fmt.Fprintf(w, "tenders_runs_total{outcome=\"skipped\"} %d\n", runsSkipped.Load())

	counter(w, "tenders_records_extracted_total", "Candidate records produced by normalizers.", extracted.Load())
	counter(w, "tenders_records_inserted_total", "Tenders inserted into the canonical store.", inserted.Load())
	counter(w, "tenders_records_updated_total", "Existing tenders updated in update mode.", updated.Load())
	counter(w, "tenders_records_duplicate_total", "Records skipped because their identity was already stored.", duplicates.Load())
	counter(w, "tenders_parse_failures_total", "Records or artifacts that could not be normalized.", parseFailures.Load())

	mu.Lock()
	sources := make([]string, 0, len(lastRunsAt))
	for s := range lastRunsAt {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	fmt.Fprintf(w, "# HELP tenders_last_run_timestamp_seconds Unix time the source last finished a run.\n")
	fmt.Fprintf(w, "# TYPE tenders_last_run_timestamp_seconds gauge\n")
	for _, s := range sources {
		fmt.Fprintf(w, "tenders_last_run_timestamp_seconds{source=%q} %d\n", s, lastRunsAt[s])
	}
	mu.Unlock()
}
