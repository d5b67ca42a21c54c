package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/licitaciones/platform/pkg/common/config"
	"github.com/licitaciones/platform/pkg/common/logger"
	"github.com/licitaciones/platform/pkg/common/models"
	"github.com/licitaciones/platform/pkg/dedup"
	"github.com/licitaciones/platform/pkg/normalizer"
	"github.com/licitaciones/platform/pkg/schedule"
	"github.com/licitaciones/platform/pkg/store"
)

func init() {
	logger.Silence()
}

// memTenders is an in-memory canonical store keyed by identity hash.
type memTenders struct {
	mu       sync.Mutex
	rows     map[string]*models.Tender
	onInsert func(t *models.Tender) error
}

func newMemTenders() *memTenders {
	return &memTenders{rows: map[string]*models.Tender{}}
}

func (m *memTenders) InsertIfAbsent(_ context.Context, t *models.Tender) (bool, error) {
	if m.onInsert != nil {
		if err := m.onInsert(t); err != nil {
			return false, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[t.IdentityHash]; ok {
		return false, nil
	}
	cp := *t
	m.rows[t.IdentityHash] = &cp
	return true, nil
}

func (m *memTenders) UpdateExisting(_ context.Context, t *models.Tender) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.rows[t.IdentityHash]
	if !ok || old.Estado == t.Estado {
		return false, nil
	}
	cp := *t
	m.rows[t.IdentityHash] = &cp
	return true, nil
}

func (m *memTenders) Get(_ context.Context, hash string) (*models.Tender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (m *memTenders) List(_ context.Context, f store.Filter) ([]*models.Tender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Tender
	for _, t := range m.rows {
		if f.Fuente != "" && t.Fuente != f.Fuente {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NumeroProcedimiento < out[j].NumeroProcedimiento })
	return out, nil
}

func (m *memTenders) CountBySource(context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{}
	for _, t := range m.rows {
		out[t.Fuente]++
	}
	return out, nil
}

func (m *memTenders) byNumero(numero string) *models.Tender {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[dedup.IdentityHash(numero, "IMSS", "COMPRASMX")]
}

func (m *memTenders) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memStates struct {
	mu     sync.Mutex
	states map[string]models.SourceRunState
	saves  int
}

func newMemStates() *memStates {
	return &memStates{states: map[string]models.SourceRunState{}}
}

func (m *memStates) Load(_ context.Context, source string) (models.SourceRunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[source]
	if !ok {
		return models.SourceRunState{Source: source}, nil
	}
	return st, nil
}

func (m *memStates) Save(_ context.Context, st models.SourceRunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.Source] = st
	m.saves++
	return nil
}

func (m *memStates) List(context.Context) ([]models.SourceRunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SourceRunState
	for _, st := range m.states {
		out = append(out, st)
	}
	return out, nil
}

func (m *memStates) get(source string) models.SourceRunState {
	st, _ := m.Load(context.Background(), source)
	return st
}

type memHistory struct {
	mu   sync.Mutex
	runs []RunRecord
}

func (m *memHistory) Create(_ context.Context, rec *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *rec)
	return nil
}

func (m *memHistory) Get(_ context.Context, id string) (*RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == id {
			rec := m.runs[i]
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memHistory) List(_ context.Context, source string, _ int) ([]RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RunRecord
	for i := len(m.runs) - 1; i >= 0; i-- {
		if source == "" || m.runs[i].Source == source {
			out = append(out, m.runs[i])
		}
	}
	return out, nil
}

func (m *memHistory) CleanupExpired(context.Context, time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = nil
	return nil
}

type memEvents struct {
	mu     sync.Mutex
	events []models.Event
}

func (m *memEvents) PublishEvent(_ context.Context, eventType, source string, data map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, models.Event{Type: eventType, Source: source, Data: data})
	return nil
}

var errStoreDown = errors.New("connection reset by peer")

// brokenLocker stands in for a lock backend that cannot be reached.
type brokenLocker struct{ err error }

func (l brokenLocker) Acquire(context.Context, string) (func(), error) {
	return nil, l.err
}

// testNow is a Monday, outside the DOF publication windows.
var testNow = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

type harness struct {
	root    string
	cfg     config.SourcesConfig
	tenders *memTenders
	states  *memStates
	history *memHistory
	events  *memEvents
	locker  Locker
	service *Service
}

func testSources() config.SourcesConfig {
	disabled := false
	return config.SourcesConfig{
		Sources: []config.SourceConfig{
			{Name: "COMPRASMX", Family: "json", Schedule: config.ScheduleConfig{Kind: "interval", Every: "6h", Mode: "incremental"}},
			{Name: "ESTATAL", Family: "json", Schedule: config.ScheduleConfig{Kind: "interval", Every: "6h", Mode: "incremental"}},
			{Name: "DOF", Family: "text", Schedule: config.ScheduleConfig{
				Kind:    "windows",
				Days:    []string{"mon", "tue", "wed", "thu", "fri"},
				Windows: []string{"08:00-10:00", "19:00-21:00"},
				Mode:    "incremental",
			}},
			{Name: "ARCHIVO", Family: "csv", Enabled: &disabled, Schedule: config.ScheduleConfig{Kind: "manual"}},
		},
		Profiles: map[string][]config.ProfileEntry{
			"full": {{Source: "COMPRASMX", Mode: "batch"}, {Source: "ARCHIVO", Mode: "batch"}},
		},
	}
}

func newHarness(t *testing.T, updateExisting bool) *harness {
	t.Helper()
	return newHarnessWithLocker(t, updateExisting, NewLocalLocker())
}

func newHarnessWithLocker(t *testing.T, updateExisting bool, locker Locker) *harness {
	t.Helper()
	h := &harness{
		root:    t.TempDir(),
		cfg:     testSources(),
		tenders: newMemTenders(),
		states:  newMemStates(),
		history: &memHistory{},
		events:  &memEvents{},
		locker:  locker,
	}
	for _, src := range []string{"COMPRASMX", "ESTATAL"} {
		if err := os.MkdirAll(filepath.Join(h.root, src), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	clock := schedule.FixedClock(testNow)
	sched, err := schedule.NewEngine(h.cfg, time.UTC, clock, 30*time.Minute)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	registry, err := normalizer.NewRegistry(h.cfg.Sources, normalizer.Options{Location: time.UTC})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	runner := NewRunner(RunnerConfig{
		ArtifactRoot: h.root,
		ChunkSize:    2,
		Location:     time.UTC,
		Clock:        clock,
	}, registry, dedup.NewEngine(h.tenders, updateExisting), nil, nil)

	h.service = NewService(Dependencies{
		Sources:     h.cfg,
		Schedule:    sched,
		Runner:      runner,
		States:      h.states,
		History:     h.history,
		Locker:      h.locker,
		Events:      h.events,
		Validator:   NewValidator(h.cfg, time.UTC),
		MaxParallel: 2,
	})
	return h
}

// write drops an artifact for source, modified age before testNow.
func (h *harness) write(t *testing.T, source, name, content string, age time.Duration) {
	t.Helper()
	path := filepath.Join(h.root, source, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	mtime := testNow.Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func record(numero string, extra string) string {
	return fmt.Sprintf(`{"numero_procedimiento":%q,"dependencia":"IMSS"%s}`, numero, extra)
}
