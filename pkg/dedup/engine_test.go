package dedup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/licitaciones/platform/pkg/common/models"
)

type memStore struct {
	rows    map[string]*models.Tender
	failOn  string
	inserts int
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]*models.Tender{}}
}

func (m *memStore) InsertIfAbsent(_ context.Context, t *models.Tender) (bool, error) {
	if t.NumeroProcedimiento == m.failOn {
		return false, errors.New("connection reset")
	}
	if _, ok := m.rows[t.IdentityHash]; ok {
		return false, nil
	}
	cp := *t
	m.rows[t.IdentityHash] = &cp
	m.inserts++
	return true, nil
}

func (m *memStore) UpdateExisting(_ context.Context, t *models.Tender) (bool, error) {
	existing, ok := m.rows[t.IdentityHash]
	if !ok {
		return false, nil
	}
	if t.FechaFallo != nil && (existing.FechaFallo == nil || !existing.FechaFallo.Equal(*t.FechaFallo)) {
		existing.FechaFallo = t.FechaFallo
		return true, nil
	}
	return false, nil
}

func tender(numero, entidad string, captured time.Time) *models.Tender {
	return &models.Tender{
		NumeroProcedimiento: numero,
		EntidadCompradora:   entidad,
		Fuente:              "COMPRASMX",
		Estado:              models.EstadoVigente,
		FechaCaptura:        captured,
	}
}

func TestCollapsePrefersMostCompleteRecord(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sparse := tender("LA-1", "IMSS", now.Add(time.Hour))
	rich := tender(" la-1", "imss ", now)
	rich.Titulo = "Material de curación"
	rich.Moneda = "MXN"

	res := Collapse([]Candidate{{Tender: sparse, Origin: 0}, {Tender: rich, Origin: 1}})
	if len(res.Winners) != 1 {
		t.Fatalf("expected one winner, got %d", len(res.Winners))
	}
	if res.Collapsed != 1 {
		t.Fatalf("expected 1 collapsed, got %d", res.Collapsed)
	}
	if res.Winners[0].Tender != rich {
		t.Fatal("expected the more complete record to win")
	}
	if res.Winners[0].Origin != 1 {
		t.Fatalf("winner should keep its own origin, got %d", res.Winners[0].Origin)
	}
}

func TestCollapseTieBreaksOnLatestCapture(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	older := tender("LA-2", "IMSS", now)
	newer := tender("LA-2", "IMSS", now.Add(time.Minute))

	res := Collapse([]Candidate{{Tender: older}, {Tender: newer}})
	if res.Winners[0].Tender != newer {
		t.Fatal("expected latest capture to win a tie")
	}

	res = Collapse([]Candidate{{Tender: newer}, {Tender: older}})
	if res.Winners[0].Tender != newer {
		t.Fatal("order of arrival must not change the winner")
	}
}

func TestCollapseOrdersWinnersByOrigin(t *testing.T) {
	now := time.Now()
	res := Collapse([]Candidate{
		{Tender: tender("B", "X", now), Origin: 2},
		{Tender: tender("A", "X", now), Origin: 0},
		{Tender: tender("C", "X", now), Origin: 1},
		{Tender: &models.Tender{Fuente: "COMPRASMX"}, Origin: 1},
	})
	if res.Invalid != 1 {
		t.Fatalf("expected 1 invalid candidate, got %d", res.Invalid)
	}
	got := ""
	for _, w := range res.Winners {
		got += w.Tender.NumeroProcedimiento
	}
	if got != "ACB" {
		t.Fatalf("unexpected winner order %q", got)
	}
}

func TestIngestCountsOverlapAsDuplicates(t *testing.T) {
	store := newMemStore()
	engine := NewEngine(store, false)
	now := time.Now()

	first := []Candidate{{Tender: tender("LA-1", "IMSS", now)}, {Tender: tender("LA-2", "IMSS", now)}}
	stats, err := engine.Ingest(context.Background(), first)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.Inserted != 2 || stats.Duplicates != 0 {
		t.Fatalf("unexpected first stats %+v", stats)
	}

	second := []Candidate{
		{Tender: tender("LA-2", "imss", now)},
		{Tender: tender("LA-2", "IMSS", now)},
		{Tender: tender("LA-3", "IMSS", now)},
	}
	stats, err = engine.Ingest(context.Background(), second)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.Extracted != 3 || stats.Unique != 2 || stats.Inserted != 1 || stats.Duplicates != 2 || stats.ParseFailures != 0 {
		t.Fatalf("unexpected second stats %+v", stats)
	}
	if len(store.rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(store.rows))
	}
}

func TestUpsertStopsOnStoreError(t *testing.T) {
	store := newMemStore()
	store.failOn = "LA-2"
	engine := NewEngine(store, false)
	now := time.Now()

	cands := []Candidate{
		{Tender: tender("LA-1", "IMSS", now)},
		{Tender: tender("LA-2", "IMSS", now)},
		{Tender: tender("LA-3", "IMSS", now)},
	}
	stats, err := engine.Ingest(context.Background(), cands)
	if err == nil {
		t.Fatal("expected store error")
	}
	if stats.Inserted != 1 || store.inserts != 1 {
		t.Fatalf("expected the first row to stay committed, stats %+v", stats)
	}
}

func TestStoreDuplicateErrorIsNotFatal(t *testing.T) {
	engine := NewEngine(dupStore{}, false)
	stats, err := engine.Ingest(context.Background(), []Candidate{{Tender: tender("LA-1", "IMSS", time.Now())}})
	if err != nil {
		t.Fatalf("duplicate must not be an error: %v", err)
	}
	if stats.Duplicates != 1 {
		t.Fatalf("expected 1 duplicate, got %+v", stats)
	}
}

type dupStore struct{}

func (dupStore) InsertIfAbsent(context.Context, *models.Tender) (bool, error) {
	return false, fmt.Errorf("insert: %w", ErrDuplicate)
}

func (dupStore) UpdateExisting(context.Context, *models.Tender) (bool, error) { return false, nil }

func TestUpdateSemanticsAreOptIn(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	if _, err := NewEngine(store, false).Ingest(context.Background(), []Candidate{{Tender: tender("LA-1", "IMSS", now)}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	fallo := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	later := tender("LA-1", "IMSS", now)
	later.FechaFallo = &fallo

	stats, _ := NewEngine(store, false).Ingest(context.Background(), []Candidate{{Tender: later}})
	if stats.Duplicates != 1 || stats.Updated != 0 {
		t.Fatalf("default path must be a no-op duplicate, got %+v", stats)
	}

	stats, _ = NewEngine(store, false).WithUpdate(true).Ingest(context.Background(), []Candidate{{Tender: later}})
	if stats.Updated != 1 {
		t.Fatalf("expected update, got %+v", stats)
	}
	if store.rows[HashTender(later)].FechaFallo == nil {
		t.Fatal("expected fecha_fallo to be stored")
	}
}
