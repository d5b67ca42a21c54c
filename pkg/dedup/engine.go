package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/licitaciones/platform/pkg/common/models"
)

// ErrDuplicate is returned (wrapped) by a Store when the identity hash
// already exists.
var ErrDuplicate = errors.New("duplicate identity hash")

// Store is the write side of the canonical store. InsertIfAbsent reports
// false when a row with the same identity hash already exists.
type Store interface {
	InsertIfAbsent(ctx context.Context, t *models.Tender) (bool, error)
	UpdateExisting(ctx context.Context, t *models.Tender) (bool, error)
}

// Candidate is a normalized tender together with the index of the artifact
// it came from.
type Candidate struct {
	Tender *models.Tender
	Origin int
}

type CollapseResult struct {
	Winners   []Candidate
	Collapsed int
	Invalid   int
}

// Collapse keeps one candidate per identity hash. The record with more
// populated fields wins; ties go to the later fecha_captura, then to the
// first seen. Winners are ordered by origin, then by first appearance.
func Collapse(candidates []Candidate) CollapseResult {
	var res CollapseResult
	index := make(map[string]int, len(candidates))
	order := make([]int, 0, len(candidates))
	winners := make([]Candidate, 0, len(candidates))

	for _, c := range candidates {
		if c.Tender == nil || !HasIdentity(c.Tender) {
			res.Invalid++
			continue
		}
		c.Tender.IdentityHash = HashTender(c.Tender)

		pos, seen := index[c.Tender.IdentityHash]
		if !seen {
			index[c.Tender.IdentityHash] = len(winners)
			order = append(order, len(winners))
			winners = append(winners, c)
			continue
		}
		res.Collapsed++
		if moreComplete(c.Tender, winners[pos].Tender) {
			winners[pos] = c
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return winners[order[i]].Origin < winners[order[j]].Origin
	})
	res.Winners = make([]Candidate, 0, len(order))
	for _, pos := range order {
		res.Winners = append(res.Winners, winners[pos])
	}
	return res
}

func moreComplete(a, b *models.Tender) bool {
	fa, fb := a.FilledFields(), b.FilledFields()
	if fa != fb {
		return fa > fb
	}
	return a.FechaCaptura.After(b.FechaCaptura)
}

type Engine struct {
	store          Store
	updateExisting bool
}

// NewEngine builds an engine. With updateExisting false a conflicting row is
// left untouched and counted as a duplicate.
func NewEngine(store Store, updateExisting bool) *Engine {
	return &Engine{store: store, updateExisting: updateExisting}
}

// WithUpdate returns a copy of the engine with update semantics switched.
func (e *Engine) WithUpdate(update bool) *Engine {
	return &Engine{store: e.store, updateExisting: update}
}

// Upsert writes already collapsed winners in order. It stops at the first
// store error; rows written before it stay committed.
func (e *Engine) Upsert(ctx context.Context, winners []Candidate) (models.RunStats, error) {
	var stats models.RunStats
	for _, c := range winners {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if c.Tender.IdentityHash == "" {
			c.Tender.IdentityHash = HashTender(c.Tender)
		}

		inserted, err := e.store.InsertIfAbsent(ctx, c.Tender)
		if err != nil && !errors.Is(err, ErrDuplicate) {
			return stats, fmt.Errorf("inserting %s/%s: %w", c.Tender.Fuente, c.Tender.NumeroProcedimiento, err)
		}
		if inserted {
			stats.Inserted++
			continue
		}

		if e.updateExisting {
			updated, err := e.store.UpdateExisting(ctx, c.Tender)
			if err != nil {
				return stats, fmt.Errorf("updating %s/%s: %w", c.Tender.Fuente, c.Tender.NumeroProcedimiento, err)
			}
			if updated {
				stats.Updated++
				continue
			}
		}
		stats.Duplicates++
	}
	return stats, nil
}

// Ingest collapses and upserts one batch.
func (e *Engine) Ingest(ctx context.Context, candidates []Candidate) (models.RunStats, error) {
	collapsed := Collapse(candidates)
	stats, err := e.Upsert(ctx, collapsed.Winners)
	stats.Extracted = len(candidates) - collapsed.Invalid
	stats.Unique = len(collapsed.Winners)
	stats.Duplicates += collapsed.Collapsed
	stats.ParseFailures += collapsed.Invalid
	return stats, err
}
