package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/licitaciones/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateRepository keeps one SourceRunState per source.
type StateRepository struct {
	db *gorm.DB
}

func NewStateRepository(db *gorm.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Load returns the stored state, or a fresh state when the source never ran.
func (r *StateRepository) Load(ctx context.Context, source string) (models.SourceRunState, error) {
	var row RunStateModel
	err := r.db.WithContext(ctx).First(&row, "source = ?", source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.SourceRunState{Source: source}, nil
	}
	if err != nil {
		return models.SourceRunState{}, fmt.Errorf("loading state for %s: %w", source, err)
	}

	var state models.SourceRunState
	if err := json.Unmarshal(row.State, &state); err != nil {
		return models.SourceRunState{}, fmt.Errorf("decoding state for %s: %w", source, err)
	}
	state.Source = source
	return state, nil
}

func (r *StateRepository) Save(ctx context.Context, state models.SourceRunState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state for %s: %w", state.Source, err)
	}
	row := RunStateModel{
		Source:    state.Source,
		State:     datatypes.JSON(payload),
		UpdatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
		}).
		Create(&row).Error
}

func (r *StateRepository) List(ctx context.Context) ([]models.SourceRunState, error) {
	var rows []RunStateModel
	if err := r.db.WithContext(ctx).Order("source").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.SourceRunState, 0, len(rows))
	for _, row := range rows {
		var state models.SourceRunState
		if err := json.Unmarshal(row.State, &state); err != nil {
			return nil, fmt.Errorf("decoding state for %s: %w", row.Source, err)
		}
		state.Source = row.Source
		out = append(out, state)
	}
	return out, nil
}
