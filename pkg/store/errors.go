package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/licitaciones/platform/pkg/dedup"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("tender not found")

const uniqueViolation = "23505"

// IsUniqueViolation recognizes both the translated gorm error and the raw
// Postgres error code.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func classify(err error) error {
	if IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", dedup.ErrDuplicate, err)
	}
	return err
}
