package ingestion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/licitaciones/platform/pkg/common/config"
)

var (
	ErrUnknownSource  = errors.New("unknown source")
	ErrSourceDisabled = errors.New("source is disabled")
	errSinceRequired  = errors.New("since is required")
	errInvalidSince   = errors.New("since must be YYYY-MM-DD")
	errProfileMissing = errors.New("profile is required")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Validator checks run commands against the declared sources.
type Validator struct {
	sources map[string]config.SourceConfig
	loc     *time.Location
}

func NewValidator(cfg config.SourcesConfig, loc *time.Location) *Validator {
	if loc == nil {
		loc = time.UTC
	}
	vs := make(map[string]config.SourceConfig, len(cfg.Sources))
	for _, src := range cfg.Sources {
		vs[src.Name] = src
	}
	return &Validator{sources: vs, loc: loc}
}

// Source resolves a tag. Tags are matched case-insensitively.
func (v *Validator) Source(name string) (config.SourceConfig, error) {
	tag := strings.ToUpper(strings.TrimSpace(name))
	src, ok := v.sources[tag]
	if !ok {
		return config.SourceConfig{}, ValidationError{reason: fmt.Errorf("%w: %q", ErrUnknownSource, name)}
	}
	if !src.IsEnabled() {
		return config.SourceConfig{}, ValidationError{reason: fmt.Errorf("%w: %s", ErrSourceDisabled, tag)}
	}
	return src, nil
}

// Since parses a calendar date as midnight in the configured location.
func (v *Validator) Since(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ValidationError{reason: errSinceRequired}
	}
	t, err := time.ParseInLocation("2006-01-02", raw, v.loc)
	if err != nil {
		return time.Time{}, ValidationError{reason: fmt.Errorf("%w: %q", errInvalidSince, raw)}
	}
	return t, nil
}

func (v *Validator) Profile(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ValidationError{reason: errProfileMissing}
	}
	return name, nil
}
