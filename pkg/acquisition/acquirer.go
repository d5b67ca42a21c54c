// Package acquisition triggers the collaborators that deposit artifacts into
// a source's directory before a run reads it.
package acquisition

import (
	"context"
	"fmt"
	"time"

	"github.com/licitaciones/platform/pkg/common/config"
	"github.com/licitaciones/platform/pkg/common/models"
)

const defaultTimeout = 10 * time.Minute

// Request describes what the collaborator should fetch.
type Request struct {
	Source string      `json:"source"`
	Mode   models.Mode `json:"mode"`
	Since  *time.Time  `json:"since,omitempty"`
	OutDir string      `json:"out"`
}

func (r Request) sinceArg() string {
	if r.Since == nil {
		return ""
	}
	return r.Since.Format("2006-01-02")
}

type Acquirer interface {
	Acquire(ctx context.Context, req Request) error
}

// Noop is used when artifacts are deposited independently of runs.
type Noop struct{}

func (Noop) Acquire(context.Context, Request) error { return nil }

// New builds the acquirer declared for a source. A nil config means none.
func New(cfg *config.AcquisitionConfig) (Acquirer, error) {
	if cfg == nil || cfg.Kind == "" {
		return Noop{}, nil
	}

	timeout := defaultTimeout
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid acquisition timeout %q", cfg.Timeout)
		}
		timeout = d
	}

	switch cfg.Kind {
	case "command":
		if len(cfg.Command) == 0 {
			return nil, fmt.Errorf("command acquisition needs a command")
		}
		return &Command{Argv: cfg.Command, Timeout: timeout}, nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http acquisition needs a url")
		}
		return NewHTTP(cfg.URL, timeout, cfg.Attempts), nil
	default:
		return nil, fmt.Errorf("unknown acquisition kind %q", cfg.Kind)
	}
}
