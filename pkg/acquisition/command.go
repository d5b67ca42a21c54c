package acquisition

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/licitaciones/platform/pkg/common/logger"
)

// Command runs an external fetcher that writes artifacts under --out.
type Command struct {
	Argv    []string
	Timeout time.Duration
}

func (c *Command) args(req Request) []string {
	args := append([]string{}, c.Argv[1:]...)
	args = append(args, "--source", req.Source, "--mode", string(req.Mode), "--out", req.OutDir)
	if since := req.sinceArg(); since != "" {
		args = append(args, "--since", since)
	}
	return args
}

func (c *Command) Acquire(ctx context.Context, req Request) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Argv[0], c.args(req)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	log := logger.WithSource(req.Source).WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		log.WithError(err).WithField("stderr", msg).Warn("acquisition command failed")
		return fmt.Errorf("acquisition command %s: %w", c.Argv[0], err)
	}
	log.Debug("acquisition command finished")
	return nil
}
