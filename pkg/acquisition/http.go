package acquisition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/licitaciones/platform/pkg/common/httpclient"
	"github.com/licitaciones/platform/pkg/common/logger"
)

// HTTP asks a collaborator service to fetch artifacts.
type HTTP struct {
	URL       string
	Attempts  int
	BaseDelay time.Duration
	client    *http.Client
}

func NewHTTP(url string, timeout time.Duration, attempts int) *HTTP {
	if attempts < 1 {
		attempts = 3
	}
	return &HTTP{
		URL:       url,
		Attempts:  attempts,
		BaseDelay: time.Second,
		client:    httpclient.New(timeout),
	}
}

type httpPayload struct {
	Source string `json:"source"`
	Mode   string `json:"mode"`
	Since  string `json:"since,omitempty"`
	Out    string `json:"out"`
}

func (h *HTTP) Acquire(ctx context.Context, req Request) error {
	body, err := json.Marshal(httpPayload{
		Source: req.Source,
		Mode:   string(req.Mode),
		Since:  req.sinceArg(),
		Out:    req.OutDir,
	})
	if err != nil {
		return err
	}

	attempt := 0
	err = httpclient.Retry(ctx, h.Attempts, h.BaseDelay, func() error {
		attempt++
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
		if err != nil {
			return httpclient.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(httpReq)
		if err != nil {
			logger.WithSource(req.Source).WithField("attempt", attempt).WithError(err).Debug("acquisition request failed")
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("collaborator returned %d", resp.StatusCode)
		default:
			return httpclient.Permanent(fmt.Errorf("collaborator rejected request: %d", resp.StatusCode))
		}
	})
	if err != nil {
		return fmt.Errorf("acquisition via %s: %w", h.URL, err)
	}
	return nil
}
