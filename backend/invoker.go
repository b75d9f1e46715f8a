package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowmesh/flowmesh/ferrors"
)

// Invoker delivers one request body to url and returns the response body.
// The cluster ("pku") backend funnels call/tell through an Invoker rather
// than holding net/http details inline, so tests can swap in a fake.
type Invoker interface {
	Post(ctx context.Context, url string, body []byte) ([]byte, error)
}

// HTTPInvoker is the production Invoker: POST with exponential backoff,
// retried until budget elapses (spec.md §4.9 "funnel through ... the
// Invoker"; grounded on graph/tool/http.go's client-construction idiom).
type HTTPInvoker struct {
	Client *http.Client
	Budget time.Duration
}

// NewHTTPInvoker builds an HTTPInvoker retrying for up to budget.
func NewHTTPInvoker(budget time.Duration) *HTTPInvoker {
	return &HTTPInvoker{Client: &http.Client{Timeout: budget}, Budget: budget}
}

func (h *HTTPInvoker) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	deadline := time.Now().Add(h.Budget)
	backoff := 20 * time.Millisecond
	var lastErr error
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := h.Client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			defer resp.Body.Close()
			data, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				lastErr = readErr
			} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return data, nil
			} else {
				lastErr = fmt.Errorf("invoker: %s returned status %d", url, resp.StatusCode)
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return nil, ferrors.New(ferrors.KindTransientTransport, url, lastErr)
}
