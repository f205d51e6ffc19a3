package intervention

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Provider is the external AI capability: given context, it returns one raw,
// untrusted intervention body. Callers must sanitize through SafeParse before
// acting on it.
type Provider interface {
	Request(ctx context.Context, req *Request) (json.RawMessage, error)
}

// HTTPProvider POSTs requests to the intervention endpoint. Transient
// failures are retried here with backoff; the orchestrator above sees a
// single success or failure.
type HTTPProvider struct {
	Endpoint   string
	HTTPClient *http.Client
	log        *zap.Logger

	maxRetries uint64
	baseDelay  time.Duration
}

// NewHTTPProvider builds a provider client for the given endpoint.
func NewHTTPProvider(endpoint string, log *zap.Logger) *HTTPProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPProvider{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		log:        log,
		maxRetries: 2,
		baseDelay:  300 * time.Millisecond,
	}
}

// Request implements Provider. Network errors and 5xx responses are
// retryable; any 4xx is permanent.
func (p *HTTPProvider) Request(ctx context.Context, req *Request) (json.RawMessage, error) {
	if p.Endpoint == "" {
		return nil, fmt.Errorf("intervention provider: endpoint not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("intervention provider: marshal request: %w", err)
	}

	var raw json.RawMessage
	backoff := retry.WithMaxRetries(p.maxRetries, retry.NewFibonacci(p.baseDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.HTTPClient.Do(httpReq)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return retry.RetryableError(fmt.Errorf("intervention provider: status=%d body=%s", resp.StatusCode, string(b)))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("intervention provider: status=%d body=%s", resp.StatusCode, string(b))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("intervention provider: read body: %w", err))
		}
		raw = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}
