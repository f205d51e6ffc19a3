package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPScorer calls the semantic-help endpoint: cosine similarity of the
// utterance against canonical help phrasings, computed server-side.
type HTTPScorer struct {
	Endpoint   string
	HTTPClient *http.Client
	log        *zap.Logger
}

type semanticRequest struct {
	Text string `json:"text"`
}

type semanticResponse struct {
	NeedsHelp  bool    `json:"needsHelp"`
	Confidence float64 `json:"confidence"`
}

// NewHTTPScorer builds a scorer for the given endpoint.
func NewHTTPScorer(endpoint string, log *zap.Logger) *HTTPScorer {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPScorer{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		log:        log,
	}
}

// Score implements SemanticScorer.
func (s *HTTPScorer) Score(ctx context.Context, text string) (bool, float64, error) {
	if s.Endpoint == "" {
		return false, 0, fmt.Errorf("semantic scorer: endpoint not configured")
	}

	body, _ := json.Marshal(semanticRequest{Text: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return false, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return false, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, 0, fmt.Errorf("semantic scorer: status=%d body=%s", resp.StatusCode, string(b))
	}

	var sr semanticResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return false, 0, err
	}
	return sr.NeedsHelp, sr.Confidence, nil
}
