package intent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScorer struct {
	needsHelp  bool
	confidence float64
	err        error
	calls      int32
}

func (f *fakeScorer) Score(ctx context.Context, text string) (bool, float64, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.needsHelp, f.confidence, f.err
}

func TestDetectHelpRequest_KeywordFastPath(t *testing.T) {
	scorer := &fakeScorer{}
	c := NewClassifier(scorer, nil)

	d := c.DetectHelpRequest(context.Background(), "I'm stuck on this derivative")
	assert.True(t, d.NeedsHelp)
	assert.Equal(t, ReasonKeyword, d.Reason)
	assert.Equal(t, 0.95, d.Confidence)
	assert.Contains(t, d.MatchedKeywords, "stuck")
	// Fast path must not touch the semantic endpoint.
	assert.Zero(t, atomic.LoadInt32(&scorer.calls))
}

func TestDetectHelpRequest_QuestionPattern(t *testing.T) {
	c := NewClassifier(nil, nil)

	d := c.DetectHelpRequest(context.Background(), "is it always positive?")
	assert.True(t, d.NeedsHelp)
	assert.Equal(t, 0.7, d.Confidence)
}

func TestDetectHelpRequest_StrugglePhrase(t *testing.T) {
	c := NewClassifier(nil, nil)

	d := c.DetectHelpRequest(context.Background(), "ugh this doesn't work at all")
	assert.True(t, d.NeedsHelp)
	assert.Equal(t, 0.8, d.Confidence)
}

func TestDetectHelpRequest_QuestionBeatsStruggle(t *testing.T) {
	c := NewClassifier(nil, nil)

	// Matches both the question pattern and a struggle phrase; question
	// precedence means the lower confidence wins.
	d := c.DetectHelpRequest(context.Background(), "does this look wrong to you?")
	assert.True(t, d.NeedsHelp)
	assert.Equal(t, 0.7, d.Confidence)
	assert.Empty(t, d.MatchedKeywords)
}

func TestDetectHelpRequest_SemanticFallback(t *testing.T) {
	scorer := &fakeScorer{needsHelp: true, confidence: 0.85}
	c := NewClassifier(scorer, nil)

	d := c.DetectHelpRequest(context.Background(), "hmm this part right here")
	assert.True(t, d.NeedsHelp)
	assert.Equal(t, ReasonSemantic, d.Reason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&scorer.calls))
}

func TestDetectHelpRequest_SemanticBelowThreshold(t *testing.T) {
	scorer := &fakeScorer{needsHelp: true, confidence: 0.5}
	c := NewClassifier(scorer, nil)

	d := c.DetectHelpRequest(context.Background(), "just drawing a box")
	assert.False(t, d.NeedsHelp)
}

func TestDetectHelpRequest_FailsClosed(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("endpoint down")}
	c := NewClassifier(scorer, nil)

	d := c.DetectHelpRequest(context.Background(), "just drawing a box")
	assert.False(t, d.NeedsHelp)
	assert.Equal(t, ReasonNone, d.Reason)
}

func TestDetectHelpRequest_NilScorer(t *testing.T) {
	c := NewClassifier(nil, nil)

	d := c.DetectHelpRequest(context.Background(), "just drawing a box")
	assert.False(t, d.NeedsHelp)
}

func TestExtractIntent(t *testing.T) {
	c := NewClassifier(nil, nil)

	cases := []struct {
		text string
		want Kind
	}{
		{"ok got it", KindAffirmation},
		{"makes sense now", KindAffirmation},
		{"yeah", KindAffirmation},
		{"I'm so confused about this", KindHelp},
		{"wait why does that work", KindHelp},
		{"where does the two come from?", KindQuestion},
		{"I drew a triangle on the left", KindStatement},
		{"", KindStatement},
	}
	for _, tc := range cases {
		got := c.ExtractIntent(tc.text)
		assert.Equal(t, tc.want, got.Kind, "text=%q", tc.text)
	}
}

func TestExtractIntent_SubjectFromTopicList(t *testing.T) {
	c := NewClassifier(nil, nil)

	in := c.ExtractIntent("how does the derivative relate to slope")
	assert.Equal(t, KindHelp, in.Kind)
	assert.Equal(t, "derivative", in.Subject)
}

func TestExtractIntent_SubjectFromQuestionCapture(t *testing.T) {
	c := NewClassifier(nil, nil)

	in := c.ExtractIntent("what is a fourier series")
	assert.Equal(t, "fourier series", in.Subject)
}

func TestHTTPScorer_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req semanticRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "help me", req.Text)
		_ = json.NewEncoder(w).Encode(semanticResponse{NeedsHelp: true, Confidence: 0.91})
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, nil)
	needsHelp, conf, err := s.Score(context.Background(), "help me")
	require.NoError(t, err)
	assert.True(t, needsHelp)
	assert.Equal(t, 0.91, conf)
}

func TestHTTPScorer_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, nil)
	_, _, err := s.Score(context.Background(), "text")
	assert.Error(t, err)
}
