package extractor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompleter replays a fixed list of responses.
type fakeCompleter struct {
	responses []func(ctx context.Context) (string, error)
	calls     atomic.Int32
	lastUser  string
}

func (f *fakeCompleter) Complete(ctx context.Context, _, user string) (string, error) {
	n := int(f.calls.Add(1)) - 1
	f.lastUser = user
	if n >= len(f.responses) {
		n = len(f.responses) - 1
	}
	return f.responses[n](ctx)
}

func reply(s string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return s, nil }
}

func fail(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", err }
}

func newTestExtractor(c Completer) *LLMExtractor {
	e := NewLLMExtractor(c, nil, zerolog.Nop())
	e.retry = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	return e
}

const validResponse = `{"feature_title":"Bulk Export","problem_summary":"Cannot export all rows.","sentiment":"negative","urgency":6,"tags":["export"]}`

func TestLLMExtractor_RetriesTransientErrors(t *testing.T) {
	c := &fakeCompleter{responses: []func(context.Context) (string, error){
		fail(errors.New("connection reset")),
		reply(validResponse),
	}}
	e := newTestExtractor(c)

	res, err := e.Extract(context.Background(), "export is broken")

	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, "Bulk Export", res.Signal.Title)
	assert.Equal(t, int32(2), c.calls.Load())
	assert.Equal(t, "closed", e.Breaker().State())
	assert.Equal(t, "Input Text: export is broken", c.lastUser)
}

func TestLLMExtractor_PermanentErrorNotRetried(t *testing.T) {
	c := &fakeCompleter{responses: []func(context.Context) (string, error){
		fail(permanent(errors.New("bad request"))),
	}}
	e := newTestExtractor(c)

	_, err := e.Extract(context.Background(), "hello")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), c.calls.Load())
}

func TestLLMExtractor_MalformedOutputDegrades(t *testing.T) {
	c := &fakeCompleter{responses: []func(context.Context) (string, error){reply("not json at all")}}
	e := newTestExtractor(c)

	res, err := e.Extract(context.Background(), "some feedback")

	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, UnknownFeatureTitle, res.Signal.Title)
	assert.Equal(t, "some feedback", res.Signal.Summary)
}

func TestLLMExtractor_Timeout(t *testing.T) {
	c := &fakeCompleter{responses: []func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}}
	e := newTestExtractor(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := e.Extract(ctx, "slow")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), c.calls.Load())
}

func TestLLMExtractor_OpenBreakerShortCircuits(t *testing.T) {
	c := &fakeCompleter{responses: []func(context.Context) (string, error){
		fail(permanent(errors.New("unauthorized"))),
	}}
	e := newTestExtractor(c)

	for i := 0; i < 5; i++ {
		_, err := e.Extract(context.Background(), "x")
		require.Error(t, err)
	}
	require.Equal(t, "open", e.Breaker().State())

	_, err := e.Extract(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), c.calls.Load())
}

func TestLLMExtractor_TruncatesToBudget(t *testing.T) {
	budget, err := NewTokenBudget(8)
	require.NoError(t, err)

	c := &fakeCompleter{responses: []func(context.Context) (string, error){reply(validResponse)}}
	e := NewLLMExtractor(c, budget, zerolog.Nop())

	long := strings.Repeat("the export button does nothing ", 50)
	_, err = e.Extract(context.Background(), long)
	require.NoError(t, err)

	sent := strings.TrimPrefix(c.lastUser, "Input Text: ")
	assert.Less(t, len(sent), len(long))
	assert.LessOrEqual(t, budget.Count(sent), 8)
}

func TestTokenBudget_ShortTextUntouched(t *testing.T) {
	budget, err := NewTokenBudget(100)
	require.NoError(t, err)

	out, truncated := budget.Fit("dark mode please")
	assert.False(t, truncated)
	assert.Equal(t, "dark mode please", out)

	var disabled *TokenBudget
	out, truncated = disabled.Fit("anything")
	assert.False(t, truncated)
	assert.Equal(t, "anything", out)
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, "closed", cb.State())
	cb.RecordFailure()
	assert.Equal(t, "open", cb.State())
	assert.False(t, cb.Allow())

	m := cb.Metrics()
	assert.Equal(t, int64(2), m.Failures)
	assert.Equal(t, int64(60), m.SecondsUntilReset)

	now = now.Add(61 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, "half-open", cb.State())
	assert.False(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(3, time.Second)
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	now = now.Add(2 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, "open", cb.State())
}

type stubEmbedder struct{ vec []float32 }

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) { return s.vec, nil }

func TestAdapter(t *testing.T) {
	a := NewAdapter(nil, stubEmbedder{vec: []float32{1, 0}})

	res, err := a.Extract(context.Background(), "feedback without llm")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, "no llm configured", res.Reason)

	vec, err := a.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)

	_, err = NewAdapter(nil, nil).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}
