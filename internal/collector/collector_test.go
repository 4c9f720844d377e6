package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/vocguru/pkg/models"
)

func TestNormalize_Slack(t *testing.T) {
	item, err := Normalize("slack", map[string]any{
		"ts":         "1700000000.500000",
		"text":       "  Need SSO with Okta  ",
		"user_email": "Ada@Example.com",
		"user_name":  "Ada",
		"channel":    "C123",
		"user":       "U999",
	})
	require.NoError(t, err)

	assert.Equal(t, models.SourceChat, item.Source)
	assert.Equal(t, "1700000000.500000", item.ExternalID)
	assert.Equal(t, "Need SSO with Okta", item.Content)
	assert.Equal(t, "ada@example.com", item.AuthorEmail)
	assert.Equal(t, int64(1700000000), item.CreatedAt.Unix())
	assert.Equal(t, "C123", item.Metadata.String("channel"))
	assert.Equal(t, "U999", item.Metadata.String("slack_user_id"))
	assert.NotContains(t, item.Metadata, "permalink")
	assert.Equal(t, models.DefaultFeedbackWeight, item.Weight)
}

func TestNormalize_ZoomParsesVTT(t *testing.T) {
	vtt := "WEBVTT\n\n1\n00:00:01.000 --> 00:00:04.000\nWe keep losing data\n\n2\n00:00:05.000 --> 00:00:08.000\n when the export times out.\n"

	item, err := Normalize("zoom", map[string]any{
		"uuid":       "meeting-1",
		"transcript": vtt,
		"host_email": "host@example.com",
		"topic":      "QBR",
		"duration":   float64(45),
	})
	require.NoError(t, err)

	assert.Equal(t, models.SourceCallTranscript, item.Source)
	assert.Equal(t, "1 We keep losing data 2 when the export times out.", item.Content)
	assert.Equal(t, "QBR", item.Metadata.String("meeting_topic"))
	assert.Equal(t, "45", item.Metadata.String("duration"))
}

func TestNormalize_FreshdeskNumericTicket(t *testing.T) {
	item, err := Normalize("freshdesk", map[string]any{
		"ticket_id":       float64(4521),
		"description":     "Dark mode please",
		"requester_email": "x@example.com",
		"created_at":      "2024-03-01T10:00:00Z",
		"priority":        float64(2),
	})
	require.NoError(t, err)

	assert.Equal(t, models.SourceHelpdesk, item.Source)
	assert.Equal(t, "4521", item.ExternalID)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), item.CreatedAt)
	assert.Equal(t, "2", item.Metadata.String("priority"))
}

func TestNormalize_ManualAndDefaults(t *testing.T) {
	item, err := Normalize("typeform", map[string]any{
		"content":  "Bulk edit",
		"metadata": map[string]any{"form": "nps"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.SourceManual, item.Source)
	_, perr := uuid.Parse(item.ExternalID)
	assert.NoError(t, perr, "missing ids get a generated uuid")
	assert.Equal(t, "nps", item.Metadata.String("form"))
	assert.True(t, item.CreatedAt.IsZero())
}

func TestNormalize_EmptyContent(t *testing.T) {
	for _, src := range []string{"slack", "zoom", "freshdesk", "manual"} {
		_, err := Normalize(src, map[string]any{"text": "   ", "content": ""})
		assert.ErrorIs(t, err, ErrEmptyContent, src)
	}
}

func TestParseVTT(t *testing.T) {
	in := "WEBVTT\r\n\r\n00:00:01.000 --> 00:00:02.000\r\n  Hello  \r\n00:03\r\nworld\r\n"
	assert.Equal(t, "Hello world", ParseVTT(in))
	assert.Equal(t, "", ParseVTT("WEBVTT\n\n"))

	assert.True(t, LooksLikeVTT("\ufeffWEBVTT\n"))
	assert.False(t, LooksLikeVTT("Customer: hello"))
}

type fakeStore struct {
	mu    sync.Mutex
	items map[string]*models.FeedbackItem
	err   error
}

func (s *fakeStore) SaveFeedback(_ context.Context, item *models.FeedbackItem) (*models.FeedbackItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	key := string(item.Source) + "/" + item.ExternalID
	if existing, ok := s.items[key]; ok {
		return existing, false, nil
	}
	stored := *item
	stored.ID = uuid.New()
	s.items[key] = &stored
	return &stored, true, nil
}

type fakeQueue struct {
	ids []uuid.UUID
	err error
}

func (q *fakeQueue) Enqueue(id uuid.UUID) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func TestCapture_StoresAndQueuesOnce(t *testing.T) {
	store := &fakeStore{items: map[string]*models.FeedbackItem{}}
	queue := &fakeQueue{}
	c := New(store, queue, zerolog.Nop())
	payload := map[string]any{"ticket_id": "T-1", "description": "Export to PDF"}

	first, created, err := c.Capture(context.Background(), "freshdesk", payload)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := c.Capture(context.Background(), "freshdesk", payload)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	assert.Equal(t, []uuid.UUID{first.ID}, queue.ids)
}

func TestCapture_QueueFullStillStores(t *testing.T) {
	store := &fakeStore{items: map[string]*models.FeedbackItem{}}
	c := New(store, &fakeQueue{err: ErrQueueFull}, zerolog.Nop())

	item, created, err := c.Capture(context.Background(), "manual", map[string]any{"content": "x"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, uuid.Nil, item.ID)
}

func TestCapture_Errors(t *testing.T) {
	store := &fakeStore{items: map[string]*models.FeedbackItem{}, err: errors.New("db down")}
	c := New(store, nil, zerolog.Nop())

	_, _, err := c.Capture(context.Background(), "manual", map[string]any{"content": "x"})
	assert.ErrorContains(t, err, "db down")

	_, _, err = c.Capture(context.Background(), "manual", map[string]any{})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestQueue_ProcessesAndDrainsOnStop(t *testing.T) {
	var handled atomic.Int64
	block := make(chan struct{})
	q := NewQueue(10, 1, func(ctx context.Context, id uuid.UUID) error {
		<-block
		handled.Add(1)
		return nil
	}, zerolog.Nop())
	q.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(uuid.New()))
	}
	close(block)
	q.Stop()

	assert.Equal(t, int64(5), handled.Load())
	assert.Equal(t, int64(5), q.Stats().Processed)
	assert.ErrorIs(t, q.Enqueue(uuid.New()), ErrQueueClosed)
}

func TestQueue_FullAndFailures(t *testing.T) {
	q := NewQueue(1, 1, func(context.Context, uuid.UUID) error {
		return errors.New("llm down")
	}, zerolog.Nop())

	// Not started: the buffer fills up.
	require.NoError(t, q.Enqueue(uuid.New()))
	assert.ErrorIs(t, q.Enqueue(uuid.New()), ErrQueueFull)
	assert.Equal(t, int64(1), q.Stats().Dropped)
	assert.Equal(t, 1, q.Stats().Depth)

	q.Start(context.Background())
	q.Stop()
	assert.Equal(t, int64(1), q.Stats().Failed)
	assert.Equal(t, 0, q.Stats().Depth)
}

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) Resolve(context.Context, uuid.UUID) error {
	r.calls = append(r.calls, "resolve")
	return r.err
}

func (r *recorder) Synthesize(context.Context, uuid.UUID) error {
	r.calls = append(r.calls, "synthesize")
	return nil
}

func TestProcess_ResolvesThenSynthesizes(t *testing.T) {
	r := &recorder{err: errors.New("crm down")}
	h := Process(r, r, zerolog.Nop())

	require.NoError(t, h(context.Background(), uuid.New()))
	assert.Equal(t, []string{"resolve", "synthesize"}, r.calls)

	r.calls = nil
	require.NoError(t, Process(nil, r, zerolog.Nop())(context.Background(), uuid.New()))
	assert.Equal(t, []string{"synthesize"}, r.calls)
}

func TestCapture_RedactsCredentials(t *testing.T) {
	store := &fakeStore{items: map[string]*models.FeedbackItem{}}
	c := New(store, nil, zerolog.Nop())

	item, created, err := c.Capture(context.Background(), "manual", map[string]any{
		"content": "Webhook fails with api_key=abcdef1234567890abcdef, card 4111 1111 1111 1111 was charged",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotContains(t, item.Content, "abcdef1234567890abcdef")
	assert.NotContains(t, item.Content, "4111")
	assert.Contains(t, item.Content, "Webhook fails with api_key=")
}
