package sse

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct {
	*httptest.ResponseRecorder
}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

type noFlushWriter struct {
	http.ResponseWriter
}

func TestBroadcast_FramesEvents(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	rec := httptest.NewRecorder()

	client, err := b.AddClient(rec)
	require.NoError(t, err)
	assert.Equal(t, 1, b.ClientCount())

	b.Broadcast(Event{Type: "feature_created", Data: map[string]string{"title": "SSO"}})

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: feature_created\ndata: "), body)
	assert.Contains(t, body, `"title":"SSO"`)
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, int64(1), b.EventsSent())

	b.RemoveClient(client)
	b.RemoveClient(client)
	assert.Equal(t, 0, b.ClientCount())
	select {
	case <-client.Done:
	default:
		t.Fatal("Done not closed")
	}
}

func TestBroadcast_DropsFailedClients(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())

	good := httptest.NewRecorder()
	_, err := b.AddClient(good)
	require.NoError(t, err)
	_, err = b.AddClient(failingWriter{httptest.NewRecorder()})
	require.NoError(t, err)

	b.Broadcast(Event{Type: "feedback_merged"})
	assert.Equal(t, 1, b.ClientCount())
	assert.Contains(t, good.Body.String(), "event: feedback_merged")
}

func TestAddClient_RequiresFlusher(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	_, err := b.AddClient(noFlushWriter{httptest.NewRecorder()})
	assert.Error(t, err)
}

func TestHandleSSE_ExitsOnCloseAll(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	b.heartbeat = 10 * time.Millisecond

	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	buf := make([]byte, 0, 256)
	for !strings.Contains(string(buf), ": ping") {
		chunk := make([]byte, 128)
		n, err := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		require.NoError(t, err)
	}
	assert.Contains(t, string(buf), "event: connected")

	b.CloseAll()
	assert.Equal(t, 0, b.ClientCount())
}
