package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenWriter satisfies http.ResponseWriter and http.Flusher but fails
// every write, simulating a disconnected client.
type brokenWriter struct{}

func (brokenWriter) Header() http.Header        { return http.Header{} }
func (brokenWriter) Write([]byte) (int, error)  { return 0, errors.New("connection reset") }
func (brokenWriter) WriteHeader(statusCode int) {}
func (brokenWriter) Flush()                     {}

func TestBroadcastReachesClients(t *testing.T) {
	b := NewBroadcaster()
	rec := httptest.NewRecorder()

	client, err := b.AddClient(rec)
	require.NoError(t, err)
	assert.Equal(t, 1, b.ClientCount())

	b.Broadcast(map[string]string{"type": "observation_stored"})

	body := rec.Body.String()
	assert.Contains(t, body, "data: ")
	assert.Contains(t, body, `"type":"observation_stored"`)

	b.RemoveClient(client)
	assert.Zero(t, b.ClientCount())
}

func TestRemoveClientIsIdempotent(t *testing.T) {
	b := NewBroadcaster()

	client, err := b.AddClient(httptest.NewRecorder())
	require.NoError(t, err)

	b.RemoveClient(client)
	b.RemoveClient(client)
	assert.Zero(t, b.ClientCount())

	// Done is closed exactly once.
	select {
	case <-client.Done:
	default:
		t.Fatal("done channel left open")
	}
}

func TestBroadcastDropsDeadClients(t *testing.T) {
	b := NewBroadcaster()

	_, err := b.AddClient(brokenWriter{})
	require.NoError(t, err)
	live := httptest.NewRecorder()
	_, err = b.AddClient(live)
	require.NoError(t, err)
	require.Equal(t, 2, b.ClientCount())

	b.Broadcast(map[string]string{"type": "ping"})

	assert.Equal(t, 1, b.ClientCount())
	assert.Contains(t, live.Body.String(), `"type":"ping"`)
}

func TestHandleSSEStreamsUntilDisconnect(t *testing.T) {
	b := NewBroadcaster()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.HandleSSE(rec, req)
		close(done)
	}()

	// The handshake event arrives before any broadcast.
	require.Eventually(t, func() bool { return b.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit on disconnect")
	}

	assert.Contains(t, rec.Body.String(), `"type":"connected"`)
	assert.Zero(t, b.ClientCount())
}
