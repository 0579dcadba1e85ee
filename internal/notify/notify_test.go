package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/netanalyzer-go/internal/credstore"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func storeWithAccess(t *testing.T, access string) credstore.Store {
	t.Helper()

	s := credstore.NewMemoryStore()
	if access != "" {
		require.NoError(t, s.Set(credstore.KindAccess, access))
	}

	return s
}

func TestListener_WakesOnConnectAndEveryMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer A1", r.Header.Get("Authorization"))

		conn, err := websocket.Accept(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"job_id":"j1","status":"DONE"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`ping`))
		conn.Close(websocket.StatusNormalClosure, "bye")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wakes atomic.Int32

	l := NewListener(wsURL(srv), storeWithAccess(t, "A1"), func() { wakes.Add(1) }, srv.Client(), nil)

	// Stop at the first reconnect wait.
	l.sleepFunc = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	require.NoError(t, l.Run(ctx))

	// One wake for the connect, one per message.
	assert.Equal(t, int32(3), wakes.Load())
}

func TestListener_BackoffDoublesAndCaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delays []time.Duration

	l := NewListener(wsURL(srv), storeWithAccess(t, "A1"), func() { t.Error("unexpected wake") }, srv.Client(), nil)
	l.sleepFunc = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 9 {
			cancel()
			return context.Canceled
		}

		return nil
	}

	require.NoError(t, l.Run(ctx))

	assert.Equal(t, []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second,
		80 * time.Second, 160 * time.Second, 5 * time.Minute, 5 * time.Minute, 5 * time.Minute,
	}, delays)
}

func TestListener_NoCredential(t *testing.T) {
	l := NewListener("ws://127.0.0.1:1/events", storeWithAccess(t, ""), func() {}, nil, nil)

	connected, err := l.listen(context.Background())
	assert.False(t, connected)
	require.ErrorIs(t, err, ErrNoCredential)
}
