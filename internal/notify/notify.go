// Package notify subscribes to the service's job event stream over a
// websocket. Events are only hints: each one wakes the poller, which still
// fetches the authoritative job records itself.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/tonimelisma/netanalyzer-go/internal/credstore"
)

const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 5 * time.Minute
	readLimit      = 64 * 1024
)

// ErrNoCredential means there is no access credential to subscribe with.
var ErrNoCredential = errors.New("notify: no access credential")

// event is the optional payload of a stream message. Unknown shapes are
// still treated as a wake hint.
type event struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Listener keeps a websocket subscription open and calls wake for every
// received message and after every (re)connect.
type Listener struct {
	url        string
	store      credstore.Store
	wake       func()
	httpClient *http.Client
	logger     *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewListener creates a Listener for the stream at url. Each connection
// authenticates with the access credential current at dial time.
func NewListener(url string, store credstore.Store, wake func(), httpClient *http.Client, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Listener{
		url:        url,
		store:      store,
		wake:       wake,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Run listens until ctx is canceled, reconnecting with exponential backoff
// (5s doubling, capped at 5m). The backoff resets after a connection that
// was established successfully.
func (l *Listener) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if connected {
			backoff = initialBackoff
		}

		l.logger.Warn("job event stream disconnected",
			slog.String("url", l.url),
			slog.String("error", err.Error()),
			slog.Duration("retry_in", backoff),
		)

		if sleepErr := l.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

// listen runs one connection. It reports whether the dial succeeded.
func (l *Listener) listen(ctx context.Context) (bool, error) {
	access, err := l.store.Get(credstore.KindAccess)
	if err != nil {
		return false, fmt.Errorf("notify: reading access credential: %w", err)
	}

	if access == "" {
		return false, ErrNoCredential
	}

	conn, _, err := websocket.Dial(ctx, l.url, &websocket.DialOptions{
		HTTPClient: l.httpClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + access}},
	})
	if err != nil {
		return false, fmt.Errorf("notify: dialing %s: %w", l.url, err)
	}
	defer conn.CloseNow()

	conn.SetReadLimit(readLimit)

	l.logger.Info("job event stream connected", slog.String("url", l.url))

	// Events may have been missed while disconnected.
	l.wake()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, fmt.Errorf("notify: reading: %w", err)
		}

		var ev event
		if json.Unmarshal(data, &ev) == nil && ev.JobID != "" {
			l.logger.Debug("job event received",
				slog.String("job_id", ev.JobID),
				slog.String("status", ev.Status),
			)
		} else {
			l.logger.Debug("job event received", slog.Int("size_bytes", len(data)))
		}

		l.wake()
	}
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
