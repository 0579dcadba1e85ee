// Package session owns the client's session state: logging in with a
// username and password, restoring a stored session at startup, and the
// local logout transition. It is the only writer of that state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tonimelisma/netanalyzer-go/internal/api"
	"github.com/tonimelisma/netanalyzer-go/internal/credstore"
)

// State is the session state machine:
//
//	Unauthenticated --login ok--> Authenticated
//	Unauthenticated --login failed--> Error
//	Authenticated --logout--> Unauthenticated
//	Unauthenticated --restore ok--> Authenticated
//
// Error is terminal for the current attempt; the user has to log in again.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is a point-in-time copy of the session. Message is only set in
// StateError; Username only once the server has confirmed the session.
type Snapshot struct {
	State    State
	Message  string
	Username string
}

// Authenticator is the server side of the session: the login exchange and
// the "who am I" self-check. *api.Client implements it.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (credstore.Pair, error)
	Me(ctx context.Context) (*api.User, error)
}

// Client is the session state holder. All methods are safe for concurrent
// use.
type Client struct {
	auth   Authenticator
	store  credstore.Store
	logger *slog.Logger

	mu        sync.Mutex
	snap      Snapshot
	held      credstore.Pair // in-memory session reference
	gen       uint64         // bumped by Login/Logout to abandon restores
	observers []func(Snapshot)
}

// New creates a session Client in StateUnauthenticated.
func New(auth Authenticator, store credstore.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		auth:   auth,
		store:  store,
		logger: logger,
	}
}

// Snapshot returns the current session state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snap
}

// Held returns the credential pair the session currently holds in memory.
func (c *Client) Held() (credstore.Pair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.held, c.held.Complete()
}

// OnChange registers fn to be called after every state transition.
// Observers run on the goroutine that made the transition, outside the lock.
func (c *Client) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observers = append(c.observers, fn)
}

// Login performs the login exchange. On success the credential pair is
// stored and the session becomes Authenticated. A rejected login moves the
// session to Error with the server's detail text. Login never retries.
//
// If ctx is canceled, or another Login/Logout happens while the exchange is
// in flight, the result is returned but the session is not changed.
func (c *Client) Login(ctx context.Context, username, password string) error {
	gen := c.begin()

	pair, err := c.auth.Login(ctx, username, password)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("session: login canceled: %w", ctx.Err())
		}

		c.commit(gen, Snapshot{State: StateError, Message: loginMessage(err)}, credstore.Pair{})

		return fmt.Errorf("session: login: %w", err)
	}

	if ctx.Err() != nil {
		return fmt.Errorf("session: login canceled: %w", ctx.Err())
	}

	if err := credstore.SavePair(c.store, pair); err != nil {
		c.commit(gen, Snapshot{State: StateError, Message: "could not store credentials"}, credstore.Pair{})

		return fmt.Errorf("session: storing credentials: %w", err)
	}

	if c.commit(gen, Snapshot{State: StateAuthenticated, Username: username}, pair) {
		c.logger.Info("logged in", slog.String("username", username))
	}

	return nil
}

// Logout drops the in-memory session and returns to Unauthenticated. The
// durable store is left as it is; see Forget.
func (c *Client) Logout() {
	c.mu.Lock()
	c.gen++
	c.held = credstore.Pair{}
	changed := c.snap.State != StateUnauthenticated
	c.snap = Snapshot{State: StateUnauthenticated}
	observers, snap := c.observers, c.snap
	c.mu.Unlock()

	c.logger.Debug("logged out")

	if changed {
		notify(observers, snap)
	}
}

// Forget logs out and erases the stored credentials.
func (c *Client) Forget() error {
	c.Logout()

	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("session: clearing credentials: %w", err)
	}

	return nil
}

// Restore resumes a stored session. With both credentials present it holds
// them and confirms the session with the "who am I" call; success makes the
// session Authenticated, any failure leaves it Unauthenticated (never
// Error). Restore is a no-op returning nil when nothing is stored.
//
// A restore abandoned by ctx cancellation, or overtaken by Login/Logout,
// does not change the session.
func (c *Client) Restore(ctx context.Context) error {
	pair, ok, err := credstore.LoadPair(c.store)
	if err != nil {
		return fmt.Errorf("session: reading stored credentials: %w", err)
	}

	if !ok {
		c.logger.Debug("no stored session")
		return nil
	}

	c.mu.Lock()
	gen := c.gen
	c.held = pair
	c.mu.Unlock()

	user, err := c.auth.Me(ctx)
	if ctx.Err() != nil {
		return fmt.Errorf("session: restore canceled: %w", ctx.Err())
	}

	if err != nil {
		c.logger.Info("stored session rejected", slog.String("error", err.Error()))
		c.commit(gen, Snapshot{State: StateUnauthenticated}, credstore.Pair{})

		return fmt.Errorf("session: restoring: %w", err)
	}

	// The confirming call may have rotated the pair.
	if current, ok, loadErr := credstore.LoadPair(c.store); loadErr == nil && ok {
		pair = current
	}

	if c.commit(gen, Snapshot{State: StateAuthenticated, Username: user.Username}, pair) {
		c.logger.Info("session restored", slog.String("username", user.Username))
	}

	return nil
}

// begin starts a Login, invalidating any in-flight Restore.
func (c *Client) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++

	return c.gen
}

// commit applies snap if no Login/Logout happened since gen was taken.
// It reports whether the snapshot was applied.
func (c *Client) commit(gen uint64, snap Snapshot, held credstore.Pair) bool {
	c.mu.Lock()

	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("discarding stale session result", slog.String("state", snap.State.String()))

		return false
	}

	changed := c.snap != snap
	c.snap = snap
	c.held = held
	observers := c.observers
	c.mu.Unlock()

	if changed {
		notify(observers, snap)
	}

	return true
}

func notify(observers []func(Snapshot), snap Snapshot) {
	for _, fn := range observers {
		fn(snap)
	}
}

// loginMessage is the user-facing text for a failed login.
func loginMessage(err error) string {
	var loginErr *api.LoginError
	if errors.As(err, &loginErr) {
		return loginErr.Detail
	}

	return err.Error()
}
