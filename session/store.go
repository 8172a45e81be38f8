package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/harborops/go-session-kit/internal/pubsub"
)

const defaultRefreshTimeout = 30 * time.Second

// Refresher exchanges the session's refresh credential for a new session.
// Implementations must not mutate the store; the store applies the result.
type Refresher interface {
	Refresh(ctx context.Context, current Session) (Session, error)
}

// pendingRefresh is the single in-flight refresh marker. Concurrent
// callers wait on done and read the settled result; at most one exists
// per store at any time.
type pendingRefresh struct {
	done      chan struct{}
	startedAt time.Time
	session   Session
	err       error
}

// Store tracks the current session and coordinates refreshes. All methods
// are safe for concurrent use.
type Store struct {
	refresher      Refresher
	refreshTimeout time.Duration
	nowTime        func() time.Time

	mu      sync.Mutex // guards current and pending
	current Session
	pending *pendingRefresh

	changes pubsub.Hub[Session]
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// WithRefreshTimeout bounds the network time of a single refresh so a hung
// endpoint cannot wedge the in-flight marker indefinitely.
func WithRefreshTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.refreshTimeout = d
	}
}

// NewStore creates a Store backed by the given refresher.
func NewStore(refresher Refresher, options ...StoreOption) *Store {
	s := &Store{
		refresher:      refresher,
		refreshTimeout: defaultRefreshTimeout,
		nowTime:        time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Current returns the session as of now. Callers must read it live before
// every use rather than caching a copy, so token rotation is picked up.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the current session and notifies subscribers.
func (s *Store) Set(sess Session) {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	s.changes.Publish(sess)
}

// Clear drops the current session, leaving the store anonymous.
func (s *Store) Clear() {
	s.Set(Session{})
}

// Subscribe registers a callback invoked on every session change. The
// returned cancel function revokes the subscription.
func (s *Store) Subscribe(fn func(Session)) func() {
	return s.changes.Subscribe(fn)
}

// Refresh renews the current session. Concurrent callers collapse onto a
// single in-flight refresh: the first caller starts it, the rest join and
// observe the same outcome. The network call runs under the store's own
// bounded timeout, detached from any single caller's context, so a caller
// that gives up waiting does not cancel the refresh for the others.
//
// A refresh that fails, or that yields a session already past expiry,
// returns ErrSessionExpired (possibly wrapped); the stored session is left
// untouched in that case. Refresh failures are not retried with backoff:
// the design fails closed immediately and escalates to logout.
func (s *Store) Refresh(ctx context.Context) (Session, error) {
	s.mu.Lock()
	if s.pending != nil {
		p := s.pending
		s.mu.Unlock()
		return s.await(ctx, p)
	}

	if s.refresher == nil {
		s.mu.Unlock()
		return Session{}, errors.Wrap(ErrSessionExpired, "[Store.Refresh] no refresher configured")
	}

	p := &pendingRefresh{
		done:      make(chan struct{}),
		startedAt: s.nowTime(),
	}
	s.pending = p
	current := s.current
	s.mu.Unlock()

	go s.runRefresh(p, current)

	return s.await(ctx, p)
}

// runRefresh performs the actual token exchange and settles the pending
// marker. Runs once per flight.
func (s *Store) runRefresh(p *pendingRefresh, current Session) {
	rctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
	defer cancel()

	sess, err := s.refresher.Refresh(rctx, current)
	switch {
	case err != nil:
		p.err = errors.Wrap(ErrSessionExpired, err.Error())
	case sess.Expired(s.nowTime()):
		p.err = errors.Wrap(ErrSessionExpired, "[Store.runRefresh] refreshed session already expired")
	default:
		p.session = sess
	}

	s.mu.Lock()
	if p.err == nil {
		s.current = p.session
	}
	s.pending = nil
	s.mu.Unlock()

	if p.err == nil {
		s.changes.Publish(p.session)
		log.Debug().Time("expiresAt", p.session.ExpiresAt).Msg("session refreshed")
	} else {
		log.Warn().Err(p.err).Msg("session refresh failed")
	}
	close(p.done)
}

// await blocks until the flight settles or the caller's context dies. The
// flight itself keeps running for the remaining waiters.
func (s *Store) await(ctx context.Context, p *pendingRefresh) (Session, error) {
	select {
	case <-p.done:
		return p.session, p.err
	case <-ctx.Done():
		return Session{}, errors.Wrap(ctx.Err(), "[Store.await] abandoned refresh wait")
	}
}
