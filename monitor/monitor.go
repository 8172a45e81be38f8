// Package monitor watches the session store and classifies access-token
// freshness. It emits edge-triggered lifecycle events (a warning when the
// token enters the expiry window, a single expiry trigger when it lapses)
// and exposes the raw remaining time continuously for countdown UI.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/harborops/go-session-kit/internal/pubsub"
	"github.com/harborops/go-session-kit/session"
)

// ExpirationState classifies token freshness. Derived on every tick,
// never persisted.
type ExpirationState string

const (
	StateValid   ExpirationState = "valid"
	StateWarning ExpirationState = "warning"
	StateExpired ExpirationState = "expired"
)

const (
	defaultWarningThreshold = 5 * time.Minute
	defaultPollInterval     = 30 * time.Second
	// warningPollInterval drives the live countdown while the warning
	// banner is up. Must stay well under the warning threshold.
	warningPollInterval = time.Second
)

// Warning is published once per crossing into the warning band.
type Warning struct {
	ExpiresAt time.Time
	Remaining time.Duration
}

// Monitor polls the session store and tracks expiration transitions.
type Monitor struct {
	store            *session.Store
	warningThreshold time.Duration
	pollInterval     time.Duration
	nowTime          func() time.Time
	onExpired        func()

	warnings pubsub.Hub[Warning]

	mu      sync.Mutex
	state   ExpirationState
	latched bool // expiry trigger already fired for this lapse
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithWarningThreshold sets the window before expiry in which the warning
// state is entered.
func WithWarningThreshold(d time.Duration) Option {
	return func(m *Monitor) {
		m.warningThreshold = d
	}
}

// WithPollInterval sets the tick interval used outside the warning band.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.pollInterval = d
	}
}

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Monitor) {
		m.nowTime = nowFunc
	}
}

// WithOnExpired sets the callback fired exactly once when the session
// lapses. The wiring layer points this at the logout orchestrator with
// the default redirect.
func WithOnExpired(fn func()) Option {
	return func(m *Monitor) {
		m.onExpired = fn
	}
}

// New creates a Monitor over the given store.
func New(store *session.Store, options ...Option) *Monitor {
	m := &Monitor{
		store:            store,
		warningThreshold: defaultWarningThreshold,
		pollInterval:     defaultPollInterval,
		nowTime:          time.Now,
		state:            StateValid,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// SubscribeWarnings registers a callback for warning-band crossings. The
// returned cancel function revokes the subscription.
func (m *Monitor) SubscribeWarnings(fn func(Warning)) func() {
	return m.warnings.Subscribe(fn)
}

// State returns the state computed on the most recent tick.
func (m *Monitor) State() ExpirationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remaining returns the live time left until expiry, independent of tick
// cadence, for countdown rendering.
func (m *Monitor) Remaining() time.Duration {
	remaining := m.store.Current().Remaining(m.nowTime())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Extend renews the session via the store's collapsing refresh. On
// success the state transitions back to valid immediately rather than
// waiting for the next tick.
func (m *Monitor) Extend(ctx context.Context) error {
	if _, err := m.store.Refresh(ctx); err != nil {
		return errors.Wrap(err, "[Monitor.Extend] refresh")
	}
	m.Evaluate(m.nowTime())
	return nil
}

// Evaluate recomputes the expiration state as of now and fires any
// edge-triggered events. Called on every tick; safe to call directly.
func (m *Monitor) Evaluate(now time.Time) ExpirationState {
	sess := m.store.Current()

	next := StateValid
	if !sess.Anonymous() {
		switch remaining := sess.Remaining(now); {
		case remaining <= 0:
			next = StateExpired
		case remaining <= m.warningThreshold:
			next = StateWarning
		}
	}

	m.mu.Lock()
	prev := m.state
	m.state = next
	fireWarning := next == StateWarning && prev != StateWarning
	fireExpired := next == StateExpired && prev != StateExpired && !m.latched
	if fireExpired {
		m.latched = true
	}
	if next == StateValid {
		// A successful refresh re-arms the expiry latch.
		m.latched = false
	}
	m.mu.Unlock()

	if fireWarning {
		log.Debug().Time("expiresAt", sess.ExpiresAt).Msg("session entering expiry window")
		m.warnings.Publish(Warning{
			ExpiresAt: sess.ExpiresAt,
			Remaining: sess.Remaining(now),
		})
	}

	if fireExpired && m.onExpired != nil {
		log.Info().Msg("session expired, triggering logout")
		m.onExpired()
	}

	return next
}

// Start begins periodic evaluation and returns an idempotent stop
// function that releases the timer. The tick cadence tightens to one
// second while the warning banner is active.
func (m *Monitor) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	go m.run(ctx)

	var once sync.Once
	return func() {
		once.Do(cancel)
	}
}

func (m *Monitor) run(ctx context.Context) {
	timer := time.NewTimer(m.tickInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.Evaluate(m.nowTime())
			timer.Reset(m.tickInterval())
		}
	}
}

func (m *Monitor) tickInterval() time.Duration {
	if m.State() == StateWarning {
		return warningPollInterval
	}
	return m.pollInterval
}
