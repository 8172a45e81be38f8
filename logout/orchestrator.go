// Package logout coordinates sign-out across the backend, the issuing
// identity provider and the local session framework. Every step is
// best-effort with a fallback to the next tier: whatever fails, the user
// always ends up redirected somewhere.
package logout

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harborops/go-session-kit/apiclient"
	"github.com/harborops/go-session-kit/providers"
	"github.com/harborops/go-session-kit/session"
)

const (
	backendLogoutPath     = "/api/auth/logout"
	defaultBackendTimeout = 10 * time.Second
)

// Navigator performs the browser redirect that ends the flow. The BFF
// implementation answers the pending request with a 302.
type Navigator interface {
	Redirect(url string) error
}

// logoutContext is assembled once from the current session at logout time
// and discarded after the redirect.
type logoutContext struct {
	provider       providers.Provider
	idToken        string
	redirectTarget string
	config         providers.Config
	configured     bool
}

// Orchestrator runs the tiered logout flow. Re-entrant calls while a
// logout is in progress are suppressed: logout is triggered both
// interactively and by the expiry latch and must not race.
type Orchestrator struct {
	store          *session.Store
	registry       *providers.Registry
	api            *apiclient.Client
	navigator      Navigator
	signOutURL     string
	backendTimeout time.Duration

	inFlight atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBackendTimeout bounds the best-effort backend invalidation call.
func WithBackendTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.backendTimeout = d
	}
}

// New creates an Orchestrator. signOutURL is the session framework's local
// sign-out endpoint, used as the final fallback tier.
func New(store *session.Store, registry *providers.Registry, api *apiclient.Client, navigator Navigator, signOutURL string, options ...Option) *Orchestrator {
	o := &Orchestrator{
		store:          store,
		registry:       registry,
		api:            api,
		navigator:      navigator,
		signOutURL:     signOutURL,
		backendTimeout: defaultBackendTimeout,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Logout runs the flow and never reports an error to the caller. Strictly
// ordered tiers:
//
//  1. no session: redirect straight to the target
//  2. backend token invalidation, best-effort with a bounded timeout
//  3. provider end-session redirect when the session's track resolves to a
//     usable client id and id token; tracks never borrow each other's ids
//  4. framework sign-out with callbackUrl as the final fallback
func (o *Orchestrator) Logout(ctx context.Context, redirectTarget string) {
	if !o.inFlight.CompareAndSwap(false, true) {
		log.Debug().Msg("logout already in progress, call suppressed")
		return
	}

	sess := o.store.Current()
	if sess.Anonymous() {
		o.navigate(redirectTarget)
		return
	}

	lc := logoutContext{
		provider:       sess.Provider,
		idToken:        sess.IDToken,
		redirectTarget: redirectTarget,
	}
	lc.config, lc.configured = o.registry.ConfigFor(sess.Provider)

	o.notifyBackend(ctx)

	// The local session is destroyed regardless of how the redirect tiers
	// play out; a stale invalid session must never stay active.
	o.store.Clear()

	if lc.configured {
		endSession, err := lc.config.EndSessionURL(lc.idToken, lc.redirectTarget)
		switch {
		case err != nil:
			log.Debug().Err(err).Str("provider", string(lc.provider)).Msg("provider logout not constructable, falling back to framework sign-out")
		case o.navigate(endSession) == nil:
			return
		}
	}

	o.navigate(o.frameworkSignOutURL(redirectTarget))
}

// notifyBackend blacklists the current token server-side. Failures are
// logged and never block the remaining tiers. The retry mark keeps a 401
// here from recursing into a refresh.
func (o *Orchestrator) notifyBackend(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(apiclient.WithRetryMark(ctx), o.backendTimeout)
	defer cancel()

	if err := o.api.PostJSON(ctx, backendLogoutPath, nil, nil); err != nil {
		log.Warn().Err(err).Msg("backend logout notification failed")
	}
}

func (o *Orchestrator) frameworkSignOutURL(redirectTarget string) string {
	return o.signOutURL + "?callbackUrl=" + url.QueryEscape(redirectTarget)
}

// navigate performs the redirect. The provider tier falls back to the
// framework sign-out on failure; at the final tier there is no further
// fallback and the error is logged and swallowed.
func (o *Orchestrator) navigate(target string) error {
	if err := o.navigator.Redirect(target); err != nil {
		log.Error().Err(err).Str("url", target).Msg("logout redirect failed")
		return err
	}
	return nil
}
