// Package providers models the two independent identity tracks that can
// issue a dashboard session: the employee provider used by back-office
// staff and the customer provider used by freight customers. Each track
// has its own issuer and client id; the two are never mixed.
package providers

import (
	"context"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Provider identifies the identity track that issued a session.
type Provider string

const (
	EmployeeProvider Provider = "employee"
	CustomerProvider Provider = "customer"
	UnknownProvider  Provider = "unknown"
)

// keycloakEndSessionPath is the end-session endpoint path used when
// discovery is unavailable.
const keycloakEndSessionPath = "/protocol/openid-connect/logout"

var (
	ErrNoClientID    = errors.New("no client id configured for provider")
	ErrNoIDTokenHint = errors.New("no id token hint for provider logout")
)

// Config holds the per-track OIDC settings.
type Config struct {
	Issuer             string
	ClientID           string
	EndSessionEndpoint string // filled by Discover, defaulted otherwise
}

// Configured reports whether the track has enough settings to attempt a
// provider-side logout.
func (c Config) Configured() bool {
	return c.Issuer != "" && c.ClientID != ""
}

// EndSessionURL builds the provider's end-session URL with the id token
// hint and post-logout redirect. It fails rather than producing a
// malformed logout request when the client id or hint is missing.
func (c Config) EndSessionURL(idTokenHint, postLogoutRedirect string) (string, error) {
	if c.ClientID == "" {
		return "", ErrNoClientID
	}
	if idTokenHint == "" {
		return "", ErrNoIDTokenHint
	}

	endpoint := c.EndSessionEndpoint
	if endpoint == "" {
		endpoint = c.Issuer + keycloakEndSessionPath
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "[EndSessionURL] invalid end-session endpoint")
	}

	q := u.Query()
	q.Set("id_token_hint", idTokenHint)
	q.Set("post_logout_redirect_uri", postLogoutRedirect)
	q.Set("client_id", c.ClientID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Registry maps the two tracks to their configuration. Lookups never fall
// back from one track to the other.
type Registry struct {
	Employee Config
	Customer Config
}

// Resolve returns the track whose issuer matches, or UnknownProvider.
func (r *Registry) Resolve(issuer string) Provider {
	switch {
	case issuer != "" && issuer == r.Employee.Issuer:
		return EmployeeProvider
	case issuer != "" && issuer == r.Customer.Issuer:
		return CustomerProvider
	default:
		return UnknownProvider
	}
}

// ConfigFor returns the configuration for a resolved track. The second
// return is false for UnknownProvider or an unconfigured track.
func (r *Registry) ConfigFor(p Provider) (Config, bool) {
	switch p {
	case EmployeeProvider:
		return r.Employee, r.Employee.Configured()
	case CustomerProvider:
		return r.Customer, r.Customer.Configured()
	default:
		return Config{}, false
	}
}

// discoveryClaims is the slice of the OIDC discovery document we need
// beyond what go-oidc exposes as fields.
type discoveryClaims struct {
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// Discover fills each configured track's end-session endpoint from its
// issuer's discovery document. Discovery failure is logged and leaves the
// static default in place; it never blocks startup.
func Discover(ctx context.Context, reg *Registry) {
	for _, track := range []*Config{&reg.Employee, &reg.Customer} {
		if !track.Configured() || track.EndSessionEndpoint != "" {
			continue
		}

		provider, err := oidc.NewProvider(ctx, track.Issuer)
		if err != nil {
			log.Warn().Err(err).Str("issuer", track.Issuer).Msg("provider discovery failed, using default end-session endpoint")
			continue
		}

		var claims discoveryClaims
		if err := provider.Claims(&claims); err != nil || claims.EndSessionEndpoint == "" {
			log.Warn().Err(err).Str("issuer", track.Issuer).Msg("discovery document missing end_session_endpoint")
			continue
		}
		track.EndSessionEndpoint = claims.EndSessionEndpoint
	}
}
