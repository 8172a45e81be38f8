package session

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/harborops/go-session-kit/providers"
)

// keycloakTokenPath is the token endpoint path used when a track has no
// discovered endpoint.
const keycloakTokenPath = "/protocol/openid-connect/token"

// OIDCRefresher renews sessions with the refresh-token grant against the
// issuing provider's token endpoint. The grant is always run against the
// session's own track; a customer session is never refreshed through the
// employee client id or vice versa.
type OIDCRefresher struct {
	registry   *providers.Registry
	httpClient *http.Client
}

// NewOIDCRefresher creates a refresher over the configured provider
// tracks. httpClient may be nil, in which case http.DefaultClient is used
// (the store bounds each refresh with its own timeout).
func NewOIDCRefresher(registry *providers.Registry, httpClient *http.Client) *OIDCRefresher {
	return &OIDCRefresher{
		registry:   registry,
		httpClient: httpClient,
	}
}

// Refresh implements Refresher.
func (r *OIDCRefresher) Refresh(ctx context.Context, current Session) (Session, error) {
	if current.RefreshToken == "" {
		return Session{}, ErrNoRefreshToken
	}

	cfg, ok := r.registry.ConfigFor(current.Provider)
	if !ok {
		return Session{}, errors.Errorf("[OIDCRefresher.Refresh] no configuration for provider %q", current.Provider)
	}

	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	// Public client: the client id travels in the form body, no secret.
	conf := &oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.Issuer + keycloakTokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		return Session{}, errors.Wrap(err, "[OIDCRefresher.Refresh] token exchange")
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		idToken = current.IDToken
	}
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = current.RefreshToken
	}

	sess, err := FromTokens(token.AccessToken, idToken, refreshToken, r.registry)
	if err != nil {
		return Session{}, errors.Wrap(err, "[OIDCRefresher.Refresh] hydrate session")
	}

	// Providers may reissue roles; if the new token carried none, keep the
	// session's existing role set.
	if len(sess.Roles) == 0 {
		sess.Roles = current.Roles
	}
	if sess.Provider == providers.UnknownProvider {
		sess.Provider = current.Provider
	}

	return sess, nil
}
