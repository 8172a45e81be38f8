// Package session holds the authenticated dashboard session and the store
// that tracks it. The store is the single source of truth for the current
// tokens: every outbound call reads it live, and the collapsing refresh it
// implements is the only way tokens are renewed.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/harborops/go-session-kit/providers"
)

var (
	// ErrSessionExpired means a refresh failed or produced a session that
	// is already past its expiry. Terminal: the caller must log out.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoRefreshToken means a refresh was requested for a session that
	// carries no refresh credential.
	ErrNoRefreshToken = errors.New("session has no refresh token")
)

// Session is the current authenticated identity. A Session with no access
// token is anonymous. ExpiresAt is always set when AccessToken is set.
type Session struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
	Provider     providers.Provider
	Roles        []string
}

// Anonymous reports whether the session carries no access token.
func (s Session) Anonymous() bool {
	return s.AccessToken == ""
}

// Expired reports whether the session's access token is past its expiry.
// Anonymous sessions are treated as expired.
func (s Session) Expired(now time.Time) bool {
	if s.Anonymous() {
		return true
	}
	return !s.ExpiresAt.After(now)
}

// Remaining returns the time left until expiry; zero or negative when the
// session is expired or anonymous.
func (s Session) Remaining(now time.Time) time.Duration {
	if s.Anonymous() {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// HasRole reports whether the session carries the given role.
func (s Session) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// accessClaims is the slice of the access token payload the dashboard
// needs: expiry and issuer from the registered claims, roles from the
// Keycloak-style realm_access claim.
type accessClaims struct {
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	jwt.RegisteredClaims
}

// FromTokens hydrates a Session from raw tokens issued by one of the
// identity providers. The tokens are parsed without signature verification:
// the provider already verified them during the handshake, this side only
// mirrors their claims. A missing or unparsable expiry is an error since a
// session without expiry cannot be monitored; a missing issuer or role set
// degrades to UnknownProvider / no roles.
func FromTokens(accessToken, idToken, refreshToken string, reg *providers.Registry) (Session, error) {
	if accessToken == "" {
		return Session{}, errors.New("[FromTokens] empty access token")
	}

	var claims accessClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, &claims); err != nil {
		return Session{}, errors.Wrap(err, "[FromTokens] parse access token")
	}
	if claims.ExpiresAt == nil {
		return Session{}, errors.New("[FromTokens] access token has no exp claim")
	}

	return Session{
		AccessToken:  accessToken,
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ExpiresAt:    claims.ExpiresAt.Time,
		Provider:     reg.Resolve(claims.Issuer),
		Roles:        claims.RealmAccess.Roles,
	}, nil
}
