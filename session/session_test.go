package session_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/harborops/go-session-kit/providers"
	"github.com/harborops/go-session-kit/session"
)

const (
	employeeIssuer   = "https://id.harborops.example/realms/staff"
	customerIssuer   = "https://accounts.harborops.example/realms/customers"
	employeeClientID = "ops-dashboard"
	customerClientID = "customer-portal"
)

var signingKey = []byte("test-signing-key")

func testRegistry() *providers.Registry {
	return &providers.Registry{
		Employee: providers.Config{Issuer: employeeIssuer, ClientID: employeeClientID},
		Customer: providers.Config{Issuer: customerIssuer, ClientID: customerClientID},
	}
}

// signedToken builds an HS256 token; FromTokens only mirrors claims and
// never verifies the signature.
func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return raw
}

func TestFromTokens(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)
	access := signedToken(t, jwt.MapClaims{
		"iss": employeeIssuer,
		"exp": expiresAt.Unix(),
		"realm_access": map[string]any{
			"roles": []string{"ops-admin", "bookings-write"},
		},
	})

	sess, err := session.FromTokens(access, "id-token", "refresh-token", testRegistry())
	require.NoError(t, err)

	require.Equal(t, access, sess.AccessToken)
	require.Equal(t, "id-token", sess.IDToken)
	require.Equal(t, "refresh-token", sess.RefreshToken)
	require.True(t, expiresAt.Equal(sess.ExpiresAt))
	require.Equal(t, providers.EmployeeProvider, sess.Provider)
	require.True(t, sess.HasRole("ops-admin"))
	require.False(t, sess.HasRole("fleet-admin"))
	require.False(t, sess.Anonymous())
}

func TestFromTokensCustomerIssuer(t *testing.T) {
	access := signedToken(t, jwt.MapClaims{
		"iss": customerIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	sess, err := session.FromTokens(access, "", "", testRegistry())
	require.NoError(t, err)
	require.Equal(t, providers.CustomerProvider, sess.Provider)
	require.Empty(t, sess.Roles)
}

func TestFromTokensUnknownIssuerDegrades(t *testing.T) {
	access := signedToken(t, jwt.MapClaims{
		"iss": "https://elsewhere.example",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	sess, err := session.FromTokens(access, "", "", testRegistry())
	require.NoError(t, err)
	require.Equal(t, providers.UnknownProvider, sess.Provider)
}

func TestFromTokensRequiresExpiry(t *testing.T) {
	access := signedToken(t, jwt.MapClaims{"iss": employeeIssuer})

	_, err := session.FromTokens(access, "", "", testRegistry())
	require.Error(t, err)
}

func TestFromTokensRejectsGarbage(t *testing.T) {
	_, err := session.FromTokens("not-a-jwt", "", "", testRegistry())
	require.Error(t, err)

	_, err = session.FromTokens("", "", "", testRegistry())
	require.Error(t, err)
}

func TestSessionExpiry(t *testing.T) {
	now := time.Now()

	sess := session.Session{AccessToken: "tok", ExpiresAt: now.Add(time.Minute)}
	require.False(t, sess.Expired(now))
	require.Equal(t, time.Minute, sess.Remaining(now))

	require.True(t, sess.Expired(now.Add(2*time.Minute)))

	var anonymous session.Session
	require.True(t, anonymous.Anonymous())
	require.True(t, anonymous.Expired(now))
	require.Equal(t, time.Duration(0), anonymous.Remaining(now))
}
