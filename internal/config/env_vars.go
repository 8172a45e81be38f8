package config

import "os"

const (
	appNameVar        = "APP_NAME"
	backendBaseURLVar = "BACKEND_BASE_URL"
	signOutURLVar     = "SIGN_OUT_URL"
	logoutRedirectVar = "LOGOUT_REDIRECT"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Harbor Ops Dashboard")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetBackendBaseURL returns the base URL of the dashboard backend API.
func (EnvVars) GetBackendBaseURL() string {
	return GetEnv(backendBaseURLVar, "http://localhost:8080")
}

// GetSignOutURL returns the session framework's local sign-out endpoint,
// used as the final logout fallback tier.
func (EnvVars) GetSignOutURL() string {
	return GetEnv(signOutURLVar, "/api/auth/signout")
}

// GetDefaultLogoutRedirect is where automatic (expiry-triggered) logouts
// send the user.
func (EnvVars) GetDefaultLogoutRedirect() string {
	return GetEnv(logoutRedirectVar, "/login")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
