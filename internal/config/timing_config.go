package config

import (
	"time"
)

type TimingConfig interface {
	GetWarningThreshold() time.Duration
	GetPollInterval() time.Duration
	GetHTTPTimeout() time.Duration
	GetBackendLogoutTimeout() time.Duration
}

type Timing struct{}

var _ TimingConfig = Timing{}

// GetWarningThreshold is the window before token expiry in which the
// warning banner is shown.
func (Timing) GetWarningThreshold() time.Duration {
	return durationEnv("WARNING_THRESHOLD", 5*time.Minute)
}

// GetPollInterval is the expiration check cadence outside the warning
// window.
func (Timing) GetPollInterval() time.Duration {
	return durationEnv("POLL_INTERVAL", 30*time.Second)
}

func (Timing) GetHTTPTimeout() time.Duration {
	return durationEnv("HTTP_TIMEOUT", 30*time.Second)
}

func (Timing) GetBackendLogoutTimeout() time.Duration {
	return durationEnv("BACKEND_LOGOUT_TIMEOUT", 10*time.Second)
}

func durationEnv(envVar string, defaultValue time.Duration) time.Duration {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}
