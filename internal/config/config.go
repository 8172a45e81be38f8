package config

type Config interface {
	EnvConfig
	AuthConfig
	TimingConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetBackendBaseURL() string
	GetSignOutURL() string
	GetDefaultLogoutRedirect() string
}

type mainConfig struct {
	EnvVars
	Auth
	Timing
}

func New() Config {
	return mainConfig{}
}
