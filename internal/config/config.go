package config

type Config interface {
	EnvConfig
	GoogleConfig
	SessionConfig
}

type mainConfig struct {
	EnvVars
	Google
	Sessions
}

func New() Config {
	return mainConfig{}
}
