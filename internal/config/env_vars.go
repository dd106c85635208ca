package config

import "os"

const (
	appNameVar    = "APP_NAME"
	apiBaseURLVar = "API_BASE_URL"
	aiBaseURLVar  = "AI_BASE_URL"
	dataFolderVar = "FOLDER"
)

type EnvConfig interface {
	GetAppName() string
	GetAPIBaseURL() string
	GetAIBaseURL() string
	GetDataFolder() string
	GetEnv() string
}

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "QuantaChat")
}

// GetAPIBaseURL returns the base URL of the primary backend.
func (EnvVars) GetAPIBaseURL() string {
	return GetEnv(apiBaseURLVar, "http://localhost:5000")
}

// GetAIBaseURL returns the base URL of the external AI service.
func (EnvVars) GetAIBaseURL() string {
	return GetEnv(aiBaseURLVar, "http://localhost:8000")
}

func (EnvVars) GetDataFolder() string {
	return GetEnv(dataFolderVar, "./data")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
