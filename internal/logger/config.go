package logger

import (
	"io"
	"os"
	"strconv"
	"strings"
)

// EnvConfig is the logger setup read from the process environment.
// File output and rotation only apply outside APP_ENV=local.
type EnvConfig struct {
	Level       string
	Format      string
	Output      io.Writer // replaces stdout and file output when set
	ServiceName string
	Environment string

	LogFile     string // empty disables file output
	LogFileOnly bool
	Rotation    Rotation
}

// Rotation is handed to lumberjack as is.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// LoadFromEnv reads the LOG_* variables. service names the binary in every
// entry unless SERVICE_NAME overrides it.
func LoadFromEnv(service string) *EnvConfig {
	return &EnvConfig{
		Level:       strings.ToLower(envOr("LOG_LEVEL", "info", asString)),
		Format:      strings.ToLower(envOr("LOG_FORMAT", "json", asString)),
		ServiceName: envOr("SERVICE_NAME", service, asString),
		Environment: envOr("APP_ENV", "local", asString),

		LogFile:     envOr("LOG_FILE", "", asString),
		LogFileOnly: envOr("LOG_FILE_ONLY", false, strconv.ParseBool),
		Rotation: Rotation{
			MaxSizeMB:  envOr("LOG_MAX_SIZE", 50, strconv.Atoi),
			MaxBackups: envOr("LOG_MAX_BACKUPS", 5, strconv.Atoi),
			MaxAgeDays: envOr("LOG_MAX_AGE", 14, strconv.Atoi),
			Compress:   envOr("LOG_COMPRESS", true, strconv.ParseBool),
		},
	}
}

func asString(s string) (string, error) { return s, nil }

// envOr parses key, falling back to def when it is unset, blank or malformed.
func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}
