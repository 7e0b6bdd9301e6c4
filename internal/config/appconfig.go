/*
Package config handles loading application configuration from environment
variables and owns the on-disk, modular JSON Config Store that every
supervisor reads and mutates.

All AppConfig values have sensible defaults so the daemon can start with
zero environment setup during local development.
*/
package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

// AppConfig holds process-level settings read once at startup. Values are
// passed through the app via dependency injection; there is no global
// config variable, so every dependency a type needs is visible in its
// constructor signature.
type AppConfig struct {
	// HomeDir is the daemon's state directory, `<home>/.odac`. The run
	// socket, config modules, website document roots, and logs all live
	// under here unless overridden individually below.
	HomeDir string

	// ControlTCPPort is the loopback-only control listener port.
	ControlTCPPort string

	// ControlSocketPath is the Unix-domain control socket path.
	ControlSocketPath string

	// HTTPPort / HTTPSPort are the reverse proxy's two listener ports.
	HTTPPort  string
	HTTPSPort string

	// ConfigDir holds the Config Store's per-module JSON files.
	ConfigDir string

	// ServeRoot is the base directory under which each website's document
	// root is created.
	ServeRoot string

	// LogRoot is the base directory for per-website and per-service log
	// files.
	LogRoot string

	// ContainerNetwork is the bridge network every managed container is
	// attached to.
	ContainerNetwork string

	// UpdateChannel selects the self-updater's source: "stable" pulls a
	// tagged image; "beta" or "dev" forces a build-from-source update.
	UpdateChannel string

	// InstanceID identifies this running daemon process. It is read from
	// ODAC_INSTANCE_ID, which the updater sets on a sibling it spawns, and
	// is empty when that variable is unset.
	InstanceID string

	// LogFormat controls slog's output encoding: "text" (the default) for
	// local development, anything else (e.g. "json") for production and
	// container log shipping.
	LogFormat string
}

// NewLogger builds a *slog.Logger from the LogFormat field. "text" produces
// human-readable output; anything else produces structured JSON.
func (c *AppConfig) NewLogger() *slog.Logger {
	var handler slog.Handler

	options := &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
		ReplaceAttr: func(groups []string, attribute slog.Attr) slog.Attr {
			if attribute.Key == slog.SourceKey {
				source := attribute.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attribute
		},
	}

	if c.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, options)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, options)
	}

	return slog.New(handler)
}

// LoadAppConfig reads configuration from environment variables, falling
// back to local-development defaults for anything unset.
func LoadAppConfig() *AppConfig {
	home := getEnv("ODAC_HOME", defaultHomeDir())

	return &AppConfig{
		HomeDir:           home,
		ControlTCPPort:    getEnv("ODAC_CONTROL_PORT", "1453"),
		ControlSocketPath: getEnv("ODAC_CONTROL_SOCKET", filepath.Join(home, "run", "api.sock")),
		HTTPPort:          getEnv("ODAC_HTTP_PORT", "80"),
		HTTPSPort:         getEnv("ODAC_HTTPS_PORT", "443"),
		ConfigDir:         getEnv("ODAC_CONFIG_DIR", filepath.Join(home, "config")),
		ServeRoot:         getEnv("ODAC_SERVE_ROOT", filepath.Join(home, "sites")),
		LogRoot:           getEnv("ODAC_LOG_ROOT", filepath.Join(home, "logs")),
		ContainerNetwork:  getEnv("ODAC_NETWORK", "odac-network"),
		UpdateChannel:     getEnv("ODAC_CHANNEL", "stable"),
		InstanceID:        getEnv("ODAC_INSTANCE_ID", ""),
		LogFormat:         getEnv("ODAC_LOG_FORMAT", "text"),
	}
}

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.odac"
	}
	return filepath.Join(home, ".odac")
}

// getEnv retrieves an environment variable by key, falling back to the
// given default when unset or empty. Centralizing this avoids scattered
// os.Getenv calls with inline fallback logic throughout the codebase.
func getEnv(key, fallbackValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallbackValue
}
