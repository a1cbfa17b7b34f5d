package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "aibenefits.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/aibenefits"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Environment variables that override file configuration.
const (
	EnvDatabasePath = "AIBT_DATABASE_PATH"
	EnvListenAddr   = "AIBT_LISTEN_ADDR"
	EnvCronSecret   = "AIBT_CRON_SECRET"
	EnvSMTPPassword = "AIBT_SMTP_PASSWORD"
	EnvNATSURL      = "AIBT_NATS_URL"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	file   string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/aibenefits/config.yaml)
// 3. Project config (aibenefits.yaml in current or parent directories)
// 4. The explicit path, when non-empty (must exist)
// 5. Environment variables
func (l *Loader) Load(explicitPath string) (*Config, error) {
	config := DefaultConfig()
	l.file = ""

	userConfigPath := l.userConfigPath()
	if userConfigPath != "" {
		if err := config.overlayFile(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			l.file = userConfigPath
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if err := config.overlayFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			l.file = projectConfigPath
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	if explicitPath != "" {
		if err := config.overlayFile(explicitPath); err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config", slog.String("path", explicitPath))
		l.file = explicitPath
	}

	config.Merge(envConfig())

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// File returns the highest-precedence config file used by the last Load,
// or "" when only defaults and environment applied.
func (l *Loader) File() string {
	return l.file
}

// envConfig builds a partial config from environment variables.
func envConfig() *Config {
	env := &Config{}
	env.Database.Path = os.Getenv(EnvDatabasePath)
	env.Server.ListenAddr = os.Getenv(EnvListenAddr)
	env.Sync.CronSecret = os.Getenv(EnvCronSecret)
	env.Mail.Password = os.Getenv(EnvSMTPPassword)
	env.NATS.URL = os.Getenv(EnvNATSURL)
	return env
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for aibenefits.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
