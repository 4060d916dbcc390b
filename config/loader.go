package config

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "appforge.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/appforge"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// EnvFile holds provider credentials next to the project config
	EnvFile = ".env"
)

// Environment overrides, applied after every file layer.
const (
	EnvModelEndpoint = "APPFORGE_MODEL_ENDPOINT"
	EnvModelProvider = "APPFORGE_MODEL_PROVIDER"
	EnvNATSURL       = "APPFORGE_NATS_URL"
	EnvStateBackend  = "APPFORGE_STATE_BACKEND"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger

	// workDir is where the project config search starts (default: cwd)
	workDir string
	// homeDir overrides the user home directory (default: os.UserHomeDir)
	homeDir string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithWorkDir starts the project config search in dir.
func WithWorkDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.workDir = dir
	}
}

// WithHomeDir reads user config from dir instead of the user's home.
func WithHomeDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.homeDir = dir
	}
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/appforge/config.yaml)
// 3. Project config (appforge.yaml in current or parent directories), or
//    explicitPath when non-empty
// 4. .env next to the project config (never overrides the real environment)
// 5. Environment variables
func (l *Loader) Load(explicitPath string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load user config
	if userConfigPath := l.userConfigPath(); userConfigPath != "" {
		if err := config.overlayFile(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		} else if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	// Load project config
	projectConfigPath := explicitPath
	if projectConfigPath == "" {
		projectConfigPath = l.findProjectConfig()
	}
	if projectConfigPath != "" {
		if err := config.overlayFile(projectConfigPath); err != nil {
			if explicitPath != "" {
				return nil, err
			}
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		} else {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	// Credentials
	envDir := l.dir()
	if projectConfigPath != "" {
		envDir = filepath.Dir(projectConfigPath)
	}
	l.loadEnvFile(filepath.Join(envDir, EnvFile))

	l.applyEnv(config)

	// Auto-detect project root if not set
	if config.Project.Root == "" {
		if gitRoot := l.detectGitRoot(); gitRoot != "" {
			config.Project.Root = gitRoot
			l.logger.Debug("Auto-detected git root", slog.String("path", gitRoot))
		} else {
			config.Project.Root = l.dir()
			l.logger.Debug("Using working directory as project root", slog.String("path", config.Project.Root))
		}
	}

	// Validate final config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return nil
	}

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	// Create default config
	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

func (l *Loader) loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		l.logger.Warn("Failed to load env file", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	l.logger.Debug("Loaded env file", slog.String("path", path))
}

func (l *Loader) applyEnv(config *Config) {
	if v := os.Getenv(EnvModelEndpoint); v != "" {
		config.Model.Endpoint = v
	}
	if v := os.Getenv(EnvModelProvider); v != "" {
		config.Model.Provider = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		config.NATS.URL = v
		config.NATS.Embedded = false
	}
	if v := os.Getenv(EnvStateBackend); v != "" {
		config.State.Backend = v
	}
}

// dir returns the directory project config lookups start from.
func (l *Loader) dir() string {
	if l.workDir != "" {
		return l.workDir
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home := l.homeDir
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return ""
		}
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for appforge.yaml in the working directory and
// its parents
func (l *Loader) findProjectConfig() string {
	dir := l.dir()
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}

// detectGitRoot finds the git repository root from the working directory
func (l *Loader) detectGitRoot() string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = l.dir()
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}
