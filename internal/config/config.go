// Package config handles engine configuration and the .lattice directory
// structure a project keeps its plugins, recipes and paused sessions in.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/plugin"
	"github.com/kingrea/lattice-recipes/internal/retry"
)

const (
	// LatticeDir is the name of the directory created in each project.
	LatticeDir = ".lattice"

	envDiagnosticsMode = "LATTICE_DIAGNOSTICS_MODE"
	envLogLevel        = "LATTICE_LOG_LEVEL"
	envLogFormat       = "LATTICE_LOG_FORMAT"
	envPluginsDir      = "LATTICE_PLUGINS_DIR"
	envSessionsDir     = "LATTICE_SESSIONS_DIR"
)

const defaultProjectConfigYAML = `# lattice recipe engine configuration
version: 1

# default or strict. Strict escalates warnings to errors and halts runs.
diagnostics_mode: default

log:
  level: info
  format: text

# Directories are relative to the project root.
plugins_dir: .lattice/plugins
recipes_dir: .lattice/recipes
sessions_dir: .lattice/sessions

# Retry policy per adapter construct.
retry:
  model:
    max_attempts: 3
    backoff: 500ms
    mode: throw
    retry_on: [rate_limit, timeout, unavailable]
`

// LogConfig selects logger level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RetryConfig is the YAML form of a retry policy patch.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts,omitempty"`
	Backoff     string   `yaml:"backoff,omitempty"`
	Mode        string   `yaml:"mode,omitempty"`
	RetryOn     []string `yaml:"retry_on,omitempty"`
}

// ProjectConfig models .lattice/config.yaml.
type ProjectConfig struct {
	Version         int                    `yaml:"version"`
	DiagnosticsMode string                 `yaml:"diagnostics_mode"`
	Log             LogConfig              `yaml:"log"`
	PluginsDir      string                 `yaml:"plugins_dir"`
	RecipesDir      string                 `yaml:"recipes_dir"`
	SessionsDir     string                 `yaml:"sessions_dir"`
	Retry           map[string]RetryConfig `yaml:"retry,omitempty"`
	PluginConfig    map[string]any         `yaml:"plugin_config,omitempty"`
}

// Config holds the resolved configuration for one project.
type Config struct {
	// ProjectDir is the directory the tool was run from.
	ProjectDir string
	// LatticeProjectDir is ProjectDir/.lattice.
	LatticeProjectDir string

	Project ProjectConfig
}

// InitLatticeDir creates the .lattice directory structure in projectDir.
//
// Structure created:
// .lattice/
// ├── config.yaml
// ├── logs/
// ├── plugins/   <- plugin definitions (yaml or go)
// ├── recipes/   <- recipe contracts
// └── sessions/  <- paused run snapshots
func InitLatticeDir(projectDir string) error {
	latticeDir := filepath.Join(projectDir, LatticeDir)
	dirs := []string{
		filepath.Join(latticeDir, "logs"),
		filepath.Join(latticeDir, "plugins"),
		filepath.Join(latticeDir, "recipes"),
		filepath.Join(latticeDir, "sessions"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(latticeDir, "config.yaml"))
}

// NewConfig loads .lattice/config.yaml (defaults when missing) and applies
// LATTICE_* environment overrides.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:        projectDir,
		LatticeProjectDir: filepath.Join(projectDir, LatticeDir),
		Project:           defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.Project.normalize(projectDir)
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.LatticeProjectDir, "config.yaml")
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.LatticeProjectDir, "logs")
}

// PluginsDir returns the directory plugin definitions are loaded from.
func (c *Config) PluginsDir() string {
	return c.Project.PluginsDir
}

// RecipesDir returns the directory recipe contracts are loaded from.
func (c *Config) RecipesDir() string {
	return c.Project.RecipesDir
}

// SessionsDir returns the directory the file session store writes to.
func (c *Config) SessionsDir() string {
	return c.Project.SessionsDir
}

// DiagnosticsMode returns the configured diagnostics mode.
func (c *Config) DiagnosticsMode() diag.Mode {
	return diag.ParseMode(c.Project.DiagnosticsMode)
}

// PluginConfig returns a copy of the plugin_config section for plugin
// factories.
func (c *Config) PluginConfig() plugin.Config {
	out := make(plugin.Config, len(c.Project.PluginConfig))
	for k, v := range c.Project.PluginConfig {
		out[k] = v
	}
	return out
}

// RetryPatches converts the retry section into per-construct policy patches.
func (c *Config) RetryPatches() (retry.Patches, error) {
	if len(c.Project.Retry) == 0 {
		return nil, nil
	}
	kinds := make([]string, 0, len(c.Project.Retry))
	for kind := range c.Project.Retry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	patches := make(retry.Patches, len(kinds))
	for _, name := range kinds {
		kind, err := adapter.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("config: retry: %w", err)
		}
		patch, err := c.Project.Retry[name].patch()
		if err != nil {
			return nil, fmt.Errorf("config: retry.%s: %w", name, err)
		}
		patches[kind] = patch
	}
	return patches, nil
}

func (rc RetryConfig) patch() (retry.Patch, error) {
	var patch retry.Patch
	if rc.MaxAttempts != 0 {
		if rc.MaxAttempts < 1 {
			return retry.Patch{}, fmt.Errorf("max_attempts must be >= 1")
		}
		patch.MaxAttempts = retry.Attempts(rc.MaxAttempts)
	}
	if rc.Backoff != "" {
		d, err := time.ParseDuration(rc.Backoff)
		if err != nil {
			return retry.Patch{}, fmt.Errorf("backoff: %w", err)
		}
		patch.Backoff = retry.Delay(d)
	}
	if rc.Mode != "" {
		mode, err := retry.ParseMode(rc.Mode)
		if err != nil {
			return retry.Patch{}, err
		}
		patch.Mode = retry.As(mode)
	}
	if rc.RetryOn != nil {
		patch.RetryOn = make([]retry.Reason, 0, len(rc.RetryOn))
		for _, value := range rc.RetryOn {
			reason, err := retry.ParseReason(strings.TrimSpace(value))
			if err != nil {
				return retry.Patch{}, err
			}
			patch.RetryOn = append(patch.RetryOn, reason)
		}
	}
	return patch, nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.applyDefaults()
	c.Project = parsed
	return nil
}

func (c *Config) applyEnv() {
	p := &c.Project
	p.DiagnosticsMode = envString(envDiagnosticsMode, p.DiagnosticsMode)
	p.Log.Level = envString(envLogLevel, p.Log.Level)
	p.Log.Format = envString(envLogFormat, p.Log.Format)
	p.PluginsDir = envString(envPluginsDir, p.PluginsDir)
	p.SessionsDir = envString(envSessionsDir, p.SessionsDir)
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:         1,
		DiagnosticsMode: string(diag.ModeDefault),
		Log:             LogConfig{Level: "info", Format: "text"},
		PluginsDir:      filepath.Join(LatticeDir, "plugins"),
		RecipesDir:      filepath.Join(LatticeDir, "recipes"),
		SessionsDir:     filepath.Join(LatticeDir, "sessions"),
	}
}

func (pc *ProjectConfig) applyDefaults() {
	defaults := defaultProjectConfig()
	if pc.Version == 0 {
		pc.Version = defaults.Version
	}
	if strings.TrimSpace(pc.DiagnosticsMode) == "" {
		pc.DiagnosticsMode = defaults.DiagnosticsMode
	}
	if pc.Log.Level == "" {
		pc.Log.Level = defaults.Log.Level
	}
	if pc.Log.Format == "" {
		pc.Log.Format = defaults.Log.Format
	}
	if pc.PluginsDir == "" {
		pc.PluginsDir = defaults.PluginsDir
	}
	if pc.RecipesDir == "" {
		pc.RecipesDir = defaults.RecipesDir
	}
	if pc.SessionsDir == "" {
		pc.SessionsDir = defaults.SessionsDir
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.DiagnosticsMode = strings.ToLower(strings.TrimSpace(pc.DiagnosticsMode))
	pc.Log.Level = strings.ToLower(strings.TrimSpace(pc.Log.Level))
	pc.Log.Format = strings.ToLower(strings.TrimSpace(pc.Log.Format))
	pc.PluginsDir = resolvePath(base, pc.PluginsDir)
	pc.RecipesDir = resolvePath(base, pc.RecipesDir)
	pc.SessionsDir = resolvePath(base, pc.SessionsDir)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	switch diag.Mode(pc.DiagnosticsMode) {
	case diag.ModeDefault, diag.ModeStrict:
	default:
		return fmt.Errorf("diagnostics_mode must be 'default' or 'strict'")
	}
	switch pc.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	for name, rc := range pc.Retry {
		if _, err := adapter.ParseKind(name); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
		if _, err := rc.patch(); err != nil {
			return fmt.Errorf("retry.%s: %w", name, err)
		}
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
