package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adalundhe/scopechain/core/scope"
	"github.com/adalundhe/scopechain/core/storage"
)

type Manager struct {
	configPtr   atomic.Pointer[Config]
	dirs        *storage.Dirs
	projectRoot string
	files       []string
	watchers    []func(*Config)
	watcherMu   sync.RWMutex
}

type Config struct {
	Scope       ScopeConfig       `yaml:"scope"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Registry    RegistryConfig    `yaml:"registry"`
	Log         LogConfig         `yaml:"log"`
}

type ScopeConfig struct {
	Policy string `yaml:"policy"`
}

type ConcurrencyConfig struct {
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
	GracePeriod  time.Duration `yaml:"grace_period"`
	HardDeadline time.Duration `yaml:"hard_deadline"`
}

type RegistryConfig struct {
	RetiredCapacity int `yaml:"retired_capacity"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"auto", "text", "json"}
)

func NewManager(dirs *storage.Dirs) *Manager {
	m := &Manager{
		dirs:        dirs,
		projectRoot: ".",
	}
	m.configPtr.Store(DefaultConfig())
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Scope: ScopeConfig{
			Policy: scope.PolicyDynamic.String(),
		},
		Concurrency: ConcurrencyConfig{
			MaxLifetime:  5 * time.Minute,
			GracePeriod:  5 * time.Second,
			HardDeadline: 10 * time.Second,
		},
		Registry: RegistryConfig{
			RetiredCapacity: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// SetProjectRoot changes where the project layer is looked up.
func (m *Manager) SetProjectRoot(root string) {
	m.projectRoot = root
}

// AddFile appends an explicit layer, applied after the project, user and
// local layers. Unlike those, a missing explicit file is an error.
func (m *Manager) AddFile(path string) {
	m.files = append(m.files, path)
}

func (m *Manager) Get() *Config {
	return m.configPtr.Load()
}

func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := m.loadProjectConfig(cfg); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if err := m.loadUserConfig(cfg); err != nil {
		return fmt.Errorf("user config: %w", err)
	}

	if err := m.loadLocalConfig(cfg); err != nil {
		return fmt.Errorf("local config: %w", err)
	}

	for _, path := range m.files {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
		if err := m.loadYAMLFile(path, cfg); err != nil {
			return fmt.Errorf("config file %s: %w", path, err)
		}
	}

	m.applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.configPtr.Store(cfg)
	m.notifyWatchers(cfg)

	return nil
}

func (m *Manager) loadProjectConfig(cfg *Config) error {
	projectDirs := storage.ResolveProjectDirs(m.projectRoot)
	return m.loadYAMLFile(projectDirs.Config, cfg)
}

func (m *Manager) loadUserConfig(cfg *Config) error {
	if m.dirs == nil {
		return nil
	}
	return m.loadYAMLFile(m.dirs.ConfigDir("config.yaml"), cfg)
}

func (m *Manager) loadLocalConfig(cfg *Config) error {
	projectDirs := storage.ResolveProjectDirs(m.projectRoot)
	return m.loadYAMLFile(filepath.Join(projectDirs.Local, "config.yaml"), cfg)
}

func (m *Manager) loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func (m *Manager) applyEnvironment(cfg *Config) {
	if v := os.Getenv("SCOPECHAIN_POLICY"); v != "" {
		cfg.Scope.Policy = v
	}
	if v := os.Getenv("SCOPECHAIN_MAX_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Concurrency.MaxLifetime = d
		}
	}
	if v := os.Getenv("SCOPECHAIN_RETIRED_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Registry.RetiredCapacity = n
		}
	}
	if v := os.Getenv("SCOPECHAIN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SCOPECHAIN_LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
}

// Validate rejects unknown names and negative limits.
func (c *Config) Validate() error {
	if _, err := scope.ParsePolicy(c.Scope.Policy); err != nil {
		return err
	}
	if !contains(logLevels, c.Log.Level) {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if !contains(logFormats, c.Log.Format) {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Concurrency.MaxLifetime < 0 || c.Concurrency.GracePeriod < 0 || c.Concurrency.HardDeadline < 0 {
		return fmt.Errorf("concurrency durations must not be negative")
	}
	if c.Concurrency.HardDeadline < c.Concurrency.GracePeriod {
		return fmt.Errorf("concurrency.hard_deadline %v is shorter than grace_period %v",
			c.Concurrency.HardDeadline, c.Concurrency.GracePeriod)
	}
	if c.Registry.RetiredCapacity < 0 {
		return fmt.Errorf("registry.retired_capacity must not be negative")
	}
	return nil
}

// Policy returns the configured scope policy. Call after Validate.
func (c *Config) Policy() scope.Policy {
	p, _ := scope.ParsePolicy(c.Scope.Policy)
	return p
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
