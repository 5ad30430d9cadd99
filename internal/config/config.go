// Package config loads indexhelper configuration from defaults, YAML files
// and INDEXHELPER_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfigName is the per-project configuration file name.
const ProjectConfigName = ".indexhelper.yaml"

// Config represents the complete indexhelper configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	WorkDir   string          `yaml:"work_dir" json:"work_dir"`
	LogLevel  string          `yaml:"log_level" json:"log_level"`
	TextCache TextCacheConfig `yaml:"text_cache" json:"text_cache"`
	Executor  ExecutorConfig  `yaml:"executor" json:"executor"`
	BlobStore BlobStoreConfig `yaml:"blob_store" json:"blob_store"`
	Directory DirectoryConfig `yaml:"directory" json:"directory"`
	Copier    CopierConfig    `yaml:"copier" json:"copier"`
	Mounts    []MountConfig   `yaml:"mounts" json:"mounts"`
}

// TextCacheConfig bounds the extracted text cache.
type TextCacheConfig struct {
	// MaxBytes is the total byte budget (default: 5 MiB). Zero disables caching.
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes"`
	// TTL is how long an entry lives (default: 5h).
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// ExecutorConfig sizes the shared worker pool.
type ExecutorConfig struct {
	Workers int `yaml:"workers" json:"workers"`
}

// BlobStoreConfig selects the blob store backend.
type BlobStoreConfig struct {
	// Backend is "sqlite" (garbage-collectable) or "memory".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the SQLite database path. Empty means <work_dir>/blobs.db.
	Path string `yaml:"path" json:"path"`
}

// DirectoryConfig optionally overrides how index directories are created.
type DirectoryConfig struct {
	// Factory is "" (copier-backed default), "fs" or "memory".
	Factory string `yaml:"factory" json:"factory"`
	// Root is the root directory for the "fs" factory.
	Root string `yaml:"root" json:"root"`
}

// CopierConfig configures the index directory copier.
type CopierConfig struct {
	// Prefetch copies all files of an index concurrently.
	Prefetch bool `yaml:"prefetch" json:"prefetch"`
}

// MountConfig describes one non-default mount.
type MountConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Paths    []string `yaml:"paths" json:"paths"`
	ReadOnly bool     `yaml:"read_only" json:"read_only"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version:  1,
		WorkDir:  defaultWorkDir(),
		LogLevel: "warn",
		TextCache: TextCacheConfig{
			MaxBytes: 5 * 1024 * 1024,
			TTL:      5 * time.Hour,
		},
		Executor: ExecutorConfig{
			Workers: runtime.NumCPU(),
		},
		BlobStore: BlobStoreConfig{
			Backend: "sqlite",
		},
		Copier: CopierConfig{
			Prefetch: true,
		},
	}
}

// defaultWorkDir returns ~/.indexhelper/work, or a temp dir fallback.
func defaultWorkDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".indexhelper", "work")
	}
	return filepath.Join(home, ".indexhelper", "work")
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/indexhelper/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/indexhelper/config.yaml
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "indexhelper", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "indexhelper", "config.yaml")
	}
	return filepath.Join(home, ".config", "indexhelper", "config.yaml")
}

// Load loads configuration for dir, in order of increasing precedence:
//  1. Defaults
//  2. User config
//  3. Project config (.indexhelper.yaml in dir)
//  4. Environment variables (INDEXHELPER_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userPath := GetUserConfigPath()
	if fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	projectPath := filepath.Join(dir, ProjectConfigName)
	if fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML merges the non-zero values of a YAML file into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Prefetch is a bool that defaults to true, so look for the key explicitly.
	var raw struct {
		Copier map[string]any `yaml:"copier"`
	}
	_ = yaml.Unmarshal(data, &raw)
	_, prefetchSet := raw.Copier["prefetch"]

	c.mergeWith(&parsed, prefetchSet)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config, prefetchSet bool) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.WorkDir != "" {
		c.WorkDir = other.WorkDir
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.TextCache.MaxBytes != 0 {
		c.TextCache.MaxBytes = other.TextCache.MaxBytes
	}
	if other.TextCache.TTL != 0 {
		c.TextCache.TTL = other.TextCache.TTL
	}
	if other.Executor.Workers != 0 {
		c.Executor.Workers = other.Executor.Workers
	}
	if other.BlobStore.Backend != "" {
		c.BlobStore.Backend = other.BlobStore.Backend
	}
	if other.BlobStore.Path != "" {
		c.BlobStore.Path = other.BlobStore.Path
	}
	if other.Directory.Factory != "" {
		c.Directory.Factory = other.Directory.Factory
	}
	if other.Directory.Root != "" {
		c.Directory.Root = other.Directory.Root
	}
	if prefetchSet {
		c.Copier.Prefetch = other.Copier.Prefetch
	}
	if len(other.Mounts) > 0 {
		c.Mounts = other.Mounts
	}
}

// applyEnvOverrides applies INDEXHELPER_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("INDEXHELPER_WORK_DIR"); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv("INDEXHELPER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("INDEXHELPER_BLOB_BACKEND"); v != "" {
		c.BlobStore.Backend = v
	}
	if v := os.Getenv("INDEXHELPER_DIRECTORY_FACTORY"); v != "" {
		c.Directory.Factory = v
	}
	if v := os.Getenv("INDEXHELPER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INDEXHELPER_WORKERS: %w", err)
		}
		c.Executor.Workers = n
	}
	if v := os.Getenv("INDEXHELPER_TEXT_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("INDEXHELPER_TEXT_CACHE_TTL: %w", err)
		}
		c.TextCache.TTL = d
	}
	if v := os.Getenv("INDEXHELPER_COPIER_PREFETCH"); v != "" {
		c.Copier.Prefetch = strings.ToLower(v) == "true" || v == "1"
	}
	return nil
}

// BlobStorePath returns the effective SQLite blob store path.
func (c *Config) BlobStorePath() string {
	if c.BlobStore.Path != "" {
		return c.BlobStore.Path
	}
	return filepath.Join(c.WorkDir, "blobs.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WorkDir) == "" {
		return fmt.Errorf("work_dir must not be empty")
	}
	if c.TextCache.MaxBytes < 0 {
		return fmt.Errorf("text_cache.max_bytes must be non-negative, got %d", c.TextCache.MaxBytes)
	}
	if c.TextCache.TTL < 0 {
		return fmt.Errorf("text_cache.ttl must be non-negative, got %s", c.TextCache.TTL)
	}
	if c.Executor.Workers < 1 {
		return fmt.Errorf("executor.workers must be at least 1, got %d", c.Executor.Workers)
	}

	switch strings.ToLower(c.BlobStore.Backend) {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("blob_store.backend must be 'sqlite' or 'memory', got %s", c.BlobStore.Backend)
	}

	switch strings.ToLower(c.Directory.Factory) {
	case "", "memory":
	case "fs":
		if c.Directory.Root == "" {
			return fmt.Errorf("directory.root is required when directory.factory is 'fs'")
		}
	default:
		return fmt.Errorf("directory.factory must be empty, 'fs' or 'memory', got %s", c.Directory.Factory)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	seen := make(map[string]bool, len(c.Mounts))
	for i, m := range c.Mounts {
		if m.Name == "" {
			return fmt.Errorf("mounts[%d].name must not be empty", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate mount name %q", m.Name)
		}
		seen[m.Name] = true
		if len(m.Paths) == 0 {
			return fmt.Errorf("mount %q must declare at least one path", m.Name)
		}
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
