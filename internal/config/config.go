// Package config provides configuration management for bibsearch.
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

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

// Project config file names, checked in order.
const (
	ProjectConfigYAML = ".bibsearch.yaml"
	ProjectConfigYML  = ".bibsearch.yml"
)

// Config represents the complete bibsearch configuration.
type Config struct {
	Version int           `yaml:"version"`
	Index   IndexConfig   `yaml:"index"`
	Search  SearchConfig  `yaml:"search"`
	Library LibraryConfig `yaml:"library"`
	Server  ServerConfig  `yaml:"server"`
}

// IndexConfig configures where and how the page index is built.
type IndexConfig struct {
	// Dir holds the index files. Empty means ~/.bibsearch/index.
	Dir string `yaml:"dir"`
	// Backend is "sqlite" or "bleve". Empty detects an existing index and
	// otherwise uses sqlite.
	Backend string `yaml:"backend"`
	// Workers bounds concurrent extraction.
	Workers int `yaml:"workers"`
	// MaxPages caps pages extracted per file.
	MaxPages int `yaml:"max_pages"`
	// ExtractTimeout bounds extraction of a single file, e.g. "60s".
	ExtractTimeout string `yaml:"extract_timeout"`
}

// SearchConfig configures query execution. Zero values in a file keep the
// default, so disabling the cache or snippets goes through the environment
// (BIBSEARCH_CACHE_SIZE=0, BIBSEARCH_SNIPPET_LENGTH=0).
type SearchConfig struct {
	DefaultLimit  int  `yaml:"default_limit"`
	CacheSize     int  `yaml:"cache_size"`
	SnippetLength int  `yaml:"snippet_length"`
	Stemming      bool `yaml:"stemming"`
}

// LibraryConfig points at the bibliography manifest.
type LibraryConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			Workers:        defaultWorkers(),
			MaxPages:       2000,
			ExtractTimeout: "60s",
		},
		Search: SearchConfig{
			DefaultLimit:  10,
			CacheSize:     256,
			SnippetLength: 160,
		},
		Library: LibraryConfig{
			Path: "bibsearch.yaml",
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

func defaultWorkers() int {
	return min(runtime.NumCPU(), 4)
}

// GetUserConfigPath returns the path to the user's global config file.
// It respects XDG_CONFIG_HOME and falls back to ~/.config/bibsearch/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "bibsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "bibsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "bibsearch", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user config.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether a user config file is present.
func UserConfigExists() bool {
	_, err := os.Stat(GetUserConfigPath())
	return err == nil
}

// DefaultIndexDir returns ~/.bibsearch/index.
func DefaultIndexDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".bibsearch", "index")
	}
	return filepath.Join(home, ".bibsearch", "index")
}

// Load builds the effective configuration for dir.
//
// Precedence, lowest to highest: defaults, user config, project config
// (.bibsearch.yaml in dir), BIBSEARCH_* environment variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadUserConfig(); err != nil {
		return nil, err
	}

	for _, name := range []string{ProjectConfigYAML, ProjectConfigYML} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
		break
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUserConfig loads defaults merged with the user config only.
func LoadUserConfig() (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadUserConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadUserConfig() error {
	path := GetUserConfigPath()
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return c.loadYAML(path)
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return bserrors.ConfigError(fmt.Sprintf("failed to read %s", path), err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return bserrors.ConfigError(fmt.Sprintf("failed to parse %s", path), err).
			WithSuggestion("Check the YAML syntax of the config file")
	}

	c.mergeWith(&fileCfg)
	return nil
}

// mergeWith copies the non-zero values of other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Index.Dir != "" {
		c.Index.Dir = other.Index.Dir
	}
	if other.Index.Backend != "" {
		c.Index.Backend = other.Index.Backend
	}
	if other.Index.Workers != 0 {
		c.Index.Workers = other.Index.Workers
	}
	if other.Index.MaxPages != 0 {
		c.Index.MaxPages = other.Index.MaxPages
	}
	if other.Index.ExtractTimeout != "" {
		c.Index.ExtractTimeout = other.Index.ExtractTimeout
	}

	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.CacheSize != 0 {
		c.Search.CacheSize = other.Search.CacheSize
	}
	if other.Search.SnippetLength != 0 {
		c.Search.SnippetLength = other.Search.SnippetLength
	}
	// A file can switch stemming on; BIBSEARCH_STEMMING=false switches it off.
	if other.Search.Stemming {
		c.Search.Stemming = true
	}

	if other.Library.Path != "" {
		c.Library.Path = other.Library.Path
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.MetricsAddr != "" {
		c.Server.MetricsAddr = other.Server.MetricsAddr
	}
}

func (c *Config) applyEnvOverrides() error {
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) error {
		v := os.Getenv(name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return bserrors.ConfigError(fmt.Sprintf("%s must be an integer, got %q", name, v), err)
		}
		*dst = n
		return nil
	}

	setString("BIBSEARCH_INDEX_DIR", &c.Index.Dir)
	setString("BIBSEARCH_BACKEND", &c.Index.Backend)
	setString("BIBSEARCH_EXTRACT_TIMEOUT", &c.Index.ExtractTimeout)
	setString("BIBSEARCH_LIBRARY", &c.Library.Path)
	setString("BIBSEARCH_LOG_LEVEL", &c.Server.LogLevel)
	setString("BIBSEARCH_METRICS_ADDR", &c.Server.MetricsAddr)

	ints := []struct {
		name string
		dst  *int
	}{
		{"BIBSEARCH_WORKERS", &c.Index.Workers},
		{"BIBSEARCH_MAX_PAGES", &c.Index.MaxPages},
		{"BIBSEARCH_DEFAULT_LIMIT", &c.Search.DefaultLimit},
		{"BIBSEARCH_CACHE_SIZE", &c.Search.CacheSize},
		{"BIBSEARCH_SNIPPET_LENGTH", &c.Search.SnippetLength},
	}
	for _, e := range ints {
		if err := setInt(e.name, e.dst); err != nil {
			return err
		}
	}

	if v := os.Getenv("BIBSEARCH_STEMMING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return bserrors.ConfigError(fmt.Sprintf("BIBSEARCH_STEMMING must be a boolean, got %q", v), err)
		}
		c.Search.Stemming = b
	}
	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Index.Backend) {
	case "", "sqlite", "bleve":
	default:
		return bserrors.ConfigError(fmt.Sprintf("index.backend must be sqlite or bleve, got %q", c.Index.Backend), nil)
	}
	if c.Index.Workers < 1 {
		return bserrors.ConfigError(fmt.Sprintf("index.workers must be at least 1, got %d", c.Index.Workers), nil)
	}
	if c.Index.MaxPages < 1 {
		return bserrors.ConfigError(fmt.Sprintf("index.max_pages must be at least 1, got %d", c.Index.MaxPages), nil)
	}
	if d, err := time.ParseDuration(c.Index.ExtractTimeout); err != nil || d <= 0 {
		return bserrors.ConfigError(fmt.Sprintf("index.extract_timeout must be a positive duration, got %q", c.Index.ExtractTimeout), err)
	}
	if c.Search.DefaultLimit < 1 {
		return bserrors.ConfigError(fmt.Sprintf("search.default_limit must be at least 1, got %d", c.Search.DefaultLimit), nil)
	}
	if c.Search.CacheSize < 0 {
		return bserrors.ConfigError(fmt.Sprintf("search.cache_size must not be negative, got %d", c.Search.CacheSize), nil)
	}
	if c.Search.SnippetLength < 0 {
		return bserrors.ConfigError(fmt.Sprintf("search.snippet_length must not be negative, got %d", c.Search.SnippetLength), nil)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return bserrors.ConfigError(fmt.Sprintf("server.log_level must be debug, info, warn or error, got %q", c.Server.LogLevel), nil)
	}
	return nil
}

// ExtractTimeoutDuration returns Index.ExtractTimeout parsed. It assumes a
// validated config and falls back to 60s otherwise.
func (c *Config) ExtractTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Index.ExtractTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// IndexDir returns Index.Dir, or DefaultIndexDir when unset.
func (c *Config) IndexDir() string {
	if c.Index.Dir == "" {
		return DefaultIndexDir()
	}
	return c.Index.Dir
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# bibsearch configuration\n# Precedence: defaults < this file < .bibsearch.yaml < BIBSEARCH_* env\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// MergeNewDefaults fills fields that are unset in c with values from
// defaults and returns the dotted names of the fields it filled.
func (c *Config) MergeNewDefaults(defaults *Config) []string {
	var added []string

	fillString := func(name string, dst *string, def string) {
		if *dst == "" && def != "" {
			*dst = def
			added = append(added, name)
		}
	}
	fillInt := func(name string, dst *int, def int) {
		if *dst == 0 && def != 0 {
			*dst = def
			added = append(added, name)
		}
	}

	fillInt("version", &c.Version, defaults.Version)
	fillInt("index.workers", &c.Index.Workers, defaults.Index.Workers)
	fillInt("index.max_pages", &c.Index.MaxPages, defaults.Index.MaxPages)
	fillString("index.extract_timeout", &c.Index.ExtractTimeout, defaults.Index.ExtractTimeout)
	fillInt("search.default_limit", &c.Search.DefaultLimit, defaults.Search.DefaultLimit)
	fillInt("search.cache_size", &c.Search.CacheSize, defaults.Search.CacheSize)
	fillInt("search.snippet_length", &c.Search.SnippetLength, defaults.Search.SnippetLength)
	fillString("library.path", &c.Library.Path, defaults.Library.Path)
	fillString("server.log_level", &c.Server.LogLevel, defaults.Server.LogLevel)

	return added
}
