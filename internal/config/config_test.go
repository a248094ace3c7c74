package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

// isolate points the user config at an empty temp dir and clears env overrides.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	for _, name := range []string{
		"BIBSEARCH_INDEX_DIR", "BIBSEARCH_BACKEND", "BIBSEARCH_EXTRACT_TIMEOUT",
		"BIBSEARCH_LIBRARY", "BIBSEARCH_LOG_LEVEL", "BIBSEARCH_METRICS_ADDR",
		"BIBSEARCH_WORKERS", "BIBSEARCH_MAX_PAGES", "BIBSEARCH_DEFAULT_LIMIT",
		"BIBSEARCH_CACHE_SIZE", "BIBSEARCH_SNIPPET_LENGTH", "BIBSEARCH_STEMMING",
	} {
		t.Setenv(name, "")
	}
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.Empty(t, cfg.Index.Backend)
	assert.GreaterOrEqual(t, cfg.Index.Workers, 1)
	assert.LessOrEqual(t, cfg.Index.Workers, 4)
	assert.Equal(t, 2000, cfg.Index.MaxPages)
	assert.Equal(t, "60s", cfg.Index.ExtractTimeout)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 256, cfg.Search.CacheSize)
	assert.Equal(t, 160, cfg.Search.SnippetLength)
	assert.False(t, cfg.Search.Stemming)
	assert.Equal(t, "bibsearch.yaml", cfg.Library.Path)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	// Given: no user or project config
	isolate(t)

	// When
	cfg, err := Load(t.TempDir())

	// Then
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoad_ProjectYAML_OverridesDefaults(t *testing.T) {
	// Given
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigYAML), `
index:
  backend: bleve
  workers: 2
  extract_timeout: 5s
search:
  default_limit: 25
  stemming: true
library:
  path: refs.yaml
`)

	// When
	cfg, err := Load(dir)

	// Then
	require.NoError(t, err)
	assert.Equal(t, "bleve", cfg.Index.Backend)
	assert.Equal(t, 2, cfg.Index.Workers)
	assert.Equal(t, 5*time.Second, cfg.ExtractTimeoutDuration())
	assert.Equal(t, 25, cfg.Search.DefaultLimit)
	assert.True(t, cfg.Search.Stemming)
	assert.Equal(t, "refs.yaml", cfg.Library.Path)
	// Untouched fields keep their defaults.
	assert.Equal(t, 2000, cfg.Index.MaxPages)
	assert.Equal(t, 256, cfg.Search.CacheSize)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigYML), "search:\n  default_limit: 7\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Search.DefaultLimit)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigYAML), "search:\n  default_limit: 3\n")
	writeFile(t, filepath.Join(dir, ProjectConfigYML), "search:\n  default_limit: 9\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Search.DefaultLimit)
}

func TestLoad_Precedence_UserProjectEnv(t *testing.T) {
	// Given: each layer sets a different subset
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "bibsearch", "config.yaml"), `
index:
  workers: 1
  max_pages: 50
search:
  cache_size: 8
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigYAML), `
index:
  max_pages: 80
search:
  cache_size: 16
`)
	t.Setenv("BIBSEARCH_CACHE_SIZE", "32")

	// When
	cfg, err := Load(dir)

	// Then: user < project < env
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Index.Workers)
	assert.Equal(t, 80, cfg.Index.MaxPages)
	assert.Equal(t, 32, cfg.Search.CacheSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("BIBSEARCH_BACKEND", "bleve")
	t.Setenv("BIBSEARCH_INDEX_DIR", "/tmp/idx")
	t.Setenv("BIBSEARCH_LIBRARY", "/tmp/lib.yaml")
	t.Setenv("BIBSEARCH_LOG_LEVEL", "debug")
	t.Setenv("BIBSEARCH_METRICS_ADDR", ":9090")
	t.Setenv("BIBSEARCH_MAX_PAGES", "10")
	t.Setenv("BIBSEARCH_SNIPPET_LENGTH", "0")
	t.Setenv("BIBSEARCH_STEMMING", "true")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "bleve", cfg.Index.Backend)
	assert.Equal(t, "/tmp/idx", cfg.IndexDir())
	assert.Equal(t, "/tmp/lib.yaml", cfg.Library.Path)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
	assert.Equal(t, 10, cfg.Index.MaxPages)
	assert.Equal(t, 0, cfg.Search.SnippetLength)
	assert.True(t, cfg.Search.Stemming)
}

func TestLoad_EnvStemmingFalse_TurnsOffFileSetting(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigYAML), "search:\n  stemming: true\n")
	t.Setenv("BIBSEARCH_STEMMING", "false")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.False(t, cfg.Search.Stemming)
}

func TestLoad_Errors_AreConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		project string
		env     map[string]string
	}{
		{name: "invalid yaml", project: "index: [unclosed"},
		{name: "wrong field type", project: "index:\n  workers: many\n"},
		{name: "unknown backend", project: "index:\n  backend: lucene\n"},
		{name: "negative workers", project: "index:\n  workers: -1\n"},
		{name: "bad timeout", project: "index:\n  extract_timeout: soon\n"},
		{name: "negative cache", project: "search:\n  cache_size: -5\n"},
		{name: "bad log level", project: "server:\n  log_level: loud\n"},
		{name: "non-integer env", env: map[string]string{"BIBSEARCH_WORKERS": "two"}},
		{name: "non-boolean env", env: map[string]string{"BIBSEARCH_STEMMING": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			isolate(t)
			dir := t.TempDir()
			if tt.project != "" {
				writeFile(t, filepath.Join(dir, ProjectConfigYAML), tt.project)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			// When
			_, err := Load(dir)

			// Then
			require.Error(t, err)
			assert.Equal(t, bserrors.ErrCodeConfigInvalid, bserrors.GetCode(err))
		})
	}
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "bibsearch", "config.yaml"), "search: {limit")

	_, err := Load(t.TempDir())

	require.Error(t, err)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	xdg := isolate(t)

	assert.Equal(t, filepath.Join(xdg, "bibsearch", "config.yaml"), GetUserConfigPath())
	assert.Equal(t, filepath.Join(xdg, "bibsearch"), GetUserConfigDir())
}

func TestGetUserConfigPath_DefaultsToHomeConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".config", "bibsearch", "config.yaml"), GetUserConfigPath())
}

func TestUserConfigExists(t *testing.T) {
	xdg := isolate(t)
	assert.False(t, UserConfigExists())

	writeFile(t, filepath.Join(xdg, "bibsearch", "config.yaml"), "version: 1\n")
	assert.True(t, UserConfigExists())
}

func TestConfig_IndexDir_DefaultsUnderHome(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, DefaultIndexDir(), cfg.IndexDir())
	assert.Equal(t, "index", filepath.Base(cfg.IndexDir()))
}
