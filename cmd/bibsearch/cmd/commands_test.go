package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/bibsearch/internal/config"
	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/ui"
	"github.com/Aman-CERP/bibsearch/pkg/searcher"
)

func TestRootCmd_RegistersCommands(t *testing.T) {
	// Given: the root command
	root := NewRootCmd()

	// When/Then: every subcommand is reachable
	for _, name := range []string{"index", "search", "remove", "status", "serve", "config", "logs", "doctor", "version"} {
		found, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, found.Name())
	}
}

func TestSearch_BeforeIndexIsNotReady(t *testing.T) {
	// Given: an environment with no index yet
	env := newCLIEnv(t)

	// When: searching
	_, err := env.run(t, "search", "test")

	// Then: the index reports it is not ready
	require.Error(t, err)
	assert.Equal(t, bserrors.ErrIndexNotReady, bserrors.GetKind(err))
}

func TestIndexThenSearch(t *testing.T) {
	// Given: an indexed library
	env := newCLIEnv(t)
	out, err := env.run(t, "index", "--no-tui")
	require.NoError(t, err)
	assert.Contains(t, out, "Complete: 3 of 3 files, 4 pages indexed")

	// When: searching in text format
	out, err = env.run(t, "search", "University")

	// Then: the thesis page is listed with the summary line
	require.NoError(t, err)
	assert.Contains(t, out, "ExampleThesis  p.1")
	assert.Contains(t, out, "1 of 1 result for \"University\"")

	// When: searching in JSON format
	out, err = env.run(t, "search", "test", "--format", "json")

	// Then: both matching pages are returned
	require.NoError(t, err)
	var res searcher.Results
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Total)
	keys := []string{res.Hits[0].EntryKey, res.Hits[1].EntryKey}
	assert.ElementsMatch(t, []string{"", "MetaData2017"}, keys)
}

func TestSearch_NoResults(t *testing.T) {
	// Given: an indexed library
	env := newCLIEnv(t)
	_, err := env.run(t, "index", "--no-tui")
	require.NoError(t, err)

	// When: searching for a stop word
	out, err := env.run(t, "search", "and")

	// Then: a friendly message is printed
	require.NoError(t, err)
	assert.Contains(t, out, `No results found for "and"`)
}

func TestSearch_InvalidFormat(t *testing.T) {
	// Given: an environment
	env := newCLIEnv(t)

	// When: requesting an unknown format
	_, err := env.run(t, "search", "test", "--format", "xml")

	// Then: it is an invalid argument
	require.Error(t, err)
	assert.Equal(t, bserrors.ErrInvalidArgument, bserrors.GetKind(err))
}

func TestIndex_BleveBackend(t *testing.T) {
	// Given: a library indexed with bleve
	env := newCLIEnv(t)
	_, err := env.run(t, "index", "--no-tui", "--backend", "bleve")
	require.NoError(t, err)

	// When: reading status as JSON without a backend flag
	out, err := env.run(t, "status", "--json")

	// Then: the backend is detected from disk
	require.NoError(t, err)
	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "bleve", info.Backend)
	assert.Equal(t, 4, info.Pages)
	assert.True(t, info.Built)
}

func TestIndex_MissingLibrary(t *testing.T) {
	// Given: an environment
	env := newCLIEnv(t)

	// When: indexing a library that does not exist
	_, err := env.run(t, "index", "--no-tui", "--library", filepath.Join(env.root, "missing.yaml"))

	// Then: the library error is returned
	require.Error(t, err)
	assert.Equal(t, bserrors.ErrCodeLibraryInvalid, bserrors.GetCode(err))
}

func TestStatus_Empty(t *testing.T) {
	// Given: an environment with no index
	env := newCLIEnv(t)

	// When: rendering status
	out, err := env.run(t, "status")

	// Then: the empty state and the hint are shown
	require.NoError(t, err)
	assert.Contains(t, out, "EMPTY")
	assert.Contains(t, out, "Run: bibsearch index")
}

func TestRemove(t *testing.T) {
	// Given: an indexed library
	env := newCLIEnv(t)
	_, err := env.run(t, "index", "--no-tui")
	require.NoError(t, err)

	// When: removing the thesis
	out, err := env.run(t, "remove", "ExampleThesis")

	// Then: both of its pages are gone
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 2 pages")
	out, err = env.run(t, "search", "University")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found")

	// When: removing the keyless entry
	out, err = env.run(t, "remove", "--keyless")

	// Then: its page is removed
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 pages")
}

func TestRemove_RequiresKey(t *testing.T) {
	// Given: an environment
	env := newCLIEnv(t)

	// When: removing without keys
	_, err := env.run(t, "remove")

	// Then: it is an invalid argument
	require.Error(t, err)
	assert.Equal(t, bserrors.ErrInvalidArgument, bserrors.GetKind(err))
}

func TestConfigInit_CreatesAndUpgrades(t *testing.T) {
	// Given: no user config
	env := newCLIEnv(t)
	path := config.GetUserConfigPath()
	require.False(t, config.UserConfigExists())

	// When: running config init
	out, err := env.run(t, "config", "init")

	// Then: the file is created with defaults
	require.NoError(t, err)
	assert.Contains(t, out, "Created user configuration")
	require.FileExists(t, path)

	// Given: a user config missing some options
	require.NoError(t, os.WriteFile(path, []byte("search:\n  default_limit: 5\n"), 0o644))

	// When: upgrading with --force
	out, err = env.run(t, "config", "init", "--force")

	// Then: missing options are filled and the setting is kept
	require.NoError(t, err)
	assert.Contains(t, out, "index.workers")
	cfg, err := config.LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	backups, err := config.ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestConfigShow_JSON(t *testing.T) {
	// Given: a project config in the working directory
	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.root, config.ProjectConfigYAML),
		[]byte("search:\n  default_limit: 7\n"), 0o644))

	// When: showing the merged config
	out, err := env.run(t, "config", "show", "--json")

	// Then: the project value wins over the default
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 7, cfg.Search.DefaultLimit)
}

func TestConfigShow_InvalidSource(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "config", "show", "--source", "nope")
	require.Error(t, err)
	assert.Equal(t, bserrors.ErrInvalidArgument, bserrors.GetKind(err))
}

func TestConfigPath(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, config.GetUserConfigPath()+"\n", out)
}

func TestLogs_TailsLogFile(t *testing.T) {
	// Given: a log file with two JSON lines
	env := newCLIEnv(t)
	logPath := filepath.Join(env.root, "test.log")
	lines := `{"time":"2026-01-02T03:04:05Z","level":"INFO","msg":"index_started"}
{"time":"2026-01-02T03:04:06Z","level":"WARN","msg":"extraction_failed","file":"a.pdf"}
`
	require.NoError(t, os.WriteFile(logPath, []byte(lines), 0o644))

	// When: tailing with a level filter
	out, err := env.run(t, "logs", "--file", logPath, "--level", "warn", "--no-color")

	// Then: only the warning is shown
	require.NoError(t, err)
	assert.Contains(t, out, "extraction_failed")
	assert.NotContains(t, out, "index_started")
}

func TestLogs_InvalidFilter(t *testing.T) {
	env := newCLIEnv(t)
	logPath := filepath.Join(env.root, "test.log")
	require.NoError(t, os.WriteFile(logPath, []byte("{}\n"), 0o644))

	_, err := env.run(t, "logs", "--file", logPath, "--filter", "(")
	require.Error(t, err)
	assert.Equal(t, bserrors.ErrInvalidArgument, bserrors.GetKind(err))
}

func TestDoctor_JSON(t *testing.T) {
	// Given: the seed library
	env := newCLIEnv(t)

	// When: running doctor with JSON output
	out, err := env.run(t, "doctor", "--json")

	// Then: every check passes and the PDFs resolve
	require.NoError(t, err)
	var res struct {
		Status string `json:"status"`
		Checks []struct {
			Name    string `json:"name"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEqual(t, "failed", res.Status)
	var pdfs string
	for _, c := range res.Checks {
		if c.Name == "linked_pdfs" {
			pdfs = c.Message
		}
	}
	assert.Equal(t, "3 PDFs found", pdfs)
}

func TestDoctor_MissingLibraryFails(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "doctor", "--library", filepath.Join(env.root, "none.yaml"))
	require.Error(t, err)
	assert.Equal(t, bserrors.ErrCodeConfigInvalid, bserrors.GetCode(err))
}

func TestSearch_JSONErrorOnStdout(t *testing.T) {
	// Given: an environment with no index
	env := newCLIEnv(t)

	// When: searching with JSON output
	out, err := env.run(t, "search", "test", "--format", "json")

	// Then: the error is also printed as a JSON object
	require.Error(t, err)
	var je map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &je))
	assert.Equal(t, bserrors.ErrCodeIndexNotReady, je["code"])
}
