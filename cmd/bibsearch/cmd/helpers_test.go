package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/bibsearch/internal/bib"
	"github.com/Aman-CERP/bibsearch/internal/testutil"
)

type cliEnv struct {
	root     string
	indexDir string
	library  string
}

// newCLIEnv isolates HOME and the user config, writes the seed library
// into a temp dir and makes it the working directory.
func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	root := t.TempDir()
	t.Setenv("HOME", filepath.Join(root, "home"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "xdg"))
	t.Setenv("BIBSEARCH_LOG_LEVEL", "")

	papers := filepath.Join(root, "papers")
	require.NoError(t, os.MkdirAll(papers, 0o755))
	testutil.WritePDFIn(t, papers, "example.pdf", testutil.ExamplePDF)
	testutil.WritePDFIn(t, papers, "metaData.pdf", testutil.MetaDataPDF)
	testutil.WritePDFIn(t, papers, "thesis.pdf", testutil.ThesisPDF)

	lib := bib.NewLibrary(
		bib.Entry{Type: "article", Files: []bib.LinkedFile{{Link: "example.pdf", FileType: "PDF"}}},
		bib.Entry{Key: "MetaData2017", Type: "article", Files: []bib.LinkedFile{{Link: "metaData.pdf", FileType: "PDF"}}},
		bib.Entry{Key: "ExampleThesis", Type: "phdthesis", Files: []bib.LinkedFile{{Link: "thesis.pdf", FileType: "PDF"}}},
	)
	lib.Directories = []string{papers}
	libraryPath := filepath.Join(root, bib.DefaultManifestName)
	require.NoError(t, bib.WriteLibrary(libraryPath, lib))

	t.Chdir(root)

	return &cliEnv{root: root, indexDir: filepath.Join(root, "index"), library: libraryPath}
}

// run executes the root command with --index-dir pointing at the env.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--index-dir", e.indexDir}, args...))
	err := cmd.Execute()
	return buf.String(), err
}
