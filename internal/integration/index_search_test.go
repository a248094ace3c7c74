package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/bibsearch/internal/bib"
	"github.com/Aman-CERP/bibsearch/internal/config"
	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/index"
	"github.com/Aman-CERP/bibsearch/internal/lifecycle"
	"github.com/Aman-CERP/bibsearch/internal/testutil"
	"github.com/Aman-CERP/bibsearch/pkg/searcher"
)

// Integration tests run real PDFs through extraction, indexing and search.

var backends = []string{"sqlite", "bleve"}

// seedLibrary writes the fixture PDFs and a manifest linking them.
func seedLibrary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WritePDFIn(t, dir, "example.pdf", testutil.ExamplePDF)
	testutil.WritePDFIn(t, dir, "metaData.pdf", testutil.MetaDataPDF)
	testutil.WritePDFIn(t, dir, "thesis.pdf", testutil.ThesisPDF)

	manifest := filepath.Join(dir, bib.DefaultManifestName)
	require.NoError(t, bib.WriteLibrary(manifest, bib.NewLibrary(
		bib.Entry{Type: "misc", Files: []bib.LinkedFile{{Link: "example.pdf", FileType: "PDF"}}},
		bib.Entry{Key: "MetaData2017", Type: "article", Files: []bib.LinkedFile{{Description: "metadata", Link: "metaData.pdf"}}},
		bib.Entry{Key: "ExampleThesis", Type: "phdthesis", Files: []bib.LinkedFile{{Link: "thesis.pdf", FileType: "pdf"}}},
		bib.Entry{Key: "NoFiles", Type: "book"},
	)))
	return manifest
}

func openIndex(t *testing.T, dir, backend string) *index.Service {
	t.Helper()
	svc, err := index.Open(context.Background(), index.Options{
		Dir:     dir,
		Config:  config.NewConfig(),
		Backend: backend,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func rebuild(t *testing.T, svc *index.Service, manifest string) {
	t.Helper()
	lib, err := bib.LoadLibrary(manifest)
	require.NoError(t, err)
	rep, err := svc.Rebuild(context.Background(), lib, lib.Resolver())
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	require.Equal(t, 3, rep.Indexed)
}

func search(svc *index.Service, q *string, n int) (*searcher.Results, error) {
	return svc.Search(context.Background(), searcher.Request{Query: q, MaxResults: n})
}

func str(s string) *string { return &s }

func TestIntegration_SeedScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			// Given: a built index over the seed library
			svc := openIndex(t, t.TempDir(), backend)
			rebuild(t, svc, seedLibrary(t))

			counts := []struct {
				query string
				want  int
			}{
				{"test", 2},
				{"University", 1},
				{"and", 0},
				{"second", 2},
				{"", 0},
			}
			for _, tc := range counts {
				// When
				res, err := search(svc, str(tc.query), 10)

				// Then
				require.NoError(t, err, "query %q", tc.query)
				assert.Equal(t, tc.want, res.NumSearchResults(), "query %q", tc.query)
			}

			_, err := search(svc, nil, 10)
			assert.ErrorIs(t, err, bserrors.ErrInvalidArgument)

			_, err = search(svc, str("test"), 0)
			assert.ErrorIs(t, err, bserrors.ErrInvalidArgument)
		})
	}
}

func TestIntegration_HitsCarryEntryAndPage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			svc := openIndex(t, t.TempDir(), backend)
			manifest := seedLibrary(t)
			rebuild(t, svc, manifest)

			res, err := search(svc, str("chapter"), 10)
			require.NoError(t, err)
			require.Len(t, res.Hits, 1)
			hit := res.Hits[0]
			assert.Equal(t, "ExampleThesis", hit.EntryKey)
			assert.Equal(t, 2, hit.Page)
			assert.Equal(t, filepath.Join(filepath.Dir(manifest), "thesis.pdf"), hit.File)
			assert.Contains(t, hit.Snippet, "Chapter")

			res, err = search(svc, str(`"short test document"`), 10)
			require.NoError(t, err)
			require.Len(t, res.Hits, 1)
			assert.Empty(t, res.Hits[0].EntryKey, "keyless entries are searchable")

			res, err = search(svc, str("test NOT metadata"), 10)
			require.NoError(t, err)
			assert.Equal(t, 1, res.NumSearchResults())

			res, err = search(svc, str("test"), 1)
			require.NoError(t, err)
			assert.Len(t, res.Hits, 1)
			assert.Equal(t, 2, res.Total)
		})
	}
}

func TestIntegration_PersistsAcrossRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			// Given: an index built and closed
			dir := t.TempDir()
			first, err := index.Open(context.Background(), index.Options{
				Dir: dir, Config: config.NewConfig(), Backend: backend,
			})
			require.NoError(t, err)
			rebuild(t, first, seedLibrary(t))
			require.NoError(t, first.Close())

			// When: reopened with backend detection
			svc := openIndex(t, dir, "")

			// Then
			assert.Equal(t, lifecycle.StateReady, svc.Lifecycle().State())
			st, err := svc.Status(context.Background())
			require.NoError(t, err)
			assert.Equal(t, backend, string(st.Backend))
			assert.Equal(t, 4, st.Pages)
			res, err := search(svc, str("University"), 10)
			require.NoError(t, err)
			assert.Equal(t, 1, res.NumSearchResults())
		})
	}
}

func TestIntegration_RebuildPurgesRemovedEntries(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a built index
	svc := openIndex(t, t.TempDir(), "sqlite")
	manifest := seedLibrary(t)
	rebuild(t, svc, manifest)

	// When: the thesis entry is dropped from the library and the index rebuilt
	lib, err := bib.LoadLibrary(manifest)
	require.NoError(t, err)
	lib.Items = lib.Items[:2]
	rep, err := svc.Rebuild(context.Background(), lib, lib.Resolver())

	// Then
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Purged)
	res, err := search(svc, str("University"), 10)
	require.NoError(t, err)
	assert.Zero(t, res.NumSearchResults())
}

func TestIntegration_BadFilesAreReportedNotFatal(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a library with a missing file and an encrypted one
	dir := t.TempDir()
	testutil.WritePDFIn(t, dir, "example.pdf", testutil.ExamplePDF)
	testutil.WritePDFIn(t, dir, "locked.pdf", testutil.PDF{
		Pages:        [][]string{{"Secret test content."}},
		UserPassword: "hunter2",
	})
	lib := bib.NewLibrary(
		bib.Entry{Key: "Good", Files: []bib.LinkedFile{{Link: "example.pdf"}}},
		bib.Entry{Key: "Missing", Files: []bib.LinkedFile{{Link: "gone.pdf"}}},
		bib.Entry{Key: "Locked", Files: []bib.LinkedFile{{Link: "locked.pdf"}}},
	)
	svc := openIndex(t, t.TempDir(), "sqlite")

	// When
	rep, err := svc.Rebuild(context.Background(), lib, bib.NewDirResolver(dir))

	// Then: the build completes with two failures
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Indexed)
	require.Equal(t, 2, rep.Failed())
	codes := map[string]string{}
	for _, f := range rep.Failures {
		codes[f.EntryKey] = bserrors.GetCode(f.Err)
	}
	assert.Equal(t, bserrors.ErrCodeFileNotFound, codes["Missing"])
	assert.Equal(t, bserrors.ErrCodeEncrypted, codes["Locked"])
	assert.ErrorIs(t, rep.Err(), bserrors.ErrExtraction)

	res, err := search(svc, str("test"), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NumSearchResults())
}
