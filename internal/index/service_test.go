package index

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/bibsearch/internal/bib"
	"github.com/Aman-CERP/bibsearch/internal/config"
	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/extract"
	"github.com/Aman-CERP/bibsearch/internal/lifecycle"
	"github.com/Aman-CERP/bibsearch/internal/store"
	"github.com/Aman-CERP/bibsearch/internal/telemetry"
	"github.com/Aman-CERP/bibsearch/pkg/indexer"
	"github.com/Aman-CERP/bibsearch/pkg/searcher"
)

var corpus = extract.Static{
	"/lib/example.pdf":  {"This is a short test document. A second sentence follows."},
	"/lib/metaData.pdf": {"Metadata test file for the library."},
	"/lib/thesis.pdf":   {"A thesis submitted to the University.", "Chapter one covers background."},
}

func library() (*bib.Library, bib.Resolver) {
	lib := bib.NewLibrary(
		bib.Entry{Files: []bib.LinkedFile{{Link: "example.pdf", FileType: "PDF"}}},
		bib.Entry{Key: "MetaData2017", Files: []bib.LinkedFile{{Link: "metaData.pdf", FileType: "PDF"}}},
		bib.Entry{Key: "ExampleThesis", Files: []bib.LinkedFile{{Link: "thesis.pdf", FileType: "PDF"}}},
	)
	resolver := bib.ResolverFunc(func(f bib.LinkedFile) []string {
		return []string{"/lib/" + f.Link}
	})
	return lib, resolver
}

func openService(t *testing.T, dir string, m *telemetry.Metrics) *Service {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Dir:       dir,
		Config:    config.NewConfig(),
		Backend:   "sqlite",
		Extractor: corpus,
		Metrics:   m,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func search(t *testing.T, s *Service, q string) (*searcher.Results, error) {
	t.Helper()
	return s.Search(context.Background(), searcher.Request{Query: &q, MaxResults: 10})
}

func TestOpen_RequiresConfig(t *testing.T) {
	_, err := Open(context.Background(), Options{InMemory: true})
	require.Error(t, err)
}

func TestOpen_InvalidBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{InMemory: true, Config: config.NewConfig(), Backend: "lucene"})

	require.Error(t, err)
	assert.Equal(t, bserrors.ErrCodeConfigInvalid, bserrors.GetCode(err))
}

func TestService_FreshIndex_NotQueryable(t *testing.T) {
	// Given
	s := openService(t, t.TempDir(), nil)

	// When
	_, err := search(t, s, "test")

	// Then
	assert.ErrorIs(t, err, bserrors.ErrIndexNotReady)
	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateEmpty, st.State)
	assert.False(t, st.Built)
	assert.Zero(t, st.Pages)
}

func TestService_Rebuild_ThenSearch(t *testing.T) {
	// Given
	m := telemetry.New()
	s := openService(t, t.TempDir(), m)
	lib, resolver := library()

	// When
	rep, err := s.Rebuild(context.Background(), lib, resolver)

	// Then
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Indexed)
	assert.Equal(t, 4, rep.Pages)

	res, err := search(t, s, "University")
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "ExampleThesis", res.Hits[0].EntryKey)
	assert.Equal(t, 1, res.Hits[0].Page)

	res, err = search(t, s, "test")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateReady, st.State)
	assert.Equal(t, store.BackendSQLite, st.Backend)
	assert.Equal(t, 4, st.Pages)
	assert.Equal(t, 3, st.Documents)
	assert.Positive(t, st.SizeBytes)
	assert.False(t, st.LastIndexed.IsZero())
	assert.Same(t, rep, st.LastReport)
	assert.Nil(t, st.Progress)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexState))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PagesIndexedTotal))
}

func TestService_OnProgress(t *testing.T) {
	s := openService(t, t.TempDir(), nil)
	lib, resolver := library()

	var mu sync.Mutex
	var seen []indexer.Progress
	s.OnProgress(func(p indexer.Progress) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p)
	})

	_, err := s.Rebuild(context.Background(), lib, resolver)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	last := seen[len(seen)-1]
	assert.Equal(t, 3, last.FilesTotal)
	assert.Equal(t, 3, last.FilesDone)
}

func TestService_Reopen_KeepsBuiltIndex(t *testing.T) {
	// Given: a built index that was closed
	dir := t.TempDir()
	first, err := Open(context.Background(), Options{Dir: dir, Config: config.NewConfig(), Extractor: corpus})
	require.NoError(t, err)
	lib, resolver := library()
	_, err = first.Rebuild(context.Background(), lib, resolver)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// When
	second := openService(t, dir, nil)

	// Then: queryable without a rebuild, backend detected
	assert.Equal(t, lifecycle.StateReady, second.Lifecycle().State())
	res, err := search(t, second, "second")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	st, err := second.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.LastIndexed.IsZero())
	assert.Nil(t, st.LastReport)
}

func TestService_Remove(t *testing.T) {
	s := openService(t, t.TempDir(), nil)
	lib, resolver := library()
	_, err := s.Rebuild(context.Background(), lib, resolver)
	require.NoError(t, err)

	n, err := s.Remove(context.Background(), []string{"ExampleThesis"})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	res, err := search(t, s, "University")
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestService_Add(t *testing.T) {
	// Given: a build without the thesis
	s := openService(t, t.TempDir(), nil)
	lib, resolver := library()
	partial := bib.NewLibrary(lib.Items[:2]...)
	_, err := s.Rebuild(context.Background(), partial, resolver)
	require.NoError(t, err)

	// When
	rep, err := s.Add(context.Background(), lib.Items[2:], resolver)

	// Then
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Pages)
	res, err := search(t, s, "chapter")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}

func TestService_SecondWriterIsLockedOut(t *testing.T) {
	// Given: one service holding the writer lock after a build
	dir := t.TempDir()
	owner := openService(t, dir, nil)
	lib, resolver := library()
	_, err := owner.Rebuild(context.Background(), lib, resolver)
	require.NoError(t, err)

	// When: another service over the same directory tries to write
	other := openService(t, dir, nil)
	_, err = other.Rebuild(context.Background(), lib, resolver)

	// Then
	require.Error(t, err)
	assert.Equal(t, bserrors.ErrCodeIndexLocked, bserrors.GetCode(err))

	// Readers are unaffected.
	res, err := search(t, other, "University")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}

func TestService_ReaderSeesCommitsFromAnotherWriter(t *testing.T) {
	// Given: a reader opened on an empty directory, then a writer that
	// builds it
	dir := t.TempDir()
	reader := openService(t, dir, nil)
	writer := openService(t, dir, nil)
	lib, resolver := library()
	ctx := context.Background()
	_, err := writer.Rebuild(ctx, lib, resolver)
	require.NoError(t, err)

	// Then: the reader adopts the finished build
	st, err := reader.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateReady, st.State)
	res, err := search(t, reader, "university")
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)

	// When: the writer removes the entry behind that hit
	n, err := writer.Remove(ctx, []string{"ExampleThesis"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Then: the reader's repeated query is not served from its cache
	res, err = search(t, reader, "university")
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Empty(t, res.Hits)
}

func TestService_Close_Idempotent(t *testing.T) {
	s, err := Open(context.Background(), Options{InMemory: true, Config: config.NewConfig(), Extractor: corpus})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateClosed, st.State)
	_, err = search(t, s, "test")
	assert.ErrorIs(t, err, bserrors.ErrIndexNotReady)
}
