package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/bibsearch/internal/async"
	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/index"
	"github.com/Aman-CERP/bibsearch/internal/lifecycle"
	"github.com/Aman-CERP/bibsearch/internal/store"
	"github.com/Aman-CERP/bibsearch/internal/telemetry"
	"github.com/Aman-CERP/bibsearch/pkg/indexer"
	"github.com/Aman-CERP/bibsearch/pkg/searcher"
)

// mockIndex implements Index for testing.
type mockIndex struct {
	SearchFn  func(ctx context.Context, req searcher.Request) (*searcher.Results, error)
	StatusFn  func(ctx context.Context) (*index.Status, error)
	lastLimit int
}

func (m *mockIndex) Search(ctx context.Context, req searcher.Request) (*searcher.Results, error) {
	m.lastLimit = req.MaxResults
	if m.SearchFn != nil {
		return m.SearchFn(ctx, req)
	}
	return &searcher.Results{Query: *req.Query, Hits: []searcher.Hit{}}, nil
}

func (m *mockIndex) Status(ctx context.Context) (*index.Status, error) {
	if m.StatusFn != nil {
		return m.StatusFn(ctx)
	}
	return &index.Status{State: lifecycle.StateEmpty}, nil
}

var _ Index = (*mockIndex)(nil)

func ptr[T any](v T) *T { return &v }

func newTestServer(t *testing.T, idx Index, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(idx, opts...)
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresIndex(t *testing.T) {
	_, err := NewServer(nil)
	require.Error(t, err)
}

func TestSearchHandler_ReturnsHits(t *testing.T) {
	// Given
	idx := &mockIndex{SearchFn: func(_ context.Context, req searcher.Request) (*searcher.Results, error) {
		return &searcher.Results{
			Query: *req.Query,
			Total: 1,
			Hits: []searcher.Hit{{
				EntryKey: "ExampleThesis", File: "/lib/thesis.pdf", Page: 1, Score: 1.2,
				Snippet: "submitted to the University", MatchedTerms: []string{"university"},
			}},
		}, nil
	}}
	s := newTestServer(t, idx)

	// When
	res, out, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: ptr("University"), MaxResults: ptr(5)})

	// Then
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 5, idx.lastLimit)
	assert.Equal(t, 1, out.Total)
	require.Len(t, out.Hits, 1)
	assert.Equal(t, "ExampleThesis", out.Hits[0].EntryKey)
	assert.Equal(t, 1, out.Hits[0].Page)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "ExampleThesis, page 1")
}

func TestSearchHandler_AbsentQuery(t *testing.T) {
	s := newTestServer(t, &mockIndex{})

	_, _, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestSearchHandler_DefaultAndClampedLimit(t *testing.T) {
	idx := &mockIndex{}
	s := newTestServer(t, idx, WithDefaultLimit(7))

	_, _, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: ptr("x")})
	require.NoError(t, err)
	assert.Equal(t, 7, idx.lastLimit)

	_, _, err = s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: ptr("x"), MaxResults: ptr(1000)})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, idx.lastLimit)
}

func TestSearchHandler_InvalidMaxResults(t *testing.T) {
	idx := &mockIndex{SearchFn: func(_ context.Context, req searcher.Request) (*searcher.Results, error) {
		if req.MaxResults < 1 {
			return nil, bserrors.InvalidArgument("maxResults must be at least 1")
		}
		return &searcher.Results{}, nil
	}}
	s := newTestServer(t, idx)

	_, _, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: ptr("x"), MaxResults: ptr(0)})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestSearchHandler_IndexNotReady(t *testing.T) {
	// Given: a build in progress
	idx := &mockIndex{SearchFn: func(context.Context, searcher.Request) (*searcher.Results, error) {
		return nil, bserrors.New(bserrors.ErrCodeIndexNotReady, "index is BUILDING", nil)
	}}
	s := newTestServer(t, idx)
	progress := async.NewIndexProgress()
	progress.Observe(indexer.Progress{FilesTotal: 4, FilesDone: 1, Pages: 9})
	s.SetIndexProgress(progress)

	// When
	res, out, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: ptr("graphene")})

	// Then: not a tool error, a message
	require.NoError(t, err)
	assert.Equal(t, "indexing in progress", out.Message)
	require.NotNil(t, out.Indexing)
	assert.Equal(t, 4, out.Indexing.FilesTotal)
	assert.Empty(t, out.Hits)
	text := res.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, "Indexing in Progress")
	assert.Contains(t, text, "(1/4 files, 9 pages)")
}

func TestSearchHandler_StoreError(t *testing.T) {
	idx := &mockIndex{SearchFn: func(context.Context, searcher.Request) (*searcher.Results, error) {
		return nil, bserrors.IndexIOError("database is locked", errors.New("SQLITE_BUSY"))
	}}
	s := newTestServer(t, idx)

	_, _, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: ptr("x")})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexIO, mcpErr.Code)
}

func TestIndexStatusHandler(t *testing.T) {
	// Given
	built := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	idx := &mockIndex{StatusFn: func(context.Context) (*index.Status, error) {
		return &index.Status{
			State:       lifecycle.StateReady,
			Backend:     store.BackendSQLite,
			Built:       true,
			Documents:   3,
			Pages:       4,
			SizeBytes:   8192,
			LastIndexed: built,
		}, nil
	}}
	s := newTestServer(t, idx)
	m := telemetry.New()
	m.ObserveSearch("graphene oxide", telemetry.ResultZero, 0, time.Millisecond)
	s.SetMetrics(m)

	// When
	_, out, err := s.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	// Then
	require.NoError(t, err)
	assert.Equal(t, "READY", out.State)
	assert.Equal(t, "sqlite", out.Backend)
	assert.True(t, out.Built)
	assert.Equal(t, 3, out.Documents)
	assert.Equal(t, 4, out.Pages)
	assert.Equal(t, "2026-03-01T12:00:00Z", out.LastIndexed)
	assert.Nil(t, out.Indexing)
	require.NotNil(t, out.Queries)
	assert.Equal(t, int64(1), out.Queries.TotalQueries)
	assert.Equal(t, []string{"graphene oxide"}, out.Queries.ZeroResultQueries)
}

func TestIndexStatusHandler_Error(t *testing.T) {
	idx := &mockIndex{StatusFn: func(context.Context) (*index.Status, error) {
		return nil, bserrors.IndexIOError("stat failed", nil)
	}}
	s := newTestServer(t, idx)

	_, _, err := s.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexIO, mcpErr.Code)
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestServer_OverTransport(t *testing.T) {
	// Given
	idx := &mockIndex{SearchFn: func(_ context.Context, req searcher.Request) (*searcher.Results, error) {
		return &searcher.Results{
			Query: *req.Query,
			Total: 2,
			Hits:  []searcher.Hit{{EntryKey: "A", Page: 1}, {EntryKey: "B", Page: 2}},
		}, nil
	}}
	session := connect(t, newTestServer(t, idx))
	ctx := context.Background()

	// When: listing tools
	tools, err := session.ListTools(ctx, nil)

	// Then
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolSearchPDFs, ToolIndexStatus}, names)

	// When: searching
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolSearchPDFs,
		Arguments: map[string]any{"query": "test", "max_results": 2},
	})

	// Then
	require.NoError(t, err)
	require.False(t, res.IsError)
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out SearchOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 2, out.Total)
	assert.Len(t, out.Hits, 2)
	assert.Equal(t, 2, idx.lastLimit)
}

func TestServer_OverTransport_AbsentQueryIsToolError(t *testing.T) {
	session := connect(t, newTestServer(t, &mockIndex{}))

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolSearchPDFs,
		Arguments: map[string]any{},
	})

	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestServer_QueryMetricsResource(t *testing.T) {
	s := newTestServer(t, &mockIndex{})
	m := telemetry.New()
	m.ObserveSearch("qubit", telemetry.ResultHit, 3, time.Millisecond)
	s.SetMetrics(m)
	session := connect(t, s)

	res, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: QueryMetricsURI})

	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)
	assert.Contains(t, res.Contents[0].Text, `"total_queries": 1`)
}
