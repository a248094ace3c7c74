package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/bibsearch/internal/async"
	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/index"
	"github.com/Aman-CERP/bibsearch/internal/telemetry"
	"github.com/Aman-CERP/bibsearch/pkg/searcher"
	"github.com/Aman-CERP/bibsearch/pkg/version"
)

// ServerName is the MCP implementation name.
const ServerName = "bibsearch"

const (
	defaultLimit = 10
	maxLimit     = 100
	topTerms     = 10
)

// Index is the part of index.Service the server needs.
type Index interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Results, error)
	Status(ctx context.Context) (*index.Status, error)
}

// Server bridges MCP clients with the PDF index.
type Server struct {
	mcp          *mcp.Server
	index        Index
	logger       *slog.Logger
	defaultLimit int

	// Background build progress, nil when no build was started.
	indexProgress *async.IndexProgress
	metrics       *telemetry.Metrics

	mu sync.RWMutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaultLimit sets max_results when the client omits it.
func WithDefaultLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.defaultLimit = n
		}
	}
}

// NewServer creates an MCP server over idx.
func NewServer(idx Index, opts ...Option) (*Server, error) {
	if idx == nil {
		return nil, errors.New("index is required")
	}

	s := &Server{
		index:        idx,
		logger:       slog.Default(),
		defaultLimit: defaultLimit,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Capabilities are inferred from registered tools and resources.
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: version.Version,
	}, nil)

	s.registerTools()
	return s, nil
}

// SetIndexProgress sets the background build tracker. index_status then
// reports progress and search_pdfs explains a not-ready index with it.
func (s *Server) SetIndexProgress(progress *async.IndexProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexProgress = progress
}

// SetMetrics sets the telemetry source and registers the query_metrics
// resource.
func (s *Server) SetMetrics(m *telemetry.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over stdio until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: ToolSearchPDFs,
		Description: "Full-text search over the PDF attachments of the bibliography. " +
			"Returns matching pages with citation key, file, page number and a snippet. " +
			"Words are ANDed by default; use OR, NOT, \"quoted phrases\" and parentheses to refine.",
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolIndexStatus,
		Description: "Report whether the PDF index is ready, how many documents and pages it holds, and the progress of a running build.",
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 2))
}

func (s *Server) progress() *async.IndexProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexProgress
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	*SearchOutput,
	error,
) {
	requestID := generateRequestID()

	if input.Query == nil {
		return nil, nil, NewInvalidParamsError("query parameter is required")
	}
	limit := s.defaultLimit
	if input.MaxResults != nil {
		limit = clampLimit(*input.MaxResults, maxLimit)
	}

	start := time.Now()
	res, err := s.index.Search(ctx, searcher.Request{Query: input.Query, MaxResults: limit})
	if err != nil {
		if errors.Is(err, bserrors.ErrIndexNotReady) {
			return s.indexingResult(*input.Query), &SearchOutput{
				Query:    *input.Query,
				Hits:     []HitOutput{},
				Indexing: s.progressSnapshot(),
				Message:  "indexing in progress",
			}, nil
		}
		s.logger.Warn("mcp_search_failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, nil, MapError(err)
	}

	s.logger.Debug("mcp_search_completed",
		slog.String("request_id", requestID),
		slog.Int("hits", len(res.Hits)),
		slog.Duration("duration", time.Since(start)))

	out := &SearchOutput{
		Query: res.Query,
		Total: res.Total,
		Hits:  toHitOutputs(res.Hits),
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(res)}},
	}, out, nil
}

func (s *Server) indexingResult(query string) *mcp.CallToolResult {
	s.logger.Info("mcp_search_index_not_ready", slog.String("query", query))
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatIndexing(s.progressSnapshot())}},
	}
}

func (s *Server) progressSnapshot() *async.IndexProgressSnapshot {
	p := s.progress()
	if p == nil {
		return nil
	}
	snap := p.Snapshot()
	return &snap
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	out, err := s.indexStatus(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, out, nil
}

func (s *Server) indexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	st, err := s.index.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("index status: %w", err)
	}

	out := &IndexStatusOutput{
		State:       string(st.State),
		Backend:     string(st.Backend),
		Built:       st.Built,
		Documents:   st.Documents,
		Pages:       st.Pages,
		SizeBytes:   st.SizeBytes,
		LastIndexed: formatTime(st.LastIndexed),
		LastError:   st.LastError,
		Indexing:    s.progressSnapshot(),
	}

	s.mu.RLock()
	m := s.metrics
	s.mu.RUnlock()
	if m != nil {
		out.Queries = toQueryStats(m.Queries().Snapshot(topTerms))
	}
	return out, nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
