package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// QueryMetricsURI is the URI of the query telemetry resource.
const QueryMetricsURI = "bibsearch://query_metrics"

func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         QueryMetricsURI,
			Description: "Recent search activity: totals, zero-result queries and top terms",
			MIMEType:    "application/json",
		},
		s.handleQueryMetrics,
	)
}

func (s *Server) handleQueryMetrics(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	m := s.metrics
	s.mu.RUnlock()
	if m == nil {
		return nil, NewInvalidParamsError("query metrics not available")
	}

	snap := m.Queries().Snapshot(topTerms)
	content, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      QueryMetricsURI,
			MIMEType: "application/json",
			Text:     string(content),
		}},
	}, nil
}
