package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/saks635/NL2SQL-Convertor/internal/config"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
)

const (
	sourcesURI   = "nl2sql://sources"
	schemaPrefix = "nl2sql://schema/"
)

// registerResources adds the read-only resources clients can load into
// their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			sourcesURI,
			"Saved Database Sources",
			mcp.WithResourceDescription(
				"Every saved source with its driver and whether it accepts "+
					"data-modifying statements.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleSourcesResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			schemaPrefix+"{source}",
			"Database Schema",
			mcp.WithTemplateDescription(
				"Canonical schema of a saved source: tables, columns, "+
					"primary keys and foreign keys.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleSchemaResource,
	)
}

func (s *MCPServer) handleSourcesResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	items, err := s.sourceInfos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return jsonContents(sourcesURI, items)
}

// handleSchemaResource serves nl2sql://schema/{source}.
func (s *MCPServer) handleSchemaResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	name := strings.TrimPrefix(uri, schemaPrefix)
	if name == "" || name == uri {
		return nil, fmt.Errorf("invalid schema URI %q: expected %s{source}", uri, schemaPrefix)
	}

	src, err := s.store.GetSource(ctx, name)
	if errors.Is(err, config.ErrNotFound) {
		return nil, fmt.Errorf("source %q not found (available: %v)", name, s.sourceNames(ctx))
	}
	if err != nil {
		return nil, fmt.Errorf("load source %q: %w", name, err)
	}

	schema, err := s.pipeline.GetSchema(ctx, connector.SpecFromSource(*src))
	if err != nil {
		return nil, fmt.Errorf("schema for %q: %w", name, err)
	}
	return jsonContents(uri, schemaView(name, schema))
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
