package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
)

// requireString returns a string argument that must be present and non-empty.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	if val, err := request.RequireString(key); err == nil && val != "" {
		return val, nil
	}
	return "", fmt.Errorf("missing required parameter %q", key)
}

func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

// optionalInt accepts JSON numbers and numeric strings.
func optionalInt(request mcp.CallToolRequest, key string, def int) int {
	return request.GetInt(key, def)
}

// successJSON returns v as indented JSON text content.
func successJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError reports a failure to the model as an error result, leaving the
// session open so it can correct its call.
func toolError(format string, args ...any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// pipelineError reports a pipeline failure with its kind and, for rejected
// statements, the validator rule. Unclassified errors are not shown.
func pipelineError(err error) (*mcp.CallToolResult, error) {
	var ae *apperr.Error
	switch {
	case !errors.As(err, &ae):
		return toolError("internal error")
	case ae.Rule != "":
		return toolError("%s (%s): %s", ae.Kind, ae.Rule, ae.Message)
	default:
		return toolError("%s: %s", ae.Kind, ae.Message)
	}
}

func clamp(val, lo, hi int) int {
	return max(lo, min(val, hi))
}
