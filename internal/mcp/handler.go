package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required, non-blank string argument.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || strings.TrimSpace(val) == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

func optionalBool(request mcp.CallToolRequest, key string) bool {
	return request.GetBool(key, false)
}

func optionalStringSlice(request mcp.CallToolRequest, key string) []string {
	return request.GetStringSlice(key, nil)
}

// getObjectArg extracts a map argument from the tool request. Returns nil
// if the key is not present or not a map.
func getObjectArg(request mcp.CallToolRequest, key string) map[string]any {
	args := request.GetArguments()
	if args == nil {
		return nil
	}
	m, ok := args[key].(map[string]any)
	if !ok {
		return nil
	}
	return m
}

// requirePermission parses a required permission argument.
func requirePermission(request mcp.CallToolRequest, key string) (model.Permission, error) {
	raw, err := requireString(request, key)
	if err != nil {
		return "", err
	}
	p, ok := model.ParsePermission(raw)
	if !ok {
		return "", fmt.Errorf("unknown permission %q", raw)
	}
	return p, nil
}

// optionalDataClass parses data_class, defaulting to public.
func optionalDataClass(request mcp.CallToolRequest, key string) (model.DataClass, error) {
	raw := optionalString(request, key)
	if raw == "" {
		return model.DataPublic, nil
	}
	return model.ParseDataClass(raw)
}

// optionalOwnership parses an ownership type. An empty value stays unknown
// so the engine can reject it where ownership is mandatory.
func optionalOwnership(request mcp.CallToolRequest, key string) (model.OwnershipType, error) {
	raw := optionalString(request, key)
	if raw == "" {
		return model.OwnershipUnknown, nil
	}
	o, ok := model.ParseOwnershipType(raw)
	if !ok {
		return "", fmt.Errorf("unknown ownership type %q", raw)
	}
	return o, nil
}

func optionalOperation(request mcp.CallToolRequest, key string) (model.OperationType, error) {
	switch op := model.OperationType(strings.ToLower(optionalString(request, key))); op {
	case "":
		return model.OperationRead, nil
	case model.OperationRead, model.OperationWrite:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation %q", op)
	}
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}
