package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

const (
	workflowsURI   = "opstower://workflows"
	permissionsURI = "opstower://permissions"
	rolesURI       = "opstower://roles"
	roleURIPrefix  = "opstower://roles/"
)

// registerResources adds read-only reference data LLM clients can load
// into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			workflowsURI,
			"Approval Workflows",
			mcp.WithResourceDescription(
				"Approval workflow for every sensitive action: sensitivity, approvals "+
					"needed, MFA requirement, auto-granted permissions and grant TTL.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleWorkflowsResource,
	)

	srv.AddResource(
		mcp.NewResource(
			permissionsURI,
			"Permission Catalog",
			mcp.WithResourceDescription("Every permission key with its description and whether it is region agnostic."),
			mcp.WithMIMEType("application/json"),
		),
		s.handlePermissionsResource,
	)

	srv.AddResource(
		mcp.NewResource(
			rolesURI,
			"Roles",
			mcp.WithResourceDescription("Every role with its level, direct permissions and parents."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleRolesResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			roleURIPrefix+"{role}",
			"Role",
			mcp.WithTemplateDescription("One role with its level, direct permissions and parents."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleRoleResource,
	)
}

func (s *MCPServer) handleWorkflowsResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(workflowsURI, s.engine.Workflows().List())
}

func (s *MCPServer) handlePermissionsResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(permissionsURI, model.Catalog())
}

func (s *MCPServer) handleRolesResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(rolesURI, s.engine.Roles())
}

func (s *MCPServer) handleRoleResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, roleURIPrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("invalid role URI %q: expected %s{role}", uri, roleURIPrefix)
	}
	for _, r := range s.engine.Roles() {
		if r.ID == id {
			return jsonContents(uri, r)
		}
	}
	return nil, fmt.Errorf("role %q not found", id)
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
