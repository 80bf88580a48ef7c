// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the canvas commands and vault lookups via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tether/internal/apperr"
	"github.com/starford/tether/internal/canvassync"
	"github.com/starford/tether/internal/linker"
	"github.com/starford/tether/internal/vault"
	"github.com/starford/tether/internal/workspace"
)

const propertyFormatURI = "tether://canvas-properties"

// Deps are the services the tools call into.
type Deps struct {
	Vault     *vault.Vault
	Workspace *workspace.Workspace
	Linker    *linker.Linker
	Engine    *canvassync.Engine
}

// Server wraps the MCP server with the Tether tools.
type Server struct {
	mcp       *server.MCPServer
	vault     *vault.Vault
	workspace *workspace.Workspace
	linker    *linker.Linker
	engine    *canvassync.Engine
}

// New creates a new MCP server with all tools registered.
func New(d Deps, version string) *Server {
	s := &Server{vault: d.Vault, workspace: d.Workspace, linker: d.Linker, engine: d.Engine}

	s.mcp = server.NewMCPServer(
		"Tether",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("link_canvas_selection",
		mcp.WithDescription("Connect canvas nodes whose documents link to each other. "+
			"Creates one edge per missing link direction between the given nodes and "+
			"re-routes every edge between them."),
		mcp.WithString("canvas", mcp.Required(), mcp.Description("Path of the canvas file (e.g. boards/Plan.canvas)")),
		mcp.WithArray("nodes", mcp.Items(map[string]any{"type": "string"}), mcp.Description("Node ids to connect; all nodes when omitted")),
	), s.linkCanvasSelection)

	s.mcp.AddTool(mcp.NewTool("strip_canvas_properties",
		mcp.WithDescription("Remove the frontmatter property named after the canvas from every document on it. "+
			"The canvas itself is left unchanged."),
		mcp.WithString("canvas", mcp.Required(), mcp.Description("Path of the canvas file")),
	), s.stripCanvasProperties)

	s.mcp.AddTool(mcp.NewTool("get_canvas",
		mcp.WithDescription("Return the nodes and edges of a canvas as JSON."),
		mcp.WithString("canvas", mcp.Required(), mcp.Description("Path of the canvas file")),
	), s.getCanvas)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all files that link to the specified file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the file to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through notes content and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a Markdown note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note (e.g. folder/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List the paths of all indexed notes."),
	), s.listNotes)

	s.mcp.AddResource(
		mcp.NewResource(propertyFormatURI, "Canvas Property Format",
			mcp.WithResourceDescription("How canvas membership and edges are mirrored into note frontmatter."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPropertyFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) linkCanvasSelection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("canvas")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.workspace.Open(path)
	if err != nil {
		return toolError(path, err), nil
	}
	ids := stringArgs(req.GetArguments()["nodes"])
	if len(ids) == 0 {
		for _, n := range c.Snapshot().Nodes {
			ids = append(ids, n.ID)
		}
	}
	c.Select(ids...)

	res, err := s.linker.LinkSelection(ctx, c)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created %d edges, re-routed %d", res.Created, res.Rerouted)), nil
}

func (s *Server) stripCanvasProperties(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("canvas")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.workspace.Open(path)
	if err != nil {
		return toolError(path, err), nil
	}
	n, err := s.engine.Strip(ctx, path, c.Snapshot().Documents())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("stripped %d documents", n)), nil
}

func (s *Server) getCanvas(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("canvas")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.workspace.Open(path)
	if err != nil {
		return toolError(path, err), nil
	}
	out, _ := json.MarshalIndent(c.Snapshot(), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.vault.Backlinks(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(bl, "\n")), nil
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.vault.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.vault.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) listNotes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, _, err := s.vault.ListNotes(ctx, 0, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	paths := make([]string, 0, len(items))
	for _, it := range items {
		paths = append(paths, it.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readPropertyFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      propertyFormatURI,
			MIMEType: "text/markdown",
			Text:     PropertyFormat,
		},
	}, nil
}

// stringArgs returns the strings of a JSON array argument.
func stringArgs(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toolError(path string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path))
	case errors.Is(err, apperr.ErrNotCanvas):
		return mcp.NewToolResultError(fmt.Sprintf("not a canvas file: %s", path))
	}
	return mcp.NewToolResultError(err.Error())
}
