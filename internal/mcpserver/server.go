// Package mcpserver exposes the projection engine as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"jsonrel/internal/jsonvalue"
	"jsonrel/internal/relational"
	"jsonrel/internal/schema"
)

// Fetcher retrieves a JSON document by URL. *fetch.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (jsonvalue.Value, error)
}

// Deps are the collaborators the tools need.
type Deps struct {
	Fetcher  Fetcher
	Logger   *zap.Logger
	MaxDepth int
}

// NewServer creates an MCP server with every jsonrel tool registered.
func NewServer(name, version string, deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
	)
	RegisterTools(s, deps)
	return s
}

// RegisterTools adds project_json, project_url and infer_schema to s.
// project_url is only registered when deps.Fetcher is set.
func RegisterTools(s *server.MCPServer, deps *Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	registerProjectJSONTool(s, deps)
	if deps.Fetcher != nil {
		registerProjectURLTool(s, deps)
	}
	registerInferSchemaTool(s, deps)
}

func registerProjectJSONTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"project_json",
		mcp.WithDescription(
			"Decompose a JSON document into relational tables. "+
				"Every list of objects becomes a table with an integer id and a hierarchical uid; "+
				"nested objects and lists become child tables linked to their parent. "+
				"Returns {\"tables\":{name:[rows]},\"relationships\":[{parent,child,foreign_key}]}.",
		),
		mcp.WithString(
			"document",
			mcp.Required(),
			mcp.Description("The JSON document text. Required."),
		),
		mcp.WithString(
			"root_table",
			mcp.Description("Optional - Table name to use when the document root is an array"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("document")
		if err != nil {
			return nil, err
		}
		doc, err := jsonvalue.Decode([]byte(text))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid document: %v", err)), nil
		}
		return projectResult(deps, doc, req.GetString("root_table", ""))
	})
}

func registerProjectURLTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"project_url",
		mcp.WithDescription(
			"Fetch a JSON API response (format=json is appended when absent) and decompose it "+
				"into relational tables, like project_json.",
		),
		mcp.WithString(
			"url",
			mcp.Required(),
			mcp.Description("Absolute http(s) URL of the JSON API. Required."),
		),
		mcp.WithString(
			"root_table",
			mcp.Description("Optional - Table name to use when the response root is an array"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawURL, err := req.RequireString("url")
		if err != nil {
			return nil, err
		}
		rawURL = strings.TrimSpace(rawURL)
		if rawURL == "" {
			return mcp.NewToolResultError("parameter 'url' cannot be empty"), nil
		}
		doc, err := deps.Fetcher.Fetch(ctx, rawURL)
		if err != nil {
			deps.Logger.Warn("project_url fetch failed", zap.String("url", rawURL), zap.Error(err))
			return mcp.NewToolResultError(err.Error()), nil
		}
		return projectResult(deps, doc, req.GetString("root_table", ""))
	})
}

func registerInferSchemaTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"infer_schema",
		mcp.WithDescription(
			"Infer a JSON Schema from a single JSON document sample and report whether the "+
				"document validates against it.",
		),
		mcp.WithString(
			"document",
			mcp.Required(),
			mcp.Description("The JSON document text. Required."),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("document")
		if err != nil {
			return nil, err
		}
		doc, err := jsonvalue.Decode([]byte(text))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid document: %v", err)), nil
		}
		node := schema.Infer(doc)
		report, _ := schema.Report(node, doc)
		out, err := json.Marshal(struct {
			Schema     any    `json:"schema"`
			Validation string `json:"validation"`
		}{Schema: schema.ToJSONSchema(node), Validation: report})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema: %w", err)
		}
		return mcp.NewToolResultText(string(out)), nil
	})
}

func projectResult(deps *Deps, doc jsonvalue.Value, rootTable string) (*mcp.CallToolResult, error) {
	opts := []relational.Option{relational.WithRootTable(rootTable)}
	if deps.MaxDepth > 0 {
		opts = append(opts, relational.WithMaxDepth(deps.MaxDepth))
	}
	proj, err := relational.ProjectWithOptions(doc, opts...)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := proj.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal projection: %w", err)
	}
	deps.Logger.Debug("projection served",
		zap.Int("tables", len(proj.Tables)),
		zap.Int("rows", proj.RowCount()),
	)
	return mcp.NewToolResultText(string(out)), nil
}
