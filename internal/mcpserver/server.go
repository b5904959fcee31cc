// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes diary tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/hibi/internal/apperr"
	"github.com/starford/hibi/internal/diary"
	"github.com/starford/hibi/internal/diaryservice"
)

const entryFormatURI = "hibi://entry-format"

// Server wraps the MCP server with diary tools.
type Server struct {
	mcp *server.MCPServer
	svc *diaryservice.Service
}

// New creates a new MCP server with all diary tools registered. Posting goes
// through svc, so it shares the HTTP endpoint's guard when both run in one
// process.
func New(svc *diaryservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Hibi",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("post_diary",
		mcp.WithDescription("Write the diary entry for a date and publish it (git pull, commit, push). "+
			"Replaces any existing entry for that date. Read the format first via "+
			"get_entry_format or the "+entryFormatURI+" resource."),
		mcp.WithString("date", mcp.Required(), mcp.Description("Entry date, YYYY-MM-DD")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Single-line title")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown body")),
	), s.postDiary)

	s.mcp.AddTool(mcp.NewTool("read_entry",
		mcp.WithDescription("Read the indexed diary entry for a date."),
		mcp.WithString("date", mcp.Required(), mcp.Description("Entry date, YYYY-MM-DD")),
	), s.readEntry)

	s.mcp.AddTool(mcp.NewTool("list_entries",
		mcp.WithDescription("List diary entries, newest first."),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listEntries)

	s.mcp.AddTool(mcp.NewTool("search_entries",
		mcp.WithDescription("Full-text search through entry titles and bodies."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchEntries)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Report whether a post is running and the outcome of the last one."),
	), s.syncStatus)

	s.mcp.AddTool(mcp.NewTool("get_entry_format",
		mcp.WithDescription("Returns how diary entries are laid out and written."),
	), s.getEntryFormat)

	s.mcp.AddResource(
		mcp.NewResource(entryFormatURI, "Diary Entry Format",
			mcp.WithResourceDescription("How diary entries are stored and published."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readEntryFormatResource,
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

func (s *Server) postDiary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec := diary.Record{}
	var err error
	if rec.Date, err = req.RequireString("date"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if rec.Title, err = req.RequireString("title"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if rec.Content, err = req.RequireString("content"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.svc.Submit(ctx, rec)
	if err != nil {
		if errors.Is(err, apperr.ErrBusy) {
			return mcp.NewToolResultError("busy: another update is running, retry in a few seconds"), nil
		}
		step, command, stderr := diaryservice.FailureDetail(err)
		msg := err.Error()
		if command != "" {
			msg = fmt.Sprintf("%s step failed running %s\n%s", step, command, stderr)
		}
		return mcp.NewToolResultError(msg), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s", res.RelPath)), nil
}

func (s *Server) readEntry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date, err := req.RequireString("date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, err := s.svc.GetEntry(ctx, date)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no entry for %s", date)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# %s (%s)\n\n%s", entry.Title, entry.Date, entry.Body)), nil
}

func (s *Server) listEntries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.ListEntries(ctx, req.GetInt("limit", 50), req.GetInt("offset", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"entries": items, "total": total})
}

func (s *Server) searchEntries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no matches"), nil
	}
	return jsonResult(results)
}

func (s *Server) syncStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.svc.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}

func (s *Server) getEntryFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(EntryFormatContract), nil
}

func (s *Server) readEntryFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      entryFormatURI,
			MIMEType: "text/markdown",
			Text:     EntryFormatContract,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
