package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/dailyfortune/internal/aggregate"
	"github.com/kalambet/dailyfortune/internal/daily"
	"github.com/kalambet/dailyfortune/internal/fortune"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service Fortunes
	Gate    *ScopeGate
	TopN    int
}

// NewMCPServer creates an MCP server exposing the fortune tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.TopN <= 0 {
		deps.TopN = aggregate.DefaultTopN
	}
	s := server.NewMCPServer(
		"dailyfortune",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("dailyfortune draws one fortune per user per day and keeps a leaderboard."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("query_fortune",
			mcp.WithDescription("Draw today's fortune for a user, or return the one already drawn."),
			mcp.WithString("user_id", mcp.Description("Stable user identifier"), mcp.Required()),
			mcp.WithString("display_name", mcp.Description("Name used in the generated text")),
			mcp.WithString("scope_id", mcp.Description("Group the user is querying from")),
		),
		mcpQueryFortune(deps),
	)

	s.AddTool(
		mcp.NewTool("leaderboard",
			mcp.WithDescription("Rank the day's fortunes from best to worst."),
			mcp.WithString("scope_id", mcp.Description("Restrict the board to one group")),
			mcp.WithString("day", mcp.Description("Day as YYYY-MM-DD (default today)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of rows (default 10)")),
		),
		mcpLeaderboard(deps),
	)

	s.AddTool(
		mcp.NewTool("fortune_history",
			mcp.WithDescription("Show a user's recent fortunes and statistics over all of them."),
			mcp.WithString("user_id", mcp.Description("Stable user identifier"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Number of recent days to list")),
		),
		mcpFortuneHistory(deps),
	)

	return s
}

func mcpQueryFortune(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || userID == "" {
			return mcpError("user_id is required"), nil
		}
		scope := req.GetString("scope_id", "")
		if !deps.Gate.Allowed(scope) {
			return mcpError(fmt.Sprintf("scope %q is not enabled", scope)), nil
		}

		res, err := deps.Service.Query(ctx, daily.Identity{
			UserID:      userID,
			DisplayName: req.GetString("display_name", ""),
			ScopeID:     scope,
		}, deps.Service.Today())
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}
		if res.State == daily.StateInFlight {
			return mcpText("The fortune is still being read. Try again in a moment."), nil
		}
		return mcpText(res.Record.RenderedResult), nil
	}
}

func mcpLeaderboard(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scope := req.GetString("scope_id", "")
		if !deps.Gate.Allowed(scope) {
			return mcpError(fmt.Sprintf("scope %q is not enabled", scope)), nil
		}
		day := deps.Service.Today()
		if raw := req.GetString("day", ""); raw != "" {
			parsed, err := fortune.ParseDayKey(raw)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			day = parsed
		}
		limit := req.GetInt("limit", deps.TopN)

		board := deps.Service.Leaderboard(day, scope)
		board.Entries = board.Top(limit)
		if board.Entries == nil {
			board.Entries = []aggregate.Entry{}
		}
		return mcpJSON(board)
	}
}

func mcpFortuneHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || userID == "" {
			return mcpError("user_id is required"), nil
		}
		return mcpJSON(deps.Service.History(userID, req.GetInt("limit", 0)))
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
