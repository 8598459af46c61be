// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tejzpr/companion-memory/internal/memory"
)

// NewRecallTool creates the companion_recall tool definition
func NewRecallTool() mcp.Tool {
	return mcp.NewTool("companion_recall",
		mcp.WithDescription("Look up what is remembered about a user. With a query, runs a semantic search and returns matches with their similarity. Without one, lists the most recent memories."),
		withUserID(),
		mcp.WithString("query",
			mcp.Description("Free text to match against memory content"),
		),
		mcp.WithArray("types",
			mcp.Description("Restrict to these memory types: "+fmt.Sprint(memoryTypeNames())),
		),
		mcp.WithString("min_importance",
			mcp.Description("Only list memories at or above this importance (listing mode only)"),
			mcp.Enum("low", "medium", "high", "critical"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results. Default: 10"),
		),
	)
}

// RecallHandler handles the companion_recall tool
func RecallHandler(ctx *ToolContext) Handler {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := requireUserID(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		query := request.GetString("query", "")
		limit := int(request.GetFloat("limit", float64(memory.DefaultLimit)))
		types, err := parseTypes(request.GetStringSlice("types", []string{}))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if query != "" {
			hits := ctx.Store.SearchSemantic(c, userID, query, types, limit)
			if len(hits) == 0 {
				return mcp.NewToolResultText(fmt.Sprintf("No memories found for query: '%s'", query)), nil
			}
			return jsonResult(hits)
		}

		q := memory.Query{Types: types, Limit: limit}
		if raw := request.GetString("min_importance", ""); raw != "" {
			imp, err := memory.ParseImportance(raw)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			q.MinImportance = imp
		}

		records := ctx.Store.GetMemories(c, userID, q)
		if len(records) == 0 {
			return mcp.NewToolResultText("No memories found."), nil
		}
		return jsonResult(records)
	}
}
