// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewProfileTool creates the companion_profile tool definition
func NewProfileTool() mcp.Tool {
	return mcp.NewTool("companion_profile",
		mcp.WithDescription("Summarize a user: memory count, emotions of the last week, key relationships and important facts."),
		withUserID(),
	)
}

// ProfileHandler handles the companion_profile tool
func ProfileHandler(ctx *ToolContext) Handler {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := requireUserID(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(ctx.Store.GetProfileSummary(c, userID))
	}
}

// NewEmotionsTool creates the companion_emotions tool definition
func NewEmotionsTool() mcp.Tool {
	return mcp.NewTool("companion_emotions",
		mcp.WithDescription("List a user's recorded emotions, newest first."),
		withUserID(),
		mcp.WithNumber("days",
			mcp.Description("Look-back window in days. Default: 7"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results. Default: 10"),
		),
	)
}

// EmotionsHandler handles the companion_emotions tool
func EmotionsHandler(ctx *ToolContext) Handler {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := requireUserID(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		days := int(request.GetFloat("days", 7))
		limit := int(request.GetFloat("limit", 10))

		emotions := ctx.Store.GetRecentEmotions(c, userID, days, limit)
		if len(emotions) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No emotions recorded in the last %d days.", days)), nil
		}
		return jsonResult(emotions)
	}
}

// NewIndexStatsTool creates the companion_index_stats tool definition
func NewIndexStatsTool() mcp.Tool {
	return mcp.NewTool("companion_index_stats",
		mcp.WithDescription("Report the semantic index backend, collection, embedding model and point count."),
	)
}

// IndexStatsHandler handles the companion_index_stats tool
func IndexStatsHandler(ctx *ToolContext) Handler {
	return func(c context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Index == nil {
			return mcp.NewToolResultError("semantic index is disabled"), nil
		}
		stats, err := ctx.Index.Stats(c)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read index stats: %v", err)), nil
		}
		return jsonResult(stats)
	}
}
