// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tejzpr/companion-memory/internal/memory"
)

// NewRememberTool creates the companion_remember tool definition
func NewRememberTool() mcp.Tool {
	return mcp.NewTool("companion_remember",
		mcp.WithDescription("Store a memory about a user by hand. The memory is embedded for semantic search when the index is enabled."),
		withUserID(),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The statement to remember"),
		),
		mcp.WithString("memory_type",
			mcp.Required(),
			mcp.Description("Kind of memory"),
			mcp.Enum(memoryTypeNames()...),
		),
		mcp.WithString("importance",
			mcp.Description("Importance. Default: medium"),
			mcp.Enum("low", "medium", "high", "critical"),
		),
		mcp.WithArray("tags",
			mcp.Description("Topic labels"),
		),
		mcp.WithString("emotional_tone",
			mcp.Description("Emotion attached to the memory"),
		),
	)
}

// RememberHandler handles the companion_remember tool
func RememberHandler(ctx *ToolContext) Handler {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := requireUserID(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := request.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		memoryType, err := request.RequireString("memory_type")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		importance, err := memory.ParseImportance(request.GetString("importance", string(memory.ImportanceMedium)))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		m := memory.NewMemory{
			UserID:     userID,
			Content:    content,
			Type:       memory.MemoryType(memoryType),
			Importance: importance,
			Tags:       request.GetStringSlice("tags", []string{}),
		}
		if tone := request.GetString("emotional_tone", ""); tone != "" {
			m.EmotionalTone = &tone
		}

		rec, err := ctx.Store.AddMemory(c, m)
		if err != nil {
			if errors.Is(err, memory.ErrInvalidMemory) {
				return mcp.NewToolResultError(err.Error()), nil
			}
			ctx.Logger.Error("remember failed", "user_id", userID, "error", err)
			return mcp.NewToolResultError(fmt.Sprintf("failed to store memory: %v", err)), nil
		}
		return jsonResult(rec)
	}
}
