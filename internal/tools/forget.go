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

// NewForgetTool creates the companion_forget tool definition
func NewForgetTool() mcp.Tool {
	return mcp.NewTool("companion_forget",
		mcp.WithDescription("Permanently delete one of a user's memories and its embedding."),
		withUserID(),
		mcp.WithNumber("memory_id",
			mcp.Required(),
			mcp.Description("Id of the memory to delete"),
		),
	)
}

// ForgetHandler handles the companion_forget tool
func ForgetHandler(ctx *ToolContext) Handler {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := requireUserID(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		memoryID := request.GetFloat("memory_id", 0)
		if memoryID <= 0 {
			return mcp.NewToolResultError("memory_id is required"), nil
		}

		id := uint(memoryID)
		if err := ctx.Store.DeleteMemory(c, userID, id); err != nil {
			if errors.Is(err, memory.ErrNotFound) {
				return mcp.NewToolResultError(fmt.Sprintf("memory not found: %d", id)), nil
			}
			ctx.Logger.Error("forget failed", "user_id", userID, "memory_id", id, "error", err)
			return mcp.NewToolResultError(fmt.Sprintf("failed to delete memory: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Memory %d deleted", id)), nil
	}
}
