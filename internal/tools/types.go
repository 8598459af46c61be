// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package tools exposes the memory store as MCP tools for operators
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tejzpr/companion-memory/internal/memory"
	"github.com/tejzpr/companion-memory/internal/vectorindex"
)

// Handler is the signature every tool handler has
type Handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// StatsSource reports vector index diagnostics
type StatsSource interface {
	Stats(ctx context.Context) (vectorindex.Stats, error)
}

// ToolContext holds shared dependencies for all tools
type ToolContext struct {
	Store  *memory.Store
	Index  StatsSource // nil when the semantic index is disabled
	Logger *log.Logger
}

// NewToolContext creates a tool context
func NewToolContext(store *memory.Store, index StatsSource, logger *log.Logger) *ToolContext {
	if logger == nil {
		logger = log.Default()
	}
	return &ToolContext{
		Store:  store,
		Index:  index,
		Logger: logger.With("component", "tools"),
	}
}

var errMissingUserID = errors.New("user_id is required")

// requireUserID reads the user_id argument. MCP numbers arrive as float64.
func requireUserID(request mcp.CallToolRequest) (int64, error) {
	id := int64(request.GetFloat("user_id", 0))
	if id == 0 {
		return 0, errMissingUserID
	}
	return id, nil
}

func withUserID() mcp.ToolOption {
	return mcp.WithNumber("user_id",
		mcp.Required(),
		mcp.Description("Messaging platform user id"),
	)
}

// jsonResult renders v as indented JSON text
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func memoryTypeNames() []string {
	types := memory.AllTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}

func parseTypes(names []string) ([]memory.MemoryType, error) {
	types := make([]memory.MemoryType, 0, len(names))
	for _, n := range names {
		t := memory.MemoryType(n)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown memory type: %s", n)
		}
		types = append(types, t)
	}
	return types, nil
}
