// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"gorm.io/gorm"

	"github.com/tejzpr/companion-memory/internal/database"
	"github.com/tejzpr/companion-memory/internal/metrics"
)

// HTTPServer handles the operator HTTP routes
type HTTPServer struct {
	mcpServer *MCPServer
	db        *gorm.DB
	metrics   *metrics.Metrics
}

// NewHTTPServer creates the HTTP surface. mcpServer may be nil, which
// leaves /mcp unrouted.
func NewHTTPServer(mcpServer *MCPServer, db *gorm.DB, m *metrics.Metrics) *HTTPServer {
	return &HTTPServer{
		mcpServer: mcpServer,
		db:        db,
		metrics:   m,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *HTTPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.HandleHealth)
	mux.Handle("/metrics", h.metrics.Handler())

	if h.mcpServer != nil {
		mux.Handle("/mcp", server.NewStreamableHTTPServer(h.mcpServer.GetMCPServer()))
	}
}

// HandleHealth reports whether the database answers
func (h *HTTPServer) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if err := database.Ping(h.db); err != nil {
		status["status"] = "unavailable"
		status["error"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
