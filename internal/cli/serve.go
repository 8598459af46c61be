// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tejzpr/companion-memory/internal/app"
	"github.com/tejzpr/companion-memory/internal/extractor"
	"github.com/tejzpr/companion-memory/internal/llm"
	"github.com/tejzpr/companion-memory/internal/pipeline"
	"github.com/tejzpr/companion-memory/internal/queue"
	"github.com/tejzpr/companion-memory/internal/server"
	"github.com/tejzpr/companion-memory/internal/shortterm"
	"github.com/tejzpr/companion-memory/pkg/scheduler"
)

const (
	extractorConcurrency = 4
	shutdownTimeout      = 15 * time.Second
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the queue worker, embedding repair and the metrics listener",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.Config, a.Logger

	cache, err := shortterm.NewFromConfig(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	personas, err := a.Personas()
	if err != nil {
		return err
	}

	completer, err := llm.NewFromConfig(cfg.LLM, a.Metrics, logger)
	if err != nil {
		return err
	}

	conn, embedded, err := queue.Connect(cfg.Queue, logger)
	if err != nil {
		return err
	}
	defer func() {
		conn.Close()
		if embedded != nil {
			embedded.Shutdown()
		}
	}()

	ext := extractor.New(a.Store, logger, extractorConcurrency)
	p := pipeline.New(pipeline.Deps{
		Users:     a.Store,
		Cache:     cache,
		Personas:  personas,
		Builder:   a.PromptBuilder(),
		Completer: completer,
		Analyzer:  ext,
		Deliverer: queue.NewNATSDeliverer(conn, cfg.Queue.ReplySubject),
		Timeout:   cfg.LLM.Timeout(),
		Metrics:   a.Metrics,
		Logger:    logger,
	})

	worker := queue.NewWorker(conn, cfg.Queue, p, a.Metrics, logger)
	if err := worker.Start(ctx); err != nil {
		return err
	}

	sched := scheduler.NewScheduler(a.Store, cfg.Reindex.IntervalMinutes, cfg.Reindex.BatchSize, logger)
	sched.Start(ctx)

	httpSrv := startHTTP(a, cfg.Metrics.Listen)

	logger.Info("companion ready", "request_subject", cfg.Queue.RequestSubject, "reply_subject", cfg.Queue.ReplySubject)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	errs = append(errs, worker.Stop())
	ext.Wait()
	sched.Stop()
	if httpSrv != nil {
		errs = append(errs, httpSrv.Shutdown(shutdownCtx))
	}
	return errors.Join(errs...)
}

// startHTTP serves health, metrics and MCP routes. An empty listen address
// disables the listener.
func startHTTP(a *app.App, listen string) *http.Server {
	if listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mcpServer := server.NewMCPServer(a.ToolContext(), a.Logger)
	server.NewHTTPServer(mcpServer, a.DB.DB(), a.Metrics).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.Logger.Info("HTTP listener starting", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTP listener failed", "error", err)
		}
	}()
	return srv
}
