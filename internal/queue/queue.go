// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package queue connects the message pipeline to NATS subjects
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"

	"github.com/tejzpr/companion-memory/internal/config"
	"github.com/tejzpr/companion-memory/internal/metrics"
	"github.com/tejzpr/companion-memory/internal/pipeline"
)

// Handler answers one event
type Handler interface {
	Handle(ctx context.Context, ev pipeline.Event) string
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, ev pipeline.Event) string

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, ev pipeline.Event) string {
	return f(ctx, ev)
}

// Reply is the payload published on the reply subject
type Reply struct {
	ConversationID int64  `json:"conversation_id"`
	Text           string `json:"text"`
}

// NATSDeliverer publishes replies as JSON
type NATSDeliverer struct {
	conn    *nats.Conn
	subject string
}

// NewNATSDeliverer creates a deliverer publishing on subject
func NewNATSDeliverer(conn *nats.Conn, subject string) *NATSDeliverer {
	return &NATSDeliverer{conn: conn, subject: subject}
}

// Deliver implements pipeline.Deliverer
func (d *NATSDeliverer) Deliver(_ context.Context, conversationID int64, text string) error {
	payload, err := json.Marshal(Reply{ConversationID: conversationID, Text: text})
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	if err := d.conn.Publish(d.subject, payload); err != nil {
		return fmt.Errorf("failed to publish reply on %s: %w", d.subject, err)
	}
	return nil
}

// Worker consumes events from a queue group. Each message runs on its own
// goroutine so one slow model call does not stall other users.
type Worker struct {
	conn    *nats.Conn
	cfg     config.QueueConfig
	handler Handler
	metrics *metrics.Metrics
	logger  *log.Logger

	mu       sync.Mutex
	sub      *nats.Subscription
	stopping bool
	wg       sync.WaitGroup
	baseCtx  context.Context
}

// NewWorker creates a worker; call Start to subscribe
func NewWorker(conn *nats.Conn, cfg config.QueueConfig, handler Handler, m *metrics.Metrics, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{
		conn:    conn,
		cfg:     cfg,
		handler: handler,
		metrics: m,
		logger:  logger.With("component", "queue", "subject", cfg.RequestSubject),
	}
}

// Start subscribes to the request subject. Handlers receive ctx's values
// but not its cancellation, so a message taken before Stop still gets its
// real reply; each model call stays bounded by its own timeout.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sub != nil || w.stopping {
		return errors.New("worker already started")
	}
	if w.cfg.RequestSubject == "" {
		return errors.New("queue request_subject is required")
	}

	w.baseCtx = context.WithoutCancel(ctx)
	sub, err := w.conn.QueueSubscribe(w.cfg.RequestSubject, w.cfg.QueueGroup, w.dispatch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", w.cfg.RequestSubject, err)
	}
	if err := w.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("failed to flush subscription: %w", err)
	}
	w.sub = sub
	w.logger.Info("listening for messages", "queue_group", w.cfg.QueueGroup)
	return nil
}

func (w *Worker) dispatch(msg *nats.Msg) {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		w.logger.Warn("worker stopping, message not handled", "bytes", len(msg.Data))
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()
	go func() {
		defer w.wg.Done()
		w.process(msg.Data)
	}()
}

func (w *Worker) process(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked", "panic", r)
		}
	}()

	var ev pipeline.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		w.logger.Warn("dropping undecodable message", "error", err, "bytes", len(data))
		w.metrics.MessageHandled("invalid")
		return
	}
	w.handler.Handle(w.baseCtx, ev)
}

// Stop unsubscribes and waits for in-flight handlers. A stopped worker
// cannot be restarted.
func (w *Worker) Stop() error {
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.stopping = true
	w.mu.Unlock()

	var err error
	if sub != nil {
		if uerr := sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrConnectionClosed) {
			err = fmt.Errorf("failed to unsubscribe: %w", uerr)
		}
	}
	w.wg.Wait()
	w.logger.Info("worker stopped")
	return err
}
