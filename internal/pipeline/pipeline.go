// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package pipeline handles one inbound chat message end to end: context
// assembly, the model call, the short-term cache and memory extraction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tejzpr/companion-memory/internal/llm"
	"github.com/tejzpr/companion-memory/internal/metrics"
	"github.com/tejzpr/companion-memory/internal/persona"
	"github.com/tejzpr/companion-memory/internal/prompt"
	"github.com/tejzpr/companion-memory/internal/shortterm"
)

// Apology is the reply sent when no model answer could be produced
const Apology = "Извините, произошла ошибка при обработке вашего сообщения. Попробуйте еще раз."

// ErrInvalidEvent is returned by Event.Validate
var ErrInvalidEvent = errors.New("invalid event")

// Event is an inbound chat message
type Event struct {
	UserID         int64  `json:"user_id"`
	Text           string `json:"text"`
	ConversationID int64  `json:"conversation_id"`
}

// Validate checks that the event can be processed
func (e Event) Validate() error {
	if e.UserID == 0 {
		return fmt.Errorf("%w: missing user_id", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidEvent)
	}
	return nil
}

// Deliverer sends a reply back to the conversation
type Deliverer interface {
	Deliver(ctx context.Context, conversationID int64, text string) error
}

// Users registers first contact with a user
type Users interface {
	EnsureUser(ctx context.Context, userID int64) error
}

// Analyzer extracts memories from an utterance in the background
type Analyzer interface {
	Submit(ctx context.Context, userID int64, utterance string)
}

// Deps are the collaborators of a Pipeline. Users, Analyzer and Deliverer
// are optional.
type Deps struct {
	Users     Users
	Cache     shortterm.Cache
	Personas  persona.Provider
	Builder   *prompt.Builder
	Completer llm.Completer
	Analyzer  Analyzer
	Deliverer Deliverer
	// Timeout bounds the model call; zero leaves it to the Completer
	Timeout time.Duration
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// Pipeline processes messages. Handle is safe for concurrent use; it keeps
// no per-user state of its own.
type Pipeline struct {
	deps   Deps
	logger *log.Logger
}

// New creates a pipeline
func New(deps Deps) *Pipeline {
	if deps.Personas == nil {
		deps.Personas = persona.None
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{deps: deps, logger: logger.With("component", "pipeline")}
}

// Handle answers ev and returns the text delivered. A failed model call
// yields Apology and leaves the conversation cache untouched. An invalid
// event is dropped and yields "".
func (p *Pipeline) Handle(ctx context.Context, ev Event) string {
	if err := ev.Validate(); err != nil {
		p.logger.Warn("dropping event", "user_id", ev.UserID, "conversation_id", ev.ConversationID, "error", err)
		p.deps.Metrics.MessageHandled("invalid")
		return ""
	}
	logger := p.logger.With("user_id", ev.UserID, "conversation_id", ev.ConversationID)

	if p.deps.Users != nil {
		if err := p.deps.Users.EnsureUser(ctx, ev.UserID); err != nil {
			logger.Error("failed to register user", "error", err)
		}
	}
	if err := p.deps.Cache.SetChatting(ctx, ev.UserID, true); err != nil {
		logger.Warn("failed to mark chat session", "error", err)
	}

	history, err := p.deps.Cache.History(ctx, ev.UserID)
	if err != nil {
		logger.Error("failed to load history", "error", err)
		history = nil
	}

	binding, err := p.deps.Personas.ActivePersonaFor(ctx, ev.UserID)
	if err != nil {
		logger.Error("failed to resolve persona", "error", err)
		binding = nil
	}

	turns := p.deps.Builder.BuildPrompt(ctx, ev.UserID, ev.Text, toPromptTurns(history), binding)

	reply, err := p.complete(ctx, turns)
	if err != nil {
		logger.Error("no reply from model", "error", err)
		p.deps.Metrics.MessageHandled("apology")
		p.deliver(ctx, logger, ev.ConversationID, Apology)
		return Apology
	}

	if err := p.deps.Cache.Append(ctx, ev.UserID, shortterm.RoleUser, ev.Text); err != nil {
		logger.Error("failed to cache user turn", "error", err)
	} else if err := p.deps.Cache.Append(ctx, ev.UserID, shortterm.RoleAssistant, reply); err != nil {
		logger.Error("failed to cache assistant turn", "error", err)
	}

	if p.deps.Analyzer != nil {
		p.deps.Analyzer.Submit(ctx, ev.UserID, ev.Text)
	}

	p.deps.Metrics.MessageHandled("replied")
	p.deliver(ctx, logger, ev.ConversationID, reply)
	logger.Info("reply sent", "turns", len(turns), "reply_chars", len([]rune(reply)))
	return reply
}

func (p *Pipeline) complete(ctx context.Context, turns []prompt.Turn) (string, error) {
	if p.deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.deps.Timeout)
		defer cancel()
	}
	reply, err := p.deps.Completer.Complete(ctx, turns)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", llm.ErrEmptyReply
	}
	return reply, nil
}

func (p *Pipeline) deliver(ctx context.Context, logger *log.Logger, conversationID int64, text string) {
	if p.deps.Deliverer == nil {
		return
	}
	if err := p.deps.Deliverer.Deliver(ctx, conversationID, text); err != nil {
		logger.Error("failed to deliver reply", "error", err)
	}
}

func toPromptTurns(history []shortterm.Turn) []prompt.Turn {
	turns := make([]prompt.Turn, len(history))
	for i, t := range history {
		turns[i] = prompt.Turn{Role: t.Role, Content: t.Content}
	}
	return turns
}
