// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pipeline

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/companion-memory/internal/llm"
	"github.com/tejzpr/companion-memory/internal/logging"
	"github.com/tejzpr/companion-memory/internal/metrics"
	"github.com/tejzpr/companion-memory/internal/persona"
	"github.com/tejzpr/companion-memory/internal/prompt"
	"github.com/tejzpr/companion-memory/internal/shortterm"
)

type delivery struct {
	conversationID int64
	text           string
}

type recordingDeliverer struct {
	mu   sync.Mutex
	sent []delivery
	err  error
}

func (d *recordingDeliverer) Deliver(_ context.Context, conversationID int64, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, delivery{conversationID, text})
	return d.err
}

type recordingAnalyzer struct {
	mu         sync.Mutex
	utterances []string
}

func (a *recordingAnalyzer) Submit(_ context.Context, _ int64, utterance string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.utterances = append(a.utterances, utterance)
}

type usersFunc func(ctx context.Context, userID int64) error

func (f usersFunc) EnsureUser(ctx context.Context, userID int64) error { return f(ctx, userID) }

type fixture struct {
	pipeline  *Pipeline
	cache     *shortterm.MemoryCache
	deliverer *recordingDeliverer
	analyzer  *recordingAnalyzer
	metrics   *metrics.Metrics
	seen      [][]prompt.Turn
}

func newFixture(t *testing.T, complete func([]prompt.Turn) (string, error)) *fixture {
	t.Helper()
	f := &fixture{
		cache:     shortterm.NewMemoryCache(shortterm.Options{Logger: logging.Discard()}),
		deliverer: &recordingDeliverer{},
		analyzer:  &recordingAnalyzer{},
		metrics:   metrics.New(nil),
	}
	completer := llm.Func(func(_ context.Context, turns []prompt.Turn) (string, error) {
		f.seen = append(f.seen, turns)
		return complete(turns)
	})
	f.pipeline = New(Deps{
		Cache:     f.cache,
		Builder:   prompt.NewBuilder(nil, prompt.DefaultOptions(), f.metrics, logging.Discard()),
		Completer: completer,
		Analyzer:  f.analyzer,
		Deliverer: f.deliverer,
		Metrics:   f.metrics,
		Logger:    logging.Discard(),
	})
	return f
}

func (f *fixture) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestHandle_Reply(t *testing.T) {
	f := newFixture(t, func([]prompt.Turn) (string, error) { return "Привет!", nil })
	ctx := context.Background()

	reply := f.pipeline.Handle(ctx, Event{UserID: 7, Text: "Привет", ConversationID: 70})
	assert.Equal(t, "Привет!", reply)

	require.Len(t, f.deliverer.sent, 1)
	assert.Equal(t, delivery{70, "Привет!"}, f.deliverer.sent[0])

	history, err := f.cache.History(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, shortterm.RoleUser, history[0].Role)
	assert.Equal(t, "Привет", history[0].Content)
	assert.Equal(t, shortterm.RoleAssistant, history[1].Role)
	assert.Equal(t, "Привет!", history[1].Content)

	assert.Equal(t, []string{"Привет"}, f.analyzer.utterances)
	assert.True(t, f.cache.IsChatting(ctx, 7))
	assert.Contains(t, f.scrape(t), `companion_messages_handled_total{result="replied"} 1`)
}

func TestHandle_ReplaysHistory(t *testing.T) {
	f := newFixture(t, func([]prompt.Turn) (string, error) { return "ok", nil })
	ctx := context.Background()

	f.pipeline.Handle(ctx, Event{UserID: 1, Text: "first", ConversationID: 1})
	f.pipeline.Handle(ctx, Event{UserID: 1, Text: "second", ConversationID: 1})

	require.Len(t, f.seen, 2)
	turns := f.seen[1]
	require.Len(t, turns, 4)
	assert.Equal(t, prompt.RoleSystem, turns[0].Role)
	assert.Equal(t, prompt.Turn{Role: prompt.RoleUser, Content: "first"}, turns[1])
	assert.Equal(t, prompt.Turn{Role: prompt.RoleAssistant, Content: "ok"}, turns[2])
	assert.Equal(t, prompt.Turn{Role: prompt.RoleUser, Content: "second"}, turns[3])
}

func TestHandle_FailureApologizes(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{name: "timeout", err: llm.ErrTimeout},
		{name: "status", err: &llm.StatusError{Code: 500, Err: errors.New("boom")}},
		{name: "blank reply", reply: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func([]prompt.Turn) (string, error) { return tt.reply, tt.err })
			ctx := context.Background()

			reply := f.pipeline.Handle(ctx, Event{UserID: 3, Text: "Как дела?", ConversationID: 30})
			assert.Equal(t, Apology, reply)

			require.Len(t, f.deliverer.sent, 1)
			assert.Equal(t, delivery{30, Apology}, f.deliverer.sent[0])

			history, err := f.cache.History(ctx, 3)
			require.NoError(t, err)
			assert.Empty(t, history)
			assert.Empty(t, f.analyzer.utterances)
			assert.Contains(t, f.scrape(t), `companion_messages_handled_total{result="apology"} 1`)
		})
	}
}

func TestHandle_InvalidEvent(t *testing.T) {
	called := false
	f := newFixture(t, func([]prompt.Turn) (string, error) {
		called = true
		return "x", nil
	})

	assert.Equal(t, "", f.pipeline.Handle(context.Background(), Event{UserID: 0, Text: "hi"}))
	assert.Equal(t, "", f.pipeline.Handle(context.Background(), Event{UserID: 1, Text: "  "}))
	assert.False(t, called)
	assert.Empty(t, f.deliverer.sent)
	assert.Contains(t, f.scrape(t), `companion_messages_handled_total{result="invalid"} 2`)
}

func TestHandle_PersonaShapesPrompt(t *testing.T) {
	f := newFixture(t, func([]prompt.Turn) (string, error) { return "ok", nil })
	f.pipeline.deps.Personas = persona.ProviderFunc(func(context.Context, int64) (*persona.Binding, error) {
		return &persona.Binding{Persona: persona.Config{Name: "Луна", BaseTemplate: "Ты Луна."}}, nil
	})

	f.pipeline.Handle(context.Background(), Event{UserID: 5, Text: "hi", ConversationID: 5})
	require.Len(t, f.seen, 1)
	assert.Contains(t, f.seen[0][0].Content, "Ты Луна.")
}

func TestHandle_CollaboratorErrorsAreNotFatal(t *testing.T) {
	f := newFixture(t, func([]prompt.Turn) (string, error) { return "still here", nil })
	f.pipeline.deps.Users = usersFunc(func(context.Context, int64) error { return errors.New("db down") })
	f.pipeline.deps.Personas = persona.ProviderFunc(func(context.Context, int64) (*persona.Binding, error) {
		return nil, errors.New("catalog unreadable")
	})
	f.deliverer.err = errors.New("bus down")

	reply := f.pipeline.Handle(context.Background(), Event{UserID: 9, Text: "hello", ConversationID: 9})
	assert.Equal(t, "still here", reply)
	assert.Len(t, f.deliverer.sent, 1)
}

func TestEventValidate(t *testing.T) {
	assert.NoError(t, Event{UserID: 1, Text: "x"}.Validate())
	assert.ErrorIs(t, Event{Text: "x"}.Validate(), ErrInvalidEvent)
	assert.ErrorIs(t, Event{UserID: 1}.Validate(), ErrInvalidEvent)
}
