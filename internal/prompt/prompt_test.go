// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package prompt

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/companion-memory/internal/logging"
	"github.com/tejzpr/companion-memory/internal/memory"
	"github.com/tejzpr/companion-memory/internal/persona"
)

// stubSource returns canned memory and records what it was asked
type stubSource struct {
	semantic  []memory.ScoredRecord
	important []memory.Record
	emotions  []memory.EmotionRecord

	semanticQuery string
	semanticLimit int
	memoryQuery   memory.Query
	emotionDays   int
	emotionLimit  int
}

func (s *stubSource) SearchSemantic(_ context.Context, _ int64, query string, _ []memory.MemoryType, limit int) []memory.ScoredRecord {
	s.semanticQuery = query
	s.semanticLimit = limit
	if len(s.semantic) > limit {
		return s.semantic[:limit]
	}
	return s.semantic
}

func (s *stubSource) GetMemories(_ context.Context, _ int64, q memory.Query) []memory.Record {
	s.memoryQuery = q
	if len(s.important) > q.Limit {
		return s.important[:q.Limit]
	}
	return s.important
}

func (s *stubSource) GetRecentEmotions(_ context.Context, _ int64, days, limit int) []memory.EmotionRecord {
	s.emotionDays = days
	s.emotionLimit = limit
	return s.emotions
}

func strPtr(s string) *string { return &s }

func fullSource() *stubSource {
	return &stubSource{
		semantic: []memory.ScoredRecord{
			{Record: memory.Record{Content: "работает программистом", Type: memory.TypeFact}, Similarity: 0.834},
			{Record: memory.Record{Content: "любит горы", Type: memory.TypePreference}, Similarity: 0.71},
		},
		important: []memory.Record{
			{Content: "мечтает о Японии", Type: memory.TypeGoal, Importance: memory.ImportanceHigh},
		},
		emotions: []memory.EmotionRecord{
			{Emotion: "tired", Intensity: 0.7, Context: strPtr("очень устал")},
			{Emotion: "happy", Intensity: 0.7},
		},
	}
}

func newTestBuilder(src MemorySource, opts Options) *Builder {
	return NewBuilder(src, opts, nil, logging.Discard())
}

func TestBuildPrompt_ZeroMemories(t *testing.T) {
	b := newTestBuilder(&stubSource{}, DefaultOptions())

	turns := b.BuildPrompt(context.Background(), 1, "привет", nil, nil)

	require.Len(t, turns, 2)
	assert.Equal(t, RoleSystem, turns[0].Role)
	assert.Equal(t, defaultTemplate+instructions, turns[0].Content)
	assert.NotContains(t, turns[0].Content, headerSemantic)
	assert.NotContains(t, turns[0].Content, headerImportant)
	assert.NotContains(t, turns[0].Content, headerEmotions)
	assert.Equal(t, Turn{Role: RoleUser, Content: "привет"}, turns[1])
}

func TestBuildPrompt_NilSource(t *testing.T) {
	b := newTestBuilder(nil, DefaultOptions())
	turns := b.BuildPrompt(context.Background(), 1, "hi", nil, nil)
	require.Len(t, turns, 2)
	assert.Equal(t, defaultTemplate+instructions, turns[0].Content)
}

func TestBuildPrompt_SectionsInFixedOrder(t *testing.T) {
	src := fullSource()
	b := newTestBuilder(src, DefaultOptions())

	binding := &persona.Binding{
		Persona: persona.Config{
			Name:         "anna",
			BaseTemplate: "Ты Анна.",
			ReplyStyle: &persona.ReplyStyle{
				Pace:       "неспешный",
				Length:     "коротко",
				Structure:  []string{"вопрос в конце"},
				Signatures: []string{"обнимаю"},
			},
		},
		Overrides: persona.Overrides{
			PromptAddition:      strPtr("Называй его Лёша."),
			ReplyStyleOverrides: map[string]string{"tone": "playful", "emoji": "редко"},
		},
	}

	turns := b.BuildPrompt(context.Background(), 1, "как дела?", nil, binding)
	system := turns[0].Content

	want := "Ты Анна.\n\n" +
		"Называй его Лёша.\n\n" +
		headerSemantic + "\n" +
		"- работает программистом (тип: fact, схожесть: 0.83)\n" +
		"- любит горы (тип: preference, схожесть: 0.71)\n\n" +
		headerImportant + "\n" +
		"- мечтает о Японии (тип: goal, важность: high)\n\n" +
		headerEmotions + "\n" +
		"- tired (интенсивность: 0.7) - очень устал\n" +
		"- happy (интенсивность: 0.7)\n\n" +
		instructions +
		"\n\nСТИЛЬ ОТВЕТОВ:\n" +
		"- Темп общения: неспешный\n" +
		"- Длина ответов: коротко\n" +
		"- Структура: вопрос в конце\n" +
		"- Подписи/фразы: обнимаю\n" +
		"\nКАСТОМИЗАЦИИ СТИЛЯ:\n" +
		"- emoji: редко\n" +
		"- tone: playful\n"
	assert.Equal(t, want, system)

	assert.Equal(t, "как дела?", src.semanticQuery)
	assert.Equal(t, 8, src.semanticLimit)
	assert.Equal(t, memory.ImportanceHigh, src.memoryQuery.MinImportance)
	assert.Equal(t, 5, src.memoryQuery.Limit)
	assert.Equal(t, 3, src.emotionDays)
	assert.Equal(t, 5, src.emotionLimit)
}

func TestBuildPrompt_PersonaWithoutStyleSkipsOverrides(t *testing.T) {
	b := newTestBuilder(&stubSource{}, DefaultOptions())
	binding := &persona.Binding{
		Persona:   persona.Config{Name: "max", BaseTemplate: "You are Max."},
		Overrides: persona.Overrides{ReplyStyleOverrides: map[string]string{"tone": "dry"}},
	}

	system := b.BuildPrompt(context.Background(), 1, "hi", nil, binding)[0].Content
	assert.Equal(t, "You are Max.\n\n"+instructions, system)
}

func TestBuildPrompt_ReplaysHistory(t *testing.T) {
	b := newTestBuilder(&stubSource{}, DefaultOptions())
	history := []Turn{
		{Role: RoleUser, Content: "one"},
		{Role: RoleAssistant, Content: "two"},
		{Role: "system", Content: "ignored"},
		{Role: RoleUser, Content: "three"},
	}

	turns := b.BuildPrompt(context.Background(), 1, "four", history, nil)

	require.Len(t, turns, 5)
	assert.Equal(t, []Turn{
		{Role: RoleUser, Content: "one"},
		{Role: RoleAssistant, Content: "two"},
		{Role: RoleUser, Content: "three"},
		{Role: RoleUser, Content: "four"},
	}, turns[1:])
}

func TestBuildPrompt_MaxHistoryTurns(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxHistoryTurns = 2
	b := newTestBuilder(&stubSource{}, opts)

	var history []Turn
	for i := 0; i < 6; i++ {
		history = append(history, Turn{Role: RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	turns := b.BuildPrompt(context.Background(), 1, "new", history, nil)
	require.Len(t, turns, 4)
	assert.Equal(t, "m4", turns[1].Content)
	assert.Equal(t, "m5", turns[2].Content)
}

func TestBuildPrompt_BudgetDropsHistoryFirst(t *testing.T) {
	base := newTestBuilder(fullSource(), Options{SemanticLimit: 8, ImportantLimit: 5, EmotionDays: 3, EmotionLimit: 5})
	systemChars := utf8.RuneCountInString(base.BuildPrompt(context.Background(), 1, "new", nil, nil)[0].Content)

	history := []Turn{
		{Role: RoleUser, Content: strings.Repeat("a", 100)},
		{Role: RoleAssistant, Content: strings.Repeat("b", 100)},
		{Role: RoleUser, Content: strings.Repeat("c", 100)},
	}

	opts := DefaultOptions()
	opts.MaxPromptChars = systemChars + 3 + 150
	b := newTestBuilder(fullSource(), opts)

	turns := b.BuildPrompt(context.Background(), 1, "new", history, nil)

	require.Len(t, turns, 3)
	assert.Equal(t, strings.Repeat("c", 100), turns[1].Content)
	assert.Contains(t, turns[0].Content, "любит горы", "memory survives while history can be dropped")
}

func TestBuildPrompt_BudgetThenDropsMemoryBullets(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxPromptChars = utf8.RuneCountInString(defaultTemplate+instructions) + 3 +
		utf8.RuneCountInString(headerEmotions+"\n"+"- tired (интенсивность: 0.7) - очень устал\n"+"- happy (интенсивность: 0.7)\n\n")
	b := newTestBuilder(fullSource(), opts)

	history := []Turn{{Role: RoleUser, Content: "old"}}
	turns := b.BuildPrompt(context.Background(), 1, "new", history, nil)

	require.Len(t, turns, 2, "history dropped")
	system := turns[0].Content
	assert.NotContains(t, system, headerSemantic)
	assert.NotContains(t, system, headerImportant)
	assert.Contains(t, system, "- tired (интенсивность: 0.7) - очень устал")
	assert.Contains(t, system, "- happy (интенсивность: 0.7)")
	assert.True(t, strings.HasSuffix(system, instructions))

	total := 0
	for _, turn := range turns {
		total += utf8.RuneCountInString(turn.Content)
	}
	assert.LessOrEqual(t, total, opts.MaxPromptChars)
}

func TestBuildPrompt_BudgetNeverDropsFixedParts(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxPromptChars = 10
	b := newTestBuilder(fullSource(), opts)

	turns := b.BuildPrompt(context.Background(), 1, "the new message", []Turn{{Role: RoleUser, Content: "old"}}, nil)

	require.Len(t, turns, 2)
	assert.Equal(t, defaultTemplate+instructions, turns[0].Content)
	assert.Equal(t, "the new message", turns[1].Content)
}
