// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package prompt assembles the turn list sent to the chat model: one
// system turn built from persona and long-term memory, the replayed
// history, and the new user message.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/tejzpr/companion-memory/internal/config"
	"github.com/tejzpr/companion-memory/internal/memory"
	"github.com/tejzpr/companion-memory/internal/metrics"
	"github.com/tejzpr/companion-memory/internal/persona"
)

// Roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one chat message
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MemorySource is the read side of the memory store
type MemorySource interface {
	SearchSemantic(ctx context.Context, userID int64, query string, types []memory.MemoryType, limit int) []memory.ScoredRecord
	GetMemories(ctx context.Context, userID int64, q memory.Query) []memory.Record
	GetRecentEmotions(ctx context.Context, userID int64, days, limit int) []memory.EmotionRecord
}

// Options bounds what goes into a prompt. A MaxPromptChars of zero
// disables the budget.
type Options struct {
	SemanticLimit   int
	ImportantLimit  int
	EmotionDays     int
	EmotionLimit    int
	MaxPromptChars  int
	MaxHistoryTurns int
}

// OptionsFrom converts the prompt config section
func OptionsFrom(cfg config.PromptConfig) Options {
	return Options{
		SemanticLimit:   cfg.SemanticLimit,
		ImportantLimit:  cfg.ImportantLimit,
		EmotionDays:     cfg.EmotionDays,
		EmotionLimit:    cfg.EmotionLimit,
		MaxPromptChars:  cfg.MaxPromptChars,
		MaxHistoryTurns: cfg.MaxHistoryTurns,
	}
}

// DefaultOptions mirrors the configuration defaults
func DefaultOptions() Options {
	return Options{
		SemanticLimit:   8,
		ImportantLimit:  5,
		EmotionDays:     3,
		EmotionLimit:    5,
		MaxPromptChars:  24000,
		MaxHistoryTurns: 50,
	}
}

// Builder assembles prompts. It holds no per-request state.
type Builder struct {
	source  MemorySource
	opts    Options
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewBuilder creates a builder. A nil source renders no memory sections.
func NewBuilder(source MemorySource, opts Options, m *metrics.Metrics, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.Default()
	}
	return &Builder{
		source:  source,
		opts:    opts,
		metrics: m,
		logger:  logger.With("component", "prompt"),
	}
}

// BuildPrompt returns the system turn, then the user and assistant turns of
// history in order, then newMessage as a user turn. When the result exceeds
// the character budget the oldest history goes first, then memory bullets
// from the least relevant end.
func (b *Builder) BuildPrompt(ctx context.Context, userID int64, newMessage string, history []Turn, binding *persona.Binding) []Turn {
	s := b.gather(ctx, userID, newMessage, binding)

	replay := make([]Turn, 0, len(history))
	for _, t := range history {
		if t.Role == RoleUser || t.Role == RoleAssistant {
			replay = append(replay, t)
		}
	}
	if limit := b.opts.MaxHistoryTurns; limit > 0 && len(replay) > limit {
		replay = replay[len(replay)-limit:]
	}

	system := s.render()
	if budget := b.opts.MaxPromptChars; budget > 0 {
		fixed := runes(newMessage)
		historyChars := 0
		for _, t := range replay {
			historyChars += runes(t.Content)
		}

		for fixed+historyChars+runes(system) > budget && len(replay) > 0 {
			historyChars -= runes(replay[0].Content)
			replay = replay[1:]
		}
		for fixed+historyChars+runes(system) > budget && s.dropOne() {
			system = s.render()
		}
		if total := fixed + historyChars + runes(system); total > budget {
			b.logger.Warn("prompt exceeds budget after trimming", "user_id", userID, "chars", total, "budget", budget)
		}
	}

	turns := make([]Turn, 0, len(replay)+2)
	turns = append(turns, Turn{Role: RoleSystem, Content: system})
	turns = append(turns, replay...)
	turns = append(turns, Turn{Role: RoleUser, Content: newMessage})

	total := 0
	for _, t := range turns {
		total += runes(t.Content)
	}
	b.metrics.ObservePrompt(total, len(s.semantic))
	return turns
}

// gather fetches every section of the system turn
func (b *Builder) gather(ctx context.Context, userID int64, newMessage string, binding *persona.Binding) *sections {
	s := &sections{head: head(binding), style: styleBlock(binding)}
	if b.source == nil {
		return s
	}

	if b.opts.SemanticLimit > 0 {
		for _, hit := range b.source.SearchSemantic(ctx, userID, newMessage, nil, b.opts.SemanticLimit) {
			s.semantic = append(s.semantic, fmt.Sprintf("- %s (тип: %s, схожесть: %.2f)", hit.Content, hit.Type, hit.Similarity))
		}
	}
	if b.opts.ImportantLimit > 0 {
		important := b.source.GetMemories(ctx, userID, memory.Query{MinImportance: memory.ImportanceHigh, Limit: b.opts.ImportantLimit})
		for _, rec := range important {
			s.important = append(s.important, fmt.Sprintf("- %s (тип: %s, важность: %s)", rec.Content, rec.Type, rec.Importance))
		}
	}
	if b.opts.EmotionLimit > 0 {
		for _, e := range b.source.GetRecentEmotions(ctx, userID, b.opts.EmotionDays, b.opts.EmotionLimit) {
			line := fmt.Sprintf("- %s (интенсивность: %.1f)", e.Emotion, e.Intensity)
			if e.Context != nil && *e.Context != "" {
				line += " - " + *e.Context
			}
			s.emotions = append(s.emotions, line)
		}
	}

	b.logger.Debug("prompt context gathered", "user_id", userID, "semantic", len(s.semantic), "important", len(s.important), "emotions", len(s.emotions))
	return s
}

func runes(s string) int {
	return utf8.RuneCountInString(s)
}

// sections are the parts of the system turn in their fixed order
type sections struct {
	head      string
	semantic  []string
	important []string
	emotions  []string
	style     string
}

// dropOne removes the lowest-ranked memory bullet. It reports false when
// none is left.
func (s *sections) dropOne() bool {
	switch {
	case len(s.semantic) > 0:
		s.semantic = s.semantic[:len(s.semantic)-1]
	case len(s.important) > 0:
		s.important = s.important[:len(s.important)-1]
	case len(s.emotions) > 0:
		s.emotions = s.emotions[:len(s.emotions)-1]
	default:
		return false
	}
	return true
}

func (s *sections) render() string {
	var sb strings.Builder
	sb.WriteString(s.head)
	writeSection(&sb, headerSemantic, s.semantic)
	writeSection(&sb, headerImportant, s.important)
	writeSection(&sb, headerEmotions, s.emotions)
	sb.WriteString(instructions)
	sb.WriteString(s.style)
	return sb.String()
}

func writeSection(sb *strings.Builder, header string, lines []string) {
	if len(lines) == 0 {
		return
	}
	sb.WriteString(header)
	sb.WriteString("\n")
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

// head is the persona template plus its prompt addition, or the default
func head(binding *persona.Binding) string {
	if binding == nil || strings.TrimSpace(binding.Persona.BaseTemplate) == "" {
		return defaultTemplate
	}
	h := binding.Persona.BaseTemplate + "\n\n"
	if add := binding.Overrides.PromptAddition; add != nil && *add != "" {
		h += *add + "\n\n"
	}
	return h
}

// styleBlock renders the persona reply style and the user's style overrides
func styleBlock(binding *persona.Binding) string {
	if binding == nil || binding.Persona.ReplyStyle == nil {
		return ""
	}
	rs := binding.Persona.ReplyStyle

	var sb strings.Builder
	sb.WriteString("\n\nСТИЛЬ ОТВЕТОВ:\n")
	if rs.Pace != "" {
		fmt.Fprintf(&sb, "- Темп общения: %s\n", rs.Pace)
	}
	if rs.Length != "" {
		fmt.Fprintf(&sb, "- Длина ответов: %s\n", rs.Length)
	}
	if len(rs.Structure) > 0 {
		fmt.Fprintf(&sb, "- Структура: %s\n", strings.Join(rs.Structure, "; "))
	}
	if len(rs.Signatures) > 0 {
		fmt.Fprintf(&sb, "- Подписи/фразы: %s\n", strings.Join(rs.Signatures, ", "))
	}

	if overrides := binding.Overrides.ReplyStyleOverrides; len(overrides) > 0 {
		keys := make([]string, 0, len(overrides))
		for k := range overrides {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("\nКАСТОМИЗАЦИИ СТИЛЯ:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, overrides[k])
		}
	}
	return sb.String()
}
