// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package extractor classifies user utterances into memory candidates with
// fixed keyword tables and writes them to the memory store. It is a
// best-effort side path: nothing it does can fail the reply.
package extractor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/tejzpr/companion-memory/internal/memory"
)

// EmotionIntensity is the fixed intensity of detected emotions
const EmotionIntensity = 0.7

// contextRunes bounds the utterance excerpt stored with an emotion
const contextRunes = 200

const analyzeTimeout = 30 * time.Second

// Candidate is one memory the utterance qualifies for
type Candidate struct {
	Type       memory.MemoryType
	Importance memory.Importance
}

// Analysis is the pure classification of one utterance
type Analysis struct {
	// Emotion is the first matching emotion bucket, or "" when none matched
	Emotion  string
	Memories []Candidate
	Tags     []string
}

// Empty reports whether the utterance produced nothing to store
func (a Analysis) Empty() bool {
	return a.Emotion == "" && len(a.Memories) == 0
}

// Classify runs every keyword table against utterance. The categories are
// independent, so one utterance may yield several candidates.
func Classify(utterance string) Analysis {
	text := normalize(utterance)
	var a Analysis

	for _, b := range emotionBuckets {
		if containsAny(text, b.keywords) {
			a.Emotion = b.name
			break
		}
	}

	if containsAny(text, factMarkers) {
		importance := memory.ImportanceMedium
		if containsAny(text, urgencyWords) || containsAny(text, aspirationWords) {
			importance = memory.ImportanceHigh
		}
		a.Memories = append(a.Memories, Candidate{Type: memory.TypeFact, Importance: importance})
	}
	if containsAny(text, preferenceMarkers) {
		a.Memories = append(a.Memories, Candidate{Type: memory.TypePreference, Importance: memory.ImportanceMedium})
	}
	if containsAny(text, goalMarkers) {
		a.Memories = append(a.Memories, Candidate{Type: memory.TypeGoal, Importance: memory.ImportanceHigh})
	}
	if containsAny(text, relationshipMarkers) {
		a.Memories = append(a.Memories, Candidate{Type: memory.TypeRelationship, Importance: memory.ImportanceMedium})
	}

	a.Tags = ExtractTags(utterance)
	return a
}

// ExtractTags returns every canonical tag whose keywords appear in text
func ExtractTags(text string) []string {
	text = normalize(text)
	var tags []string
	for _, b := range tagBuckets {
		if containsAny(text, b.keywords) {
			tags = append(tags, b.name)
		}
	}
	return tags
}

func normalize(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer("’", "'", "`", "'").Replace(s)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if containsKeyword(text, kw) {
			return true
		}
	}
	return false
}

// containsKeyword reports whether kw occurs in text starting at a word
// boundary. Keywords of two runes or fewer must also end at one, so "я"
// does not match inside "моя".
func containsKeyword(text, kw string) bool {
	whole := utf8.RuneCountInString(kw) <= 2
	offset := 0
	for {
		i := strings.Index(text[offset:], kw)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(kw)
		if boundaryBefore(text, start) && (!whole || boundaryAfter(text, end)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Sink receives what the extractor finds
type Sink interface {
	AddMemory(ctx context.Context, m memory.NewMemory) (*memory.Record, error)
	AddEmotion(ctx context.Context, userID int64, emotion string, intensity float64, note *string) (*memory.EmotionRecord, error)
}

// Extractor writes classified utterances to a Sink
type Extractor struct {
	sink   Sink
	logger *log.Logger
	slots  chan struct{}
	wg     sync.WaitGroup
}

// New creates an extractor running at most concurrency background
// analyses at once.
func New(sink Sink, logger *log.Logger, concurrency int) *Extractor {
	if logger == nil {
		logger = log.Default()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Extractor{
		sink:   sink,
		logger: logger.With("component", "extractor"),
		slots:  make(chan struct{}, concurrency),
	}
}

// Analyze classifies utterance and stores what it finds. Every failure,
// panics included, is logged and swallowed.
func (e *Extractor) Analyze(ctx context.Context, userID int64, utterance string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extractor panic", "user_id", userID, "panic", fmt.Sprint(r))
		}
	}()

	if strings.TrimSpace(utterance) == "" {
		return
	}

	a := Classify(utterance)
	if a.Empty() {
		return
	}

	if a.Emotion != "" {
		note := excerpt(utterance, contextRunes)
		if _, err := e.sink.AddEmotion(ctx, userID, a.Emotion, EmotionIntensity, &note); err != nil {
			e.logger.Error("failed to store emotion", "user_id", userID, "emotion", a.Emotion, "error", err)
		}
	}

	for _, c := range a.Memories {
		_, err := e.sink.AddMemory(ctx, memory.NewMemory{
			UserID:     userID,
			Content:    utterance,
			Type:       c.Type,
			Importance: c.Importance,
			Tags:       a.Tags,
		})
		if err != nil {
			e.logger.Error("failed to store memory", "user_id", userID, "type", c.Type, "error", err)
		}
	}

	e.logger.Debug("utterance analyzed", "user_id", userID, "emotion", a.Emotion, "memories", len(a.Memories), "tags", a.Tags)
}

// Submit runs Analyze in the background, detached from ctx's cancellation
// so a finished reply does not abort it.
func (e *Extractor) Submit(ctx context.Context, userID int64, utterance string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		e.slots <- struct{}{}
		defer func() { <-e.slots }()

		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), analyzeTimeout)
		defer cancel()
		e.Analyze(actx, userID, utterance)
	}()
}

// Wait blocks until every submitted analysis has finished
func (e *Extractor) Wait() {
	e.wg.Wait()
}

func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
