// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package extractor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/companion-memory/internal/logging"
	"github.com/tejzpr/companion-memory/internal/memory"
)

type emotionCall struct {
	userID    int64
	emotion   string
	intensity float64
	note      string
}

// recordingSink captures writes instead of persisting them
type recordingSink struct {
	mu         sync.Mutex
	memories   []memory.NewMemory
	emotions   []emotionCall
	memoryErr  error
	panicOnAdd bool
}

func (s *recordingSink) AddMemory(_ context.Context, m memory.NewMemory) (*memory.Record, error) {
	if s.panicOnAdd {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = append(s.memories, m)
	if s.memoryErr != nil {
		return nil, s.memoryErr
	}
	return &memory.Record{UserID: m.UserID, Content: m.Content, Type: m.Type, Importance: m.Importance}, nil
}

func (s *recordingSink) AddEmotion(_ context.Context, userID int64, emotion string, intensity float64, note *string) (*memory.EmotionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := emotionCall{userID: userID, emotion: emotion, intensity: intensity}
	if note != nil {
		call.note = *note
	}
	s.emotions = append(s.emotions, call)
	return &memory.EmotionRecord{UserID: userID, Emotion: emotion, Intensity: intensity}, nil
}

func TestAnalyze_RussianFactAndEmotion(t *testing.T) {
	sink := &recordingSink{}
	ex := New(sink, logging.Discard(), 1)

	ex.Analyze(context.Background(), 100, "я работаю программистом и очень устал")

	require.Len(t, sink.memories, 1)
	m := sink.memories[0]
	assert.Equal(t, int64(100), m.UserID)
	assert.Equal(t, memory.TypeFact, m.Type)
	assert.Equal(t, memory.ImportanceMedium, m.Importance)
	assert.Equal(t, []string{"работа"}, m.Tags)

	require.Len(t, sink.emotions, 1)
	assert.Equal(t, "tired", sink.emotions[0].emotion)
	assert.InDelta(t, 0.7, sink.emotions[0].intensity, 1e-9)
	assert.Equal(t, "я работаю программистом и очень устал", sink.emotions[0].note)
}

func TestClassify_GoalAlwaysHigh(t *testing.T) {
	tests := []string{
		"мечтаю поехать в Японию",
		"я мечтаю стать врачом, но это не важно",
		"I dream of opening a bakery",
		"my goal is to run a marathon",
	}

	for _, utterance := range tests {
		t.Run(utterance, func(t *testing.T) {
			a := Classify(utterance)
			var goals int
			for _, c := range a.Memories {
				if c.Type == memory.TypeGoal {
					goals++
					assert.Equal(t, memory.ImportanceHigh, c.Importance)
				}
				if c.Type == memory.TypeFact {
					assert.Equal(t, memory.ImportanceHigh, c.Importance, "aspiration escalates facts too")
				}
			}
			assert.Equal(t, 1, goals)
		})
	}
}

func TestClassify_EmotionSingleLabel(t *testing.T) {
	tests := []struct {
		utterance string
		want      string
	}{
		{"я рад, но очень устал", "happy"},
		{"грустно и бесит всё", "sad"},
		{"переживаю и злой", "anxious"},
		{"so tired and angry today", "angry"},
		{"просто текст без чувств", ""},
	}

	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.utterance).Emotion)
		})
	}
}

func TestClassify_TagUnion(t *testing.T) {
	a := Classify("моя мама работает в офисе")

	assert.ElementsMatch(t, []string{"работа", "семья"}, a.Tags)

	types := make([]memory.MemoryType, len(a.Memories))
	for i, c := range a.Memories {
		types[i] = c.Type
	}
	assert.Equal(t, []memory.MemoryType{memory.TypeFact, memory.TypeRelationship}, types)
}

func TestClassify_Categories(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		want      []Candidate
	}{
		{
			name:      "urgent fact",
			utterance: "у меня серьезная проблема со сном",
			want:      []Candidate{{memory.TypeFact, memory.ImportanceHigh}},
		},
		{
			name:      "preference without self reference",
			utterance: "Обожаю, когда нравится погода",
			want:      []Candidate{{memory.TypePreference, memory.ImportanceMedium}},
		},
		{
			name:      "english preference and fact",
			utterance: "I really like jazz",
			want: []Candidate{
				{memory.TypeFact, memory.ImportanceMedium},
				{memory.TypePreference, memory.ImportanceMedium},
			},
		},
		{
			name:      "relationship",
			utterance: "Коллега опять опоздал",
			want:      []Candidate{{memory.TypeRelationship, memory.ImportanceMedium}},
		},
		{
			name:      "nothing",
			utterance: "Погода сегодня солнечная",
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.utterance).Memories)
		})
	}
}

func TestContainsKeyword_WordBoundaries(t *testing.T) {
	tests := []struct {
		text string
		kw   string
		want bool
	}{
		{"я дома", "я", true},
		{"это моя книга", "я", false},
		{"моя книга", "моя", true},
		{"he is my friend", "my", true},
		{"enemy at the gate", "my", false},
		{"i'm fine", "i", true},
		{"this is it", "i", false},
		{"работаю дома", "работа", true},
		{"переработал", "работа", false},
		{"мы устали", "устал", true},
		{"работа, работа", "работа", true},
	}

	for _, tt := range tests {
		t.Run(tt.text+"/"+tt.kw, func(t *testing.T) {
			assert.Equal(t, tt.want, containsKeyword(tt.text, tt.kw))
		})
	}
}

func TestAnalyze_EmotionContextTruncated(t *testing.T) {
	sink := &recordingSink{}
	ex := New(sink, logging.Discard(), 1)

	long := "устал " + strings.Repeat("ж", 300)
	ex.Analyze(context.Background(), 1, long)

	require.Len(t, sink.emotions, 1)
	assert.Equal(t, 200, len([]rune(sink.emotions[0].note)))
}

func TestAnalyze_SwallowsErrorsAndPanics(t *testing.T) {
	sink := &recordingSink{memoryErr: errors.New("db down")}
	ex := New(sink, logging.Discard(), 1)

	assert.NotPanics(t, func() {
		ex.Analyze(context.Background(), 1, "я хочу в отпуск")
	})
	assert.Len(t, sink.memories, 2)

	panicky := New(&recordingSink{panicOnAdd: true}, logging.Discard(), 1)
	assert.NotPanics(t, func() {
		panicky.Analyze(context.Background(), 1, "я хочу в отпуск")
	})
}

func TestSubmit_RunsInBackground(t *testing.T) {
	sink := &recordingSink{}
	ex := New(sink, logging.Discard(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 10; i++ {
		ex.Submit(ctx, int64(i), "my sister loves music")
	}
	cancel()
	ex.Wait()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	// fact, preference and relationship per utterance
	assert.Len(t, sink.memories, 30)
	for _, m := range sink.memories {
		assert.ElementsMatch(t, []string{"семья", "хобби"}, m.Tags)
	}
}

func TestExtractTags(t *testing.T) {
	assert.Equal(t, []string{"здоровье", "учеба"}, ExtractTags("Врач сказал, что перед экзаменом надо отдохнуть"))
	assert.Nil(t, ExtractTags("ничего особенного"))
}
