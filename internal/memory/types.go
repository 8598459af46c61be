// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package memory

import (
	"fmt"
	"time"
)

// MemoryType classifies a memory record
type MemoryType string

// MemoryType constants
const (
	TypeFact         MemoryType = "fact"
	TypePreference   MemoryType = "preference"
	TypeEmotion      MemoryType = "emotion"
	TypeEvent        MemoryType = "event"
	TypeRelationship MemoryType = "relationship"
	TypeGoal         MemoryType = "goal"
	TypeFear         MemoryType = "fear"
	TypeDream        MemoryType = "dream"
)

// AllTypes returns every memory type in declaration order
func AllTypes() []MemoryType {
	return []MemoryType{TypeFact, TypePreference, TypeEmotion, TypeEvent, TypeRelationship, TypeGoal, TypeFear, TypeDream}
}

// Valid reports whether t is a known memory type
func (t MemoryType) Valid() bool {
	for _, known := range AllTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Importance is the four-level ordinal low < medium < high < critical
type Importance string

// Importance constants
const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// Rank returns the ordinal position of i, 1 for low through 4 for
// critical, or 0 when i is not a known level.
func (i Importance) Rank() int {
	switch i {
	case ImportanceLow:
		return 1
	case ImportanceMedium:
		return 2
	case ImportanceHigh:
		return 3
	case ImportanceCritical:
		return 4
	}
	return 0
}

// Valid reports whether i is a known importance level
func (i Importance) Valid() bool {
	return i.Rank() > 0
}

// AtLeast returns the levels whose rank is >= i, lowest first
func (i Importance) AtLeast() []Importance {
	var out []Importance
	for _, level := range []Importance{ImportanceLow, ImportanceMedium, ImportanceHigh, ImportanceCritical} {
		if level.Rank() >= i.Rank() {
			out = append(out, level)
		}
	}
	return out
}

// ParseImportance converts s to an Importance
func ParseImportance(s string) (Importance, error) {
	i := Importance(s)
	if !i.Valid() {
		return "", fmt.Errorf("%w: unknown importance %q", ErrInvalidMemory, s)
	}
	return i, nil
}

// Record is a persisted memory
type Record struct {
	ID             uint       `json:"id"`
	UserID         int64      `json:"user_id"`
	Content        string     `json:"content"`
	Type           MemoryType `json:"memory_type"`
	Importance     Importance `json:"importance"`
	Tags           []string   `json:"tags,omitempty"`
	EmotionalTone  *string    `json:"emotional_tone,omitempty"`
	Confidence     *float64   `json:"confidence_score,omitempty"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewMemory is the input to AddMemory
type NewMemory struct {
	UserID        int64
	Content       string
	Type          MemoryType
	Importance    Importance
	Tags          []string
	EmotionalTone *string
	Confidence    *float64
}

// Query filters GetMemories. Zero values mean "no filter"; Limit <= 0
// falls back to DefaultLimit.
type Query struct {
	Types         []MemoryType
	MinImportance Importance
	Limit         int
}

// MemoryUpdate carries the fields to change. Nil fields are left alone.
type MemoryUpdate struct {
	Content       *string
	Importance    *Importance
	Tags          *[]string
	EmotionalTone *string
	Confidence    *float64
}

func (u MemoryUpdate) empty() bool {
	return u.Content == nil && u.Importance == nil && u.Tags == nil && u.EmotionalTone == nil && u.Confidence == nil
}

func (u MemoryUpdate) metadataChanged() bool {
	return u.Importance != nil || u.Tags != nil || u.EmotionalTone != nil || u.Confidence != nil
}

// EmotionRecord is a timestamped emotional observation
type EmotionRecord struct {
	ID         uint      `json:"id"`
	UserID     int64     `json:"user_id"`
	Emotion    string    `json:"emotion"`
	Intensity  float64   `json:"intensity"`
	Context    *string   `json:"context,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewRelationship is the input to AddRelationship
type NewRelationship struct {
	UserID           int64
	PersonName       string
	RelationshipType string
	Description      *string
	Importance       Importance
}

// RelationshipRecord is a named third party and the user's relation to them
type RelationshipRecord struct {
	ID               uint       `json:"id"`
	UserID           int64      `json:"user_id"`
	PersonName       string     `json:"person_name"`
	RelationshipType string     `json:"relationship_type"`
	Description      *string    `json:"description,omitempty"`
	Importance       Importance `json:"importance"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ProfileSummary is the diagnostic view of one user
type ProfileSummary struct {
	UserID           int64                `json:"user_id"`
	TotalMemories    int64                `json:"total_memories"`
	RecentEmotions   []EmotionRecord      `json:"recent_emotions"`
	KeyRelationships []RelationshipRecord `json:"key_relationships"`
	KeyFacts         []Record             `json:"key_facts"`
}

// ScoredRecord is a memory joined to its semantic search hit
type ScoredRecord struct {
	Record
	Similarity float64 `json:"similarity"`
}
