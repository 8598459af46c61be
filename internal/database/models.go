// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"time"

	"gorm.io/datatypes"
)

// User is the owner of every memory row. The id is the messaging
// platform's user id, not a surrogate.
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// Memory is a durable typed statement about a user
type Memory struct {
	ID             uint                        `gorm:"primaryKey" json:"id"`
	UserID         int64                       `gorm:"index;not null" json:"user_id"`
	Content        string                      `gorm:"type:text;not null" json:"content"`
	MemoryType     string                      `gorm:"size:32;not null;index" json:"memory_type"`
	Importance     string                      `gorm:"size:16;not null" json:"importance"`
	ImportanceRank int                         `gorm:"not null;default:1" json:"-"`
	Tags           datatypes.JSONSlice[string] `json:"tags,omitempty"`
	EmotionalTone  *string                     `gorm:"size:64" json:"emotional_tone,omitempty"`
	Confidence     *float64                    `json:"confidence,omitempty"`
	AccessCount    int                         `gorm:"default:0" json:"access_count"`
	LastAccessedAt *time.Time                  `json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for Memory
func (Memory) TableName() string {
	return "memories"
}

// Emotion is an immutable emotional observation
type Emotion struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     int64     `gorm:"index;not null" json:"user_id"`
	Emotion    string    `gorm:"size:64;not null" json:"emotion"`
	Intensity  float64   `gorm:"not null" json:"intensity"`
	Context    *string   `gorm:"type:text" json:"context,omitempty"`
	RecordedAt time.Time `gorm:"not null" json:"recorded_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for Emotion
func (Emotion) TableName() string {
	return "emotions"
}

// Relationship is a named third party in the user's life
type Relationship struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           int64     `gorm:"index;not null" json:"user_id"`
	PersonName       string    `gorm:"size:255;not null" json:"person_name"`
	RelationshipType string    `gorm:"size:64;not null" json:"relationship_type"`
	Description      *string   `gorm:"type:text" json:"description,omitempty"`
	Importance       string    `gorm:"size:16;not null" json:"importance"`
	ImportanceRank   int       `gorm:"not null;default:1" json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for Relationship
func (Relationship) TableName() string {
	return "relationships"
}
