// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package memory is the durable per-user memory repository: typed memory
// records, emotion observations and relationships, with the vector index
// kept as a best-effort secondary projection of the memory rows.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tejzpr/companion-memory/internal/database"
	"github.com/tejzpr/companion-memory/internal/metrics"
	"github.com/tejzpr/companion-memory/internal/vectorindex"
)

// DefaultLimit caps GetMemories when the query sets no limit
const DefaultLimit = 10

// Profile summary windows
const (
	profileEmotionDays  = 7
	profileEmotionLimit = 10
	profileFactLimit    = 10
)

// Indexer is the subset of the vector index the store writes through
type Indexer interface {
	AddEmbedding(ctx context.Context, e vectorindex.Entry) bool
	Search(ctx context.Context, q vectorindex.SearchQuery) ([]vectorindex.Result, error)
	Update(ctx context.Context, id uint, content *string, meta vectorindex.Metadata) bool
	Delete(ctx context.Context, id uint) bool
	MissingIDs(ctx context.Context, ids []uint) ([]uint, error)
}

// Store persists memories in the relational database. Every operation runs
// in its own transaction; none is held across a call to the index.
type Store struct {
	db      *gorm.DB
	index   Indexer
	metrics *metrics.Metrics
	logger  *log.Logger
	now     func() time.Time
}

// NewStore creates a store. index may be nil, which disables the
// semantic projection.
func NewStore(db *gorm.DB, index Indexer, m *metrics.Metrics, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		db:      db,
		index:   index,
		metrics: m,
		logger:  logger.With("component", "memory"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnsureUser creates the user row if it does not exist yet
func (s *Store) EnsureUser(ctx context.Context, userID int64) error {
	if err := ensureUser(s.db.WithContext(ctx), userID); err != nil {
		return &WriteError{Op: "ensure_user", Err: err}
	}
	return nil
}

func ensureUser(tx *gorm.DB, userID int64) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&database.User{ID: userID}).Error
}

// AddMemory validates and inserts m, then projects it into the vector
// index. An index failure is logged and does not undo the insert.
func (s *Store) AddMemory(ctx context.Context, m NewMemory) (*Record, error) {
	defer s.metrics.ObserveStore("add_memory", time.Now())

	m.Content = strings.TrimSpace(m.Content)
	if m.Content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidMemory)
	}
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMemory, m.Type)
	}
	if !m.Importance.Valid() {
		return nil, fmt.Errorf("%w: unknown importance %q", ErrInvalidMemory, m.Importance)
	}
	if m.Confidence != nil && (*m.Confidence < 0 || *m.Confidence > 1) {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidMemory, *m.Confidence)
	}

	now := s.now()
	row := database.Memory{
		UserID:         m.UserID,
		Content:        m.Content,
		MemoryType:     string(m.Type),
		Importance:     string(m.Importance),
		ImportanceRank: m.Importance.Rank(),
		Tags:           normalizeTags(m.Tags),
		EmotionalTone:  m.EmotionalTone,
		Confidence:     m.Confidence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := database.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := ensureUser(tx, m.UserID); err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Create(&row).Error
	})
	if err != nil {
		return nil, &WriteError{Op: "add_memory", Err: err}
	}

	rec := toRecord(row)
	s.metrics.MemoryStored(string(rec.Type))
	s.logger.Info("memory stored", "user_id", rec.UserID, "memory_id", rec.ID, "type", rec.Type, "importance", rec.Importance)

	s.project(ctx, rec)
	return &rec, nil
}

// project writes rec into the vector index, best-effort
func (s *Store) project(ctx context.Context, rec Record) bool {
	if s.index == nil {
		return false
	}
	ok := s.index.AddEmbedding(ctx, vectorindex.Entry{
		ID:         rec.ID,
		UserID:     rec.UserID,
		Content:    rec.Content,
		MemoryType: string(rec.Type),
		Importance: string(rec.Importance),
		Tags:       rec.Tags,
		Extra: map[string]interface{}{
			"created_at":       rec.CreatedAt,
			"emotional_tone":   rec.EmotionalTone,
			"confidence_score": rec.Confidence,
		},
	})
	if !ok {
		s.logger.Warn("memory stored without embedding", "user_id", rec.UserID, "memory_id", rec.ID)
	}
	return ok
}

// GetMemories returns the user's memories matching q, newest first, and
// marks them accessed. Failures are logged and yield an empty result.
func (s *Store) GetMemories(ctx context.Context, userID int64, q Query) []Record {
	defer s.metrics.ObserveStore("get_memories", time.Now())

	var rows []database.Memory
	now := s.now()
	err := database.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.memoryQuery(tx, userID, q).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Model(&database.Memory{}).
			Where("id IN ?", memoryIDs(rows)).
			UpdateColumns(map[string]interface{}{
				"last_accessed_at": now,
				"access_count":     gorm.Expr("access_count + 1"),
			}).Error
	})
	if err != nil {
		s.logger.Error("failed to get memories", "user_id", userID, "error", err)
		return nil
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := toRecord(row)
		accessed := now
		rec.LastAccessedAt = &accessed
		rec.AccessCount++
		out = append(out, rec)
	}
	return out
}

func (s *Store) memoryQuery(tx *gorm.DB, userID int64, q Query) *gorm.DB {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := tx.Where("user_id = ?", userID)
	if len(q.Types) > 0 {
		types := make([]string, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		query = query.Where("memory_type IN ?", types)
	}
	if q.MinImportance != "" {
		query = query.Where("importance_rank >= ?", q.MinImportance.Rank())
	}
	return query.Order("created_at DESC").Order("id DESC").Limit(limit)
}

// GetMemoriesByIDs loads the user's memories with the given ids. Ids that
// do not exist or belong to another user are silently absent.
func (s *Store) GetMemoriesByIDs(ctx context.Context, userID int64, ids []uint) []Record {
	if len(ids) == 0 {
		return nil
	}

	var rows []database.Memory
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&rows).Error
	if err != nil {
		s.logger.Error("failed to get memories by id", "user_id", userID, "error", err)
		return nil
	}

	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = toRecord(row)
	}
	return out
}

// SearchSemantic runs a vector search for the user and joins the hits to
// their rows, keeping the index's similarity order. Hits whose row is gone
// are stale and skipped.
func (s *Store) SearchSemantic(ctx context.Context, userID int64, query string, types []MemoryType, limit int) []ScoredRecord {
	if s.index == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	defer s.metrics.ObserveStore("search_semantic", time.Now())

	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}

	hits, err := s.index.Search(ctx, vectorindex.SearchQuery{
		UserID: userID,
		Query:  query,
		Types:  typeNames,
		Limit:  limit,
	})
	if err != nil {
		s.logger.Error("semantic search failed", "user_id", userID, "error", err)
		return nil
	}
	if len(hits) == 0 {
		return nil
	}

	ids := make([]uint, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	byID := make(map[uint]Record)
	for _, rec := range s.GetMemoriesByIDs(ctx, userID, ids) {
		byID[rec.ID] = rec
	}

	out := make([]ScoredRecord, 0, len(hits))
	for _, h := range hits {
		rec, ok := byID[h.ID]
		if !ok {
			s.logger.Debug("skipping stale vector hit", "user_id", userID, "memory_id", h.ID)
			continue
		}
		out = append(out, ScoredRecord{Record: rec, Similarity: h.Similarity})
	}
	return out
}

// UpdateMemory changes content or metadata of one memory. A content change
// re-embeds it; a metadata-only change updates the index payload only.
func (s *Store) UpdateMemory(ctx context.Context, id uint, u MemoryUpdate) (*Record, error) {
	defer s.metrics.ObserveStore("update_memory", time.Now())

	if u.empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidMemory)
	}
	if u.Content != nil && strings.TrimSpace(*u.Content) == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidMemory)
	}
	if u.Importance != nil && !u.Importance.Valid() {
		return nil, fmt.Errorf("%w: unknown importance %q", ErrInvalidMemory, *u.Importance)
	}

	var row database.Memory
	err := database.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if u.Content != nil {
			row.Content = strings.TrimSpace(*u.Content)
		}
		if u.Importance != nil {
			row.Importance = string(*u.Importance)
			row.ImportanceRank = u.Importance.Rank()
		}
		if u.Tags != nil {
			row.Tags = normalizeTags(*u.Tags)
		}
		if u.EmotionalTone != nil {
			row.EmotionalTone = u.EmotionalTone
		}
		if u.Confidence != nil {
			row.Confidence = u.Confidence
		}
		row.UpdatedAt = s.now()

		return tx.Omit(clause.Associations).Save(&row).Error
	})
	if err != nil {
		return nil, &WriteError{Op: "update_memory", Err: err}
	}

	rec := toRecord(row)
	if s.index != nil {
		var content *string
		if u.Content != nil {
			content = &rec.Content
		}
		var meta vectorindex.Metadata
		if u.metadataChanged() {
			meta = vectorindex.Metadata{
				vectorindex.KeyImportance: string(rec.Importance),
				vectorindex.KeyTags:       strings.Join(rec.Tags, ","),
				"emotional_tone":          rec.EmotionalTone,
				"confidence_score":        rec.Confidence,
			}
		}
		if !s.index.Update(ctx, rec.ID, content, meta) {
			s.logger.Warn("memory updated without index refresh", "memory_id", rec.ID)
		}
	}

	return &rec, nil
}

// DeleteMemory removes one of the user's memories and its embedding
func (s *Store) DeleteMemory(ctx context.Context, userID int64, id uint) error {
	defer s.metrics.ObserveStore("delete_memory", time.Now())

	err := database.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		result := tx.Where("user_id = ? AND id = ?", userID, id).Delete(&database.Memory{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return &WriteError{Op: "delete_memory", Err: err}
	}

	s.logger.Info("memory deleted", "user_id", userID, "memory_id", id)
	if s.index != nil && !s.index.Delete(ctx, id) {
		s.logger.Warn("embedding not removed", "memory_id", id)
	}
	return nil
}

// AddEmotion records an emotional observation
func (s *Store) AddEmotion(ctx context.Context, userID int64, emotion string, intensity float64, note *string) (*EmotionRecord, error) {
	defer s.metrics.ObserveStore("add_emotion", time.Now())

	emotion = strings.TrimSpace(emotion)
	if emotion == "" {
		return nil, fmt.Errorf("%w: empty emotion", ErrInvalidRecord)
	}
	if intensity < 0 || intensity > 1 {
		return nil, fmt.Errorf("%w: intensity %v outside [0,1]", ErrInvalidRecord, intensity)
	}

	row := database.Emotion{
		UserID:     userID,
		Emotion:    emotion,
		Intensity:  intensity,
		Context:    note,
		RecordedAt: s.now(),
	}
	err := database.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := ensureUser(tx, userID); err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Create(&row).Error
	})
	if err != nil {
		return nil, &WriteError{Op: "add_emotion", Err: err}
	}

	s.metrics.EmotionRecorded(emotion)
	s.logger.Info("emotion recorded", "user_id", userID, "emotion", emotion)
	rec := toEmotionRecord(row)
	return &rec, nil
}

// GetRecentEmotions returns emotions recorded in the last days, newest first
func (s *Store) GetRecentEmotions(ctx context.Context, userID int64, days, limit int) []EmotionRecord {
	defer s.metrics.ObserveStore("get_recent_emotions", time.Now())

	if limit <= 0 {
		limit = DefaultLimit
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	var rows []database.Emotion
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND recorded_at >= ?", userID, cutoff).
		Order("recorded_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		s.logger.Error("failed to get emotions", "user_id", userID, "error", err)
		return nil
	}

	out := make([]EmotionRecord, len(rows))
	for i, row := range rows {
		out[i] = toEmotionRecord(row)
	}
	return out
}

// AddRelationship records a person in the user's life
func (s *Store) AddRelationship(ctx context.Context, r NewRelationship) (*RelationshipRecord, error) {
	defer s.metrics.ObserveStore("add_relationship", time.Now())

	r.PersonName = strings.TrimSpace(r.PersonName)
	if r.PersonName == "" {
		return nil, fmt.Errorf("%w: empty person name", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.RelationshipType) == "" {
		return nil, fmt.Errorf("%w: empty relationship type", ErrInvalidRecord)
	}
	if r.Importance == "" {
		r.Importance = ImportanceMedium
	}
	if !r.Importance.Valid() {
		return nil, fmt.Errorf("%w: unknown importance %q", ErrInvalidRecord, r.Importance)
	}

	now := s.now()
	row := database.Relationship{
		UserID:           r.UserID,
		PersonName:       r.PersonName,
		RelationshipType: r.RelationshipType,
		Description:      r.Description,
		Importance:       string(r.Importance),
		ImportanceRank:   r.Importance.Rank(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := database.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := ensureUser(tx, r.UserID); err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Create(&row).Error
	})
	if err != nil {
		return nil, &WriteError{Op: "add_relationship", Err: err}
	}

	rec := toRelationshipRecord(row)
	return &rec, nil
}

// GetRelationships returns the user's relationships, most important first.
// An empty relType returns all of them.
func (s *Store) GetRelationships(ctx context.Context, userID int64, relType string) []RelationshipRecord {
	return s.relationships(ctx, userID, relType, 0)
}

func (s *Store) relationships(ctx context.Context, userID int64, relType string, minRank int) []RelationshipRecord {
	defer s.metrics.ObserveStore("get_relationships", time.Now())

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if relType != "" {
		query = query.Where("relationship_type = ?", relType)
	}
	if minRank > 0 {
		query = query.Where("importance_rank >= ?", minRank)
	}

	var rows []database.Relationship
	if err := query.Order("importance_rank DESC").Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		s.logger.Error("failed to get relationships", "user_id", userID, "error", err)
		return nil
	}

	out := make([]RelationshipRecord, len(rows))
	for i, row := range rows {
		out[i] = toRelationshipRecord(row)
	}
	return out
}

// GetProfileSummary gathers the diagnostic view of a user. It does not
// count as an access of the memories it lists.
func (s *Store) GetProfileSummary(ctx context.Context, userID int64) ProfileSummary {
	summary := ProfileSummary{UserID: userID}

	if err := s.db.WithContext(ctx).Model(&database.Memory{}).Where("user_id = ?", userID).Count(&summary.TotalMemories).Error; err != nil {
		s.logger.Error("failed to count memories", "user_id", userID, "error", err)
	}

	summary.RecentEmotions = s.GetRecentEmotions(ctx, userID, profileEmotionDays, profileEmotionLimit)
	summary.KeyRelationships = s.relationships(ctx, userID, "", ImportanceHigh.Rank())

	var rows []database.Memory
	err := s.memoryQuery(s.db.WithContext(ctx), userID, Query{MinImportance: ImportanceMedium, Limit: profileFactLimit}).Find(&rows).Error
	if err != nil {
		s.logger.Error("failed to get key facts", "user_id", userID, "error", err)
	}
	for _, row := range rows {
		summary.KeyFacts = append(summary.KeyFacts, toRecord(row))
	}

	return summary
}

// RepairEmbeddings walks every memory in id order and re-embeds the ones
// the index is missing. It returns how many were repaired.
func (s *Store) RepairEmbeddings(ctx context.Context, batchSize int) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	repaired := 0
	var lastID uint
	for {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}

		var rows []database.Memory
		err := s.db.WithContext(ctx).
			Where("id > ?", lastID).
			Order("id ASC").
			Limit(batchSize).
			Find(&rows).Error
		if err != nil {
			return repaired, fmt.Errorf("failed to scan memories: %w", err)
		}
		if len(rows) == 0 {
			return repaired, nil
		}
		lastID = rows[len(rows)-1].ID

		missing, err := s.index.MissingIDs(ctx, memoryIDs(rows))
		if err != nil {
			return repaired, fmt.Errorf("failed to check index: %w", err)
		}
		if len(missing) == 0 {
			continue
		}

		wanted := make(map[uint]bool, len(missing))
		for _, id := range missing {
			wanted[id] = true
		}
		for _, row := range rows {
			if wanted[row.ID] && s.project(ctx, toRecord(row)) {
				repaired++
			}
		}
	}
}

func memoryIDs(rows []database.Memory) []uint {
	ids := make([]uint, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids
}

// normalizeTags trims, drops empties and de-duplicates, keeping order
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toRecord(row database.Memory) Record {
	return Record{
		ID:             row.ID,
		UserID:         row.UserID,
		Content:        row.Content,
		Type:           MemoryType(row.MemoryType),
		Importance:     Importance(row.Importance),
		Tags:           []string(row.Tags),
		EmotionalTone:  row.EmotionalTone,
		Confidence:     row.Confidence,
		AccessCount:    row.AccessCount,
		LastAccessedAt: row.LastAccessedAt,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func toEmotionRecord(row database.Emotion) EmotionRecord {
	return EmotionRecord{
		ID:         row.ID,
		UserID:     row.UserID,
		Emotion:    row.Emotion,
		Intensity:  row.Intensity,
		Context:    row.Context,
		RecordedAt: row.RecordedAt,
	}
}

func toRelationshipRecord(row database.Relationship) RelationshipRecord {
	return RelationshipRecord{
		ID:               row.ID,
		UserID:           row.UserID,
		PersonName:       row.PersonName,
		RelationshipType: row.RelationshipType,
		Description:      row.Description,
		Importance:       Importance(row.Importance),
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}
