package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/policyhub/policyhub/internal/domain/authz"
	"github.com/policyhub/policyhub/internal/infrastructure/database"
	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
	"github.com/policyhub/policyhub/pkg/logger"
)

// HistoryService is the append-only audit trail recorder. Entries are never
// updated or deleted once written; the recorder stores action kinds without
// interpreting them.
type HistoryService struct {
	db  *database.Connector
	log *logger.Logger
}

func NewHistoryService(db *database.Connector, log *logger.Logger) *HistoryService {
	return &HistoryService{db: db, log: log}
}

// RecordParams describes one audit entry to append.
type RecordParams struct {
	DocID        uuid.UUID
	Action       models.HistoryAction
	FieldChanged string
	OldValue     string
	NewValue     string
	Notes        string
}

// append writes an entry inside the caller's transaction so the audit record
// commits or rolls back together with the mutation it describes.
func (s *HistoryService) append(tx *gorm.DB, actor authz.Actor, p RecordParams) error {
	entry := models.HistoryEntry{
		ID:           uuid.New(),
		DocID:        p.DocID,
		Action:       p.Action,
		FieldChanged: p.FieldChanged,
		OldValue:     p.OldValue,
		NewValue:     p.NewValue,
		ChangedBy:    actor.UserID,
		ChangedAt:    time.Now().UTC(),
		Notes:        p.Notes,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}
	s.log.Debug("history appended", "doc_id", p.DocID, "action", p.Action)
	return nil
}

// record appends a single audit entry in its own transaction. Managers that
// mutate state use the in-transaction append instead; nothing outside the
// package writes history directly.
func (s *HistoryService) record(ctx context.Context, actor authz.Actor, p RecordParams) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.append(tx, actor, p)
	})
}

// QueryByDocument returns entries for one document, newest first.
func (s *HistoryService) QueryByDocument(ctx context.Context, docID uuid.UUID, limit int) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("doc_id = ?", docID).
			Order("changed_at DESC").
			Limit(normalizeLimit(limit)).
			Find(&entries).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return entries, nil
}

// QueryRecent returns the latest entries across all documents, newest first.
func (s *HistoryService) QueryRecent(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Order("changed_at DESC").
			Limit(normalizeLimit(limit)).
			Find(&entries).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query recent history: %w", err)
	}
	return entries, nil
}

// QueryByActor returns entries attributed to one user, newest first.
func (s *HistoryService) QueryByActor(ctx context.Context, userID uuid.UUID, limit int) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("changed_by = ?", userID).
			Order("changed_at DESC").
			Limit(normalizeLimit(limit)).
			Find(&entries).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query history by actor: %w", err)
	}
	return entries, nil
}

// QueryByTimeRange returns entries between start and end inclusive, newest
// first.
func (s *HistoryService) QueryByTimeRange(ctx context.Context, start, end time.Time) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("changed_at >= ? AND changed_at <= ?", start, end).
			Order("changed_at DESC").
			Find(&entries).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query history by time range: %w", err)
	}
	return entries, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
