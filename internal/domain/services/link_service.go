package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/policyhub/policyhub/internal/domain/authz"
	"github.com/policyhub/policyhub/internal/infrastructure/database"
	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
	"github.com/policyhub/policyhub/pkg/logger"
)

const availableTargetsLimit = 50

// LinkService manages the typed relationship graph between documents. Every
// link mutation writes two audit entries, one from each endpoint's
// perspective.
type LinkService struct {
	db      *database.Connector
	history *HistoryService
	log     *logger.Logger
}

func NewLinkService(db *database.Connector, history *HistoryService, log *logger.Logger) *LinkService {
	return &LinkService{db: db, history: history, log: log}
}

// Create adds a directed typed link between two documents. Self-links and
// duplicate triples are rejected before anything is written.
func (s *LinkService) Create(ctx context.Context, actor authz.Actor, parentID, childID uuid.UUID, linkType models.LinkType) (*models.DocumentLink, error) {
	if err := authz.Authorize(actor, authz.CapManageLinks); err != nil {
		return nil, err
	}
	if !linkType.Valid() {
		return nil, validationErr("link_type", "unknown link type %s", linkType)
	}
	if parentID == childID {
		return nil, validationErr("link", "a document cannot link to itself")
	}

	link := models.DocumentLink{
		ID:          uuid.New(),
		ParentDocID: parentID,
		ChildDocID:  childID,
		LinkType:    linkType,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   actor.UserID,
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var parent, child models.Document
		if err := tx.Where("id = ?", parentID).First(&parent).Error; err != nil {
			if isRecordNotFound(err) {
				return notFoundErr("document", parentID)
			}
			return err
		}
		if err := tx.Where("id = ?", childID).First(&child).Error; err != nil {
			if isRecordNotFound(err) {
				return notFoundErr("document", childID)
			}
			return err
		}

		var count int64
		err := tx.Model(&models.DocumentLink{}).
			Where("parent_doc_id = ? AND child_doc_id = ? AND link_type = ?", parentID, childID, linkType).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return validationErr("link", "%s already %s %s", parent.DocRef, strings.ToLower(string(linkType)), child.DocRef)
		}

		if err := tx.Create(&link).Error; err != nil {
			return err
		}

		err = s.history.append(tx, actor, RecordParams{
			DocID:        parentID,
			Action:       models.ActionLinkAdded,
			FieldChanged: "link",
			NewValue:     fmt.Sprintf("%s %s", linkType, child.DocRef),
		})
		if err != nil {
			return err
		}
		return s.history.append(tx, actor, RecordParams{
			DocID:        childID,
			Action:       models.ActionLinkAdded,
			FieldChanged: "link",
			NewValue:     fmt.Sprintf("%s %s", linkType.InversePhrase(), parent.DocRef),
		})
	})
	if err != nil {
		if IsValidation(err) || isNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	s.log.Info("link created", "parent", parentID, "child", childID, "type", linkType, "by", actor.Username)
	return &link, nil
}

// Delete removes a link and records the removal from both endpoints.
func (s *LinkService) Delete(ctx context.Context, actor authz.Actor, linkID uuid.UUID) error {
	if err := authz.Authorize(actor, authz.CapManageLinks); err != nil {
		return err
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var link models.DocumentLink
		if err := tx.Where("id = ?", linkID).First(&link).Error; err != nil {
			if isRecordNotFound(err) {
				return notFoundErr("link", linkID)
			}
			return err
		}

		var parent, child models.Document
		if err := tx.Where("id = ?", link.ParentDocID).First(&parent).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", link.ChildDocID).First(&child).Error; err != nil {
			return err
		}

		if err := tx.Delete(&models.DocumentLink{}, "id = ?", linkID).Error; err != nil {
			return err
		}

		err := s.history.append(tx, actor, RecordParams{
			DocID:        link.ParentDocID,
			Action:       models.ActionLinkRemoved,
			FieldChanged: "link",
			OldValue:     fmt.Sprintf("%s %s", link.LinkType, child.DocRef),
		})
		if err != nil {
			return err
		}
		return s.history.append(tx, actor, RecordParams{
			DocID:        link.ChildDocID,
			Action:       models.ActionLinkRemoved,
			FieldChanged: "link",
			OldValue:     fmt.Sprintf("%s %s", link.LinkType.InversePhrase(), parent.DocRef),
		})
	})
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to delete link: %w", err)
	}

	s.log.Info("link deleted", "link_id", linkID, "by", actor.Username)
	return nil
}

// DocumentLinks bundles a document's outgoing and incoming edges.
type DocumentLinks struct {
	Outgoing []models.DocumentLink
	Incoming []models.DocumentLink
}

// ForDocument returns both edge directions with the endpoint documents
// preloaded.
func (s *LinkService) ForDocument(ctx context.Context, docID uuid.UUID) (*DocumentLinks, error) {
	var links DocumentLinks
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		err := db.Preload("ChildDoc").
			Where("parent_doc_id = ?", docID).
			Order("created_at ASC").
			Find(&links.Outgoing).Error
		if err != nil {
			return err
		}
		return db.Preload("ParentDoc").
			Where("child_doc_id = ?", docID).
			Order("created_at ASC").
			Find(&links.Incoming).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load links: %w", err)
	}
	return &links, nil
}

// AvailableTargets lists documents that could become link targets for the
// given source: not the source itself, not archived, not already linked to
// it in either direction. An optional search term filters by reference or
// title. Capped at 50 rows.
func (s *LinkService) AvailableTargets(ctx context.Context, sourceID uuid.UUID, search string) ([]models.Document, error) {
	var docs []models.Document
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		linked := db.Model(&models.DocumentLink{}).
			Select("child_doc_id").
			Where("parent_doc_id = ?", sourceID)
		linkedReverse := db.Model(&models.DocumentLink{}).
			Select("parent_doc_id").
			Where("child_doc_id = ?", sourceID)

		query := db.Model(&models.Document{}).
			Where("id <> ?", sourceID).
			Where("status <> ?", models.DocStatusArchived).
			Where("id NOT IN (?)", linked).
			Where("id NOT IN (?)", linkedReverse)

		if search = strings.TrimSpace(search); search != "" {
			term := "%" + search + "%"
			query = query.Where("doc_ref LIKE ? OR title LIKE ?", term, term)
		}
		return query.Order("doc_ref ASC").Limit(availableTargetsLimit).Find(&docs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list available targets: %w", err)
	}
	return docs, nil
}
