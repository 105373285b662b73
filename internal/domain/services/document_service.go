package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/policyhub/policyhub/internal/domain/authz"
	"github.com/policyhub/policyhub/internal/infrastructure/database"
	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
	"github.com/policyhub/policyhub/internal/infrastructure/storage"
	"github.com/policyhub/policyhub/pkg/logger"
)

var (
	docRefPattern  = regexp.MustCompile(`^[A-Z]{2,6}-[A-Z]{2,6}-\d{1,4}$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+$`)
)

// listSortColumns is the allow-list of sortable columns. Anything else falls
// back to doc_ref.
var listSortColumns = map[string]string{
	"doc_ref":          "doc_ref",
	"title":            "title",
	"doc_type":         "doc_type",
	"category":         "category",
	"status":           "status",
	"owner":            "owner",
	"next_review_date": "next_review_date",
	"updated_at":       "updated_at",
}

// DocumentService manages the document register: creation, field updates,
// review cycles, deletion and register queries.
type DocumentService struct {
	db       *database.Connector
	files    *storage.FileStore
	history  *HistoryService
	users    *UserService
	settings *SettingsService
	log      *logger.Logger
}

func NewDocumentService(db *database.Connector, files *storage.FileStore, history *HistoryService, users *UserService, settings *SettingsService, log *logger.Logger) *DocumentService {
	return &DocumentService{db: db, files: files, history: history, users: users, settings: settings, log: log}
}

// CreateDocumentParams describes a new register entry.
type CreateDocumentParams struct {
	DocType         models.DocumentType
	DocRef          string
	Title           string
	Description     string
	Category        string
	Owner           string
	Approver        string
	Status          models.DocumentStatus
	Version         string
	EffectiveDate   time.Time
	LastReviewDate  time.Time
	NextReviewDate  time.Time
	ReviewFrequency models.ReviewFrequency
	Notes           string
	MandatoryRead   bool
	Entities        []string
}

// Create validates and inserts a new document, recording a CREATED audit
// entry in the same transaction.
func (s *DocumentService) Create(ctx context.Context, actor authz.Actor, p CreateDocumentParams) (*models.Document, error) {
	if err := authz.Authorize(actor, authz.CapAddDocument); err != nil {
		return nil, err
	}

	p.DocRef = strings.ToUpper(strings.TrimSpace(p.DocRef))
	p.Title = strings.TrimSpace(p.Title)
	p.Owner = strings.TrimSpace(p.Owner)
	p.Category = strings.ToUpper(strings.TrimSpace(p.Category))

	if !docRefPattern.MatchString(p.DocRef) {
		return nil, validationErr("doc_ref", "reference must match PREFIX-CATEGORY-NUMBER, e.g. POL-AML-001")
	}
	if p.Title == "" || len(p.Title) > 200 {
		return nil, validationErr("title", "title must be 1-200 characters")
	}
	if p.Owner == "" {
		return nil, validationErr("owner", "owner is required")
	}
	if p.Category == "" {
		return nil, validationErr("category", "category is required")
	}
	if !p.DocType.Valid() {
		return nil, validationErr("doc_type", "unknown document type %s", p.DocType)
	}
	if !p.ReviewFrequency.Valid() {
		return nil, validationErr("review_frequency", "unknown review frequency %s", p.ReviewFrequency)
	}
	if p.Status == "" {
		p.Status = models.DocStatusDraft
	}
	if !p.Status.Valid() {
		return nil, validationErr("status", "unknown status %s", p.Status)
	}
	if p.Version == "" {
		p.Version = "1.0"
	}
	if !versionPattern.MatchString(p.Version) {
		return nil, validationErr("version", "version must be MAJOR.MINOR, e.g. 1.0")
	}

	now := time.Now().UTC()
	if p.EffectiveDate.IsZero() {
		p.EffectiveDate = now
	}
	if p.LastReviewDate.IsZero() {
		p.LastReviewDate = p.EffectiveDate
	}
	if p.NextReviewDate.IsZero() {
		if p.ReviewFrequency == models.FrequencyAdHoc {
			return nil, validationErr("next_review_date", "ad hoc documents need an explicit next review date")
		}
		p.NextReviewDate = p.LastReviewDate.AddDate(0, 0, p.ReviewFrequency.ReviewIntervalDays())
	}

	doc := models.Document{
		ID:               uuid.New(),
		DocType:          p.DocType,
		DocRef:           p.DocRef,
		Title:            p.Title,
		Description:      p.Description,
		Category:         p.Category,
		Owner:            p.Owner,
		Approver:         strings.TrimSpace(p.Approver),
		Status:           p.Status,
		Version:          p.Version,
		EffectiveDate:    p.EffectiveDate,
		LastReviewDate:   p.LastReviewDate,
		NextReviewDate:   p.NextReviewDate,
		ReviewFrequency:  p.ReviewFrequency,
		Notes:            p.Notes,
		MandatoryReadAll: p.MandatoryRead,
		ApplicableEntity: joinEntities(p.Entities),
		CreatedAt:        now,
		CreatedBy:        actor.UserID,
		UpdatedAt:        now,
		UpdatedBy:        actor.UserID,
	}

	if ok, err := s.allowedToEdit(ctx, actor, &doc); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrPermissionDenied
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Document{}).Where("doc_ref = ?", p.DocRef).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return validationErr("doc_ref", "reference %s already exists", p.DocRef)
		}
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}
		return s.history.append(tx, actor, RecordParams{
			DocID:    doc.ID,
			Action:   models.ActionCreated,
			NewValue: doc.DocRef,
			Notes:    fmt.Sprintf("Document %s created", doc.DocRef),
		})
	})
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	s.log.Info("document created", "doc_ref", doc.DocRef, "by", actor.Username)
	return &doc, nil
}

// Get returns one document with attachments preloaded.
func (s *DocumentService) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Preload("Attachments").Where("id = ?", id).First(&doc).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return nil, notFoundErr("document", id)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// GetByRef returns one document by its register reference.
func (s *DocumentService) GetByRef(ctx context.Context, docRef string) (*models.Document, error) {
	docRef = strings.ToUpper(strings.TrimSpace(docRef))
	var doc models.Document
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Preload("Attachments").Where("doc_ref = ?", docRef).First(&doc).Error
	})
	if err != nil {
		if isRecordNotFound(err) {
			return nil, notFoundErr("document", docRef)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// UpdateDocumentParams carries the fields to change. Nil pointers leave a
// field untouched.
type UpdateDocumentParams struct {
	Title           *string
	Description     *string
	Category        *string
	Owner           *string
	Approver        *string
	Status          *models.DocumentStatus
	Version         *string
	EffectiveDate   *time.Time
	NextReviewDate  *time.Time
	ReviewFrequency *models.ReviewFrequency
	Notes           *string
	MandatoryRead   *bool
	Entities        []string
	SetEntities     bool
}

type fieldChange struct {
	name     string
	oldValue string
	newValue string
	action   models.HistoryAction
}

// Update applies a partial edit, one audit entry per changed field. Status
// changes record STATUS_CHANGED; everything else records UPDATED.
func (s *DocumentService) Update(ctx context.Context, actor authz.Actor, id uuid.UUID, p UpdateDocumentParams) (*models.Document, error) {
	if err := authz.Authorize(actor, authz.CapEditDocument); err != nil {
		return nil, err
	}

	var updated models.Document
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.Where("id = ?", id).First(&doc).Error; err != nil {
			if isRecordNotFound(err) {
				return notFoundErr("document", id)
			}
			return err
		}

		if ok, err := s.allowedToEdit(ctx, actor, &doc); err != nil {
			return err
		} else if !ok {
			return ErrPermissionDenied
		}

		changes, err := applyDocumentUpdate(&doc, p)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			updated = doc
			return nil
		}

		doc.UpdatedAt = time.Now().UTC()
		doc.UpdatedBy = actor.UserID
		if err := tx.Save(&doc).Error; err != nil {
			return err
		}
		for _, change := range changes {
			err := s.history.append(tx, actor, RecordParams{
				DocID:        doc.ID,
				Action:       change.action,
				FieldChanged: change.name,
				OldValue:     change.oldValue,
				NewValue:     change.newValue,
			})
			if err != nil {
				return err
			}
		}
		updated = doc
		return nil
	})
	if err != nil {
		if IsValidation(err) || isNotFound(err) || isPermissionDenied(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	return &updated, nil
}

// MarkReviewed stamps the review cycle: last review becomes now and the next
// review advances by the frequency interval. Ad hoc documents keep their
// scheduled date.
func (s *DocumentService) MarkReviewed(ctx context.Context, actor authz.Actor, id uuid.UUID, notes string) (*models.Document, error) {
	if err := authz.Authorize(actor, authz.CapMarkReviewed); err != nil {
		return nil, err
	}

	var updated models.Document
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.Where("id = ?", id).First(&doc).Error; err != nil {
			if isRecordNotFound(err) {
				return notFoundErr("document", id)
			}
			return err
		}

		if ok, err := s.allowedToEdit(ctx, actor, &doc); err != nil {
			return err
		} else if !ok {
			return ErrPermissionDenied
		}

		now := time.Now().UTC()
		oldLast := doc.LastReviewDate
		doc.LastReviewDate = now
		if interval := doc.ReviewFrequency.ReviewIntervalDays(); interval > 0 {
			doc.NextReviewDate = now.AddDate(0, 0, interval)
		}
		doc.UpdatedAt = now
		doc.UpdatedBy = actor.UserID
		if err := tx.Save(&doc).Error; err != nil {
			return err
		}

		err := s.history.append(tx, actor, RecordParams{
			DocID:        doc.ID,
			Action:       models.ActionReviewed,
			FieldChanged: "last_review_date",
			OldValue:     formatDate(oldLast),
			NewValue:     formatDate(doc.LastReviewDate),
			Notes:        notes,
		})
		if err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		if isNotFound(err) || isPermissionDenied(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to mark reviewed: %w", err)
	}

	s.log.Info("document reviewed", "doc_ref", updated.DocRef, "by", actor.Username)
	return &updated, nil
}

// Delete removes a document and its attachment and link rows. Attachment
// files move to the deleted-files recovery tree; audit history stays behind.
func (s *DocumentService) Delete(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	if err := authz.Authorize(actor, authz.CapDeleteDocument); err != nil {
		return err
	}

	var doc models.Document
	var attachments []models.Attachment
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&doc).Error; err != nil {
			if isRecordNotFound(err) {
				return notFoundErr("document", id)
			}
			return err
		}
		if err := tx.Where("doc_id = ?", id).Find(&attachments).Error; err != nil {
			return err
		}
		if err := tx.Where("doc_id = ?", id).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("parent_doc_id = ? OR child_doc_id = ?", id, id).Delete(&models.DocumentLink{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Document{}, "id = ?", id).Error
	})
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}

	now := time.Now().UTC()
	for _, att := range attachments {
		if _, err := s.files.MoveToDeleted(att.FilePath, doc.DocRef, att.Filename, now); err != nil {
			s.log.Warn("could not move attachment file to recovery tree",
				"doc_ref", doc.DocRef, "file", att.Filename, "error", err)
		}
	}

	s.log.Info("document deleted", "doc_ref", doc.DocRef, "by", actor.Username)
	return nil
}

// ListFilter narrows and orders a register listing.
type ListFilter struct {
	DocType       models.DocumentType
	Status        models.DocumentStatus
	Category      string
	Entity        string
	MandatoryRead *bool
	Search        string
	SortBy        string
	SortDesc      bool
	Limit         int
	Offset        int
}

// List returns register rows matching the filter. Restricted editors see
// only rows on their allow-list; an empty allow-list yields an empty
// register.
func (s *DocumentService) List(ctx context.Context, actor authz.Actor, filter ListFilter) ([]models.Document, error) {
	if err := authz.Authorize(actor, authz.CapViewRegister); err != nil {
		return nil, err
	}

	var restrictions []models.UserRestriction
	if actor.IsRestrictedEditor() {
		var err error
		restrictions, err = s.users.GetRestrictions(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		if len(restrictions) == 0 {
			return []models.Document{}, nil
		}
	}

	var docs []models.Document
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		query := db.Model(&models.Document{}).Preload("Attachments")
		if filter.DocType != "" {
			query = query.Where("doc_type = ?", filter.DocType)
		}
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.Category != "" {
			query = query.Where("category = ?", strings.ToUpper(filter.Category))
		}
		if filter.Entity != "" {
			query = query.Where(`';' || applicable_entity || ';' LIKE ? ESCAPE '\'`, entityElementPattern(filter.Entity))
		}
		if filter.MandatoryRead != nil {
			query = query.Where("mandatory_read_all = ?", *filter.MandatoryRead)
		}
		if filter.Search != "" {
			term := "%" + strings.TrimSpace(filter.Search) + "%"
			query = query.Where("doc_ref LIKE ? OR title LIKE ? OR description LIKE ?", term, term, term)
		}

		column, ok := listSortColumns[filter.SortBy]
		if !ok {
			column = "doc_ref"
		}
		direction := "ASC"
		if filter.SortDesc {
			direction = "DESC"
		}
		query = query.Order(column + " " + direction)

		if !actor.IsRestrictedEditor() {
			if filter.Limit > 0 {
				query = query.Limit(filter.Limit).Offset(filter.Offset)
			}
		}
		return query.Find(&docs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	if actor.IsRestrictedEditor() {
		docs = filterByRestrictions(docs, restrictions)
		docs = paginate(docs, filter.Limit, filter.Offset)
	}
	return docs, nil
}

// CountByStatus returns register counts grouped by status.
func (s *DocumentService) CountByStatus(ctx context.Context) (map[models.DocumentStatus]int64, error) {
	rows, err := s.countGrouped(ctx, "status")
	if err != nil {
		return nil, err
	}
	counts := make(map[models.DocumentStatus]int64, len(rows))
	for _, row := range rows {
		counts[models.DocumentStatus(row.Key)] = row.Count
	}
	return counts, nil
}

// CountByType returns register counts grouped by document type.
func (s *DocumentService) CountByType(ctx context.Context) (map[models.DocumentType]int64, error) {
	rows, err := s.countGrouped(ctx, "doc_type")
	if err != nil {
		return nil, err
	}
	counts := make(map[models.DocumentType]int64, len(rows))
	for _, row := range rows {
		counts[models.DocumentType(row.Key)] = row.Count
	}
	return counts, nil
}

type groupedCount struct {
	Key   string
	Count int64
}

func (s *DocumentService) countGrouped(ctx context.Context, column string) ([]groupedCount, error) {
	var rows []groupedCount
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Document{}).
			Select(column + " AS key, COUNT(*) AS count").
			Group(column).
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count documents by %s: %w", column, err)
	}
	return rows, nil
}

// ReviewStatusCounts derives review health counts for active documents using
// the configured warning and upcoming thresholds.
func (s *DocumentService) ReviewStatusCounts(ctx context.Context) (map[models.ReviewStatus]int64, error) {
	warning, err := s.settings.WarningThresholdDays(ctx)
	if err != nil {
		return nil, err
	}
	upcoming, err := s.settings.UpcomingThresholdDays(ctx)
	if err != nil {
		return nil, err
	}

	var docs []models.Document
	err = s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("status IN ?", []models.DocumentStatus{
			models.DocStatusActive, models.DocStatusUnderReview,
		}).Find(&docs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load documents for review counts: %w", err)
	}

	now := time.Now().UTC()
	counts := map[models.ReviewStatus]int64{
		models.ReviewOverdue:  0,
		models.ReviewDueSoon:  0,
		models.ReviewUpcoming: 0,
		models.ReviewOnTrack:  0,
	}
	for i := range docs {
		counts[docs[i].ReviewStatusAt(now, warning, upcoming)]++
	}
	return counts, nil
}

// ListOverdue returns active documents whose next review date has passed,
// most overdue first.
func (s *DocumentService) ListOverdue(ctx context.Context) ([]models.Document, error) {
	var docs []models.Document
	err := s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("next_review_date < ? AND status IN ?", time.Now().UTC(),
			[]models.DocumentStatus{models.DocStatusActive, models.DocStatusUnderReview}).
			Order("next_review_date ASC").
			Find(&docs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue documents: %w", err)
	}
	return docs, nil
}

// ListRequiringAttention returns active documents overdue or inside the
// warning threshold, soonest first.
func (s *DocumentService) ListRequiringAttention(ctx context.Context) ([]models.Document, error) {
	warning, err := s.settings.WarningThresholdDays(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, warning)

	var docs []models.Document
	err = s.db.WithConn(ctx, func(db *gorm.DB) error {
		return db.Where("next_review_date <= ? AND status IN ?", cutoff,
			[]models.DocumentStatus{models.DocStatusActive, models.DocStatusUnderReview}).
			Order("next_review_date ASC").
			Find(&docs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents requiring attention: %w", err)
	}
	return docs, nil
}

func (s *DocumentService) allowedToEdit(ctx context.Context, actor authz.Actor, doc *models.Document) (bool, error) {
	if !actor.IsRestrictedEditor() {
		return true, nil
	}
	restrictions, err := s.users.GetRestrictions(ctx, actor.UserID)
	if err != nil {
		return false, err
	}
	return restrictedEditorAllowed(restrictions, doc), nil
}

func applyDocumentUpdate(doc *models.Document, p UpdateDocumentParams) ([]fieldChange, error) {
	var changes []fieldChange
	record := func(name, oldValue, newValue string, action models.HistoryAction) {
		if oldValue != newValue {
			changes = append(changes, fieldChange{name: name, oldValue: oldValue, newValue: newValue, action: action})
		}
	}

	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" || len(title) > 200 {
			return nil, validationErr("title", "title must be 1-200 characters")
		}
		record("title", doc.Title, title, models.ActionUpdated)
		doc.Title = title
	}
	if p.Description != nil {
		record("description", doc.Description, *p.Description, models.ActionUpdated)
		doc.Description = *p.Description
	}
	if p.Category != nil {
		category := strings.ToUpper(strings.TrimSpace(*p.Category))
		if category == "" {
			return nil, validationErr("category", "category is required")
		}
		record("category", doc.Category, category, models.ActionUpdated)
		doc.Category = category
	}
	if p.Owner != nil {
		owner := strings.TrimSpace(*p.Owner)
		if owner == "" {
			return nil, validationErr("owner", "owner is required")
		}
		record("owner", doc.Owner, owner, models.ActionUpdated)
		doc.Owner = owner
	}
	if p.Approver != nil {
		approver := strings.TrimSpace(*p.Approver)
		record("approver", doc.Approver, approver, models.ActionUpdated)
		doc.Approver = approver
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, validationErr("status", "unknown status %s", *p.Status)
		}
		record("status", string(doc.Status), string(*p.Status), models.ActionStatusChanged)
		doc.Status = *p.Status
	}
	if p.Version != nil {
		if !versionPattern.MatchString(*p.Version) {
			return nil, validationErr("version", "version must be MAJOR.MINOR, e.g. 1.0")
		}
		record("version", doc.Version, *p.Version, models.ActionUpdated)
		doc.Version = *p.Version
	}
	if p.EffectiveDate != nil {
		record("effective_date", formatDate(doc.EffectiveDate), formatDate(*p.EffectiveDate), models.ActionUpdated)
		doc.EffectiveDate = *p.EffectiveDate
	}
	if p.NextReviewDate != nil {
		record("next_review_date", formatDate(doc.NextReviewDate), formatDate(*p.NextReviewDate), models.ActionUpdated)
		doc.NextReviewDate = *p.NextReviewDate
	}
	if p.ReviewFrequency != nil {
		if !p.ReviewFrequency.Valid() {
			return nil, validationErr("review_frequency", "unknown review frequency %s", *p.ReviewFrequency)
		}
		record("review_frequency", string(doc.ReviewFrequency), string(*p.ReviewFrequency), models.ActionUpdated)
		doc.ReviewFrequency = *p.ReviewFrequency
		if interval := doc.ReviewFrequency.ReviewIntervalDays(); interval > 0 && p.NextReviewDate == nil {
			next := doc.LastReviewDate.AddDate(0, 0, interval)
			record("next_review_date", formatDate(doc.NextReviewDate), formatDate(next), models.ActionUpdated)
			doc.NextReviewDate = next
		}
	}
	if p.Notes != nil {
		record("notes", doc.Notes, *p.Notes, models.ActionUpdated)
		doc.Notes = *p.Notes
	}
	if p.MandatoryRead != nil {
		record("mandatory_read_all", strconv.FormatBool(doc.MandatoryReadAll), strconv.FormatBool(*p.MandatoryRead), models.ActionUpdated)
		doc.MandatoryReadAll = *p.MandatoryRead
	}
	if p.SetEntities {
		joined := joinEntities(p.Entities)
		record("applicable_entity", doc.ApplicableEntity, joined, models.ActionUpdated)
		doc.ApplicableEntity = joined
	}

	return changes, nil
}

func filterByRestrictions(docs []models.Document, restrictions []models.UserRestriction) []models.Document {
	filtered := make([]models.Document, 0, len(docs))
	for i := range docs {
		if restrictedEditorAllowed(restrictions, &docs[i]) {
			filtered = append(filtered, docs[i])
		}
	}
	return filtered
}

func paginate(docs []models.Document, limit, offset int) []models.Document {
	if offset >= len(docs) {
		return []models.Document{}
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

func joinEntities(entities []string) string {
	cleaned := make([]string, 0, len(entities))
	for _, e := range entities {
		if e = strings.TrimSpace(e); e != "" {
			cleaned = append(cleaned, e)
		}
	}
	return strings.Join(cleaned, ";")
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// escapeLike backslash-escapes LIKE metacharacters so a value is matched
// literally under an ESCAPE '\' clause.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// entityElementPattern matches name as a whole element of the
// semicolon-joined applicable_entity column.
func entityElementPattern(name string) string {
	return "%;" + escapeLike(name) + ";%"
}
