package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Custom string-typed enums
type DocumentType string
type DocumentStatus string
type ReviewFrequency string
type ReviewStatus string
type UserRole string
type LinkType string
type HistoryAction string
type BackupKind string
type RestrictionKind string

const (
	// Document Types
	DocTypePolicy    DocumentType = "POLICY"
	DocTypeProcedure DocumentType = "PROCEDURE"
	DocTypeManual    DocumentType = "MANUAL"
	DocTypeHROthers  DocumentType = "HR_OTHERS"

	// Document Status
	DocStatusDraft       DocumentStatus = "DRAFT"
	DocStatusActive      DocumentStatus = "ACTIVE"
	DocStatusUnderReview DocumentStatus = "UNDER_REVIEW"
	DocStatusSuperseded  DocumentStatus = "SUPERSEDED"
	DocStatusArchived    DocumentStatus = "ARCHIVED"

	// Review Frequencies
	FrequencyAnnual     ReviewFrequency = "ANNUAL"
	FrequencySemiAnnual ReviewFrequency = "SEMI_ANNUAL"
	FrequencyQuarterly  ReviewFrequency = "QUARTERLY"
	FrequencyAdHoc      ReviewFrequency = "AD_HOC"

	// Review Status (derived, never stored)
	ReviewOverdue  ReviewStatus = "OVERDUE"
	ReviewDueSoon  ReviewStatus = "DUE_SOON"
	ReviewUpcoming ReviewStatus = "UPCOMING"
	ReviewOnTrack  ReviewStatus = "ON_TRACK"

	// User Roles
	RoleAdmin            UserRole = "ADMIN"
	RoleEditor           UserRole = "EDITOR"
	RoleEditorRestricted UserRole = "EDITOR_RESTRICTED"
	RoleViewer           UserRole = "VIEWER"

	// Link Types
	LinkImplements LinkType = "IMPLEMENTS"
	LinkReferences LinkType = "REFERENCES"
	LinkSupersedes LinkType = "SUPERSEDES"

	// History Actions
	ActionCreated           HistoryAction = "CREATED"
	ActionUpdated           HistoryAction = "UPDATED"
	ActionStatusChanged     HistoryAction = "STATUS_CHANGED"
	ActionReviewed          HistoryAction = "REVIEWED"
	ActionAttachmentAdded   HistoryAction = "ATTACHMENT_ADDED"
	ActionAttachmentRemoved HistoryAction = "ATTACHMENT_REMOVED"
	ActionLinkAdded         HistoryAction = "LINK_ADDED"
	ActionLinkRemoved       HistoryAction = "LINK_REMOVED"

	// Backup Kinds
	BackupManual BackupKind = "MANUAL"
	BackupSafety BackupKind = "SAFETY"

	// Restriction Kinds (restricted-editor allow-list entries)
	RestrictionCategory RestrictionKind = "CATEGORY"
	RestrictionEntity   RestrictionKind = "ENTITY"
)

// ReviewIntervalDays returns the number of days between reviews,
// or 0 for AD_HOC which has no automatic recomputation.
func (f ReviewFrequency) ReviewIntervalDays() int {
	switch f {
	case FrequencyAnnual:
		return 365
	case FrequencySemiAnnual:
		return 182
	case FrequencyQuarterly:
		return 91
	default:
		return 0
	}
}

// Valid reports whether the frequency is one of the known values.
func (f ReviewFrequency) Valid() bool {
	switch f {
	case FrequencyAnnual, FrequencySemiAnnual, FrequencyQuarterly, FrequencyAdHoc:
		return true
	}
	return false
}

func (s DocumentStatus) Valid() bool {
	switch s {
	case DocStatusDraft, DocStatusActive, DocStatusUnderReview, DocStatusSuperseded, DocStatusArchived:
		return true
	}
	return false
}

func (t DocumentType) Valid() bool {
	switch t {
	case DocTypePolicy, DocTypeProcedure, DocTypeManual, DocTypeHROthers:
		return true
	}
	return false
}

func (t LinkType) Valid() bool {
	switch t {
	case LinkImplements, LinkReferences, LinkSupersedes:
		return true
	}
	return false
}

func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleEditorRestricted, RoleViewer:
		return true
	}
	return false
}

// InversePhrase renders the link from the target document's perspective,
// e.g. IMPLEMENTS becomes "IMPLEMENTED BY".
func (t LinkType) InversePhrase() string {
	switch t {
	case LinkImplements:
		return "IMPLEMENTED BY"
	case LinkReferences:
		return "REFERENCED BY"
	case LinkSupersedes:
		return "SUPERSEDED BY"
	default:
		return "LINKED TO"
	}
}

type User struct {
	ID                  uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Username            string     `json:"username" gorm:"type:varchar(50);uniqueIndex;not null"`
	PasswordHash        string     `json:"-" gorm:"type:varchar(255);not null"`
	FullName            string     `json:"full_name" gorm:"type:varchar(100);not null"`
	Email               string     `json:"email" gorm:"type:varchar(254);index"`
	Role                UserRole   `json:"role" gorm:"type:varchar(20);not null;default:'VIEWER'"`
	IsActive            bool       `json:"is_active" gorm:"not null;default:true"`
	ForcePasswordChange bool       `json:"force_password_change" gorm:"not null;default:true"`
	CreatedAt           time.Time  `json:"created_at" gorm:"not null"`
	CreatedBy           *uuid.UUID `json:"created_by" gorm:"type:uuid"`
	LastLoginAt         *time.Time `json:"last_login_at"`

	// Relationships
	Restrictions []UserRestriction `json:"restrictions,omitempty" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// UserRestriction is one allow-list entry for a restricted editor:
// a category code or an entity name the user may edit documents for.
type UserRestriction struct {
	ID     uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	UserID uuid.UUID       `json:"user_id" gorm:"type:uuid;not null;index"`
	Kind   RestrictionKind `json:"kind" gorm:"type:varchar(20);not null"`
	Value  string          `json:"value" gorm:"type:varchar(100);not null"`
}

type Document struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	DocType     DocumentType   `json:"doc_type" gorm:"type:varchar(20);not null;index"`
	DocRef      string         `json:"doc_ref" gorm:"type:varchar(30);uniqueIndex;not null"`
	Title       string         `json:"title" gorm:"type:varchar(200);not null"`
	Description string         `json:"description" gorm:"type:text"`
	Category    string         `json:"category" gorm:"type:varchar(20);not null;index"`
	Owner       string         `json:"owner" gorm:"type:varchar(100);not null"`
	Approver    string         `json:"approver" gorm:"type:varchar(100)"`
	Status      DocumentStatus `json:"status" gorm:"type:varchar(20);not null;default:'DRAFT';index"`
	Version     string         `json:"version" gorm:"type:varchar(20);not null"`

	EffectiveDate   time.Time       `json:"effective_date" gorm:"not null"`
	LastReviewDate  time.Time       `json:"last_review_date" gorm:"not null"`
	NextReviewDate  time.Time       `json:"next_review_date" gorm:"not null;index"`
	ReviewFrequency ReviewFrequency `json:"review_frequency" gorm:"type:varchar(20);not null"`

	Notes            string `json:"notes" gorm:"type:text"`
	MandatoryReadAll bool   `json:"mandatory_read_all" gorm:"not null;default:false;index"`
	ApplicableEntity string `json:"applicable_entity" gorm:"type:varchar(500);index"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	CreatedBy uuid.UUID `json:"created_by" gorm:"type:uuid;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
	UpdatedBy uuid.UUID `json:"updated_by" gorm:"type:uuid;not null"`

	// Relationships
	Attachments []Attachment `json:"attachments,omitempty" gorm:"foreignKey:DocID;constraint:OnDelete:CASCADE"`
}

// ApplicableEntities splits the semicolon-joined entity list.
func (d *Document) ApplicableEntities() []string {
	if d.ApplicableEntity == "" {
		return nil
	}
	parts := strings.Split(d.ApplicableEntity, ";")
	entities := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			entities = append(entities, p)
		}
	}
	return entities
}

// ReviewStatusAt derives the review status from the next review date.
func (d *Document) ReviewStatusAt(now time.Time, warningDays, upcomingDays int) ReviewStatus {
	if d.NextReviewDate.Before(now) {
		return ReviewOverdue
	}
	days := int(d.NextReviewDate.Sub(now).Hours() / 24)
	switch {
	case days <= warningDays:
		return ReviewDueSoon
	case days <= upcomingDays:
		return ReviewUpcoming
	default:
		return ReviewOnTrack
	}
}

type Attachment struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	DocID        uuid.UUID `json:"doc_id" gorm:"type:uuid;not null;index"`
	Filename     string    `json:"filename" gorm:"type:varchar(255);not null"`
	FilePath     string    `json:"file_path" gorm:"type:varchar(500);not null"`
	FileSize     int64     `json:"file_size" gorm:"not null"`
	MimeType     string    `json:"mime_type" gorm:"type:varchar(100)"`
	VersionLabel string    `json:"version_label" gorm:"type:varchar(20);not null"`
	IsCurrent    bool      `json:"is_current" gorm:"not null;default:true"`
	UploadedAt   time.Time `json:"uploaded_at" gorm:"not null"`
	UploadedBy   uuid.UUID `json:"uploaded_by" gorm:"type:uuid;not null"`
}

type DocumentLink struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ParentDocID uuid.UUID `json:"parent_doc_id" gorm:"type:uuid;not null;uniqueIndex:idx_link_triple"`
	ChildDocID  uuid.UUID `json:"child_doc_id" gorm:"type:uuid;not null;uniqueIndex:idx_link_triple"`
	LinkType    LinkType  `json:"link_type" gorm:"type:varchar(20);not null;uniqueIndex:idx_link_triple"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null"`
	CreatedBy   uuid.UUID `json:"created_by" gorm:"type:uuid;not null"`

	// Relationships
	ParentDoc Document `json:"parent_doc,omitempty" gorm:"foreignKey:ParentDocID;constraint:OnDelete:CASCADE"`
	ChildDoc  Document `json:"child_doc,omitempty" gorm:"foreignKey:ChildDocID;constraint:OnDelete:CASCADE"`
}

// HistoryEntry is the append-only audit record. DocID deliberately has no
// foreign key to documents: history is retained as an orphan when its
// document is deleted so the audit trail survives.
type HistoryEntry struct {
	ID           uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	DocID        uuid.UUID     `json:"doc_id" gorm:"type:uuid;not null;index"`
	Action       HistoryAction `json:"action" gorm:"type:varchar(30);not null"`
	FieldChanged string        `json:"field_changed" gorm:"type:varchar(50)"`
	OldValue     string        `json:"old_value" gorm:"type:text"`
	NewValue     string        `json:"new_value" gorm:"type:text"`
	ChangedBy    uuid.UUID     `json:"changed_by" gorm:"type:uuid;not null;index"`
	ChangedAt    time.Time     `json:"changed_at" gorm:"not null;index"`
	Notes        string        `json:"notes" gorm:"type:text"`
}

type Category struct {
	Code      string `json:"code" gorm:"type:varchar(20);primaryKey"`
	Name      string `json:"name" gorm:"type:varchar(100);not null"`
	IsActive  bool   `json:"is_active" gorm:"not null;default:true"`
	SortOrder int    `json:"sort_order" gorm:"not null;default:99"`
}

type Entity struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(100);uniqueIndex;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

type Setting struct {
	Key       string     `json:"key" gorm:"type:varchar(100);primaryKey"`
	Value     string     `json:"value" gorm:"type:text"`
	UpdatedAt *time.Time `json:"updated_at"`
	UpdatedBy *uuid.UUID `json:"updated_by" gorm:"type:uuid"`
}

type BackupRecord struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	BackupPath string     `json:"backup_path" gorm:"type:varchar(500);not null"`
	Kind       BackupKind `json:"kind" gorm:"type:varchar(20);not null;default:'MANUAL'"`
	SizeBytes  int64      `json:"size_bytes"`
	CreatedAt  time.Time  `json:"created_at" gorm:"not null;index"`
	CreatedBy  uuid.UUID  `json:"created_by" gorm:"type:uuid;not null"`
	Notes      string     `json:"notes" gorm:"type:text"`
}

// GetAllModels returns all models for migration
func GetAllModels() []interface{} {
	return []interface{}{
		&User{},
		&UserRestriction{},
		&Category{},
		&Entity{},
		&Document{},
		&Attachment{},
		&DocumentLink{},
		&HistoryEntry{},
		&Setting{},
		&BackupRecord{},
	}
}

// DefaultCategories are seeded into an empty store.
var DefaultCategories = []Category{
	{Code: "AML", Name: "Anti-Money Laundering & CFT", IsActive: true, SortOrder: 1},
	{Code: "GOV", Name: "Corporate Governance", IsActive: true, SortOrder: 2},
	{Code: "OPS", Name: "Operations", IsActive: true, SortOrder: 3},
	{Code: "ACC", Name: "Accounting & Valuation", IsActive: true, SortOrder: 4},
	{Code: "IT", Name: "Information Technology & Security", IsActive: true, SortOrder: 5},
	{Code: "HR", Name: "Human Resources", IsActive: true, SortOrder: 6},
	{Code: "DP", Name: "Data Protection / GDPR", IsActive: true, SortOrder: 7},
	{Code: "BCP", Name: "Business Continuity", IsActive: true, SortOrder: 8},
	{Code: "RISK", Name: "Risk Management", IsActive: true, SortOrder: 9},
	{Code: "REG", Name: "Regulatory & Compliance", IsActive: true, SortOrder: 10},
	{Code: "OTHER", Name: "Other", IsActive: true, SortOrder: 99},
}

// DefaultSettings are seeded into an empty store.
var DefaultSettings = map[string]string{
	"company_name":             "",
	"warning_threshold_days":   "30",
	"upcoming_threshold_days":  "90",
	"date_format":              "DD/MM/YYYY",
	"default_review_frequency": "ANNUAL",
}
