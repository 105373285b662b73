package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
)

func TestDocumentService_Create(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)

	doc, err := s.docs.Create(ctx, editor, CreateDocumentParams{
		DocType:         models.DocTypePolicy,
		DocRef:          "POL-AML-001",
		Title:           "AML Policy",
		Category:        "AML",
		Owner:           "Compliance Officer",
		ReviewFrequency: models.FrequencyAnnual,
	})
	require.NoError(t, err)
	assert.Equal(t, "POL-AML-001", doc.DocRef)
	assert.Equal(t, models.DocStatusDraft, doc.Status)
	assert.Equal(t, "1.0", doc.Version)
	assert.Equal(t, doc.LastReviewDate.AddDate(0, 0, 365), doc.NextReviewDate)

	entries, err := s.history.QueryByDocument(ctx, doc.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionCreated, entries[0].Action)
	assert.Equal(t, editor.UserID, entries[0].ChangedBy)
}

func TestDocumentService_Create_InvalidRef(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)

	for _, ref := range []string{"", "POL", "pol-aml-001x", "POL-AML-", "P-AML-001", "POL-AML-00001"} {
		_, err := s.docs.Create(ctx, editor, CreateDocumentParams{
			DocType:         models.DocTypePolicy,
			DocRef:          ref,
			Title:           "AML Policy",
			Category:        "AML",
			Owner:           "Compliance Officer",
			ReviewFrequency: models.FrequencyAnnual,
		})
		assert.True(t, IsValidation(err), "ref %q should be rejected", ref)
	}
}

func TestDocumentService_Create_DuplicateRef(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)

	params := CreateDocumentParams{
		DocType:         models.DocTypePolicy,
		DocRef:          "POL-GOV-010",
		Title:           "Governance Policy",
		Category:        "GOV",
		Owner:           "Board Secretary",
		ReviewFrequency: models.FrequencyAnnual,
	}
	_, err := s.docs.Create(ctx, editor, params)
	require.NoError(t, err)

	_, err = s.docs.Create(ctx, editor, params)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "already exists")
}

func TestDocumentService_Create_ViewerDenied(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	viewer := s.env.Actor(t, models.RoleViewer)

	_, err := s.docs.Create(ctx, viewer, CreateDocumentParams{
		DocType:         models.DocTypePolicy,
		DocRef:          "POL-AML-001",
		Title:           "AML Policy",
		Category:        "AML",
		Owner:           "Compliance Officer",
		ReviewFrequency: models.FrequencyAnnual,
	})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestDocumentService_Update_OneHistoryEntryPerField(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)
	doc := s.env.CreateTestDocument(t, editor.UserID, nil)

	title := "Revised Title"
	owner := "New Owner"
	status := models.DocStatusUnderReview
	updated, err := s.docs.Update(ctx, editor, doc.ID, UpdateDocumentParams{
		Title:  &title,
		Owner:  &owner,
		Status: &status,
	})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, status, updated.Status)

	entries, err := s.history.QueryByDocument(ctx, doc.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byField := map[string]models.HistoryEntry{}
	for _, e := range entries {
		byField[e.FieldChanged] = e
	}
	assert.Equal(t, models.ActionUpdated, byField["title"].Action)
	assert.Equal(t, doc.Title, byField["title"].OldValue)
	assert.Equal(t, title, byField["title"].NewValue)
	assert.Equal(t, models.ActionUpdated, byField["owner"].Action)
	assert.Equal(t, models.ActionStatusChanged, byField["status"].Action)
	assert.Equal(t, string(models.DocStatusActive), byField["status"].OldValue)
	assert.Equal(t, string(status), byField["status"].NewValue)
}

func TestDocumentService_Update_NoChangesNoHistory(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)
	doc := s.env.CreateTestDocument(t, editor.UserID, nil)

	sameTitle := doc.Title
	_, err := s.docs.Update(ctx, editor, doc.ID, UpdateDocumentParams{Title: &sameTitle})
	require.NoError(t, err)

	entries, err := s.history.QueryByDocument(ctx, doc.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDocumentService_MarkReviewed(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)
	doc := s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.ReviewFrequency = models.FrequencyQuarterly
		d.LastReviewDate = time.Now().UTC().AddDate(0, -6, 0)
		d.NextReviewDate = time.Now().UTC().AddDate(0, -3, 0)
	})

	before := time.Now().UTC()
	updated, err := s.docs.MarkReviewed(ctx, editor, doc.ID, "quarterly check")
	require.NoError(t, err)

	assert.False(t, updated.LastReviewDate.Before(before))
	assert.Equal(t, updated.LastReviewDate.AddDate(0, 0, 91), updated.NextReviewDate)

	entries, err := s.history.QueryByDocument(ctx, doc.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionReviewed, entries[0].Action)
	assert.Equal(t, "quarterly check", entries[0].Notes)
}

func TestDocumentService_MarkReviewed_AdHocKeepsScheduledDate(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)

	scheduled := time.Now().UTC().AddDate(1, 0, 0).Truncate(time.Second)
	doc := s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.ReviewFrequency = models.FrequencyAdHoc
		d.NextReviewDate = scheduled
	})

	updated, err := s.docs.MarkReviewed(ctx, editor, doc.ID, "")
	require.NoError(t, err)
	assert.True(t, scheduled.Equal(updated.NextReviewDate.Truncate(time.Second)),
		"scheduled date should not move, got %v", updated.NextReviewDate)
}

func TestDocumentService_Delete_AdminOnly(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)
	doc := s.env.CreateTestDocument(t, editor.UserID, nil)

	err := s.docs.Delete(ctx, editor, doc.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	admin := s.env.Actor(t, models.RoleAdmin)
	err = s.docs.Delete(ctx, admin, doc.ID)
	require.NoError(t, err)

	_, err = s.docs.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentService_Delete_HistorySurvives(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)

	doc, err := s.docs.Create(ctx, admin, CreateDocumentParams{
		DocType:         models.DocTypePolicy,
		DocRef:          "POL-OPS-007",
		Title:           "Operations Policy",
		Category:        "OPS",
		Owner:           "COO",
		ReviewFrequency: models.FrequencyAnnual,
	})
	require.NoError(t, err)

	require.NoError(t, s.docs.Delete(ctx, admin, doc.ID))

	entries, err := s.history.QueryByDocument(ctx, doc.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionCreated, entries[0].Action)
}

func TestDocumentService_Delete_MovesAttachmentFiles(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)

	doc, err := s.docs.Create(ctx, admin, CreateDocumentParams{
		DocType:         models.DocTypePolicy,
		DocRef:          "POL-HR-003",
		Title:           "HR Policy",
		Category:        "HR",
		Owner:           "Head of HR",
		ReviewFrequency: models.FrequencyAnnual,
	})
	require.NoError(t, err)

	source := s.env.SourceFile(t, "handbook.pdf", "pdf bytes")
	_, err = s.attachments.Add(ctx, admin, doc.ID, source, "1.0")
	require.NoError(t, err)

	require.NoError(t, s.docs.Delete(ctx, admin, doc.ID))

	deletedDir := filepath.Join(s.env.Root, "_Deleted", "POL-HR-003")
	entries, err := os.ReadDir(deletedDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDocumentService_List_Filters(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)

	s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.DocRef = "POL-AML-101"
		d.Title = "AML Programme"
		d.Category = "AML"
	})
	s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.DocRef = "PRC-IT-201"
		d.DocType = models.DocTypeProcedure
		d.Title = "Patch Management"
		d.Category = "IT"
		d.Status = models.DocStatusDraft
	})

	docs, err := s.docs.List(ctx, editor, ListFilter{Category: "AML"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "POL-AML-101", docs[0].DocRef)

	docs, err = s.docs.List(ctx, editor, ListFilter{Status: models.DocStatusDraft})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "PRC-IT-201", docs[0].DocRef)

	docs, err = s.docs.List(ctx, editor, ListFilter{Search: "patch"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "PRC-IT-201", docs[0].DocRef)

	docs, err = s.docs.List(ctx, editor, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestDocumentService_List_MandatoryReadFilter(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)

	s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.DocRef = "POL-HR-401"
		d.MandatoryReadAll = true
	})
	s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.DocRef = "POL-HR-402"
	})

	mandatory := true
	docs, err := s.docs.List(ctx, editor, ListFilter{MandatoryRead: &mandatory})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "POL-HR-401", docs[0].DocRef)
}

func TestDocumentService_List_EntityFilterMatchesWholeNames(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)

	s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.DocRef = "POL-AML-411"
		d.ApplicableEntity = "Fund Alpha;Fund Beta"
	})
	s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.DocRef = "POL-AML-412"
		d.ApplicableEntity = "Fund Alpha II"
	})

	docs, err := s.docs.List(ctx, editor, ListFilter{Entity: "Fund Alpha"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "POL-AML-411", docs[0].DocRef)

	docs, err = s.docs.List(ctx, editor, ListFilter{Entity: "Fund Beta"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestDocumentService_List_RestrictedEditorScope(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)
	restricted := s.env.Actor(t, models.RoleEditorRestricted)

	s.env.CreateTestDocument(t, admin.UserID, func(d *models.Document) {
		d.DocRef = "POL-AML-301"
		d.Category = "AML"
	})
	s.env.CreateTestDocument(t, admin.UserID, func(d *models.Document) {
		d.DocRef = "POL-IT-302"
		d.Category = "IT"
	})

	// no allow-list entries yet: the register is empty for this editor
	docs, err := s.docs.List(ctx, restricted, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, docs)

	err = s.users.SetRestrictions(ctx, admin, restricted.UserID, []string{"AML"}, nil)
	require.NoError(t, err)

	docs, err = s.docs.List(ctx, restricted, ListFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "POL-AML-301", docs[0].DocRef)
}

func TestDocumentService_RestrictedEditorCannotEditOutsideScope(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)
	restricted := s.env.Actor(t, models.RoleEditorRestricted)

	doc := s.env.CreateTestDocument(t, admin.UserID, func(d *models.Document) {
		d.Category = "IT"
	})
	require.NoError(t, s.users.SetRestrictions(ctx, admin, restricted.UserID, []string{"AML"}, nil))

	title := "Out Of Scope Edit"
	_, err := s.docs.Update(ctx, restricted, doc.ID, UpdateDocumentParams{Title: &title})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	entityDoc := s.env.CreateTestDocument(t, admin.UserID, func(d *models.Document) {
		d.Category = "IT"
		d.ApplicableEntity = "Fund A;Fund B"
	})
	require.NoError(t, s.users.SetRestrictions(ctx, admin, restricted.UserID, nil, []string{"Fund B"}))

	_, err = s.docs.Update(ctx, restricted, entityDoc.ID, UpdateDocumentParams{Title: &title})
	assert.NoError(t, err)
}

func TestDocumentService_Counts(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)

	s.env.CreateTestDocument(t, editor.UserID, nil)
	s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.Status = models.DocStatusDraft
	})
	s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.DocType = models.DocTypeManual
	})

	byStatus, err := s.docs.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), byStatus[models.DocStatusActive])
	assert.Equal(t, int64(1), byStatus[models.DocStatusDraft])

	byType, err := s.docs.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), byType[models.DocTypePolicy])
	assert.Equal(t, int64(1), byType[models.DocTypeManual])
}

func TestDocumentService_ReviewStatusCounts(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)
	now := time.Now().UTC()

	s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.NextReviewDate = now.AddDate(0, 0, -10) // overdue
	})
	s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.NextReviewDate = now.AddDate(0, 0, 15) // due soon
	})
	s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.NextReviewDate = now.AddDate(0, 0, 60) // upcoming
	})
	s.env.CreateTestDocument(t, editor.UserID, func(d *models.Document) {
		d.NextReviewDate = now.AddDate(0, 0, 200) // on track
	})

	counts, err := s.docs.ReviewStatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.ReviewOverdue])
	assert.Equal(t, int64(1), counts[models.ReviewDueSoon])
	assert.Equal(t, int64(1), counts[models.ReviewUpcoming])
	assert.Equal(t, int64(1), counts[models.ReviewOnTrack])

	overdue, err := s.docs.ListOverdue(ctx)
	require.NoError(t, err)
	assert.Len(t, overdue, 1)

	attention, err := s.docs.ListRequiringAttention(ctx)
	require.NoError(t, err)
	assert.Len(t, attention, 2)
}
