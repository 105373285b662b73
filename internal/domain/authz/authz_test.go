package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
)

func actorWithRole(role models.UserRole) Actor {
	return NewActor(&models.User{
		ID:       uuid.New(),
		Username: "someone",
		FullName: "Some One",
		Role:     role,
	})
}

func TestAuthorize_RoleMatrix(t *testing.T) {
	cases := []struct {
		role    models.UserRole
		cap     Capability
		allowed bool
	}{
		{models.RoleViewer, CapViewRegister, true},
		{models.RoleViewer, CapDownloadAttachment, true},
		{models.RoleViewer, CapEditDocument, false},
		{models.RoleViewer, CapUploadAttachment, false},
		{models.RoleViewer, CapManageUsers, false},

		{models.RoleEditor, CapViewRegister, true},
		{models.RoleEditor, CapAddDocument, true},
		{models.RoleEditor, CapMarkReviewed, true},
		{models.RoleEditor, CapManageLinks, true},
		{models.RoleEditor, CapDeleteDocument, false},
		{models.RoleEditor, CapChangeSettings, false},
		{models.RoleEditor, CapViewAuditLog, false},

		{models.RoleEditorRestricted, CapEditDocument, true},
		{models.RoleEditorRestricted, CapDeleteDocument, false},
		{models.RoleEditorRestricted, CapManageUsers, false},

		{models.RoleAdmin, CapViewRegister, true},
		{models.RoleAdmin, CapEditDocument, true},
		{models.RoleAdmin, CapDeleteDocument, true},
		{models.RoleAdmin, CapManageUsers, true},
		{models.RoleAdmin, CapChangeSettings, true},
		{models.RoleAdmin, CapManageCategories, true},
		{models.RoleAdmin, CapViewAuditLog, true},
	}

	for _, tc := range cases {
		actor := actorWithRole(tc.role)
		err := Authorize(actor, tc.cap)
		if tc.allowed {
			assert.NoError(t, err, "%s should hold %s", tc.role, tc.cap)
		} else {
			assert.ErrorIs(t, err, ErrPermissionDenied, "%s should lack %s", tc.role, tc.cap)
		}
	}
}

func TestAuthorize_UnauthenticatedDenied(t *testing.T) {
	err := Authorize(Actor{Role: models.RoleAdmin}, CapViewRegister)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestHasCapability_UnknownRoleFailsClosed(t *testing.T) {
	actor := actorWithRole("SUPERUSER")
	assert.False(t, actor.HasCapability(CapViewRegister))
}

func TestActorHelpers(t *testing.T) {
	assert.True(t, actorWithRole(models.RoleAdmin).IsAdmin())
	assert.False(t, actorWithRole(models.RoleEditor).IsAdmin())
	assert.True(t, actorWithRole(models.RoleEditorRestricted).IsRestrictedEditor())
	assert.False(t, actorWithRole(models.RoleEditor).IsRestrictedEditor())
}

func TestCapabilitiesForRole(t *testing.T) {
	viewer := CapabilitiesForRole(models.RoleViewer)
	assert.Len(t, viewer, 5)

	admin := CapabilitiesForRole(models.RoleAdmin)
	assert.Len(t, admin, 16)

	assert.Empty(t, CapabilitiesForRole("SUPERUSER"))
}
