// Package authz implements the role-based authorization gate and the actor
// context carried through every mutating engine call.
package authz

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
)

// ErrPermissionDenied indicates the actor is not allowed to perform the
// requested operation. Surfaced verbatim, never retried.
var ErrPermissionDenied = errors.New("permission denied")

// Capability is one permission checkable against the role table.
type Capability string

const (
	// View capabilities (all roles)
	CapViewRegister       Capability = "VIEW_REGISTER"
	CapViewDocument       Capability = "VIEW_DOCUMENT"
	CapDownloadAttachment Capability = "DOWNLOAD_ATTACHMENT"
	CapExportRegister     Capability = "EXPORT_REGISTER"
	CapGenerateReports    Capability = "GENERATE_REPORTS"

	// Edit capabilities (admin, editors)
	CapAddDocument      Capability = "ADD_DOCUMENT"
	CapEditDocument     Capability = "EDIT_DOCUMENT"
	CapUploadAttachment Capability = "UPLOAD_ATTACHMENT"
	CapDeleteAttachment Capability = "DELETE_ATTACHMENT"
	CapMarkReviewed     Capability = "MARK_REVIEWED"
	CapManageLinks      Capability = "MANAGE_LINKS"

	// Admin-only capabilities
	CapDeleteDocument   Capability = "DELETE_DOCUMENT"
	CapManageUsers      Capability = "MANAGE_USERS"
	CapChangeSettings   Capability = "CHANGE_SETTINGS"
	CapManageCategories Capability = "MANAGE_CATEGORIES"
	CapViewAuditLog     Capability = "VIEW_AUDIT_LOG"
)

var viewCapabilities = []Capability{
	CapViewRegister,
	CapViewDocument,
	CapDownloadAttachment,
	CapExportRegister,
	CapGenerateReports,
}

var editCapabilities = []Capability{
	CapAddDocument,
	CapEditDocument,
	CapUploadAttachment,
	CapDeleteAttachment,
	CapMarkReviewed,
	CapManageLinks,
}

var adminCapabilities = []Capability{
	CapDeleteDocument,
	CapManageUsers,
	CapChangeSettings,
	CapManageCategories,
	CapViewAuditLog,
}

// roleCapabilities is the static role table. EDITOR_RESTRICTED carries the
// same coarse capabilities as EDITOR; its per-document allow-list is an
// attribute check layered on top, evaluated by the document service.
var roleCapabilities = map[models.UserRole]map[Capability]bool{
	models.RoleAdmin:            capabilitySet(viewCapabilities, editCapabilities, adminCapabilities),
	models.RoleEditor:           capabilitySet(viewCapabilities, editCapabilities),
	models.RoleEditorRestricted: capabilitySet(viewCapabilities, editCapabilities),
	models.RoleViewer:           capabilitySet(viewCapabilities),
}

func capabilitySet(groups ...[]Capability) map[Capability]bool {
	set := make(map[Capability]bool)
	for _, group := range groups {
		for _, cap := range group {
			set[cap] = true
		}
	}
	return set
}

// Actor identifies the acting user for authorization and audit attribution.
// It is constructed once per login session and passed explicitly into every
// mutating call; there is no ambient session state.
type Actor struct {
	UserID        uuid.UUID
	Username      string
	FullName      string
	Role          models.UserRole
	Authenticated bool
}

// NewActor builds an authenticated actor from a user record.
func NewActor(user *models.User) Actor {
	return Actor{
		UserID:        user.ID,
		Username:      user.Username,
		FullName:      user.FullName,
		Role:          user.Role,
		Authenticated: true,
	}
}

// IsAdmin reports whether the actor holds the administrator role.
func (a Actor) IsAdmin() bool {
	return a.Authenticated && a.Role == models.RoleAdmin
}

// IsRestrictedEditor reports whether the actor's edits are limited to a
// per-user allow-list of categories and entities.
func (a Actor) IsRestrictedEditor() bool {
	return a.Authenticated && a.Role == models.RoleEditorRestricted
}

// HasCapability reports whether the actor's role grants the capability.
// Fails closed: unauthenticated actors and unknown roles get nothing.
func (a Actor) HasCapability(cap Capability) bool {
	if !a.Authenticated {
		return false
	}
	return roleCapabilities[a.Role][cap]
}

// Authorize checks the capability against the role table and returns
// ErrPermissionDenied on failure. Every mutating service method calls this
// before touching the store.
func Authorize(actor Actor, cap Capability) error {
	if !actor.Authenticated {
		return fmt.Errorf("%w: authentication required", ErrPermissionDenied)
	}
	if !actor.HasCapability(cap) {
		return fmt.Errorf("%w: %s requires capability %s", ErrPermissionDenied, actor.Role, cap)
	}
	return nil
}

// CapabilitiesForRole returns the capability set granted to a role.
func CapabilitiesForRole(role models.UserRole) []Capability {
	set := roleCapabilities[role]
	caps := make([]Capability, 0, len(set))
	for cap := range set {
		caps = append(caps, cap)
	}
	return caps
}
