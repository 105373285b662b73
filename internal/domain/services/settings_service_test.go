package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
)

func TestSettingsService_SeededDefaults(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()

	warning, err := s.settings.WarningThresholdDays(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, warning)

	upcoming, err := s.settings.UpcomingThresholdDays(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90, upcoming)

	frequency, err := s.settings.DefaultReviewFrequency(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyAnnual, frequency)

	all, err := s.settings.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DD/MM/YYYY", all["date_format"])
}

func TestSettingsService_Set(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)

	require.NoError(t, s.settings.Set(ctx, admin, "company_name", "Acme Fund Services"))

	name, err := s.settings.CompanyName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Acme Fund Services", name)

	// overwriting works
	require.NoError(t, s.settings.Set(ctx, admin, "company_name", "Acme Holdings"))
	name, err = s.settings.CompanyName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings", name)
}

func TestSettingsService_Set_NonAdminDenied(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	editor := s.env.Actor(t, models.RoleEditor)

	err := s.settings.Set(ctx, editor, "company_name", "Nope Ltd")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSettingsService_Update(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)

	err := s.settings.Update(ctx, admin, map[string]string{
		"warning_threshold_days":  "14",
		"upcoming_threshold_days": "45",
	})
	require.NoError(t, err)

	warning, err := s.settings.WarningThresholdDays(ctx)
	require.NoError(t, err)
	assert.Equal(t, 14, warning)

	upcoming, err := s.settings.UpcomingThresholdDays(ctx)
	require.NoError(t, err)
	assert.Equal(t, 45, upcoming)
}

func TestSettingsService_MalformedIntFallsBack(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	admin := s.env.Actor(t, models.RoleAdmin)

	require.NoError(t, s.settings.Set(ctx, admin, "warning_threshold_days", "not-a-number"))

	warning, err := s.settings.WarningThresholdDays(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, warning)
}
