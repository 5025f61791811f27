package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSettingsRepository_DefaultIsDisabled(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepository(db, zap.NewNop())

	enabled, err := repo.GetBool(SettingAutoSendEnabled, false)
	require.NoError(t, err)
	assert.False(t, enabled, "auto-send must ship disabled")
}

func TestSettingsRepository_SetBoolRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepository(db, zap.NewNop())

	require.NoError(t, repo.SetBool(SettingAutoSendEnabled, true))
	enabled, err := repo.GetBool(SettingAutoSendEnabled, false)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, repo.SetBool(SettingAutoSendEnabled, false))
	enabled, err = repo.GetBool(SettingAutoSendEnabled, true)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestSettingsRepository_MissingKeyUsesFallback(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepository(db, zap.NewNop())

	value, err := repo.GetBool("no_such_key", true)
	require.NoError(t, err)
	assert.True(t, value)
}
