package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"salonpost/internal/types"
)

// ============================================================
// PolicyRepository Tests
// ============================================================

func TestPolicyRepository_GetOverrides_FullRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPolicyRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "salon_a"
			ws, we, tz := "10:00", "18:00", "Europe/Madrid"
			dmin, dmax := 15, 60
			*dest[1].(**string) = &ws
			*dest[2].(**string) = &we
			*dest[3].(**int) = &dmin
			*dest[4].(**int) = &dmax
			*dest[5].(**string) = &tz
			return nil
		}})

	o, err := repo.GetOverrides(context.Background(), "salon_a")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "salon_a", o.SalonID)
	assert.Equal(t, "10:00", *o.WindowStart)
	assert.Equal(t, 60, *o.DelayMaxMinutes)
	assert.Equal(t, "Europe/Madrid", *o.Timezone)
}

func TestPolicyRepository_GetOverrides_SparseRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPolicyRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "salon_a"
			tz := "Pacific/Auckland"
			*dest[5].(**string) = &tz
			return nil
		}})

	o, err := repo.GetOverrides(context.Background(), "salon_a")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Nil(t, o.WindowStart)
	assert.Nil(t, o.DelayMinMinutes)
	assert.Equal(t, "Pacific/Auckland", *o.Timezone)
}

func TestPolicyRepository_GetOverrides_NoRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPolicyRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	o, err := repo.GetOverrides(context.Background(), "salon_a")
	require.NoError(t, err, "a missing override row is not an error")
	assert.Nil(t, o)
}

func TestPolicyRepository_GetOverrides_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPolicyRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection reset")})

	_, err := repo.GetOverrides(context.Background(), "salon_a")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

// ============================================================
// CredentialRepository Tests
// ============================================================

func TestCredentialRepository_GetBySalon_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCredentialRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "salon_a"
			*dest[1].(*string) = "page_123"
			*dest[2].(*string) = "EAAB-token"
			*dest[3].(*string) = "ig_456"
			return nil
		}})

	c, err := repo.GetBySalon(context.Background(), "salon_a")
	require.NoError(t, err)
	assert.Equal(t, "page_123", c.PageID)
	assert.Equal(t, "EAAB-token", c.PageToken.Unmask())
	assert.Equal(t, "ig_456", c.IGUserID)
}

func TestCredentialRepository_GetBySalon_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCredentialRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetBySalon(context.Background(), "salon_a")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundCredentials, appErr.Code)
}

func TestCredentialRepository_TokenStaysRedactedInLogs(t *testing.T) {
	c := types.SalonCredentials{PageToken: types.SecretString("EAAB-secret")}
	assert.Equal(t, "***REDACTED***", c.PageToken.String())
	assert.Equal(t, "EAAB-secret", c.PageToken.Unmask())
}
