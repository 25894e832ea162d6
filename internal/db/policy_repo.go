package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"salonpost/internal/types"
)

// PolicyRepository provides read access to the salon_policies table. Override
// rows are sparse: every column except salon_id is nullable, and a missing row
// simply means the salon inherits the global default in full. The policy
// resolver owns the merge; this repository only fetches raw overrides.
type PolicyRepository struct {
	db DBTX
}

// NewPolicyRepository creates a new PolicyRepository backed by the given
// database connection (pool or transaction).
func NewPolicyRepository(db DBTX) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// GetOverrides returns the salon's policy override row, or nil (no error)
// when the salon has none.
func (r *PolicyRepository) GetOverrides(ctx context.Context, salonID string) (*types.PolicyOverrides, error) {
	row := r.db.QueryRow(ctx,
		`SELECT salon_id, window_start, window_end,
		        delay_min_minutes, delay_max_minutes, timezone
		 FROM salon_policies WHERE salon_id = $1`,
		salonID,
	)

	var o types.PolicyOverrides
	err := row.Scan(
		&o.SalonID,
		&o.WindowStart,
		&o.WindowEnd,
		&o.DelayMinMinutes,
		&o.DelayMaxMinutes,
		&o.Timezone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query salon policy", err)
	}

	return &o, nil
}

// CredentialRepository provides read access to the salon_credentials table.
// Tokens are acquired by the OAuth flow elsewhere; the scheduler only reads
// them to drive publish attempts.
type CredentialRepository struct {
	db DBTX
}

// NewCredentialRepository creates a new CredentialRepository backed by the
// given database connection (pool or transaction).
func NewCredentialRepository(db DBTX) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetBySalon returns the salon's publish credentials. A salon without a
// connected Facebook page cannot be published to, so a missing row is an
// error (not_found_credentials).
func (r *CredentialRepository) GetBySalon(ctx context.Context, salonID string) (*types.SalonCredentials, error) {
	row := r.db.QueryRow(ctx,
		`SELECT salon_id, page_id, page_token, COALESCE(ig_user_id, '')
		 FROM salon_credentials WHERE salon_id = $1`,
		salonID,
	)

	var (
		c     types.SalonCredentials
		token string
	)
	err := row.Scan(&c.SalonID, &c.PageID, &token, &c.IGUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCredentials, "salon has no publish credentials", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query salon credentials", err)
	}
	c.PageToken = types.SecretString(token)

	return &c, nil
}
