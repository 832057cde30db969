package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

type challengeRow struct {
	ID         string       `db:"id"`
	UserID     string       `db:"user_id"`
	Method     string       `db:"method"`
	Action     string       `db:"action"`
	ResourceID string       `db:"resource_id"`
	Status     string       `db:"status"`
	CodeHash   string       `db:"code_hash"`
	ExpiresAt  time.Time    `db:"expires_at"`
	CreatedAt  time.Time    `db:"created_at"`
	ConsumedAt sql.NullTime `db:"consumed_at"`
	TokenUsed  sql.NullTime `db:"token_used_at"`
}

func (r challengeRow) toModel() model.Challenge {
	return model.Challenge{
		ID:          r.ID,
		UserID:      r.UserID,
		Method:      model.MFAMethod(r.Method),
		Action:      model.Permission(r.Action),
		ResourceID:  r.ResourceID,
		Status:      model.ChallengeStatus(r.Status),
		CodeHash:    r.CodeHash,
		ExpiresAt:   r.ExpiresAt,
		CreatedAt:   r.CreatedAt,
		ConsumedAt:  timePtr(r.ConsumedAt),
		TokenUsedAt: timePtr(r.TokenUsed),
	}
}

// CreateChallenge stores an MFA challenge. Only the code hash is persisted.
func (s *Store) CreateChallenge(ctx context.Context, c *model.Challenge) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	row := challengeRow{
		ID:         c.ID,
		UserID:     c.UserID,
		Method:     string(c.Method),
		Action:     string(c.Action),
		ResourceID: c.ResourceID,
		Status:     string(c.Status),
		CodeHash:   c.CodeHash,
		ExpiresAt:  c.ExpiresAt.UTC(),
		CreatedAt:  c.CreatedAt.UTC(),
		ConsumedAt: nullTime(c.ConsumedAt),
		TokenUsed:  nullTime(c.TokenUsedAt),
	}

	const q = `INSERT INTO mfa_challenges
		(id, user_id, method, action, resource_id, status, code_hash, expires_at, created_at, consumed_at, token_used_at)
		VALUES
		(:id, :user_id, :method, :action, :resource_id, :status, :code_hash, :expires_at, :created_at, :consumed_at, :token_used_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// GetChallenge returns a challenge by ID.
func (s *Store) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	var row challengeRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT * FROM mfa_challenges WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	c := row.toModel()
	return &c, nil
}

// ConsumeChallenge moves an unconsumed challenge to its terminal status.
// It reports false when the challenge was already consumed, so exactly one
// caller wins a race to verify.
func (s *Store) ConsumeChallenge(ctx context.Context, id string, status model.ChallengeStatus, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE mfa_challenges SET status = ?, consumed_at = ? WHERE id = ? AND consumed_at IS NULL"),
		string(status), at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume challenge rows affected: %w", err)
	}
	return n == 1, nil
}

// RedeemChallengeToken marks the step-up token minted from a verified
// challenge as used. It reports false when the challenge is not verified
// or its token was already redeemed, so exactly one caller wins.
func (s *Store) RedeemChallengeToken(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE mfa_challenges SET token_used_at = ? WHERE id = ? AND status = ? AND token_used_at IS NULL"),
		at.UTC(), id, string(model.ChallengeVerified))
	if err != nil {
		return false, fmt.Errorf("redeem challenge token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("redeem challenge token rows affected: %w", err)
	}
	return n == 1, nil
}
