package model

import "time"

// MFAMethod is the factor used for a step-up challenge.
type MFAMethod string

const (
	MFASMS   MFAMethod = "sms"
	MFAEmail MFAMethod = "email"
	MFATOTP  MFAMethod = "totp"
	MFAPush  MFAMethod = "push"
)

// Valid reports whether m is a supported method.
func (m MFAMethod) Valid() bool {
	switch m {
	case MFASMS, MFAEmail, MFATOTP, MFAPush:
		return true
	}
	return false
}

// ChallengeStatus is the state of a step-up challenge:
// created -> pending -> verified | expired | failed.
type ChallengeStatus string

const (
	ChallengeCreated  ChallengeStatus = "created"
	ChallengePending  ChallengeStatus = "pending"
	ChallengeVerified ChallengeStatus = "verified"
	ChallengeExpired  ChallengeStatus = "expired"
	ChallengeFailed   ChallengeStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s ChallengeStatus) Terminal() bool {
	return s == ChallengeVerified || s == ChallengeExpired || s == ChallengeFailed
}

// Challenge is a step-up authentication challenge bound to one action.
// TokenUsedAt is set when the step-up token minted from it is redeemed; a
// token is good for one sensitive operation.
type Challenge struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Method      MFAMethod       `json:"method" db:"method"`
	Action      Permission      `json:"action" db:"action"`
	ResourceID  string          `json:"resource_id,omitempty" db:"resource_id"`
	Status      ChallengeStatus `json:"status" db:"status"`
	CodeHash    string          `json:"-" db:"code_hash"`
	ExpiresAt   time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ConsumedAt  *time.Time      `json:"consumed_at,omitempty" db:"consumed_at"`
	TokenUsedAt *time.Time      `json:"token_used_at,omitempty" db:"token_used_at"`
}
