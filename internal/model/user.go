package model

import "time"

// UserStatus is the lifecycle state of a user. Users are never deleted,
// only deactivated.
type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

// User is an operator of the platform together with everything the engine
// needs to evaluate their requests.
type User struct {
	ID             string                 `json:"id"`
	Email          string                 `json:"email"`
	Name           string                 `json:"name"`
	Status         UserStatus             `json:"status"`
	Assignments    []RoleAssignment       `json:"assignments"`
	AllowedRegions RegionSet              `json:"allowed_regions"`
	PIIScope       PIITier                `json:"pii_scope"`
	MFAEnabled     bool                   `json:"mfa_enabled"`
	Grants         []TemporaryAccessGrant `json:"grants"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// IsActive reports whether the user may act at all.
func (u *User) IsActive() bool {
	return u.Status == UserActive
}

// RoleAssignment binds a user to a role for a validity window.
type RoleAssignment struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	RoleID         string     `json:"role_id"`
	AllowedRegions RegionSet  `json:"allowed_regions"`
	ValidFrom      time.Time  `json:"valid_from"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Effective reports whether the assignment contributes at now.
func (a RoleAssignment) Effective(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if now.Before(a.ValidFrom) {
		return false
	}
	return a.ValidUntil == nil || now.Before(*a.ValidUntil)
}

// Expired reports whether an otherwise active assignment has run past its
// validity window.
func (a RoleAssignment) Expired(now time.Time) bool {
	return a.IsActive && a.ValidUntil != nil && !now.Before(*a.ValidUntil)
}
