package model

import "time"

// Role groups permissions under a rank. Level drives approver eligibility;
// InheritsFrom lists roles whose permissions this role also carries.
type Role struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Level        int          `json:"level" yaml:"level"`
	Permissions  []Permission `json:"permissions" yaml:"permissions"`
	InheritsFrom []string     `json:"inherits_from,omitempty" yaml:"inherits_from,omitempty"`
	CreatedAt    time.Time    `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time    `json:"updated_at" yaml:"-"`
}
