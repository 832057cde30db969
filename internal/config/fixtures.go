package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

//go:embed fixtures/default.yaml
var defaultFixtures []byte

// Fixtures seeds roles and users into a store.
type Fixtures struct {
	Roles []model.Role  `yaml:"roles"`
	Users []UserFixture `yaml:"users"`
}

// UserFixture describes one user and their role assignments.
type UserFixture struct {
	ID             string              `yaml:"id"`
	Email          string              `yaml:"email"`
	Name           string              `yaml:"name"`
	Status         string              `yaml:"status"`
	AllowedRegions []string            `yaml:"allowed_regions"`
	PIIScope       string              `yaml:"pii_scope"`
	MFAEnabled     bool                `yaml:"mfa_enabled"`
	Roles          []AssignmentFixture `yaml:"roles"`
}

// AssignmentFixture binds a fixture user to a role.
type AssignmentFixture struct {
	Role       string     `yaml:"role"`
	Regions    []string   `yaml:"regions"`
	ValidFrom  *time.Time `yaml:"valid_from"`
	ValidUntil *time.Time `yaml:"valid_until"`
}

// DefaultFixtures returns the built-in role catalog and sample users.
func DefaultFixtures() (*Fixtures, error) {
	return parseFixtures(defaultFixtures)
}

// LoadFixtures reads a fixtures file. ${VAR} references are expanded.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return parseFixtures([]byte(os.ExpandEnv(string(data))))
}

func parseFixtures(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate rejects unknown permissions, tiers and role references before
// anything is written.
func (f *Fixtures) Validate() error {
	roles := make(map[string]bool, len(f.Roles))
	for _, r := range f.Roles {
		if r.ID == "" {
			return errors.New("fixtures: role without id")
		}
		for _, p := range r.Permissions {
			if !p.Valid() {
				return fmt.Errorf("fixtures: role %s: unknown permission %q", r.ID, p)
			}
		}
		roles[r.ID] = true
	}
	for _, u := range f.Users {
		if u.ID == "" || u.Email == "" {
			return fmt.Errorf("fixtures: user %q needs id and email", u.ID)
		}
		if u.PIIScope != "" {
			if _, err := model.ParsePIITier(u.PIIScope); err != nil {
				return fmt.Errorf("fixtures: user %s: %w", u.ID, err)
			}
		}
		for _, a := range u.Roles {
			if !roles[a.Role] {
				return fmt.Errorf("fixtures: user %s: unknown role %q", u.ID, a.Role)
			}
		}
	}
	return nil
}

// ApplyFixtures writes every role and then every user that does not yet
// exist. Existing users are left untouched so reseeding is safe.
func (s *Store) ApplyFixtures(ctx context.Context, f *Fixtures) (created int, err error) {
	for i := range f.Roles {
		if err := s.SaveRole(ctx, &f.Roles[i]); err != nil {
			return created, err
		}
	}
	for _, uf := range f.Users {
		if _, err := s.GetUser(ctx, uf.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return created, err
		}

		tier := model.PIINone
		if uf.PIIScope != "" {
			tier, _ = model.ParsePIITier(uf.PIIScope)
		}
		status := model.UserActive
		if uf.Status != "" {
			status = model.UserStatus(uf.Status)
		}
		u := &model.User{
			ID:             uf.ID,
			Email:          uf.Email,
			Name:           uf.Name,
			Status:         status,
			AllowedRegions: model.RegionSet(uf.AllowedRegions).Normalize(),
			PIIScope:       tier,
			MFAEnabled:     uf.MFAEnabled,
		}
		if err := s.CreateUser(ctx, u); err != nil {
			return created, err
		}
		for _, af := range uf.Roles {
			a := &model.RoleAssignment{
				UserID:         u.ID,
				RoleID:         af.Role,
				AllowedRegions: model.RegionSet(af.Regions).Normalize(),
				ValidUntil:     af.ValidUntil,
				IsActive:       true,
			}
			if af.ValidFrom != nil {
				a.ValidFrom = *af.ValidFrom
			}
			if err := s.CreateAssignment(ctx, a); err != nil {
				return created, err
			}
		}
		created++
	}
	return created, nil
}
