// Package workflow holds the approval workflow table and drives approval
// requests from submission to a temporary grant.
package workflow

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

// ErrInvalidWorkflow is returned when a workflow definition fails
// validation at load time.
var ErrInvalidWorkflow = errors.New("invalid workflow definition")

// Registry is the read-only workflow table keyed by action.
type Registry struct {
	defs map[model.Permission]model.WorkflowDefinition
}

// NewRegistry validates defs and builds a registry. A later definition for
// the same action replaces an earlier one.
func NewRegistry(defs []model.WorkflowDefinition) (*Registry, error) {
	r := &Registry{defs: make(map[model.Permission]model.WorkflowDefinition, len(defs))}
	for _, d := range defs {
		if err := validateDefinition(d); err != nil {
			return nil, err
		}
		r.defs[d.Action] = d
	}
	return r, nil
}

// DefaultRegistry returns a registry over the built-in table.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Defaults())
	if err != nil {
		panic(fmt.Sprintf("built-in workflow table is invalid: %v", err))
	}
	return r
}

func validateDefinition(d model.WorkflowDefinition) error {
	if !d.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidWorkflow, d.Action)
	}
	if d.SensitivityLevel < model.SensitivityLow || d.SensitivityLevel > model.SensitivityCritical {
		return fmt.Errorf("%w: %s: invalid sensitivity %d", ErrInvalidWorkflow, d.Action, d.SensitivityLevel)
	}
	if d.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("%w: %s: default_ttl_seconds must be positive", ErrInvalidWorkflow, d.Action)
	}
	for _, p := range d.AutoGrantPermissions {
		if !p.Valid() {
			return fmt.Errorf("%w: %s: unknown auto grant permission %q", ErrInvalidWorkflow, d.Action, p)
		}
	}
	return nil
}

// GetWorkflowDefinition returns the workflow for action.
func (r *Registry) GetWorkflowDefinition(action model.Permission) (model.WorkflowDefinition, bool) {
	d, ok := r.defs[action]
	return d, ok
}

// List returns every workflow sorted by action.
func (r *Registry) List() []model.WorkflowDefinition {
	out := make([]model.WorkflowDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

// Len returns the number of workflows.
func (r *Registry) Len() int { return len(r.defs) }

// fileWorkflow is the YAML shape of one workflow. Enumerations are plain
// strings so errors can name the offending workflow.
type fileWorkflow struct {
	Action                 string   `yaml:"action"`
	SensitivityLevel       string   `yaml:"sensitivity_level"`
	DualApprovalRequired   bool     `yaml:"dual_approval_required"`
	MFARequiredForApproval bool     `yaml:"mfa_required_for_approval"`
	AutoGrantPermissions   []string `yaml:"auto_grant_permissions"`
	DefaultTTLSeconds      int      `yaml:"default_ttl_seconds"`
	RequiredFields         []string `yaml:"required_fields"`
	PIIScopeOverride       string   `yaml:"pii_scope_override"`
	Description            string   `yaml:"description"`
}

type workflowFile struct {
	Workflows []fileWorkflow `yaml:"workflows"`
}

func (fw fileWorkflow) toModel() (model.WorkflowDefinition, error) {
	action, ok := model.ParsePermission(fw.Action)
	if !ok {
		return model.WorkflowDefinition{}, fmt.Errorf("%w: unknown action %q", ErrInvalidWorkflow, fw.Action)
	}
	sens, err := model.ParseSensitivity(fw.SensitivityLevel)
	if err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("%w: %s: %v", ErrInvalidWorkflow, action, err)
	}
	perms, err := model.ParsePermissions(fw.AutoGrantPermissions)
	if err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("%w: %s: %v", ErrInvalidWorkflow, action, err)
	}
	d := model.WorkflowDefinition{
		Action:                 action,
		SensitivityLevel:       sens,
		DualApprovalRequired:   fw.DualApprovalRequired,
		MFARequiredForApproval: fw.MFARequiredForApproval,
		AutoGrantPermissions:   perms,
		DefaultTTLSeconds:      fw.DefaultTTLSeconds,
		RequiredFields:         fw.RequiredFields,
		Description:            fw.Description,
	}
	if fw.PIIScopeOverride != "" {
		tier, err := model.ParsePIITier(fw.PIIScopeOverride)
		if err != nil {
			return model.WorkflowDefinition{}, fmt.Errorf("%w: %s: %v", ErrInvalidWorkflow, action, err)
		}
		d.PIIScopeOverride = &tier
	}
	return d, nil
}

// LoadFile builds a registry from base overlaid with the workflows in a
// YAML file. Environment variables referenced as ${VAR} are expanded.
func LoadFile(path string, base []model.WorkflowDefinition) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflows file: %w", err)
	}
	var f workflowFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse workflows file: %w", err)
	}
	defs := append([]model.WorkflowDefinition(nil), base...)
	for _, fw := range f.Workflows {
		d, err := fw.toModel()
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return NewRegistry(defs)
}
