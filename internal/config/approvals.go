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

type approvalRow struct {
	ID               string    `db:"id"`
	Action           string    `db:"action"`
	RequesterID      string    `db:"requester_id"`
	Justification    string    `db:"justification"`
	RequestedAction  string    `db:"requested_action"`
	RequestedRegions string    `db:"requested_regions"`
	Status           string    `db:"status"`
	Approvals        string    `db:"approvals"`
	DeniedBy         string    `db:"denied_by"`
	DenyReason       string    `db:"deny_reason"`
	GrantID          string    `db:"grant_id"`
	Version          int       `db:"version"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func approvalRowFromModel(r *model.ApprovalRequest) (approvalRow, error) {
	payload := r.RequestedAction
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := encodeJSON(payload)
	if err != nil {
		return approvalRow{}, fmt.Errorf("marshal requested action: %w", err)
	}
	regionsJSON, err := encodeJSON(regionsOrEmpty(r.RequestedRegions))
	if err != nil {
		return approvalRow{}, fmt.Errorf("marshal regions: %w", err)
	}
	steps := r.Approvals
	if steps == nil {
		steps = []model.ApprovalStep{}
	}
	stepsJSON, err := encodeJSON(steps)
	if err != nil {
		return approvalRow{}, fmt.Errorf("marshal approvals: %w", err)
	}
	return approvalRow{
		ID:               r.ID,
		Action:           string(r.Action),
		RequesterID:      r.RequesterID,
		Justification:    r.Justification,
		RequestedAction:  payloadJSON,
		RequestedRegions: regionsJSON,
		Status:           string(r.Status),
		Approvals:        stepsJSON,
		DeniedBy:         r.DeniedBy,
		DenyReason:       r.DenyReason,
		GrantID:          r.GrantID,
		Version:          r.Version,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

func (r approvalRow) toModel() (model.ApprovalRequest, error) {
	req := model.ApprovalRequest{
		ID:            r.ID,
		Action:        model.Permission(r.Action),
		RequesterID:   r.RequesterID,
		Justification: r.Justification,
		Status:        model.ApprovalStatus(r.Status),
		DeniedBy:      r.DeniedBy,
		DenyReason:    r.DenyReason,
		GrantID:       r.GrantID,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := decodeJSON(r.RequestedAction, &req.RequestedAction); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("unmarshal requested action for %s: %w", r.ID, err)
	}
	if err := decodeJSON(r.RequestedRegions, &req.RequestedRegions); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("unmarshal regions for %s: %w", r.ID, err)
	}
	if err := decodeJSON(r.Approvals, &req.Approvals); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("unmarshal approvals for %s: %w", r.ID, err)
	}
	return req, nil
}

// CreateApproval inserts a new approval request at version 0.
func (s *Store) CreateApproval(ctx context.Context, req *model.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	req.Version = 0

	row, err := approvalRowFromModel(req)
	if err != nil {
		return err
	}

	const q = `INSERT INTO approval_requests
		(id, action, requester_id, justification, requested_action, requested_regions, status,
		 approvals, denied_by, deny_reason, grant_id, version, created_at, updated_at)
		VALUES
		(:id, :action, :requester_id, :justification, :requested_action, :requested_regions, :status,
		 :approvals, :denied_by, :deny_reason, :grant_id, :version, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

// GetApproval returns an approval request by ID.
func (s *Store) GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	var row approvalRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT * FROM approval_requests WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get approval request: %w", err)
	}
	req, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListApprovals returns approval requests with the given status, oldest
// first. An empty status lists every request.
func (s *Store) ListApprovals(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalRequest, error) {
	var rows []approvalRow
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &rows, "SELECT * FROM approval_requests ORDER BY created_at, id")
	} else {
		err = s.db.SelectContext(ctx, &rows,
			s.db.Rebind("SELECT * FROM approval_requests WHERE status = ? ORDER BY created_at, id"), string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	out := make([]model.ApprovalRequest, 0, len(rows))
	for _, r := range rows {
		req, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// UpdateApproval writes the mutable fields of req if the stored version
// still matches req.Version, then increments it. A concurrent writer that
// got there first yields ErrConflict.
func (s *Store) UpdateApproval(ctx context.Context, req *model.ApprovalRequest) error {
	prev := req.Version
	req.Version = prev + 1
	req.UpdatedAt = time.Now().UTC()

	row, err := approvalRowFromModel(req)
	if err != nil {
		req.Version = prev
		return err
	}

	q := s.db.Rebind(`UPDATE approval_requests SET
		status = ?, approvals = ?, denied_by = ?, deny_reason = ?, grant_id = ?,
		version = ?, updated_at = ?
		WHERE id = ? AND version = ?`)

	result, err := s.db.ExecContext(ctx, q,
		row.Status, row.Approvals, row.DeniedBy, row.DenyReason, row.GrantID,
		row.Version, row.UpdatedAt, row.ID, prev)
	if err != nil {
		req.Version = prev
		return fmt.Errorf("update approval request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		req.Version = prev
		return fmt.Errorf("update approval request rows affected: %w", err)
	}
	if n == 0 {
		req.Version = prev
		return fmt.Errorf("update approval request %s: %w", req.ID, ErrConflict)
	}
	return nil
}
