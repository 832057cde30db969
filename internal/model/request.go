package model

import "time"

// UserContext identifies the acting user.
type UserContext struct {
	ID string `json:"id"`
}

// ResourceContext describes the resource being acted on.
type ResourceContext struct {
	Type          ResourceType  `json:"type"`
	ID            string        `json:"id,omitempty"`
	RegionID      string        `json:"region_id"`
	DataClass     DataClass     `json:"data_class"`
	ContainsPII   bool          `json:"contains_pii"`
	OwnershipType OwnershipType `json:"ownership_type,omitempty"`
}

// InvocationContext carries facts about the call itself.
type InvocationContext struct {
	Channel    Channel       `json:"channel"`
	MFAPresent bool          `json:"mfa_present"`
	Timestamp  time.Time     `json:"timestamp"`
	Operation  OperationType `json:"operation"`
	RequestID  string        `json:"request_id,omitempty"`
}

// PolicyEvaluationRequest is an immutable snapshot of one access question.
type PolicyEvaluationRequest struct {
	User     UserContext       `json:"user"`
	Resource ResourceContext   `json:"resource"`
	Action   Permission        `json:"action"`
	Context  InvocationContext `json:"context"`
}
