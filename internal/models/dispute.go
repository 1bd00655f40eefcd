package models

import (
	"encoding/json"
	"time"
)

// DisputeStatus enumerates the lifecycle of a dispute record.
type DisputeStatus string

const (
	DisputeOpen        DisputeStatus = "open"
	DisputeUnderReview DisputeStatus = "under_review"
	DisputeResolved    DisputeStatus = "resolved"
	DisputeClosed      DisputeStatus = "closed"
)

// DisputeAction is the arbitration outcome applied on resolution.
type DisputeAction string

const (
	ActionRefundBuyer     DisputeAction = "refund_buyer"
	ActionReleaseToSeller DisputeAction = "release_to_seller"
)

// Dispute is the arbitration record, one per disputed transaction.
// ResolvedBy and ResolvedAt are set together, only on transition to resolved.
type Dispute struct {
	ID            string          `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	InitiatorID   string          `json:"initiator_id" db:"initiator_id"`
	Reason        string          `json:"reason" db:"reason"`
	Evidence      json.RawMessage `json:"evidence,omitempty" db:"evidence"`
	Status        DisputeStatus   `json:"status" db:"status"`
	Resolution    *string         `json:"resolution,omitempty" db:"resolution"`
	ResolvedBy    *string         `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}
