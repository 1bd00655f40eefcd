package models

import (
	"encoding/json"
	"time"
)

// TransactionStatus enumerates the escrow lifecycle states.
type TransactionStatus string

const (
	StatusCreated           TransactionStatus = "created"
	StatusBuyerJoined       TransactionStatus = "buyer_joined"
	StatusEscrowFunded      TransactionStatus = "escrow_funded"
	StatusItemSent          TransactionStatus = "item_sent"
	StatusDeliveryConfirmed TransactionStatus = "delivery_confirmed"
	StatusInspectionPeriod  TransactionStatus = "inspection_period"
	StatusCompleted         TransactionStatus = "completed"
	StatusDisputed          TransactionStatus = "disputed"
	StatusRefunded          TransactionStatus = "refunded"
)

// Terminal reports whether no further transitions are permitted.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// Transaction represents a single escrow trade between a seller and a buyer.
// Amount is in cents of the escrow currency and immutable after creation.
type Transaction struct {
	ID                  string            `json:"id" db:"id"`
	SellerID            string            `json:"seller_id" db:"seller_id"`
	BuyerID             *string           `json:"buyer_id,omitempty" db:"buyer_id"`
	Amount              int64             `json:"amount" db:"amount"`
	Description         string            `json:"description" db:"description"`
	Status              TransactionStatus `json:"status" db:"status"`
	InspectionStartTime *time.Time        `json:"inspection_start_time,omitempty" db:"inspection_start_time"`
	InspectionEndTime   *time.Time        `json:"inspection_end_time,omitempty" db:"inspection_end_time"`
	ExtensionUsed       bool              `json:"extension_used" db:"extension_used"`
	DisputeReason       *string           `json:"dispute_reason,omitempty" db:"dispute_reason"`
	DisputeEvidence     json.RawMessage   `json:"dispute_evidence,omitempty" db:"dispute_evidence"`
	DepositAddress      *string           `json:"deposit_address,omitempty" db:"deposit_address"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at" db:"updated_at"`
}
