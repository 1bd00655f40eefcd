package services

import "errors"

// Core error taxonomy. Every operation surfaces one of these to its caller;
// handlers translate them to HTTP statuses and user-facing messages. None are
// swallowed inside the services except notification delivery failures.
var (
	ErrValidation             = errors.New("escrow: validation failed")
	ErrNotFound               = errors.New("escrow: not found")
	ErrInvalidState           = errors.New("escrow: operation not allowed in current status")
	ErrInsufficientFunds      = errors.New("escrow: insufficient funds")
	ErrAlreadyExtended        = errors.New("escrow: inspection already extended")
	ErrDuplicateDispute       = errors.New("escrow: dispute already exists for transaction")
	ErrConcurrentModification = errors.New("escrow: concurrent modification")
	ErrInvalidAction          = errors.New("escrow: invalid resolution action")
	ErrInvalidDisputeState    = errors.New("escrow: dispute already resolved or closed")
)
