package application

import "errors"

var (
	// ErrTransactionMismatch is returned when a previously created
	// transaction no longer matches one rebuilt from current state.
	ErrTransactionMismatch = errors.New(
		"supplied transaction data does not match a freshly built one",
	)
	// ErrActionInProgress is returned when an action is started while an
	// earlier attempt of it has not yet completed or failed.
	ErrActionInProgress = errors.New("another attempt of this action is in progress")
	// ErrInsufficientDisputeAgents is returned when the contract lists
	// fewer active dispute agents than a dispute needs.
	ErrInsufficientDisputeAgents = errors.New("fewer than 3 dispute agents are active")
	// ErrUnknownTransaction is returned by a failure callback when the
	// reported transaction belongs to no tracked entity.
	ErrUnknownTransaction = errors.New("transaction does not belong to any tracked entity")
)
