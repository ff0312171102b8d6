package repository

import "errors"

var (
	// ErrOpenPositionExists is returned when a second open position is
	// attempted for an (account, symbol) key that already has one.
	ErrOpenPositionExists = errors.New("an open position already exists for this account and symbol")

	// ErrPositionAlreadyClosed is returned when Finalize is called on a
	// position that is not open anymore.
	ErrPositionAlreadyClosed = errors.New("position is already closed")

	// ErrFillsAlreadyConsumed is returned when a consumption claim
	// matched fewer rows than requested, meaning a concurrent pass
	// already folded some of the fills into another position.
	ErrFillsAlreadyConsumed = errors.New("one or more fills were already consumed")
)
