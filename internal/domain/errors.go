package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// Configuration errors are rejected at the setter; an out-of-range
	// parameter is never accepted silently.
	ErrConfiguration = errors.New("invalid configuration parameter")

	// Stale or missing market data is fatal to the current call.
	ErrStalePrice   = errors.New("price is stale")
	ErrUnknownAsset = errors.New("asset not registered")

	// Slippage errors are recoverable by resubmitting with fresh bounds.
	ErrSlippageExceeded  = errors.New("slippage bound exceeded")
	ErrPoolPriceSlippage = errors.New("pool price deviates from oracle price")

	// Invariant violations abort the whole operation with no partial state.
	ErrInvariantViolation = errors.New("invariant violation")
	ErrLossBudgetExceeded = fmt.Errorf("epoch loss budget exceeded: %w", ErrInvariantViolation)
	ErrUnderwaterPosition = errors.New("position borrow value exceeds supply value")
	ErrLowHealthFactor    = errors.New("health factor below minimum")

	// Vault status gates.
	ErrVaultDisabled    = errors.New("vault is disabled")
	ErrOperationOpen    = errors.New("an operation is in progress")
	ErrNoOperationOpen  = errors.New("no operation in progress")
	ErrRequestLocked    = errors.New("request is inside its lock window")
	ErrHoldingTooShort  = errors.New("minimum holding duration not met")
	ErrInsufficientFree = errors.New("insufficient free principal")
)
