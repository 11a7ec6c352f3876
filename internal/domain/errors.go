package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is checks across the engine.
var (
	ErrWalletMismatch = errors.New("wallet address mismatch")
	ErrMissingWallet  = errors.New("wallet address required")
	ErrCooldown       = errors.New("cooldown active")
	ErrDailyCap       = errors.New("max trades per day reached")
	ErrCostGuard      = errors.New("cost guard")
	ErrPersistence    = errors.New("persistence failure")
)

// ConfigurationError is fatal: the agent must halt, never auto-heal.
type ConfigurationError struct {
	Err      error
	Stored   string
	Provided string
}

func (e *ConfigurationError) Error() string {
	if errors.Is(e.Err, ErrWalletMismatch) {
		return fmt.Sprintf("configuration: %v: state=%s provided=%s", e.Err, e.Stored, e.Provided)
	}
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// RateLimitError is returned by the cooldown and daily-cap guards.
type RateLimitError struct {
	Err         error // ErrCooldown or ErrDailyCap
	Wait        time.Duration
	TradesToday int
	MaxPerDay   int
}

func (e *RateLimitError) Error() string {
	if errors.Is(e.Err, ErrCooldown) {
		return fmt.Sprintf("%v: wait %.1fs", e.Err, e.Wait.Seconds())
	}
	return fmt.Sprintf("%v: %d/%d", e.Err, e.TradesToday, e.MaxPerDay)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// CostGuardError rejects a trade whose quote exceeds the configured ceiling.
type CostGuardError struct {
	ExpectedCost float64
	MaxCost      float64
}

func (e *CostGuardError) Error() string {
	return fmt.Sprintf("%v: expectedCost=%.4f > maxCost=%.4f", ErrCostGuard, e.ExpectedCost, e.MaxCost)
}

func (e *CostGuardError) Unwrap() error { return ErrCostGuard }

// PersistenceError wraps a failed state write. Losing state silently is
// worse than crashing, so it always propagates.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// IsFatal reports whether err must halt the agent.
func IsFatal(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr) || errors.Is(err, ErrPersistence)
}
