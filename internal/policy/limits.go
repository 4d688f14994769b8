package policy

import (
	"errors"
	"fmt"
)

var (
	ErrTooFew  = errors.New("watchlist minimum reached")
	ErrTooMany = errors.New("watchlist maximum reached")
)

// Limits holds the watchlist size thresholds from config.
// A zero MaxSymbols means the list is unbounded.
type Limits struct {
	MinSymbols int
	MaxSymbols int
}

type Guard struct {
	limits Limits
}

// NewGuard returns a Guard for limits. A watchlist always keeps at least
// one symbol, so MinSymbols below 1 is raised to 1.
func NewGuard(limits Limits) *Guard {
	if limits.MinSymbols < 1 {
		limits.MinSymbols = 1
	}
	if limits.MaxSymbols < 0 {
		limits.MaxSymbols = 0
	}
	return &Guard{limits: limits}
}

func (g *Guard) Limits() Limits {
	return g.limits
}

// PreAddCheck reports whether a list of size symbols may grow by one.
// Returns nil if the add is allowed, a wrapped ErrTooMany if blocked.
func (g *Guard) PreAddCheck(size int) error {
	if g.limits.MaxSymbols > 0 && size >= g.limits.MaxSymbols {
		return fmt.Errorf("add blocked: %d of %d symbols: %w", size, g.limits.MaxSymbols, ErrTooMany)
	}
	return nil
}

// PreRemoveCheck reports whether a list of size symbols may shrink by one.
func (g *Guard) PreRemoveCheck(size int) error {
	if size <= g.limits.MinSymbols {
		return fmt.Errorf("remove blocked: %d symbols left, minimum %d: %w", size, g.limits.MinSymbols, ErrTooFew)
	}
	return nil
}

// Clamp trims symbols to MaxSymbols, keeping the earliest entries.
func (g *Guard) Clamp(symbols []string) []string {
	if g.limits.MaxSymbols > 0 && len(symbols) > g.limits.MaxSymbols {
		return symbols[:g.limits.MaxSymbols]
	}
	return symbols
}
