/*
Package generic provides the domain-agnostic building blocks of the redemption engine.

PURPOSE:
  The rewards package owns the loyalty rules. Everything in here is reusable
  plumbing those rules are expressed with: money arithmetic, identifiers,
  typed errors, clocks, a transition-table state machine and a saga runner.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal amounts, never float64
  - IDs: random identifiers for rows and runs

DESIGN PRINCIPLES:
  1. Precision: money uses decimal.Decimal to avoid floating-point errors
  2. Purity: derived amounts are functions of stored inputs
  3. No I/O: nothing in this package touches the store or the network

SEE ALSO:
  - errors.go: Rule violations vs infrastructure failures
  - statemachine.go: Transition tables
  - saga.go: Multi-step writes with compensation
  - time.go: Clock and storage time formats
*/
package generic

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// NewID returns a random UUID, optionally prefixed ("run_5f0c...").
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// =============================================================================
// MONEY
// =============================================================================

var hundred = decimal.NewFromInt(100)

// PercentOf returns base * rate / 100.
func PercentOf(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred)
}

// FloorZero clamps negative amounts to zero.
func FloorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// RoundCents rounds half away from zero to two places.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// DecimalOrZero dereferences p, treating nil as zero.
func DecimalOrZero(p *decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return *p
}

// DecimalPtr returns a pointer to a copy of d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
