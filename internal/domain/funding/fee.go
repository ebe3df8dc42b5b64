// Package funding computes job fee breakdowns in the ledger's smallest unit.
//
// All arithmetic is done on *big.Int. Amounts entered by users are decimal
// strings in whole tokens and are scaled by 10^Decimals before any fee math.
package funding

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the fixed-point scale of the payment token.
const Decimals = 18

var (
	// ErrInvalidAmount is returned for malformed, negative, or over-precise amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidRates is returned when fee percentages are negative or exceed 100 in total.
	ErrInvalidRates = errors.New("invalid fee rates")
)

var hundred = big.NewInt(100)

// Rates holds the integer fee percentages charged on top of a fund amount.
type Rates struct {
	Launcher   int64 `json:"launcher"`
	Recording  int64 `json:"recording"`
	Reputation int64 `json:"reputation"`
}

// Total returns the combined percentage.
func (r Rates) Total() int64 {
	return r.Launcher + r.Recording + r.Reputation
}

// Validate checks each rate is non-negative and the combined rate is at most 100.
func (r Rates) Validate() error {
	if r.Launcher < 0 || r.Recording < 0 || r.Reputation < 0 {
		return fmt.Errorf("%w: percentages must be non-negative", ErrInvalidRates)
	}
	if r.Total() > 100 {
		return fmt.Errorf("%w: combined percentage %d exceeds 100", ErrInvalidRates, r.Total())
	}
	return nil
}

// Breakdown is the result of a fee computation. All amounts are in the
// smallest unit.
type Breakdown struct {
	FundAmount         *big.Int
	TotalFeePercentage int64
	TotalFee           *big.Int
	TotalAmount        *big.Int
}

// Calculate derives the fee breakdown for a fund amount already expressed in
// the smallest unit. The fee is truncated toward zero.
func Calculate(fundAmount *big.Int, rates Rates) (Breakdown, error) {
	if fundAmount == nil || fundAmount.Sign() < 0 {
		return Breakdown{}, fmt.Errorf("%w: fund amount must be non-negative", ErrInvalidAmount)
	}
	if err := rates.Validate(); err != nil {
		return Breakdown{}, err
	}

	pct := rates.Total()
	fee := new(big.Int).Mul(fundAmount, big.NewInt(pct))
	fee.Quo(fee, hundred)

	return Breakdown{
		FundAmount:         new(big.Int).Set(fundAmount),
		TotalFeePercentage: pct,
		TotalFee:           fee,
		TotalAmount:        new(big.Int).Add(fundAmount, fee),
	}, nil
}

// FromDecimal parses a whole-token decimal amount and calculates its breakdown.
func FromDecimal(amount string, rates Rates) (Breakdown, error) {
	wei, err := ParseUnits(amount, Decimals)
	if err != nil {
		return Breakdown{}, err
	}
	return Calculate(wei, rates)
}

// ParseUnits converts a decimal string such as "1.5" into an integer scaled
// by 10^decimals. Exponent notation and more fractional digits than decimals
// are rejected rather than rounded.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, amount)
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && frac == "" && whole == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return nil, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, amount)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, amount, decimals)
	}

	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return v, nil
}

// FormatUnits renders a scaled integer back as a decimal string without
// trailing fractional zeros.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	digits := new(big.Int).Abs(v).String()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")

	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
