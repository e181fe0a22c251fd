package telemetry

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

// parseMillivolts reads a voltage field such as "11800mV" or " 11800 ".
// An empty value, or a bare "mV", is 0. Anything else that is not a number
// gives NaN.
func parseMillivolts(raw string) float64 {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimSuffix(s, "mV"))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// parseLeadingInt reads the integer at the start of raw, ignoring whatever
// follows it, so "11800mV" is 11800 and "-250 mA" is -250.
// NaN is returned when raw does not start with digits.
func parseLeadingInt(raw string) float64 {
	s := strings.TrimSpace(raw)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func isNaNOrInf(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// formatFixed formats the exact binary value of v with the given number of
// decimals. Only exact decimal ties are rounded away from zero, so 0.125 is
// "0.13" but 2.675 (stored as 2.67499...) is "2.67". NaN and infinities are
// written as "NaN", "Infinity" and "-Infinity".
func formatFixed(v float64, decimals int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		v = 0 // drop the sign of -0
	}
	if whole, ok := exactTie(math.Abs(v), decimals); ok {
		whole.Add(whole, big.NewInt(1))
		digits := whole.String()
		if decimals > 0 {
			if pad := decimals + 1 - len(digits); pad > 0 {
				digits = strings.Repeat("0", pad) + digits
			}
			digits = digits[:len(digits)-decimals] + "." + digits[len(digits)-decimals:]
		}
		if v < 0 {
			return "-" + digits
		}
		return digits
	}
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// exactTie reports whether v*10^decimals lies exactly halfway between two
// integers, returning the lower one.
func exactTie(v float64, decimals int) (*big.Int, bool) {
	const prec = 2048
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Float).SetPrec(prec).SetFloat64(v)
	scaled.Mul(scaled, new(big.Float).SetPrec(prec).SetInt(scale))
	whole, _ := scaled.Int(nil)
	frac := new(big.Float).SetPrec(prec).Sub(scaled, new(big.Float).SetPrec(prec).SetInt(whole))
	if frac.Cmp(big.NewFloat(0.5)) != 0 {
		return nil, false
	}
	return whole, true
}
