// Package core provides the dashboard's data model and the pure functions
// that derive what is rendered from it.
//
// This file contains amount parsing and formatting.
package core

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Amount is a submitted amount. Non-finite values encode as JSON null, the
// same thing a browser sends for NaN.
type Amount float64

func (a Amount) MarshalJSON() ([]byte, error) {
	f := float64(a)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*a = Amount(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

func (a Amount) IsNaN() bool {
	return math.IsNaN(float64(a))
}

// ParseAmount reads the longest numeric prefix of s after leading
// whitespace, like parseFloat in a browser. Input with no numeric prefix
// yields NaN rather than an error.
//
// Examples:
//
//	ParseAmount("50.5")    -> 50.5
//	ParseAmount(" 12abc")  -> 12
//	ParseAmount("1e3")     -> 1000
//	ParseAmount("abc")     -> NaN
func ParseAmount(s string) float64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f\u00a0\ufeff")
	if s == "" {
		return math.NaN()
	}
	sign := ""
	rest := s
	if rest[0] == '+' || rest[0] == '-' {
		sign, rest = rest[:1], rest[1:]
	}
	if strings.HasPrefix(rest, "Infinity") {
		if sign == "-" {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}

	i := 0
	digits := 0
	for i < len(rest) && isDigit(rest[i]) {
		i++
		digits++
	}
	if i < len(rest) && rest[i] == '.' {
		j := i + 1
		for j < len(rest) && isDigit(rest[j]) {
			j++
			digits++
		}
		i = j
	}
	if digits == 0 {
		return math.NaN()
	}
	// Exponent only counts when followed by at least one digit.
	if i < len(rest) && (rest[i] == 'e' || rest[i] == 'E') {
		j := i + 1
		if j < len(rest) && (rest[j] == '+' || rest[j] == '-') {
			j++
		}
		k := j
		for k < len(rest) && isDigit(rest[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}
	// Out of range input still yields ±Inf alongside the error.
	f, _ := strconv.ParseFloat(sign+rest[:i], 64)
	return f
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// FormatDollars renders an amount with thousands separators and at most
// three fraction digits, e.g. "$1,234.5".
func FormatDollars(f float64) string {
	if math.IsNaN(f) {
		return "$NaN"
	}
	if math.IsInf(f, 0) {
		if f < 0 {
			return "-$∞"
		}
		return "$∞"
	}
	neg := f < 0
	if neg {
		f = -f
	}
	rounded, _ := decimal.NewFromFloat(f).Round(3).Float64()
	s := "$" + humanize.Commaf(rounded)
	if neg {
		return "-" + s
	}
	return s
}

// FormatDecimal is FormatDollars for aggregated values.
func FormatDecimal(d decimal.Decimal) string {
	f, _ := d.Float64()
	return FormatDollars(f)
}

// FormatRaw prints an amount the way it was received, without grouping.
func FormatRaw(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
