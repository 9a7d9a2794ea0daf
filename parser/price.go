package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoAmount is returned when a price text holds no digits at all.
var ErrNoAmount = errors.New("no amount in text")

// ParsePrice extracts a decimal amount from display text such as "$1,234.56",
// "1.234,56 €" or "EUR 12,5". The last '.' or ',' followed by one or two digits
// is taken as the decimal separator; every other separator is dropped.
func ParsePrice(text string) (decimal.Decimal, error) {
	text = NormalizeText(text)

	start := strings.IndexFunc(text, isDigitRune)
	if start < 0 {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", text, ErrNoAmount)
	}
	end := start
	for end < len(text) && isAmountByte(text[end]) {
		end++
	}
	amount := strings.TrimRight(text[start:end], ".,' ")

	negative := start > 0 && text[start-1] == '-'

	decimalAt := -1
	if i := strings.LastIndexAny(amount, ".,"); i >= 0 {
		tail := len(amount) - i - 1
		if tail == 1 || tail == 2 {
			decimalAt = i
		}
	}

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	for i := 0; i < len(amount); i++ {
		c := amount[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case i == decimalAt:
			b.WriteByte('.')
		}
	}

	value, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", text, err)
	}
	return value, nil
}

// ParseShipping reads a shipping cost. Free shipping is zero; text without an
// amount (e.g. "see site") reports ok=false.
func ParseShipping(text string) (decimal.Decimal, bool) {
	text = NormalizeText(text)
	if text == "" {
		return decimal.Zero, false
	}
	if strings.Contains(strings.ToLower(text), "free") {
		return decimal.Zero, true
	}
	value, err := ParsePrice(text)
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}

func isDigitRune(r rune) bool {
	return r >= '0' && r <= '9'
}

// isAmountByte accepts digits and the separators seen in grouped amounts.
// NBSP has already been folded into a space by NormalizeText.
func isAmountByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == ',' || c == '\'' || c == ' '
}
