package parser

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/aluiziolira/go-bookfind/models"
)

// ErrInvalidIdentifier is matched by every InvalidIdentifierError.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// InvalidIdentifierError describes why an identifier was rejected.
type InvalidIdentifierError struct {
	Input  string
	Reason string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("not a valid SBN, ISBN-10 or ISBN-13 number %q: %s", e.Input, e.Reason)
}

func (e *InvalidIdentifierError) Is(target error) bool {
	return target == ErrInvalidIdentifier
}

// ParseIdentifier normalizes raw and verifies its check digit.
func ParseIdentifier(raw string) (models.BookIdentifier, error) {
	id, reason := normalize(raw)
	if !id.Valid {
		return id, &InvalidIdentifierError{Input: raw, Reason: reason}
	}
	return id, nil
}

// NormalizeIdentifier is ParseIdentifier without the error: the result carries
// the checksum outcome in its Valid flag.
func NormalizeIdentifier(raw string) models.BookIdentifier {
	id, _ := normalize(raw)
	return id
}

func normalize(raw string) (models.BookIdentifier, string) {
	id := models.BookIdentifier{Raw: raw}

	cleaned := strings.TrimSpace(raw)
	if len(cleaned) >= 4 && strings.EqualFold(cleaned[:4], "isbn") {
		cleaned = cleaned[4:]
	}

	var b strings.Builder
	for _, r := range cleaned {
		if r < unicode.MaxASCII && (unicode.IsDigit(r) || unicode.IsLetter(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	digits := b.String()
	id.Digits = digits

	switch len(digits) {
	case 9, 10:
		id.Format = models.FormatISBN10
		if len(digits) == 9 {
			// an SBN is an ISBN-10 without its leading zero
			id.Format = models.FormatSBN
			digits = "0" + digits
			id.Digits = digits
		}
		if !allDigits(digits[:9]) || !(isDigit(digits[9]) || digits[9] == 'X') {
			return id, "expected nine digits followed by a digit or X"
		}
	case 13:
		id.Format = models.FormatISBN13
		if !allDigits(digits) {
			return id, "ISBN-13 must contain only digits"
		}
		if !isbn13Checksum(digits) {
			return id, "check digit mismatch"
		}
		id.Valid = true
		return id, ""
	default:
		return id, fmt.Sprintf("expected 9, 10 or 13 characters, got %d", len(digits))
	}

	if !isbn10Checksum(digits) {
		return id, "check digit mismatch"
	}
	id.Valid = true
	return id, ""
}

// isbn10Checksum expects nine digits and a final digit or X.
func isbn10Checksum(s string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		v := int(s[i] - '0')
		if i == 9 && s[i] == 'X' {
			v = 10
		}
		sum += (10 - i) * v
	}
	return sum%11 == 0
}

func isbn13Checksum(s string) bool {
	sum := 0
	for i := 0; i < 13; i++ {
		v := int(s[i] - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return sum%10 == 0
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
