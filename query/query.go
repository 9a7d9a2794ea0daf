// Package query turns a validated identifier and the search options into the
// single request sent to the aggregator.
package query

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aluiziolira/go-bookfind/models"
	"github.com/aluiziolira/go-bookfind/parser"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

// SearchPath is appended to the base URL.
const SearchPath = "/search/"

// ErrUnsupportedOption is matched by every UnsupportedOptionError.
var ErrUnsupportedOption = errors.New("unsupported option")

// UnsupportedOptionError reports a malformed search option.
type UnsupportedOptionError struct {
	Option string
	Value  string
	Err    error
}

func (e *UnsupportedOptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unsupported %s %q: %v", e.Option, e.Value, e.Err)
	}
	return fmt.Sprintf("unsupported %s %q", e.Option, e.Value)
}

func (e *UnsupportedOptionError) Unwrap() error {
	return e.Err
}

func (e *UnsupportedOptionError) Is(target error) bool {
	return target == ErrUnsupportedOption
}

// Request describes the outbound GET.
type Request struct {
	Method string
	URL    *url.URL
}

func (r Request) String() string {
	return r.URL.String()
}

// Build validates spec and returns the search request rooted at baseURL.
func Build(baseURL string, spec models.QuerySpec) (Request, error) {
	if !spec.Identifier.Valid {
		return Request{}, &parser.InvalidIdentifierError{Input: spec.Identifier.Raw, Reason: "identifier failed validation"}
	}
	cur, err := CheckCurrency(spec.Currency)
	if err != nil {
		return Request{}, err
	}
	dest, err := CheckDestination(spec.Destination)
	if err != nil {
		return Request{}, err
	}
	newUsed, err := conditionParam(spec.Condition)
	if err != nil {
		return Request{}, err
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return Request{}, &UnsupportedOptionError{Option: "base URL", Value: baseURL, Err: err}
	}
	if base.Scheme == "" || base.Host == "" {
		return Request{}, &UnsupportedOptionError{Option: "base URL", Value: baseURL, Err: errors.New("must include scheme and host")}
	}

	target := *base
	target.Path = path.Join("/", base.Path, SearchPath) + "/"
	target.RawPath = ""
	target.Fragment = ""

	params := url.Values{}
	params.Set("keywords", spec.Identifier.Digits)
	params.Set("currency", cur)
	params.Set("destination", strings.ToLower(dest))
	params.Set("new_used", newUsed)
	params.Set("lang", "en")
	params.Set("st", "sh")
	params.Set("ac", "qr")
	params.Set("submit", "")
	target.RawQuery = params.Encode()

	return Request{Method: "GET", URL: &target}, nil
}

// CheckCurrency upper-cases code and requires a recognized ISO 4217 code.
func CheckCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !isLetters(code, 3) {
		return "", &UnsupportedOptionError{Option: "currency", Value: code, Err: errors.New("must be 3 letters")}
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", &UnsupportedOptionError{Option: "currency", Value: code, Err: err}
	}
	return unit.String(), nil
}

// CheckDestination upper-cases code and requires a recognized 2-letter region.
func CheckDestination(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !isLetters(code, 2) {
		return "", &UnsupportedOptionError{Option: "destination", Value: code, Err: errors.New("must be 2 letters")}
	}
	region, err := language.ParseRegion(code)
	if err != nil {
		return "", &UnsupportedOptionError{Option: "destination", Value: code, Err: err}
	}
	return region.String(), nil
}

func conditionParam(c models.Condition) (string, error) {
	switch c {
	case models.ConditionNew:
		return "N", nil
	case models.ConditionUsed:
		return "U", nil
	default:
		return "", &UnsupportedOptionError{Option: "condition", Value: string(c)}
	}
}

func isLetters(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
