// Package models defines data structures shared by the finder.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// IdentifierFormat names the numbering scheme an identifier was written in.
type IdentifierFormat string

const (
	FormatSBN    IdentifierFormat = "SBN"
	FormatISBN10 IdentifierFormat = "ISBN-10"
	FormatISBN13 IdentifierFormat = "ISBN-13"
)

// BookIdentifier is a normalized SBN, ISBN-10 or ISBN-13.
type BookIdentifier struct {
	Raw    string
	Digits string
	Format IdentifierFormat
	Valid  bool
}

func (id BookIdentifier) String() string {
	return id.Digits
}

// Condition is the new/used selection criterion.
type Condition string

const (
	ConditionNew  Condition = "new"
	ConditionUsed Condition = "used"
)

// ParseCondition accepts "new" or "used" in any case.
func ParseCondition(s string) (Condition, error) {
	switch Condition(strings.ToLower(strings.TrimSpace(s))) {
	case ConditionNew:
		return ConditionNew, nil
	case ConditionUsed:
		return ConditionUsed, nil
	default:
		return "", fmt.Errorf("condition must be new or used, got %q", s)
	}
}

// QuerySpec holds everything needed to build the single outbound request.
type QuerySpec struct {
	Identifier  BookIdentifier
	Currency    string
	Destination string
	Condition   Condition
}

// Offer is one seller's listing extracted from the results page.
type Offer struct {
	Price         decimal.Decimal  `json:"price"`
	Currency      string           `json:"currency"`
	Condition     Condition        `json:"condition"`
	Seller        string           `json:"seller"`
	Shipping      *decimal.Decimal `json:"shipping,omitempty"`
	Total         decimal.Decimal  `json:"total"`
	URL           string           `json:"url,omitempty"`
	PublishedDate string           `json:"published_date,omitempty"`
	Description   []string         `json:"description,omitempty"`
}

// BookDetails is the bibliographic header shown above the listing.
type BookDetails struct {
	Title     string `json:"title"`
	Publisher string `json:"publisher"`
	Edition   string `json:"edition"`
	Language  string `json:"language"`
}

// Found reports whether the page described a book at all.
func (d BookDetails) Found() bool {
	return d.Title != ""
}

// SearchResult summarises one invocation.
type SearchResult struct {
	RequestURL string
	StatusCode int
	Details    BookDetails
	StartTime  time.Time
	EndTime    time.Time
	Extracted  int
	Skipped    int
	Filtered   int
	Written    int
}
