// Package parser validates identifiers and normalizes the text scraped from
// the results page.
package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-bookfind/models"
)

// ValidateOffer ensures the extractor captured the required fields.
func ValidateOffer(o *models.Offer) error {
	if o == nil {
		return fmt.Errorf("offer is nil")
	}
	if o.Price.IsNegative() {
		return fmt.Errorf("offer has negative price %s", o.Price)
	}
	if strings.TrimSpace(o.Currency) == "" {
		return fmt.Errorf("offer missing currency")
	}
	if o.Condition != models.ConditionNew && o.Condition != models.ConditionUsed {
		return fmt.Errorf("offer has unknown condition %q", o.Condition)
	}
	if o.Total.LessThan(o.Price) {
		return fmt.Errorf("offer total %s below price %s", o.Total, o.Price)
	}
	return nil
}

// NormalizeText collapses runs of whitespace, including non-breaking spaces,
// into single spaces and trims the ends.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// SellerURL pulls the seller's own URL out of the aggregator's redirect link,
// which carries it in the bu query parameter. Links without one are returned
// unchanged.
func SellerURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("bu"); target != "" {
		return target
	}
	return href
}
