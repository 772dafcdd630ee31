// Package conflict classifies provider rejections caused by a customer
// having billing objects in a different currency than the one requested.
package conflict

import (
	"errors"
	"regexp"
	"strings"

	"github.com/onetimesecret/billing/internal/billing/domain"
	"github.com/stripe/stripe-go/v82"
)

// Two message shapes are recognized. The legacy one names both
// currencies; the newer one only names the existing currency.
var (
	legacyPattern = regexp.MustCompile(`(?i)subscription or payment in ([a-zA-Z]{3})\b.*?\btrying to (?:pay|charge) in ([a-zA-Z]{3})\b`)
	activePattern = regexp.MustCompile(`(?i)subscription mode checkout session with currency ([a-zA-Z]{3})\b`)
)

// IsCurrencyConflict reports whether err is a provider invalid-request
// rejection whose message matches a known currency-conflict shape. Any
// other error kind returns false even if the message mentions currencies.
func IsCurrencyConflict(err error) bool {
	if err == nil {
		return false
	}
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	if stripeErr.Type != stripe.ErrorTypeInvalidRequest {
		return false
	}
	return matches(stripeErr.Msg)
}

// Parse extracts the currency pair from a conflict message. The legacy
// shape yields both currencies; the newer shape yields only the existing
// currency, with requestedHint filling the gap when supplied. Returns
// nil when no shape matches. Never fails on malformed input.
func Parse(err error, requestedHint string) *domain.CurrencyConflict {
	if err == nil {
		return nil
	}
	message := err.Error()
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		message = stripeErr.Msg
	}

	if m := legacyPattern.FindStringSubmatch(message); m != nil {
		return &domain.CurrencyConflict{
			ExistingCurrency:  strings.ToLower(m[1]),
			RequestedCurrency: strings.ToLower(m[2]),
		}
	}
	if m := activePattern.FindStringSubmatch(message); m != nil {
		conflict := &domain.CurrencyConflict{
			ExistingCurrency: strings.ToLower(m[1]),
		}
		if hint := strings.TrimSpace(requestedHint); hint != "" {
			conflict.RequestedCurrency = strings.ToLower(hint)
		}
		return conflict
	}
	return nil
}

func matches(message string) bool {
	return legacyPattern.MatchString(message) || activePattern.MatchString(message)
}
