package conflict

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stripe/stripe-go/v82"
)

func invalidRequest(msg string) error {
	return &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Msg: msg}
}

func TestIsCurrencyConflictLegacyMessage(t *testing.T) {
	err := invalidRequest("The customer has had a subscription or payment in eur, but you are trying to pay in usd.")
	if !IsCurrencyConflict(err) {
		t.Fatal("expected legacy message to classify as conflict")
	}
}

func TestIsCurrencyConflictActiveSubscriptionMessage(t *testing.T) {
	err := invalidRequest("This customer has an active subscription, scheduled subscription, or active subscription mode checkout session with currency eur.")
	if !IsCurrencyConflict(err) {
		t.Fatal("expected new-format message to classify as conflict")
	}
}

func TestIsCurrencyConflictRejectsOtherMessages(t *testing.T) {
	cases := []error{
		nil,
		errors.New("has had a subscription or payment in eur, but you are trying to pay in usd."),
		invalidRequest("No such price: 'price_123'"),
		invalidRequest("The currency of the coupon does not apply here"),
		&stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "has had a subscription or payment in eur, but you are trying to pay in usd."},
		fmt.Errorf("wrapped: %w", errors.New("network timeout")),
	}
	for i, err := range cases {
		if IsCurrencyConflict(err) {
			t.Fatalf("case %d: expected no conflict for %v", i, err)
		}
	}
}

func TestIsCurrencyConflictWrappedError(t *testing.T) {
	err := fmt.Errorf("creating checkout session: %w", invalidRequest("has had a subscription or payment in gbp, but you are trying to charge in usd."))
	if !IsCurrencyConflict(err) {
		t.Fatal("expected wrapped provider error to classify as conflict")
	}
}

func TestParseLegacyLowercasesBothCurrencies(t *testing.T) {
	err := invalidRequest("The customer has had a subscription or payment in EUR, but you are trying to pay in USD.")
	got := Parse(err, "")
	if got == nil {
		t.Fatal("expected a parsed conflict")
	}
	if got.ExistingCurrency != "eur" || got.RequestedCurrency != "usd" {
		t.Fatalf("got %+v, want eur/usd", got)
	}
}

func TestParseLegacyChargeVariant(t *testing.T) {
	err := invalidRequest("has had a subscription or payment in cad, but you are trying to charge in aud.")
	got := Parse(err, "")
	if got == nil || got.ExistingCurrency != "cad" || got.RequestedCurrency != "aud" {
		t.Fatalf("got %+v, want cad/aud", got)
	}
}

func TestParseActiveFormatWithoutHint(t *testing.T) {
	err := invalidRequest("active subscription mode checkout session with currency EUR.")
	got := Parse(err, "")
	if got == nil {
		t.Fatal("expected a parsed conflict")
	}
	if got.ExistingCurrency != "eur" {
		t.Fatalf("existing currency = %q, want eur", got.ExistingCurrency)
	}
	if got.RequestedCurrency != "" {
		t.Fatalf("requested currency = %q, want empty without hint", got.RequestedCurrency)
	}
}

func TestParseActiveFormatWithHint(t *testing.T) {
	err := invalidRequest("active subscription mode checkout session with currency eur.")
	got := Parse(err, "USD")
	if got == nil || got.RequestedCurrency != "usd" {
		t.Fatalf("got %+v, want requested usd from hint", got)
	}
}

func TestParseNoMatchReturnsNil(t *testing.T) {
	cases := []error{
		nil,
		invalidRequest("No such price: 'price_123'"),
		errors.New("dial tcp: i/o timeout"),
		invalidRequest(""),
	}
	for i, err := range cases {
		if got := Parse(err, "usd"); got != nil {
			t.Fatalf("case %d: got %+v, want nil", i, got)
		}
	}
}

func TestParsePlainErrorMessage(t *testing.T) {
	// Pattern matching does not require the provider error type; only
	// classification does.
	err := errors.New("has had a subscription or payment in eur, but you are trying to pay in usd.")
	got := Parse(err, "")
	if got == nil || got.ExistingCurrency != "eur" || got.RequestedCurrency != "usd" {
		t.Fatalf("got %+v, want eur/usd", got)
	}
}
