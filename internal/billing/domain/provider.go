package domain

import (
	"context"
	"time"
)

// Provider subscription statuses this service distinguishes.
const (
	SubscriptionStatusActive            = "active"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusUnpaid            = "unpaid"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusCanceled          = "canceled"
)

// Checkout session statuses.
const (
	CheckoutStatusOpen     = "open"
	CheckoutStatusComplete = "complete"
	CheckoutStatusExpired  = "expired"
)

type ProviderCustomer struct {
	ID      string
	Balance int64
}

type ProviderCoupon struct {
	ID         string
	Name       string
	AmountOff  *int64
	PercentOff *float64
	Currency   string
}

type ProviderDiscount struct {
	ID     string
	Coupon *ProviderCoupon
}

// ProviderSubscription is the projection of a provider subscription this
// service operates on. Discount and Discounts mirror the provider's API
// version drift: older payloads carry a singular discount, newer ones a
// plural list. AllDiscounts is the only supported read path.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CancelAtPeriodEnd  bool
	PriceID            string
	UnitAmount         int64
	Currency           string
	Interval           string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	Discount           *ProviderDiscount
	Discounts          []*ProviderDiscount
	Metadata           map[string]string
}

// AllDiscounts merges the singular and plural discount fields,
// deduplicated by discount id.
func (s *ProviderSubscription) AllDiscounts() []*ProviderDiscount {
	if s == nil {
		return nil
	}
	merged := make([]*ProviderDiscount, 0, len(s.Discounts)+1)
	seen := make(map[string]struct{}, len(s.Discounts)+1)
	if s.Discount != nil {
		merged = append(merged, s.Discount)
		if s.Discount.ID != "" {
			seen[s.Discount.ID] = struct{}{}
		}
	}
	for _, discount := range s.Discounts {
		if discount == nil {
			continue
		}
		if discount.ID != "" {
			if _, dup := seen[discount.ID]; dup {
				continue
			}
			seen[discount.ID] = struct{}{}
		}
		merged = append(merged, discount)
	}
	return merged
}

// Blocking reports whether the subscription status forbids migration.
func (s *ProviderSubscription) Blocking() bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case SubscriptionStatusPastDue, SubscriptionStatusUnpaid,
		SubscriptionStatusIncomplete, SubscriptionStatusIncompleteExpired:
		return true
	default:
		return false
	}
}

type ProviderCheckoutSession struct {
	ID             string
	URL            string
	Status         string
	SubscriptionID string
}

type ProviderInvoiceItem struct {
	ID       string
	Amount   int64
	Currency string
}

type ProviderInvoiceLine struct {
	Amount int64
}

type ProviderInvoice struct {
	ID             string
	Status         string
	SubscriptionID string
	Lines          []ProviderInvoiceLine
}

type ProviderCharge struct {
	ID              string
	PaymentIntentID string
	Paid            bool
	Refunded        bool
	Created         time.Time
}

// CheckoutRequest describes a new checkout session for the target price.
type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// Gateway is the outbound surface to the billing provider. The provider
// is authoritative; no provider state is cached across calls.
type Gateway interface {
	GetCustomer(ctx context.Context, customerID string) (*ProviderCustomer, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]*ProviderSubscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, metadata map[string]string) error
	ListOpenCheckoutSessions(ctx context.Context, customerID string) ([]*ProviderCheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*ProviderCheckoutSession, error)
	ListPendingInvoiceItems(ctx context.Context, customerID string) ([]*ProviderInvoiceItem, error)
	ListOpenInvoices(ctx context.Context, customerID, subscriptionID string) ([]*ProviderInvoice, error)
	VoidInvoice(ctx context.Context, invoiceID string) error
	PreviewProration(ctx context.Context, customerID, subscriptionID string) (*ProviderInvoice, error)
	FindLatestCharge(ctx context.Context, customerID, subscriptionID string) (*ProviderCharge, error)
	CreateRefund(ctx context.Context, paymentIntentID string, amount int64, reason string) (string, error)
}
