package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CurrencyConflict is the currency pair recovered from a provider
// rejection. RequestedCurrency is empty when the provider message only
// names the existing currency.
type CurrencyConflict struct {
	ExistingCurrency  string `json:"existing_currency"`
	RequestedCurrency string `json:"requested_currency,omitempty"`
}

// PlanSnapshot is a read-only projection of a subscription line item,
// enriched with the catalog plan name when the price id is known.
type PlanSnapshot struct {
	Name              string     `json:"name,omitempty"`
	PriceID           string     `json:"price_id"`
	UnitAmount        int64      `json:"unit_amount"`
	Interval          string     `json:"interval,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

// CouponSnapshot describes a fixed-amount coupon denominated in the
// customer's old currency.
type CouponSnapshot struct {
	ID        string `json:"id"`
	AmountOff int64  `json:"amount_off"`
	Currency  string `json:"currency"`
	Name      string `json:"name,omitempty"`
}

// Assessment warning keys.
const (
	WarnNoActiveSubscription  = "no_active_subscription"
	WarnOpenCheckoutSessions  = "open_checkout_sessions"
	WarnPendingInvoiceItems   = "pending_invoice_items"
	WarnHasCreditBalance      = "has_credit_balance"
	WarnCreditBalanceAmount   = "credit_balance_amount"
	WarnHasIncompatibleCoupon = "has_incompatible_coupons"
)

// MigrationAssessment is the fitness report for a currency migration.
// Computed fresh on every call; never persisted.
type MigrationAssessment struct {
	CanMigrate           bool             `json:"can_migrate"`
	Blockers             []string         `json:"blockers"`
	Warnings             map[string]any   `json:"warnings"`
	CurrentPlan          *PlanSnapshot    `json:"current_plan,omitempty"`
	RequestedPlan        *PlanSnapshot    `json:"requested_plan,omitempty"`
	ExistingCurrency     string           `json:"existing_currency"`
	RequestedCurrency    string           `json:"requested_currency"`
	OpenCheckoutSessions int              `json:"open_checkout_sessions"`
	PendingInvoiceItems  int              `json:"pending_invoice_items"`
	CreditBalance        int64            `json:"credit_balance"`
	CouponsInOldCurrency []CouponSnapshot `json:"coupons_in_old_currency"`
}

// Migration modes.
const (
	ModeGraceful  = "graceful"
	ModeImmediate = "immediate"
)

// Migration describes the committed state transition.
type Migration struct {
	Mode            string     `json:"mode"`
	ScheduleID      string     `json:"schedule_id,omitempty"`
	CancelAt        *time.Time `json:"cancel_at,omitempty"`
	CheckoutURL     string     `json:"checkout_url,omitempty"`
	RefundAmount    int64      `json:"refund_amount,omitempty"`
	RefundFormatted string     `json:"refund_formatted,omitempty"`
	RefundError     string     `json:"refund_error,omitempty"`
}

// MigrationResult is returned synchronously to the caller; all side
// effects live at the provider except the stored migration intent.
type MigrationResult struct {
	Success   bool      `json:"success"`
	Migration Migration `json:"migration"`
}

// AssessRequest identifies the customer either through an organization or
// a raw provider customer id.
type AssessRequest struct {
	OrgID             snowflake.ID
	CustomerID        string
	ExistingCurrency  string
	RequestedCurrency string
	TargetPriceID     string
}

// ImmediateRequest carries the checkout redirect targets for an immediate
// migration.
type ImmediateRequest struct {
	TargetPriceID string
	SuccessURL    string
	CancelURL     string
}
