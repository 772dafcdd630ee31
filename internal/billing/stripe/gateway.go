// Package stripe implements the provider gateway against the Stripe API.
// Responses are projected into domain DTOs at this boundary so the rest
// of the service never touches SDK types.
package stripe

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/onetimesecret/billing/internal/billing/domain"
	"github.com/onetimesecret/billing/internal/config"
	"github.com/onetimesecret/billing/internal/observability/tracing"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/charge"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/invoiceitem"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/subscription"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type Gateway struct {
	log *zap.Logger
}

func NewGateway(p Params) domain.Gateway {
	stripe.Key = p.Cfg.StripeAPIKey
	stripe.SetHTTPClient(tracing.WrapHTTPClient(&http.Client{Timeout: 30 * time.Second}))
	return &Gateway{log: p.Log.Named("billing.stripe")}
}

func (g *Gateway) GetCustomer(ctx context.Context, customerID string) (*domain.ProviderCustomer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cus, err := customer.Get(customerID, params)
	if err != nil {
		return nil, err
	}
	return &domain.ProviderCustomer{ID: cus.ID, Balance: cus.Balance}, nil
}

func (g *Gateway) GetSubscription(ctx context.Context, subscriptionID string) (*domain.ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("discounts")
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, err
	}
	return toSubscription(sub), nil
}

func (g *Gateway) ListSubscriptions(ctx context.Context, customerID string) ([]*domain.ProviderSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.AddExpand("data.discounts")

	var subs []*domain.ProviderSubscription
	it := subscription.List(params)
	for it.Next() {
		subs = append(subs, toSubscription(it.Subscription()))
	}
	return subs, it.Err()
}

func (g *Gateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*domain.ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx
	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, err
	}
	return toSubscription(sub), nil
}

func (g *Gateway) CancelSubscription(ctx context.Context, subscriptionID string, metadata map[string]string) error {
	if len(metadata) > 0 {
		update := &stripe.SubscriptionParams{}
		update.Context = ctx
		for key, value := range metadata {
			update.AddMetadata(key, value)
		}
		if _, err := subscription.Update(subscriptionID, update); err != nil {
			return err
		}
	}
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := subscription.Cancel(subscriptionID, params)
	return err
}

func (g *Gateway) ListOpenCheckoutSessions(ctx context.Context, customerID string) ([]*domain.ProviderCheckoutSession, error) {
	params := &stripe.CheckoutSessionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.CheckoutSessionStatusOpen)),
	}
	params.Context = ctx

	var sessions []*domain.ProviderCheckoutSession
	it := checkoutsession.List(params)
	for it.Next() {
		sessions = append(sessions, toCheckoutSession(it.CheckoutSession()))
	}
	return sessions, it.Err()
}

func (g *Gateway) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	_, err := checkoutsession.Expire(sessionID, params)
	return err
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (*domain.ProviderCheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(req.CustomerID),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	session, err := checkoutsession.New(params)
	if err != nil {
		return nil, err
	}
	return toCheckoutSession(session), nil
}

func (g *Gateway) ListPendingInvoiceItems(ctx context.Context, customerID string) ([]*domain.ProviderInvoiceItem, error) {
	params := &stripe.InvoiceItemListParams{
		Customer: stripe.String(customerID),
		Pending:  stripe.Bool(true),
	}
	params.Context = ctx

	var items []*domain.ProviderInvoiceItem
	it := invoiceitem.List(params)
	for it.Next() {
		item := it.InvoiceItem()
		items = append(items, &domain.ProviderInvoiceItem{
			ID:       item.ID,
			Amount:   item.Amount,
			Currency: string(item.Currency),
		})
	}
	return items, it.Err()
}

func (g *Gateway) ListOpenInvoices(ctx context.Context, customerID, subscriptionID string) ([]*domain.ProviderInvoice, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.InvoiceStatusOpen)),
	}
	params.Context = ctx

	var invoices []*domain.ProviderInvoice
	it := invoice.List(params)
	for it.Next() {
		inv := toInvoice(it.Invoice())
		if subscriptionID != "" && inv.SubscriptionID != "" && inv.SubscriptionID != subscriptionID {
			continue
		}
		invoices = append(invoices, inv)
	}
	return invoices, it.Err()
}

func (g *Gateway) VoidInvoice(ctx context.Context, invoiceID string) error {
	params := &stripe.InvoiceVoidInvoiceParams{}
	params.Context = ctx
	_, err := invoice.VoidInvoice(invoiceID, params)
	return err
}

func (g *Gateway) PreviewProration(ctx context.Context, customerID, subscriptionID string) (*domain.ProviderInvoice, error) {
	params := &stripe.InvoiceCreatePreviewParams{
		Customer:     stripe.String(customerID),
		Subscription: stripe.String(subscriptionID),
		SubscriptionDetails: &stripe.InvoiceCreatePreviewSubscriptionDetailsParams{
			ProrationBehavior: stripe.String("create_prorations"),
			CancelNow:         stripe.Bool(true),
		},
	}
	params.Context = ctx
	preview, err := invoice.CreatePreview(params)
	if err != nil {
		return nil, err
	}
	return toInvoice(preview), nil
}

func (g *Gateway) FindLatestCharge(ctx context.Context, customerID, subscriptionID string) (*domain.ProviderCharge, error) {
	params := &stripe.ChargeListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(20)

	var charges []*domain.ProviderCharge
	it := charge.List(params)
	for it.Next() {
		ch := it.Charge()
		if !ch.Paid || ch.Refunded {
			continue
		}
		mapped := &domain.ProviderCharge{
			ID:       ch.ID,
			Paid:     ch.Paid,
			Refunded: ch.Refunded,
			Created:  time.Unix(ch.Created, 0).UTC(),
		}
		if ch.PaymentIntent != nil {
			mapped.PaymentIntentID = ch.PaymentIntent.ID
		}
		charges = append(charges, mapped)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if len(charges) == 0 {
		return nil, nil
	}
	sort.Slice(charges, func(i, j int) bool { return charges[i].Created.After(charges[j].Created) })
	return charges[0], nil
}

func (g *Gateway) CreateRefund(ctx context.Context, paymentIntentID string, amount int64, reason string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(amount),
		Reason:        stripe.String(reason),
	}
	params.Context = ctx
	re, err := refund.New(params)
	if err != nil {
		return "", err
	}
	return re.ID, nil
}

// toSubscription flattens a Stripe subscription into the domain DTO. The
// price and period bounds come from the first line item; subscriptions
// carry exactly one item in this product.
func toSubscription(sub *stripe.Subscription) *domain.ProviderSubscription {
	if sub == nil {
		return nil
	}
	mapped := &domain.ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		mapped.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		mapped.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		mapped.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if item.Price != nil {
			mapped.PriceID = item.Price.ID
			mapped.UnitAmount = item.Price.UnitAmount
			mapped.Currency = string(item.Price.Currency)
			if item.Price.Recurring != nil {
				mapped.Interval = string(item.Price.Recurring.Interval)
			}
		}
	}
	for _, discount := range sub.Discounts {
		mapped.Discounts = append(mapped.Discounts, toDiscount(discount))
	}
	return mapped
}

func toDiscount(discount *stripe.Discount) *domain.ProviderDiscount {
	if discount == nil {
		return nil
	}
	mapped := &domain.ProviderDiscount{ID: discount.ID}
	if discount.Coupon != nil {
		coupon := &domain.ProviderCoupon{
			ID:       discount.Coupon.ID,
			Name:     discount.Coupon.Name,
			Currency: string(discount.Coupon.Currency),
		}
		if discount.Coupon.AmountOff != 0 {
			amountOff := discount.Coupon.AmountOff
			coupon.AmountOff = &amountOff
		}
		if discount.Coupon.PercentOff != 0 {
			percentOff := discount.Coupon.PercentOff
			coupon.PercentOff = &percentOff
		}
		mapped.Coupon = coupon
	}
	return mapped
}

func toCheckoutSession(session *stripe.CheckoutSession) *domain.ProviderCheckoutSession {
	if session == nil {
		return nil
	}
	mapped := &domain.ProviderCheckoutSession{
		ID:     session.ID,
		URL:    session.URL,
		Status: string(session.Status),
	}
	if session.Subscription != nil {
		mapped.SubscriptionID = session.Subscription.ID
	}
	return mapped
}

func toInvoice(inv *stripe.Invoice) *domain.ProviderInvoice {
	if inv == nil {
		return nil
	}
	mapped := &domain.ProviderInvoice{
		ID:     inv.ID,
		Status: string(inv.Status),
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		mapped.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line == nil {
				continue
			}
			mapped.Lines = append(mapped.Lines, domain.ProviderInvoiceLine{Amount: line.Amount})
		}
	}
	return mapped
}

var Module = fx.Module("billing.stripe",
	fx.Provide(NewGateway),
)
