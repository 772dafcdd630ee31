package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/onetimesecret/billing/internal/audit/domain"
	"github.com/onetimesecret/billing/internal/billing/domain"
	catalogdomain "github.com/onetimesecret/billing/internal/catalog/domain"
	"github.com/onetimesecret/billing/internal/clock"
	"github.com/onetimesecret/billing/internal/config"
	"github.com/onetimesecret/billing/internal/events"
	"github.com/onetimesecret/billing/internal/observability/metrics"
	orgdomain "github.com/onetimesecret/billing/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Cfg     config.Config
	Clock   clock.Clock
	Gateway domain.Gateway
	Catalog catalogdomain.Service
	Orgs    orgdomain.Service
	Audit   auditdomain.Service
	Outbox  *events.Outbox
}

type Service struct {
	log     *zap.Logger
	cfg     config.Config
	clock   clock.Clock
	gateway domain.Gateway
	catalog catalogdomain.Service
	orgs    orgdomain.Service
	audit   auditdomain.Service
	outbox  *events.Outbox
	metrics *metrics.MigrationMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:     p.Log.Named("billing.service"),
		cfg:     p.Cfg,
		clock:   p.Clock,
		gateway: p.Gateway,
		catalog: p.Catalog,
		orgs:    p.Orgs,
		audit:   p.Audit,
		outbox:  p.Outbox,
		metrics: metrics.Migration(),
	}
}

func (s *Service) AssessMigration(ctx context.Context, req domain.AssessRequest) (*domain.MigrationAssessment, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	subscriptionID := ""
	if req.OrgID != 0 {
		org, err := s.orgs.Get(ctx, req.OrgID)
		if err != nil {
			return nil, err
		}
		customerID = org.StripeCustomerID
		subscriptionID = org.StripeSubscriptionID
	}
	if customerID == "" {
		return nil, domain.ErrInvalidCustomer
	}

	existing := domain.NormalizeCurrency(req.ExistingCurrency)
	requested := domain.NormalizeCurrency(req.RequestedCurrency)
	if existing == "" {
		return nil, domain.ErrInvalidCurrency
	}

	assessment := &domain.MigrationAssessment{
		CanMigrate:           true,
		Blockers:             []string{},
		Warnings:             map[string]any{},
		ExistingCurrency:     existing,
		RequestedCurrency:    requested,
		CouponsInOldCurrency: []domain.CouponSnapshot{},
	}

	// Balance and the peripheral lookups below are diagnostics; a failed
	// lookup degrades to an empty result instead of failing the assessment.
	if customer, err := s.gateway.GetCustomer(ctx, customerID); err != nil {
		s.log.Warn("customer lookup failed during assessment",
			zap.String("customer_id", customerID), zap.Error(err))
	} else if customer != nil {
		assessment.CreditBalance = customer.Balance
		if customer.Balance < 0 {
			assessment.Warnings[domain.WarnHasCreditBalance] = true
			assessment.Warnings[domain.WarnCreditBalanceAmount] = customer.Balance
		}
	}

	sub := s.findSubscription(ctx, customerID, subscriptionID)
	if sub == nil {
		assessment.Warnings[domain.WarnNoActiveSubscription] = "No active subscription found."
	} else {
		if sub.Blocking() {
			assessment.CanMigrate = false
			assessment.Blockers = append(assessment.Blockers,
				fmt.Sprintf("subscription status %s prevents migration", sub.Status))
		}
		assessment.CurrentPlan = s.planSnapshot(ctx, sub)
		s.collectCouponWarnings(assessment, sub, existing)
	}

	if priceID := strings.TrimSpace(req.TargetPriceID); priceID != "" {
		if plan, err := s.catalog.FindByStripePriceID(ctx, priceID); err != nil {
			s.log.Warn("catalog lookup failed during assessment",
				zap.String("price_id", priceID), zap.Error(err))
		} else if plan != nil {
			assessment.RequestedPlan = &domain.PlanSnapshot{
				Name:       plan.Name,
				PriceID:    plan.StripePriceID,
				UnitAmount: plan.UnitAmount,
				Interval:   plan.Interval,
			}
		} else {
			assessment.RequestedPlan = &domain.PlanSnapshot{PriceID: priceID}
		}
	}

	if sessions, err := s.gateway.ListOpenCheckoutSessions(ctx, customerID); err != nil {
		s.log.Warn("checkout session lookup failed during assessment",
			zap.String("customer_id", customerID), zap.Error(err))
	} else if len(sessions) > 0 {
		assessment.OpenCheckoutSessions = len(sessions)
		assessment.Warnings[domain.WarnOpenCheckoutSessions] =
			fmt.Sprintf("%d open checkout session(s) will be expired", len(sessions))
	}

	if items, err := s.gateway.ListPendingInvoiceItems(ctx, customerID); err != nil {
		s.log.Warn("invoice item lookup failed during assessment",
			zap.String("customer_id", customerID), zap.Error(err))
	} else {
		pending := 0
		for _, item := range items {
			if item != nil && domain.NormalizeCurrency(item.Currency) == existing {
				pending++
			}
		}
		if pending > 0 {
			assessment.PendingInvoiceItems = pending
			assessment.Warnings[domain.WarnPendingInvoiceItems] =
				fmt.Sprintf("%d pending invoice item(s) in %s", pending, existing)
		}
	}

	if req.OrgID != 0 {
		s.recordAudit(ctx, req.OrgID, auditdomain.ActionMigrationAssessed, customerID, map[string]any{
			"existing_currency":  existing,
			"requested_currency": requested,
			"can_migrate":        assessment.CanMigrate,
			"blockers":           len(assessment.Blockers),
		})
	}

	return assessment, nil
}

func (s *Service) ExecuteGracefulMigration(ctx context.Context, orgID snowflake.ID, targetPriceID string) (result *domain.MigrationResult, err error) {
	defer func() { s.metrics.ObserveMigration(domain.ModeGraceful, err) }()

	targetPriceID = strings.TrimSpace(targetPriceID)
	if targetPriceID == "" {
		return nil, domain.ErrInvalidPriceID
	}
	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org.StripeCustomerID == "" {
		return nil, domain.ErrInvalidCustomer
	}
	if _, err = s.catalog.ResolvePrice(ctx, targetPriceID); err != nil {
		return nil, err
	}

	s.expireOpenSessions(ctx, org.StripeCustomerID)

	sub := s.findSubscription(ctx, org.StripeCustomerID, org.StripeSubscriptionID)
	if sub == nil {
		return nil, domain.ErrNoActiveSubscription
	}

	updated, err := s.gateway.SetCancelAtPeriodEnd(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("scheduling end-of-period cancellation: %w", err)
	}
	cancelAt := updated.CurrentPeriodEnd
	if cancelAt.IsZero() {
		cancelAt = sub.CurrentPeriodEnd
	}

	if err = s.orgs.SetCurrencyMigrationIntent(ctx, orgID, targetPriceID, cancelAt); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, orgID, auditdomain.ActionMigrationGraceful, sub.ID, map[string]any{
		"target_price_id": targetPriceID,
		"cancel_at":       cancelAt.Format(time.RFC3339),
	})
	s.publish(ctx, orgID, events.EventMigrationGracefulScheduled,
		fmt.Sprintf("graceful:%s:%d", targetPriceID, cancelAt.Unix()),
		events.MigrationPayload{
			OrgID:         orgID.String(),
			Mode:          domain.ModeGraceful,
			TargetPriceID: targetPriceID,
			CancelAt:      cancelAt.Format(time.RFC3339),
		})

	return &domain.MigrationResult{
		Success: true,
		Migration: domain.Migration{
			Mode:     domain.ModeGraceful,
			CancelAt: &cancelAt,
		},
	}, nil
}

func (s *Service) ExecuteImmediateMigration(ctx context.Context, orgID snowflake.ID, req domain.ImmediateRequest) (result *domain.MigrationResult, err error) {
	defer func() { s.metrics.ObserveMigration(domain.ModeImmediate, err) }()

	targetPriceID := strings.TrimSpace(req.TargetPriceID)
	if targetPriceID == "" {
		return nil, domain.ErrInvalidPriceID
	}
	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org.StripeCustomerID == "" {
		return nil, domain.ErrInvalidCustomer
	}
	if _, err = s.catalog.ResolvePrice(ctx, targetPriceID); err != nil {
		return nil, err
	}

	s.expireOpenSessions(ctx, org.StripeCustomerID)

	// Snapshot before cancellation; the proration fallback needs the
	// period bounds and unit amount of the subscription as it was.
	sub := s.findSubscription(ctx, org.StripeCustomerID, org.StripeSubscriptionID)

	var refundAmount int64
	refundCurrency := ""
	refundError := ""
	if sub != nil {
		refundCurrency = sub.Currency
		if err = s.gateway.CancelSubscription(ctx, sub.ID, map[string]string{
			"currency_migration": domain.ModeImmediate,
		}); err != nil {
			return nil, fmt.Errorf("canceling subscription: %w", err)
		}

		refundAmount = s.prorationCredit(ctx, org.StripeCustomerID, sub)
		s.voidOpenInvoices(ctx, org.StripeCustomerID, sub.ID)

		if refundAmount > 0 {
			refundError = s.issueRefund(ctx, org.StripeCustomerID, sub.ID, refundAmount)
		}
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = s.cfg.CheckoutSuccessURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = s.cfg.CheckoutCancelURL
	}
	session, err := s.gateway.CreateCheckoutSession(ctx, domain.CheckoutRequest{
		CustomerID: org.StripeCustomerID,
		PriceID:    targetPriceID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata: map[string]string{
			"currency_migration": domain.ModeImmediate,
			"org_id":             orgID.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating checkout session: %w", err)
	}

	if clearErr := s.orgs.ClearCurrencyMigrationIntent(ctx, orgID); clearErr != nil {
		s.log.Warn("failed to clear migration intent",
			zap.String("org_id", orgID.String()), zap.Error(clearErr))
	}

	migration := domain.Migration{
		Mode:         domain.ModeImmediate,
		CheckoutURL:  session.URL,
		RefundAmount: refundAmount,
		RefundError:  refundError,
	}
	if refundAmount > 0 {
		migration.RefundFormatted = domain.FormatMinorUnits(refundAmount, refundCurrency)
		s.metrics.ObserveRefund(refundAmount)
	}

	s.recordAudit(ctx, orgID, auditdomain.ActionMigrationImmediate, targetPriceID, map[string]any{
		"target_price_id": targetPriceID,
		"refund_amount":   refundAmount,
		"refund_error":    refundError,
		"checkout_id":     session.ID,
	})
	s.publish(ctx, orgID, events.EventMigrationImmediateComplete,
		fmt.Sprintf("immediate:%s:%s", targetPriceID, session.ID),
		events.MigrationPayload{
			OrgID:           orgID.String(),
			Mode:            domain.ModeImmediate,
			TargetPriceID:   targetPriceID,
			CheckoutURL:     session.URL,
			RefundAmount:    refundAmount,
			RefundFormatted: migration.RefundFormatted,
		})

	return &domain.MigrationResult{Success: true, Migration: migration}, nil
}

// findSubscription resolves the current subscription either directly by id
// or by filtering the customer's subscription list. Canceled subscriptions
// are skipped; blocking statuses are returned so callers can report them.
func (s *Service) findSubscription(ctx context.Context, customerID, subscriptionID string) *domain.ProviderSubscription {
	if subscriptionID != "" {
		sub, err := s.gateway.GetSubscription(ctx, subscriptionID)
		if err != nil {
			s.log.Warn("subscription lookup failed",
				zap.String("subscription_id", subscriptionID), zap.Error(err))
		} else if sub != nil && sub.Status != domain.SubscriptionStatusCanceled {
			return sub
		}
	}
	subs, err := s.gateway.ListSubscriptions(ctx, customerID)
	if err != nil {
		s.log.Warn("subscription list failed",
			zap.String("customer_id", customerID), zap.Error(err))
		return nil
	}
	for _, sub := range subs {
		if sub != nil && sub.Status != domain.SubscriptionStatusCanceled {
			return sub
		}
	}
	return nil
}

func (s *Service) planSnapshot(ctx context.Context, sub *domain.ProviderSubscription) *domain.PlanSnapshot {
	snapshot := &domain.PlanSnapshot{
		PriceID:           sub.PriceID,
		UnitAmount:        sub.UnitAmount,
		Interval:          sub.Interval,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		snapshot.CurrentPeriodEnd = &end
	}
	if sub.PriceID != "" {
		if plan, err := s.catalog.FindByStripePriceID(ctx, sub.PriceID); err != nil {
			s.log.Warn("catalog lookup failed for plan snapshot",
				zap.String("price_id", sub.PriceID), zap.Error(err))
		} else if plan != nil {
			snapshot.Name = plan.Name
		}
	}
	return snapshot
}

// collectCouponWarnings flags fixed-amount coupons denominated in the
// old currency. Percent-off coupons are currency agnostic and never flag.
func (s *Service) collectCouponWarnings(assessment *domain.MigrationAssessment, sub *domain.ProviderSubscription, existing string) {
	for _, discount := range sub.AllDiscounts() {
		coupon := discount.Coupon
		if coupon == nil || coupon.AmountOff == nil {
			continue
		}
		if domain.NormalizeCurrency(coupon.Currency) != existing {
			continue
		}
		assessment.Warnings[domain.WarnHasIncompatibleCoupon] = true
		assessment.CouponsInOldCurrency = append(assessment.CouponsInOldCurrency, domain.CouponSnapshot{
			ID:        coupon.ID,
			AmountOff: *coupon.AmountOff,
			Currency:  domain.NormalizeCurrency(coupon.Currency),
			Name:      coupon.Name,
		})
	}
}

func (s *Service) expireOpenSessions(ctx context.Context, customerID string) {
	sessions, err := s.gateway.ListOpenCheckoutSessions(ctx, customerID)
	if err != nil {
		s.log.Warn("failed to list open checkout sessions",
			zap.String("customer_id", customerID), zap.Error(err))
		return
	}
	for _, session := range sessions {
		if session == nil {
			continue
		}
		if err := s.gateway.ExpireCheckoutSession(ctx, session.ID); err != nil {
			s.log.Warn("failed to expire checkout session",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}
}

// prorationCredit computes the unused-time credit in minor units. The
// provider preview is authoritative; when it fails, proration is computed
// from the period bounds. The result is clamped to [0, unit_amount].
func (s *Service) prorationCredit(ctx context.Context, customerID string, sub *domain.ProviderSubscription) int64 {
	preview, err := s.gateway.PreviewProration(ctx, customerID, sub.ID)
	if err == nil && preview != nil {
		var credit int64
		for _, line := range preview.Lines {
			if line.Amount < 0 {
				credit += -line.Amount
			}
		}
		return credit
	}
	if err != nil {
		s.log.Warn("proration preview failed, computing fallback",
			zap.String("subscription_id", sub.ID), zap.Error(err))
	}

	total := sub.CurrentPeriodEnd.Sub(sub.CurrentPeriodStart)
	if total <= 0 {
		return 0
	}
	remaining := sub.CurrentPeriodEnd.Sub(s.clock.Now())
	if remaining <= 0 {
		return 0
	}
	if remaining > total {
		remaining = total
	}
	credit := int64(math.Round(float64(sub.UnitAmount) * remaining.Seconds() / total.Seconds()))
	if credit < 0 {
		credit = 0
	}
	if credit > sub.UnitAmount {
		credit = sub.UnitAmount
	}
	return credit
}

func (s *Service) voidOpenInvoices(ctx context.Context, customerID, subscriptionID string) {
	invoices, err := s.gateway.ListOpenInvoices(ctx, customerID, subscriptionID)
	if err != nil {
		s.log.Warn("failed to list open invoices",
			zap.String("subscription_id", subscriptionID), zap.Error(err))
		return
	}
	for _, invoice := range invoices {
		if invoice == nil {
			continue
		}
		if err := s.gateway.VoidInvoice(ctx, invoice.ID); err != nil {
			s.log.Warn("failed to void open invoice",
				zap.String("invoice_id", invoice.ID), zap.Error(err))
		}
	}
}

// issueRefund refunds the prorated credit against the latest captured
// payment. A failed refund does not unwind the migration; the error text
// is surfaced in the result for the caller to act on.
func (s *Service) issueRefund(ctx context.Context, customerID, subscriptionID string, amount int64) string {
	charge, err := s.gateway.FindLatestCharge(ctx, customerID, subscriptionID)
	if err != nil {
		s.log.Warn("failed to locate charge for refund",
			zap.String("subscription_id", subscriptionID), zap.Error(err))
		return fmt.Sprintf("refund skipped: %s", err.Error())
	}
	if charge == nil || charge.PaymentIntentID == "" || !charge.Paid || charge.Refunded {
		return ""
	}
	refundID, err := s.gateway.CreateRefund(ctx, charge.PaymentIntentID, amount, "requested_by_customer")
	if err != nil {
		s.log.Error("refund failed after cancellation",
			zap.String("payment_intent_id", charge.PaymentIntentID),
			zap.Int64("amount", amount), zap.Error(err))
		return err.Error()
	}
	s.log.Info("issued prorated refund",
		zap.String("refund_id", refundID), zap.Int64("amount", amount))
	return ""
}

func (s *Service) recordAudit(ctx context.Context, orgID snowflake.ID, action, targetID string, metadata map[string]any) {
	var target *string
	if targetID != "" {
		target = &targetID
	}
	if err := s.audit.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeSystem), nil, action, "organization", target, metadata); err != nil {
		s.log.Warn("failed to record audit entry", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, orgID snowflake.ID, eventType, dedupeKey string, payload events.MigrationPayload) {
	if s.outbox == nil {
		return
	}
	err := s.outbox.Publish(ctx, events.Event{
		OrgID:     orgID,
		Type:      eventType,
		Payload:   payload.ToMap(),
		DedupeKey: dedupeKey,
	})
	if err != nil {
		s.log.Warn("failed to publish billing event", zap.String("event_type", eventType), zap.Error(err))
	}
}
