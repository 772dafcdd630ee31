package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/onetimesecret/billing/internal/audit/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const webhookBodyLimit = 1 << 20

// webhookCheckoutSession is the minimal projection of a
// checkout.session.* event payload.
type webhookCheckoutSession struct {
	ID       string            `json:"id"`
	Mode     string            `json:"mode"`
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

// webhookSubscription is the minimal projection of a
// customer.subscription.* event payload.
type webhookSubscription struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// StripeWebhook verifies the event signature and reacts to the two
// events that close out a currency migration: a completed checkout in
// the new currency, and the old subscription actually ending.
func (s *Server) StripeWebhook(c *gin.Context) {
	if strings.TrimSpace(s.cfg.StripeWebhookSecret) == "" {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	signature := strings.TrimSpace(c.GetHeader("Stripe-Signature"))
	if signature == "" {
		AbortWithError(c, newValidationError("Stripe-Signature", "required", "missing signature header"))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.StripeWebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		AbortWithError(c, newValidationError("Stripe-Signature", "invalid_signature", "signature verification failed"))
		return
	}

	if err := s.handleWebhookEvent(c, &event); err != nil {
		s.log.Error("webhook processing failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "processing_failed", "message": "event processing failed"}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (s *Server) handleWebhookEvent(c *gin.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session webhookCheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return err
		}
		return s.handleCheckoutCompleted(c, session)

	case "customer.subscription.deleted":
		var sub webhookSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return err
		}
		return s.handleSubscriptionDeleted(c, sub)

	default:
		s.log.Debug("webhook event ignored",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
		return nil
	}
}

// handleCheckoutCompleted clears the stored migration intent once the
// customer finishes checkout in the new currency. The intent is only
// cleared for sessions this service created.
func (s *Server) handleCheckoutCompleted(c *gin.Context, session webhookCheckoutSession) error {
	reason := session.Metadata["currency_migration"]
	if reason == "" {
		return nil
	}

	orgID, err := s.resolveWebhookOrg(c, session.Metadata["org_id"], session.Customer)
	if err != nil || orgID == 0 {
		return err
	}

	if err := s.orgSvc.ClearCurrencyMigrationIntent(c.Request.Context(), orgID); err != nil {
		return err
	}

	sessionID := session.ID
	if auditErr := s.auditSvc.AuditLog(c.Request.Context(), &orgID,
		string(auditdomain.ActorTypeSystem), nil,
		auditdomain.ActionMigrationFinalized, "checkout_session", &sessionID, map[string]any{
			"reason": reason,
		}); auditErr != nil {
		s.log.Warn("failed to audit checkout completion", zap.Error(auditErr))
	}

	s.log.Info("migration checkout completed",
		zap.String("org_id", orgID.String()),
		zap.String("session_id", session.ID),
		zap.String("reason", reason))
	return nil
}

// handleSubscriptionDeleted logs the end of a subscription that carries
// a stored migration intent; the intent worker picks it up on its next
// pass once the cancel-at timestamp is due.
func (s *Server) handleSubscriptionDeleted(c *gin.Context, sub webhookSubscription) error {
	org, err := s.orgSvc.FindByStripeCustomerID(c.Request.Context(), sub.Customer)
	if err != nil {
		return err
	}
	if org == nil || !org.HasMigrationIntent() {
		return nil
	}

	s.log.Info("subscription ended with pending migration intent",
		zap.String("org_id", org.ID.String()),
		zap.String("subscription_id", sub.ID),
		zap.Stringp("target_price_id", org.MigrationTargetPriceID))
	return nil
}

func (s *Server) resolveWebhookOrg(c *gin.Context, metadataOrgID, customerID string) (snowflake.ID, error) {
	if raw := strings.TrimSpace(metadataOrgID); raw != "" {
		orgID, err := snowflake.ParseString(raw)
		if err == nil {
			return orgID, nil
		}
		s.log.Warn("invalid org id in checkout metadata", zap.String("org_id", raw))
	}
	if strings.TrimSpace(customerID) == "" {
		return 0, nil
	}
	org, err := s.orgSvc.FindByStripeCustomerID(c.Request.Context(), customerID)
	if err != nil || org == nil {
		return 0, err
	}
	return org.ID, nil
}
