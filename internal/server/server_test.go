package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/onetimesecret/billing/internal/audit/domain"
	billingdomain "github.com/onetimesecret/billing/internal/billing/domain"
	catalogdomain "github.com/onetimesecret/billing/internal/catalog/domain"
	"github.com/onetimesecret/billing/internal/config"
	orgdomain "github.com/onetimesecret/billing/internal/organization/domain"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

type stubBilling struct {
	assessment   *billingdomain.MigrationAssessment
	assessErr    error
	result       *billingdomain.MigrationResult
	executeErr   error
	lastAssess   billingdomain.AssessRequest
	lastOrgID    snowflake.ID
	lastPriceID  string
	lastRequest  billingdomain.ImmediateRequest
	gracefulRuns int
}

func (b *stubBilling) AssessMigration(ctx context.Context, req billingdomain.AssessRequest) (*billingdomain.MigrationAssessment, error) {
	b.lastAssess = req
	return b.assessment, b.assessErr
}

func (b *stubBilling) ExecuteGracefulMigration(ctx context.Context, orgID snowflake.ID, targetPriceID string) (*billingdomain.MigrationResult, error) {
	b.gracefulRuns++
	b.lastOrgID = orgID
	b.lastPriceID = targetPriceID
	return b.result, b.executeErr
}

func (b *stubBilling) ExecuteImmediateMigration(ctx context.Context, orgID snowflake.ID, req billingdomain.ImmediateRequest) (*billingdomain.MigrationResult, error) {
	b.lastOrgID = orgID
	b.lastRequest = req
	return b.result, b.executeErr
}

type stubCatalog struct {
	plans []catalogdomain.Plan
}

func (c *stubCatalog) FindByStripePriceID(ctx context.Context, priceID string) (*catalogdomain.Plan, error) {
	return nil, nil
}

func (c *stubCatalog) ResolvePrice(ctx context.Context, priceID string) (*catalogdomain.Plan, error) {
	return nil, &catalogdomain.MissError{PriceID: priceID}
}

func (c *stubCatalog) Load(ctx context.Context, planID string) (*catalogdomain.Plan, error) {
	return nil, catalogdomain.ErrPlanNotFound
}

func (c *stubCatalog) ListPlans(ctx context.Context) ([]catalogdomain.Plan, error) {
	return c.plans, nil
}

type stubOrgs struct {
	org     *orgdomain.Organization
	cleared []snowflake.ID
}

func (o *stubOrgs) Get(ctx context.Context, id snowflake.ID) (*orgdomain.Organization, error) {
	if o.org != nil && o.org.ID == id {
		return o.org, nil
	}
	return nil, orgdomain.ErrOrganizationNotFound
}

func (o *stubOrgs) FindByStripeCustomerID(ctx context.Context, customerID string) (*orgdomain.Organization, error) {
	if o.org != nil && o.org.StripeCustomerID == customerID {
		return o.org, nil
	}
	return nil, nil
}

func (o *stubOrgs) SetCurrencyMigrationIntent(ctx context.Context, id snowflake.ID, targetPriceID string, cancelAt time.Time) error {
	return nil
}

func (o *stubOrgs) ClearCurrencyMigrationIntent(ctx context.Context, id snowflake.ID) error {
	o.cleared = append(o.cleared, id)
	return nil
}

type stubAudit struct {
	actions []string
}

func (a *stubAudit) AuditLog(ctx context.Context, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	a.actions = append(a.actions, action)
	return nil
}

func (a *stubAudit) List(ctx context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	return nil, nil
}

type testHarness struct {
	server  *Server
	engine  *gin.Engine
	billing *stubBilling
	orgs    *stubOrgs
	audit   *stubAudit
}

func newTestHarness(t *testing.T, cfg config.Config) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	billing := &stubBilling{
		assessment: &billingdomain.MigrationAssessment{CanMigrate: true, Blockers: []string{}, Warnings: map[string]any{}},
		result:     &billingdomain.MigrationResult{Success: true, Migration: billingdomain.Migration{Mode: billingdomain.ModeGraceful}},
	}
	orgs := &stubOrgs{org: &orgdomain.Organization{ID: snowflake.ID(42), StripeCustomerID: "cus_1"}}
	audit := &stubAudit{}
	srv := &Server{
		log:        zap.NewNop(),
		cfg:        cfg,
		billingSvc: billing,
		catalogSvc: &stubCatalog{},
		orgSvc:     orgs,
		auditSvc:   audit,
		limiter:    newRateLimiter(1000, time.Minute),
	}

	engine := gin.New()
	engine.POST("/webhooks/stripe", srv.StripeWebhook)
	api := engine.Group("/api")
	api.GET("/plans", srv.ListPlans)
	api.POST("/billing/conflict/classify", srv.ClassifyConflict)
	api.POST("/billing/migration/assess", srv.AssessMigration)
	api.POST("/billing/migration/graceful", srv.GracefulMigration)
	api.POST("/billing/migration/immediate", srv.ImmediateMigration)

	return &testHarness{server: srv, engine: engine, billing: billing, orgs: orgs, audit: audit}
}

func postJSON(t *testing.T, engine *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestAssessMigrationHandler(t *testing.T) {
	h := newTestHarness(t, config.Config{})
	rec := postJSON(t, h.engine, "/api/billing/migration/assess", map[string]any{
		"org_id":             "42",
		"existing_currency":  "usd",
		"requested_currency": "eur",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if h.billing.lastAssess.OrgID != snowflake.ID(42) {
		t.Fatalf("org id = %v, want 42", h.billing.lastAssess.OrgID)
	}
	var resp billingdomain.MigrationAssessment
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.CanMigrate {
		t.Fatal("expected can_migrate true")
	}
}

func TestAssessMigrationRequiresCurrency(t *testing.T) {
	h := newTestHarness(t, config.Config{})
	rec := postJSON(t, h.engine, "/api/billing/migration/assess", map[string]any{
		"org_id": "42",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGracefulMigrationRequiresTargetPrice(t *testing.T) {
	h := newTestHarness(t, config.Config{})
	rec := postJSON(t, h.engine, "/api/billing/migration/graceful", map[string]any{
		"org_id": "42",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if h.billing.gracefulRuns != 0 {
		t.Fatal("service must not run on validation failure")
	}
}

func TestGracefulMigrationMapsCatalogMiss(t *testing.T) {
	h := newTestHarness(t, config.Config{})
	h.billing.executeErr = &catalogdomain.MissError{PriceID: "price_unknown"}
	rec := postJSON(t, h.engine, "/api/billing/migration/graceful", map[string]any{
		"org_id":          "42",
		"target_price_id": "price_unknown",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body %s", rec.Code, rec.Body.String())
	}
}

func TestImmediateMigrationPassesURLs(t *testing.T) {
	h := newTestHarness(t, config.Config{})
	h.billing.result = &billingdomain.MigrationResult{
		Success:   true,
		Migration: billingdomain.Migration{Mode: billingdomain.ModeImmediate, CheckoutURL: "https://checkout.example.com/cs"},
	}
	rec := postJSON(t, h.engine, "/api/billing/migration/immediate", map[string]any{
		"org_id":          "42",
		"target_price_id": "price_cad_456",
		"success_url":     "https://app.example.com/done",
		"cancel_url":      "https://app.example.com/back",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if h.billing.lastRequest.SuccessURL != "https://app.example.com/done" {
		t.Fatalf("success url = %q not forwarded", h.billing.lastRequest.SuccessURL)
	}
}

func TestClassifyConflictLegacyMessage(t *testing.T) {
	h := newTestHarness(t, config.Config{})
	rec := postJSON(t, h.engine, "/api/billing/conflict/classify", map[string]any{
		"message":    "The customer has had a subscription or payment in eur, but you are trying to pay in usd.",
		"error_type": "invalid_request_error",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		CurrencyConflict bool `json:"currency_conflict"`
		Conflict         *struct {
			ExistingCurrency  string `json:"existing_currency"`
			RequestedCurrency string `json:"requested_currency"`
		} `json:"conflict"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.CurrencyConflict {
		t.Fatal("expected a currency conflict")
	}
	if resp.Conflict == nil || resp.Conflict.ExistingCurrency != "eur" || resp.Conflict.RequestedCurrency != "usd" {
		t.Fatalf("unexpected conflict %+v", resp.Conflict)
	}
}

func TestClassifyConflictOtherErrorKind(t *testing.T) {
	h := newTestHarness(t, config.Config{})
	rec := postJSON(t, h.engine, "/api/billing/conflict/classify", map[string]any{
		"message":    "has had a subscription or payment in eur, but you are trying to pay in usd.",
		"error_type": "api_error",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		CurrencyConflict bool `json:"currency_conflict"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.CurrencyConflict {
		t.Fatal("non invalid-request errors must not classify as conflicts")
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	h := newTestHarness(t, config.Config{StripeWebhookSecret: "whsec_test"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookCheckoutCompletedClearsIntent(t *testing.T) {
	const secret = "whsec_test"
	h := newTestHarness(t, config.Config{StripeWebhookSecret: secret})

	eventJSON := `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_new","mode":"subscription","customer":"cus_1","metadata":{"currency_migration":"immediate","org_id":"42"}}}}`
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(eventJSON),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if len(h.orgs.cleared) != 1 || h.orgs.cleared[0] != snowflake.ID(42) {
		t.Fatalf("cleared intents = %v, want [42]", h.orgs.cleared)
	}
	if len(h.audit.actions) != 1 || h.audit.actions[0] != auditdomain.ActionMigrationFinalized {
		t.Fatalf("audit actions = %v", h.audit.actions)
	}
}

func TestWebhookIgnoresUnrelatedCheckout(t *testing.T) {
	const secret = "whsec_test"
	h := newTestHarness(t, config.Config{StripeWebhookSecret: secret})

	eventJSON := `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_other","mode":"subscription","customer":"cus_1","metadata":{}}}}`
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(eventJSON),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(h.orgs.cleared) != 0 {
		t.Fatal("intent must not be cleared for sessions this service did not create")
	}
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	limiter := newRateLimiter(2, time.Minute)
	if !limiter.Allow("1.2.3.4") || !limiter.Allow("1.2.3.4") {
		t.Fatal("first two requests should pass")
	}
	if limiter.Allow("1.2.3.4") {
		t.Fatal("third request within the window should be blocked")
	}
	if !limiter.Allow("5.6.7.8") {
		t.Fatal("other clients must not share the window")
	}
}
