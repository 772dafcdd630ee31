package intentworker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/onetimesecret/billing/internal/audit/domain"
	billingdomain "github.com/onetimesecret/billing/internal/billing/domain"
	"github.com/onetimesecret/billing/internal/clock"
	"github.com/onetimesecret/billing/internal/events"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubGateway struct {
	checkoutErr  error
	checkoutReqs []billingdomain.CheckoutRequest
}

func (g *stubGateway) GetCustomer(ctx context.Context, customerID string) (*billingdomain.ProviderCustomer, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) GetSubscription(ctx context.Context, subscriptionID string) (*billingdomain.ProviderSubscription, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) ListSubscriptions(ctx context.Context, customerID string) ([]*billingdomain.ProviderSubscription, error) {
	return nil, nil
}

func (g *stubGateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*billingdomain.ProviderSubscription, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) CancelSubscription(ctx context.Context, subscriptionID string, metadata map[string]string) error {
	return errors.New("not implemented")
}

func (g *stubGateway) ListOpenCheckoutSessions(ctx context.Context, customerID string) ([]*billingdomain.ProviderCheckoutSession, error) {
	return nil, nil
}

func (g *stubGateway) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	return nil
}

func (g *stubGateway) CreateCheckoutSession(ctx context.Context, req billingdomain.CheckoutRequest) (*billingdomain.ProviderCheckoutSession, error) {
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	g.checkoutReqs = append(g.checkoutReqs, req)
	return &billingdomain.ProviderCheckoutSession{
		ID:  fmt.Sprintf("cs_%d", len(g.checkoutReqs)),
		URL: "https://checkout.example.com/cs",
	}, nil
}

func (g *stubGateway) ListPendingInvoiceItems(ctx context.Context, customerID string) ([]*billingdomain.ProviderInvoiceItem, error) {
	return nil, nil
}

func (g *stubGateway) ListOpenInvoices(ctx context.Context, customerID, subscriptionID string) ([]*billingdomain.ProviderInvoice, error) {
	return nil, nil
}

func (g *stubGateway) VoidInvoice(ctx context.Context, invoiceID string) error {
	return nil
}

func (g *stubGateway) PreviewProration(ctx context.Context, customerID, subscriptionID string) (*billingdomain.ProviderInvoice, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) FindLatestCharge(ctx context.Context, customerID, subscriptionID string) (*billingdomain.ProviderCharge, error) {
	return nil, nil
}

func (g *stubGateway) CreateRefund(ctx context.Context, paymentIntentID string, amount int64, reason string) (string, error) {
	return "", errors.New("not implemented")
}

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) AuditLog(ctx context.Context, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	a.actions = append(a.actions, action)
	return nil
}

func (a *recordingAudit) List(ctx context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	return nil, nil
}

func setupWorkerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS organizations (
			id INTEGER PRIMARY KEY,
			name TEXT,
			slug TEXT,
			stripe_customer_id TEXT,
			stripe_subscription_id TEXT,
			migration_target_price_id TEXT,
			migration_cancel_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`,
	).Error; err != nil {
		t.Fatalf("create organizations: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS billing_events (
			id INTEGER PRIMARY KEY,
			org_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT,
			dedupe_key TEXT,
			published BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME,
			UNIQUE (org_id, dedupe_key)
		)`,
	).Error; err != nil {
		t.Fatalf("create billing_events: %v", err)
	}
	return db
}

func insertIntentOrg(t *testing.T, db *gorm.DB, id int64, customerID, priceID string, cancelAt time.Time) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO organizations (id, name, stripe_customer_id, migration_target_price_id, migration_cancel_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, fmt.Sprintf("org-%d", id), customerID, priceID, cancelAt, cancelAt.Add(-30*24*time.Hour), cancelAt.Add(-30*24*time.Hour),
	).Error; err != nil {
		t.Fatalf("insert organization: %v", err)
	}
}

func newTestWorker(t *testing.T, db *gorm.DB, gateway *stubGateway, now time.Time) (*Worker, *recordingAudit) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	audit := &recordingAudit{}
	worker := NewWorker(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clock.Fixed(now),
		Gateway: gateway,
		Audit:   audit,
		Outbox:  events.NewOutbox(db, node),
		Config:  Config{BatchSize: 10, PollInterval: time.Minute, SuccessURL: "https://app.example.com/ok", CancelURL: "https://app.example.com/no"},
	})
	return worker, audit
}

func TestRunOnceFinalizesDueIntent(t *testing.T) {
	db := setupWorkerTestDB(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	insertIntentOrg(t, db, 100, "cus_due", "price_cad_456", now.Add(-time.Hour))

	gateway := &stubGateway{}
	worker, audit := newTestWorker(t, db, gateway, now)

	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(gateway.checkoutReqs) != 1 {
		t.Fatalf("checkout sessions created = %d, want 1", len(gateway.checkoutReqs))
	}
	req := gateway.checkoutReqs[0]
	if req.CustomerID != "cus_due" || req.PriceID != "price_cad_456" {
		t.Fatalf("unexpected checkout request %+v", req)
	}
	if req.Metadata["currency_migration"] != "graceful_finalize" {
		t.Fatalf("checkout metadata = %v, want currency_migration=graceful_finalize", req.Metadata)
	}

	var remaining int64
	if err := db.Raw(`SELECT COUNT(1) FROM organizations WHERE migration_target_price_id IS NOT NULL`).Scan(&remaining).Error; err != nil {
		t.Fatalf("count intents: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining intents = %d, want 0", remaining)
	}

	if len(audit.actions) != 1 || audit.actions[0] != auditdomain.ActionMigrationFinalized {
		t.Fatalf("audit actions = %v, want [%s]", audit.actions, auditdomain.ActionMigrationFinalized)
	}

	var eventCount int64
	if err := db.Raw(`SELECT COUNT(1) FROM billing_events WHERE org_id = 100 AND event_type = ?`, events.EventMigrationFinalized).Scan(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("published events = %d, want 1", eventCount)
	}
}

func TestRunOnceSkipsFutureIntent(t *testing.T) {
	db := setupWorkerTestDB(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	insertIntentOrg(t, db, 200, "cus_future", "price_cad_456", now.Add(24*time.Hour))

	gateway := &stubGateway{}
	worker, _ := newTestWorker(t, db, gateway, now)

	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(gateway.checkoutReqs) != 0 {
		t.Fatalf("checkout sessions created = %d, want 0 before cancel_at", len(gateway.checkoutReqs))
	}

	var remaining int64
	if err := db.Raw(`SELECT COUNT(1) FROM organizations WHERE migration_target_price_id IS NOT NULL`).Scan(&remaining).Error; err != nil {
		t.Fatalf("count intents: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining intents = %d, want 1", remaining)
	}
}

func TestRunOnceKeepsIntentOnCheckoutFailure(t *testing.T) {
	db := setupWorkerTestDB(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	insertIntentOrg(t, db, 300, "cus_err", "price_cad_456", now.Add(-time.Hour))

	gateway := &stubGateway{checkoutErr: errors.New("provider unavailable")}
	worker, audit := newTestWorker(t, db, gateway, now)

	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	var remaining int64
	if err := db.Raw(`SELECT COUNT(1) FROM organizations WHERE migration_target_price_id IS NOT NULL`).Scan(&remaining).Error; err != nil {
		t.Fatalf("count intents: %v", err)
	}
	if remaining != 1 {
		t.Fatal("intent must survive a failed checkout for retry")
	}
	if len(audit.actions) != 0 {
		t.Fatalf("audit actions = %v, want none on failure", audit.actions)
	}
}

func TestRunOnceClearsIntentWithoutCustomer(t *testing.T) {
	db := setupWorkerTestDB(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	insertIntentOrg(t, db, 400, "", "price_cad_456", now.Add(-time.Hour))

	gateway := &stubGateway{}
	worker, _ := newTestWorker(t, db, gateway, now)

	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(gateway.checkoutReqs) != 0 {
		t.Fatal("no checkout should be created without a provider customer")
	}

	var remaining int64
	if err := db.Raw(`SELECT COUNT(1) FROM organizations WHERE migration_target_price_id IS NOT NULL`).Scan(&remaining).Error; err != nil {
		t.Fatalf("count intents: %v", err)
	}
	if remaining != 0 {
		t.Fatal("orphan intent without a customer should be cleared")
	}
}
