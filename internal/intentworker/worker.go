// Package intentworker finalizes graceful currency migrations. When a
// subscription scheduled for end-of-period cancellation reaches its
// cancel-at timestamp, the worker issues a checkout session for the stored
// target price and clears the intent. The customer completes payment in
// the new currency through that session.
package intentworker

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/onetimesecret/billing/internal/audit/domain"
	billingdomain "github.com/onetimesecret/billing/internal/billing/domain"
	"github.com/onetimesecret/billing/internal/clock"
	"github.com/onetimesecret/billing/internal/events"
	"github.com/onetimesecret/billing/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Gateway billingdomain.Gateway
	Audit   auditdomain.Service
	Outbox  *events.Outbox
	Config  Config `optional:"true"`
}

type Worker struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	gateway billingdomain.Gateway
	audit   auditdomain.Service
	outbox  *events.Outbox
	cfg     Config
	metrics *metrics.MigrationMetrics
}

// workIntent is a due organization row claimed for finalization.
type workIntent struct {
	ID                     snowflake.ID
	StripeCustomerID       string
	MigrationTargetPriceID string
	MigrationCancelAt      time.Time
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:      p.DB,
		log:     p.Log.Named("billing.intentworker"),
		clock:   p.Clock,
		gateway: p.Gateway,
		audit:   p.Audit,
		outbox:  p.Outbox,
		cfg:     p.Config.withDefaults(),
		metrics: metrics.Migration(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("intent finalization run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := w.processBatch(runCtx, w.cfg.BatchSize)
	if backlog, countErr := w.countBacklog(runCtx); countErr == nil {
		w.metrics.SetIntentBacklog(backlog)
	}
	return err
}

func (w *Worker) processBatch(ctx context.Context, limit int) (int, error) {
	if w.db == nil || w.gateway == nil {
		return 0, errors.New("intent_worker_unavailable")
	}
	if limit <= 0 {
		limit = w.cfg.BatchSize
	}

	processed := 0
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		due, err := w.claimDue(ctx, tx, limit)
		if err != nil {
			return err
		}
		now := w.clock.Now()
		for _, intent := range due {
			finalizeErr := w.finalize(ctx, tx, intent, now)
			w.metrics.ObserveIntentProcessed(finalizeErr)
			if finalizeErr != nil {
				// Left claimed but uncleared; picked up again next run.
				w.log.Warn("failed to finalize migration intent",
					zap.String("org_id", intent.ID.String()),
					zap.String("target_price_id", intent.MigrationTargetPriceID),
					zap.Error(finalizeErr))
				continue
			}
			processed++
		}
		return nil
	})
	return processed, err
}

func (w *Worker) claimDue(ctx context.Context, tx *gorm.DB, limit int) ([]workIntent, error) {
	query := `SELECT id, stripe_customer_id, migration_target_price_id, migration_cancel_at
		 FROM organizations
		 WHERE migration_target_price_id IS NOT NULL
		   AND migration_cancel_at IS NOT NULL
		   AND migration_cancel_at <= ?
		 ORDER BY migration_cancel_at ASC, id ASC`
	// Row locks need postgres; sqlite runs single-writer anyway.
	if tx.Dialector.Name() == "postgres" {
		query += "\n\t\t FOR UPDATE SKIP LOCKED"
	}
	query += "\n\t\t LIMIT ?"

	var due []workIntent
	err := tx.WithContext(ctx).Raw(query, w.clock.Now(), limit).Scan(&due).Error
	if err != nil {
		return nil, err
	}
	return due, nil
}

func (w *Worker) finalize(ctx context.Context, tx *gorm.DB, intent workIntent, now time.Time) error {
	if intent.StripeCustomerID == "" {
		return w.clearIntent(ctx, tx, intent.ID)
	}

	session, err := w.gateway.CreateCheckoutSession(ctx, billingdomain.CheckoutRequest{
		CustomerID: intent.StripeCustomerID,
		PriceID:    intent.MigrationTargetPriceID,
		SuccessURL: w.cfg.SuccessURL,
		CancelURL:  w.cfg.CancelURL,
		Metadata: map[string]string{
			"currency_migration": "graceful_finalize",
			"org_id":             intent.ID.String(),
		},
	})
	if err != nil {
		return err
	}

	if err := w.clearIntent(ctx, tx, intent.ID); err != nil {
		return err
	}

	orgID := intent.ID
	target := intent.MigrationTargetPriceID
	if auditErr := w.audit.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeSystem), nil,
		auditdomain.ActionMigrationFinalized, "organization", &target, map[string]any{
			"target_price_id": intent.MigrationTargetPriceID,
			"cancel_at":       intent.MigrationCancelAt.Format(time.RFC3339),
			"checkout_id":     session.ID,
		}); auditErr != nil {
		w.log.Warn("failed to audit intent finalization", zap.Error(auditErr))
	}

	if w.outbox != nil {
		publishErr := w.outbox.PublishTx(ctx, tx, events.Event{
			OrgID:     intent.ID,
			Type:      events.EventMigrationFinalized,
			DedupeKey: "finalize:" + intent.MigrationTargetPriceID,
			Payload: events.MigrationPayload{
				OrgID:         intent.ID.String(),
				Mode:          billingdomain.ModeGraceful,
				TargetPriceID: intent.MigrationTargetPriceID,
				CancelAt:      intent.MigrationCancelAt.Format(time.RFC3339),
				CheckoutURL:   session.URL,
			}.ToMap(),
		})
		if publishErr != nil {
			w.log.Warn("failed to publish finalization event", zap.Error(publishErr))
		}
	}

	w.log.Info("finalized graceful migration intent",
		zap.String("org_id", intent.ID.String()),
		zap.String("target_price_id", intent.MigrationTargetPriceID),
		zap.String("checkout_id", session.ID))
	return nil
}

func (w *Worker) clearIntent(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET migration_target_price_id = NULL,
		     migration_cancel_at = NULL,
		     updated_at = ?
		 WHERE id = ?`,
		w.clock.Now(),
		orgID,
	).Error
}

func (w *Worker) countBacklog(ctx context.Context) (int64, error) {
	var count int64
	err := w.db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM organizations
		 WHERE migration_target_price_id IS NOT NULL`,
	).Scan(&count).Error
	return count, err
}
