package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	organizationdomain "github.com/onetimesecret/billing/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) organizationdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("organization.service"),
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*organizationdomain.Organization, error) {
	if id == 0 {
		return nil, organizationdomain.ErrInvalidOrganization
	}
	var org organizationdomain.Organization
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, name, slug, stripe_customer_id, stripe_subscription_id,
		        migration_target_price_id, migration_cancel_at, created_at, updated_at
		 FROM organizations
		 WHERE id = ?`,
		id,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, organizationdomain.ErrOrganizationNotFound
	}
	return &org, nil
}

func (s *Service) FindByStripeCustomerID(ctx context.Context, customerID string) (*organizationdomain.Organization, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, organizationdomain.ErrInvalidOrganization
	}
	var org organizationdomain.Organization
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, name, slug, stripe_customer_id, stripe_subscription_id,
		        migration_target_price_id, migration_cancel_at, created_at, updated_at
		 FROM organizations
		 WHERE stripe_customer_id = ?`,
		customerID,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, nil
	}
	return &org, nil
}

func (s *Service) SetCurrencyMigrationIntent(ctx context.Context, id snowflake.ID, targetPriceID string, cancelAt time.Time) error {
	if id == 0 {
		return organizationdomain.ErrInvalidOrganization
	}
	targetPriceID = strings.TrimSpace(targetPriceID)
	if targetPriceID == "" {
		return organizationdomain.ErrInvalidPriceID
	}

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET migration_target_price_id = ?, migration_cancel_at = ?, updated_at = ?
		 WHERE id = ?`,
		targetPriceID,
		cancelAt.UTC(),
		now,
		id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return organizationdomain.ErrOrganizationNotFound
	}

	s.log.Info("stored currency migration intent",
		zap.String("org_id", id.String()),
		zap.String("target_price_id", targetPriceID),
		zap.Time("cancel_at", cancelAt.UTC()),
	)
	return nil
}

func (s *Service) ClearCurrencyMigrationIntent(ctx context.Context, id snowflake.ID) error {
	if id == 0 {
		return organizationdomain.ErrInvalidOrganization
	}

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET migration_target_price_id = NULL, migration_cancel_at = NULL, updated_at = ?
		 WHERE id = ?`,
		now,
		id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return organizationdomain.ErrOrganizationNotFound
	}
	return nil
}
