package service

import (
	"context"
	"strings"
	"time"

	"github.com/onetimesecret/billing/internal/cache"
	catalogdomain "github.com/onetimesecret/billing/internal/catalog/domain"
	"github.com/onetimesecret/billing/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
	Cfg config.Config
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	cacheTTL time.Duration
	byPrice  cache.Cache[string, *catalogdomain.Plan]
}

func NewService(p Params) catalogdomain.Service {
	var byPrice cache.Cache[string, *catalogdomain.Plan]
	if p.Cfg.PlanCacheTTL > 0 {
		byPrice = cache.NewTTLCache[string, *catalogdomain.Plan]()
	} else {
		byPrice = cache.NoopCache[string, *catalogdomain.Plan]{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("catalog.service"),
		cacheTTL: p.Cfg.PlanCacheTTL,
		byPrice:  byPrice,
	}
}

func (s *Service) FindByStripePriceID(ctx context.Context, priceID string) (*catalogdomain.Plan, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return nil, catalogdomain.ErrInvalidPriceID
	}

	if plan, ok := s.byPrice.Get(priceID); ok {
		return plan, nil
	}

	var plan catalogdomain.Plan
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, plan_id, name, stripe_price_id, unit_amount, currency, billing_interval, active, created_at, updated_at
		 FROM plans
		 WHERE stripe_price_id = ?`,
		priceID,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}

	s.byPrice.Set(priceID, &plan, s.cacheTTL)
	return &plan, nil
}

func (s *Service) ResolvePrice(ctx context.Context, priceID string) (*catalogdomain.Plan, error) {
	plan, err := s.FindByStripePriceID(ctx, priceID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		s.log.Warn("price id missing from catalog", zap.String("price_id", priceID))
		return nil, &catalogdomain.MissError{PriceID: priceID}
	}
	return plan, nil
}

func (s *Service) Load(ctx context.Context, planID string) (*catalogdomain.Plan, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, catalogdomain.ErrInvalidPlanID
	}

	var plan catalogdomain.Plan
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, plan_id, name, stripe_price_id, unit_amount, currency, billing_interval, active, created_at, updated_at
		 FROM plans
		 WHERE plan_id = ?`,
		planID,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, catalogdomain.ErrPlanNotFound
	}
	return &plan, nil
}

func (s *Service) ListPlans(ctx context.Context) ([]catalogdomain.Plan, error) {
	var plans []catalogdomain.Plan
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, plan_id, name, stripe_price_id, unit_amount, currency, billing_interval, active, created_at, updated_at
		 FROM plans
		 WHERE active = TRUE
		 ORDER BY currency, unit_amount`,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}
