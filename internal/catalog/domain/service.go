package domain

import (
	"context"
	"errors"
	"fmt"
)

type Service interface {
	// FindByStripePriceID returns nil (no error) when the price id is not in
	// the catalog. Used where an unknown mapping is tolerable, e.g. plan
	// snapshots that omit the name.
	FindByStripePriceID(ctx context.Context, priceID string) (*Plan, error)

	// ResolvePrice is the fail-closed variant: an unknown price id yields a
	// *MissError instead of a silent fallback to provider metadata.
	ResolvePrice(ctx context.Context, priceID string) (*Plan, error)

	Load(ctx context.Context, planID string) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
}

var (
	ErrInvalidPriceID = errors.New("invalid_price_id")
	ErrInvalidPlanID  = errors.New("invalid_plan_id")
	ErrPlanNotFound   = errors.New("plan_not_found")
)

// MissError reports a price id absent from the catalog. Callers branch on it
// to avoid trusting stale denormalized metadata.
type MissError struct {
	PriceID string
}

func (e *MissError) Error() string {
	return fmt.Sprintf("catalog_miss: %s", e.PriceID)
}

// OpsCode marks this as an expected operational condition.
func (e *MissError) OpsCode() string { return "catalog_miss" }
