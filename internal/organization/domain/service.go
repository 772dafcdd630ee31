package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Organization, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (*Organization, error)

	// SetCurrencyMigrationIntent records the target price and cancel-at
	// timestamp of a scheduled graceful migration. Re-setting the same
	// intent is not an error.
	SetCurrencyMigrationIntent(ctx context.Context, id snowflake.ID, targetPriceID string, cancelAt time.Time) error

	// ClearCurrencyMigrationIntent removes any stored intent. Clearing an
	// absent intent is a no-op.
	ClearCurrencyMigrationIntent(ctx context.Context, id snowflake.ID) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPriceID      = errors.New("invalid_price_id")
	ErrOrganizationNotFound = errors.New("organization_not_found")
)
