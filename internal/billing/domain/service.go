package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	AssessMigration(ctx context.Context, req AssessRequest) (*MigrationAssessment, error)
	ExecuteGracefulMigration(ctx context.Context, orgID snowflake.ID, targetPriceID string) (*MigrationResult, error)
	ExecuteImmediateMigration(ctx context.Context, orgID snowflake.ID, req ImmediateRequest) (*MigrationResult, error)
}

var (
	ErrInvalidPriceID      = errors.New("invalid_price_id")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
)

// OpsError marks expected operational conditions that have a recovery
// path, as opposed to unexpected provider or runtime failures. Catalog
// misses implement it.
type OpsError interface {
	error
	OpsCode() string
}

// IsOpsError reports whether any error in the chain is an OpsError.
func IsOpsError(err error) bool {
	var ops OpsError
	return errors.As(err, &ops)
}
