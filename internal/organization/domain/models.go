package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Organization owns the Stripe identifiers this service acts on. The
// migration_* columns are the durable record of a pending graceful
// currency migration.
type Organization struct {
	ID                     snowflake.ID `gorm:"primaryKey"`
	Name                   string       `gorm:"column:name"`
	Slug                   string       `gorm:"column:slug"`
	StripeCustomerID       string       `gorm:"column:stripe_customer_id"`
	StripeSubscriptionID   string       `gorm:"column:stripe_subscription_id"`
	MigrationTargetPriceID *string      `gorm:"column:migration_target_price_id"`
	MigrationCancelAt      *time.Time   `gorm:"column:migration_cancel_at"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (Organization) TableName() string { return "organizations" }

// HasMigrationIntent reports whether a graceful migration is pending.
func (o *Organization) HasMigrationIntent() bool {
	return o != nil && o.MigrationTargetPriceID != nil && *o.MigrationTargetPriceID != "" && o.MigrationCancelAt != nil
}
