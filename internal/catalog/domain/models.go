package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Plan is the authoritative price-to-plan mapping. Stripe price metadata is
// never trusted when a catalog row exists.
type Plan struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"-"`
	PlanID        string       `gorm:"column:plan_id" json:"plan_id"`
	Name          string       `gorm:"column:name" json:"name"`
	StripePriceID string       `gorm:"column:stripe_price_id" json:"stripe_price_id"`
	UnitAmount    int64        `gorm:"column:unit_amount" json:"unit_amount"`
	Currency      string       `gorm:"column:currency" json:"currency"`
	Interval      string       `gorm:"column:billing_interval" json:"interval"`
	Active        bool         `gorm:"column:active" json:"active"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }
