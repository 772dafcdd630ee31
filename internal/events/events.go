package events

// Migration lifecycle events published to the outbox for downstream
// consumers (notifications, webhook relays).
const (
	EventMigrationAssessed          = "migration.assessed"
	EventMigrationGracefulScheduled = "migration.graceful_scheduled"
	EventMigrationImmediateComplete = "migration.immediate_completed"
	EventMigrationFinalized         = "migration.finalized"
)

// MigrationPayload captures the minimal data a consumer needs to act on a
// migration event.
type MigrationPayload struct {
	OrgID           string `json:"org_id"`
	Mode            string `json:"mode,omitempty"`
	TargetPriceID   string `json:"target_price_id,omitempty"`
	CancelAt        string `json:"cancel_at,omitempty"`
	CheckoutURL     string `json:"checkout_url,omitempty"`
	RefundAmount    int64  `json:"refund_amount,omitempty"`
	RefundFormatted string `json:"refund_formatted,omitempty"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p MigrationPayload) ToMap() map[string]any {
	payload := map[string]any{
		"org_id": p.OrgID,
	}
	if p.Mode != "" {
		payload["mode"] = p.Mode
	}
	if p.TargetPriceID != "" {
		payload["target_price_id"] = p.TargetPriceID
	}
	if p.CancelAt != "" {
		payload["cancel_at"] = p.CancelAt
	}
	if p.CheckoutURL != "" {
		payload["checkout_url"] = p.CheckoutURL
	}
	if p.RefundAmount != 0 {
		payload["refund_amount"] = p.RefundAmount
	}
	if p.RefundFormatted != "" {
		payload["refund_formatted"] = p.RefundFormatted
	}
	return payload
}
