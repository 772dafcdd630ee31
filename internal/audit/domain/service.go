package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Migration lifecycle actions recorded in the audit trail.
const (
	ActionMigrationAssessed  = "billing.migration.assessed"
	ActionMigrationGraceful  = "billing.migration.graceful_scheduled"
	ActionMigrationImmediate = "billing.migration.immediate_completed"
	ActionMigrationFinalized = "billing.migration.finalized"
)

type Service interface {
	AuditLog(ctx context.Context, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, filter ListFilter) ([]*AuditLog, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidTarget = errors.New("invalid_target")
)
