package observability

import (
	"github.com/onetimesecret/billing/internal/config"
	"github.com/onetimesecret/billing/internal/observability/logger"
	"github.com/onetimesecret/billing/internal/observability/metrics"
	"github.com/onetimesecret/billing/internal/observability/tracing"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	logger.Module,
	fx.Provide(tracing.FromAppConfig),
	fx.Provide(tracing.NewProvider),
	fx.Provide(metrics.NewMeterProvider),
	fx.Provide(func(cfg config.Config) metrics.Config {
		return metrics.Config{ServiceName: cfg.ServiceName, Environment: cfg.Environment}
	}),
	fx.Provide(metrics.NewHTTPMetrics),
	fx.Provide(func(cfg metrics.Config) *metrics.MigrationMetrics {
		return metrics.MigrationWithConfig(cfg)
	}),
)
