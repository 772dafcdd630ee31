package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MigrationMetrics counts currency migration outcomes.
type MigrationMetrics struct {
	migrationsTotal *prometheus.CounterVec
	refundAmount    prometheus.Histogram
	intentBacklog   prometheus.Gauge
	intentProcessed *prometheus.CounterVec
}

var (
	migrationMetricsOnce sync.Once
	migrationMetrics     *MigrationMetrics
)

func Migration() *MigrationMetrics {
	return MigrationWithConfig(Config{})
}

func MigrationWithConfig(cfg Config) *MigrationMetrics {
	migrationMetricsOnce.Do(func() {
		migrationMetrics = newMigrationMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return migrationMetrics
}

func ResetMigrationMetricsForTest() {
	migrationMetricsOnce = sync.Once{}
	migrationMetrics = nil
}

func newMigrationMetrics(registerer prometheus.Registerer, cfg Config) *MigrationMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "billingd"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	migrationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_currency_migrations_total",
			Help:        "Currency migrations executed, by mode and outcome.",
			ConstLabels: constLabels,
		},
		[]string{"mode", "outcome"},
	)
	refundAmount := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:        "billing_migration_refund_minor_units",
			Help:        "Prorated refund amounts issued by immediate migrations.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(100, 4, 8),
		},
	)
	intentBacklog := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "billing_migration_intent_backlog",
			Help:        "Stored graceful migration intents not yet finalized.",
			ConstLabels: constLabels,
		},
	)
	intentProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "billing_migration_intents_processed_total",
			Help:        "Graceful intents finalized by the worker, by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)

	for _, collector := range []prometheus.Collector{migrationsTotal, refundAmount, intentBacklog, intentProcessed} {
		if err := registerer.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				_ = already
				continue
			}
		}
	}

	return &MigrationMetrics{
		migrationsTotal: migrationsTotal,
		refundAmount:    refundAmount,
		intentBacklog:   intentBacklog,
		intentProcessed: intentProcessed,
	}
}

func (m *MigrationMetrics) ObserveMigration(mode string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.migrationsTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *MigrationMetrics) ObserveRefund(amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.refundAmount.Observe(float64(amount))
}

func (m *MigrationMetrics) SetIntentBacklog(count int64) {
	if m == nil {
		return
	}
	m.intentBacklog.Set(float64(count))
}

func (m *MigrationMetrics) ObserveIntentProcessed(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.intentProcessed.WithLabelValues(outcome).Inc()
}
