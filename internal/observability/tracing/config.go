package tracing

import "github.com/onetimesecret/billing/internal/config"

// FromAppConfig maps service configuration onto the tracer provider config.
func FromAppConfig(cfg config.Config) Config {
	return Config{
		Enabled:          cfg.TracingEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.ServiceVersion,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.TracingEndpoint,
		ExporterProtocol: cfg.TracingProtocol,
		SamplingRatio:    cfg.TracingSampling,
	}
}
