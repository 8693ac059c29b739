package server

import (
	"go.acuvity.ai/bahamut"
	"go.acuvity.ai/minipolicer/pkgs/auth"
	"go.acuvity.ai/minipolicer/pkgs/metrics"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultMaxBodySize is the default maximum size of an envelope.
const DefaultMaxBodySize = 4 << 20

type cfg struct {
	corsPolicy     *bahamut.CORSPolicy
	gatewayAuth    *auth.Auth
	metricsManager *metrics.Manager
	tracer         trace.Tracer
	maxBodySize    int64
}

func newCfg() cfg {
	return cfg{
		tracer:      noop.NewTracerProvider().Tracer("noop"),
		maxBodySize: DefaultMaxBodySize,
	}
}

// Option are options that can be given to New().
type Option func(*cfg)

// OptCORSPolicy sets the bahamut.CORSPolicy to use for
// connection originating from a webrowser.
func OptCORSPolicy(policy *bahamut.CORSPolicy) Option {
	return func(cfg *cfg) {
		cfg.corsPolicy = policy
	}
}

// OptGatewayAuth requires gateways to send the given
// credentials in the Authorization header.
func OptGatewayAuth(a *auth.Auth) Option {
	return func(cfg *cfg) {
		cfg.gatewayAuth = a
	}
}

// OptMetricsManager sets the metric manager to use to collect
// prometheus metrics.
func OptMetricsManager(m *metrics.Manager) Option {
	return func(cfg *cfg) {
		cfg.metricsManager = m
	}
}

// OptTracer sets the otel trace.Tracer to use to trace requests
func OptTracer(tracer trace.Tracer) Option {
	return func(cfg *cfg) {
		if tracer == nil {
			tracer = noop.NewTracerProvider().Tracer("noop")
		}
		cfg.tracer = tracer
	}
}

// OptMaxBodySize sets the maximum size of an envelope.
func OptMaxBodySize(size int64) Option {
	return func(cfg *cfg) {
		if size > 0 {
			cfg.maxBodySize = size
		}
	}
}
