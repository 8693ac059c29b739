package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.acuvity.ai/minipolicer/pkgs/policer/api"
)

var durationBuckets = []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5}

// A Manager collects the metrics of the decision point and
// serves them, along with a health check.
type Manager struct {
	registry *prometheus.Registry

	reqDurationMetric      *prometheus.HistogramVec
	reqTotalMetric         *prometheus.CounterVec
	errorMetric            *prometheus.CounterVec
	tcpConnTotalMetric     prometheus.Counter
	tcpConnCurrentMetric   prometheus.Gauge
	wsConnTotalMetric      prometheus.Counter
	wsConnCurrentMetric    prometheus.Gauge
	decisionDurationMetric *prometheus.HistogramVec
	decisionTotalMetric    *prometheus.CounterVec
	rulesReloadTotalMetric *prometheus.CounterVec

	server *http.Server
}

// NewManager returns a new *Manager. Metrics are served
// on the given listen address by Start.
func NewManager(listen string) *Manager {

	mc := &Manager{

		registry: prometheus.NewRegistry(),

		reqTotalMetric: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "The total number of requests.",
			},
			[]string{"method", "url", "code"},
		),
		reqDurationMetric: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_requests_duration_seconds",
				Help:    "The average duration of the requests",
				Buckets: durationBuckets,
			},
			[]string{"method", "url"},
		),
		tcpConnTotalMetric: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tcp_connections_total",
				Help: "The total number of TCP connection.",
			},
		),
		tcpConnCurrentMetric: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tcp_connections_current",
				Help: "The current number of TCP connection.",
			},
		),
		wsConnTotalMetric: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "http_ws_connections_total",
				Help: "The total number of ws connection.",
			},
		),
		wsConnCurrentMetric: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_ws_connections_current",
				Help: "The current number of ws connection.",
			},
		),
		errorMetric: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_errors_5xx_total",
				Help: "The total number of 5xx errors.",
			},
			[]string{"method", "url", "code"},
		),
		decisionDurationMetric: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pdp_decisions_duration_seconds",
				Help:    "The average duration of the decisions",
				Buckets: durationBuckets,
			},
			[]string{"call_type"},
		),
		decisionTotalMetric: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdp_decisions_total",
				Help: "The total number of decisions.",
			},
			[]string{"call_type", "decision"},
		),
		rulesReloadTotalMetric: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdp_rules_reloads_total",
				Help: "The total number of rules reloads.",
			},
			[]string{"result"},
		),
	}

	mc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		mc.tcpConnCurrentMetric,
		mc.tcpConnTotalMetric,
		mc.reqTotalMetric,
		mc.reqDurationMetric,
		mc.wsConnTotalMetric,
		mc.wsConnCurrentMetric,
		mc.errorMetric,
		mc.decisionDurationMetric,
		mc.decisionTotalMetric,
		mc.rulesReloadTotalMetric,
	)

	mc.server = &http.Server{
		Addr:              listen,
		ReadHeaderTimeout: time.Second,
		Handler:           mc,
	}

	return mc
}

// Start starts the metrics server and blocks until the context is canceled.
func (c *Manager) Start(ctx context.Context) error {

	errCh := make(chan error, 1)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.server.BaseContext = func(net.Listener) context.Context { return sctx }
	c.server.RegisterOnShutdown(func() { cancel() })

	go func() {
		err := c.server.ListenAndServe()
		if err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("unable to start health server", "err", err)
			}
		}
		errCh <- err
	}()

	select {
	case <-sctx.Done():
	case err := <-errCh:
		return err
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	return c.server.Shutdown(stopCtx)
}

// MeasureRequest starts measuring an http request. The returned
// function must be called with the response status code.
func (c *Manager) MeasureRequest(method string, path string) func(int) time.Duration {

	timer := prometheus.NewTimer(
		prometheus.ObserverFunc(
			func(v float64) {
				c.reqDurationMetric.With(
					prometheus.Labels{
						"method": method,
						"url":    path,
					},
				).Observe(v)
			},
		),
	)

	return func(code int) time.Duration {

		c.reqTotalMetric.With(prometheus.Labels{
			"method": method,
			"url":    path,
			"code":   strconv.Itoa(code),
		}).Inc()

		if code >= http.StatusInternalServerError {

			c.errorMetric.With(prometheus.Labels{
				"method": method,
				"url":    path,
				"code":   strconv.Itoa(code),
			}).Inc()
		}

		return timer.ObserveDuration()
	}
}

// MeasureDecision starts measuring a decision. The returned
// function must be called with the kind of the verdict.
func (c *Manager) MeasureDecision(rtype api.CallType) func(decision string) time.Duration {

	timer := prometheus.NewTimer(
		prometheus.ObserverFunc(
			func(v float64) {
				c.decisionDurationMetric.With(
					prometheus.Labels{
						"call_type": string(rtype),
					},
				).Observe(v)
			},
		),
	)

	return func(decision string) time.Duration {

		c.decisionTotalMetric.With(prometheus.Labels{
			"call_type": string(rtype),
			"decision":  decision,
		}).Inc()

		return timer.ObserveDuration()
	}
}

// RegisterRulesReload counts a rules reload attempt.
func (c *Manager) RegisterRulesReload(err error) {

	result := "success"
	if err != nil {
		result = "failure"
	}

	c.rulesReloadTotalMetric.With(prometheus.Labels{"result": result}).Inc()
}

func (c *Manager) RegisterWSConnection() {
	c.wsConnTotalMetric.Inc()
	c.wsConnCurrentMetric.Inc()
}

func (c *Manager) UnregisterWSConnection() {
	c.wsConnCurrentMetric.Dec()
}

func (c *Manager) RegisterTCPConnection() {
	c.tcpConnTotalMetric.Inc()
	c.tcpConnCurrentMetric.Inc()
}

func (c *Manager) UnregisterTCPConnection() {
	c.tcpConnCurrentMetric.Dec()
}

// ConnState can be used as http.Server.ConnState to count connections.
func (c *Manager) ConnState(_ net.Conn, state http.ConnState) {

	switch state {
	case http.StateNew:
		c.RegisterTCPConnection()
	case http.StateHijacked, http.StateClosed:
		c.UnregisterTCPConnection()
	}
}

func (c *Manager) ServeHTTP(w http.ResponseWriter, req *http.Request) {

	switch req.URL.Path {

	case "/":
		w.WriteHeader(http.StatusNoContent)

	case "/metrics":
		promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}).ServeHTTP(w, req)

	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}
