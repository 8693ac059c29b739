package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"go.acuvity.ai/elemental"
	"go.acuvity.ai/minipolicer/pkgs/internal/cors"
	"go.acuvity.ai/minipolicer/pkgs/internal/sanitize"
	"go.acuvity.ai/minipolicer/pkgs/pdp"
	"go.acuvity.ai/minipolicer/pkgs/policer/api"
	"go.acuvity.ai/wsc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// Headers set on every decision.
const (
	HeaderDecisionID       = "X-Decision-ID"
	HeaderRulesFingerprint = "X-Rules-Fingerprint"
)

// An Evaluator returns the decision for an envelope.
type Evaluator interface {
	Evaluate(context.Context, api.Request) pdp.Decision
}

// A Server exposes an Evaluator over HTTP and websocket.
type Server struct {
	cfg       cfg
	evaluator Evaluator
	server    *http.Server
}

// New returns a new *Server listening on the given address.
// If tlsConfig is nil, the server will run as plain HTTP.
func New(listen string, tlsConfig *tls.Config, evaluator Evaluator, opts ...Option) *Server {

	cfg := newCfg()
	for _, o := range opts {
		o(&cfg)
	}

	s := &Server{
		cfg:       cfg,
		evaluator: evaluator,
	}

	s.server = &http.Server{
		TLSConfig:         tlsConfig,
		Addr:              listen,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.metricsManager != nil {
		s.server.ConnState = cfg.metricsManager.ConnState
	}

	return s
}

// Start starts the server and will block until the given
// context is canceled.
func (s *Server) Start(ctx context.Context) error {

	errCh := make(chan error, 1)

	go func() {
		var err error
		if s.server.TLSConfig == nil {
			err = s.server.ListenAndServe()
		} else {
			err = s.server.ListenAndServeTLS("", "")
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("unable to start server", "tls", s.server.TLSConfig != nil, "err", err)
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	stopctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(stopctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {

	if !cors.HandleGenericHeaders(w, req, s.cfg.corsPolicy) {
		return
	}

	if s.cfg.gatewayAuth != nil && !s.cfg.gatewayAuth.Matches(req.Header.Get("Authorization")) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch req.URL.Path {

	case "/police":
		if req.Method != http.MethodPost {
			http.Error(w, "only supports POST /police", http.StatusMethodNotAllowed)
			return
		}
		s.handlePolice(w, req)

	case "/ws":
		if req.Method != http.MethodGet {
			http.Error(w, "only supports GET /ws", http.StatusMethodNotAllowed)
			return
		}
		s.handleWS(w, req)

	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) handlePolice(w http.ResponseWriter, req *http.Request) {

	m := func(int) time.Duration { return 0 }
	if s.cfg.metricsManager != nil {
		m = s.cfg.metricsManager.MeasureRequest(req.Method, req.URL.Path)
	}

	ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
	ctx, span := s.cfg.tracer.Start(ctx, "police")
	defer span.End()

	var d pdp.Decision

	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, s.cfg.maxBodySize))
	if err != nil {
		d = pdp.Decision{Verdict: pdp.Deny(fmt.Sprintf("%s: unable to read envelope", pdp.ErrMalformedInput))}
	} else {
		d = s.decide(ctx, data)
	}

	id := uuid.Must(uuid.NewV7()).String()
	span.SetAttributes(
		attribute.String("decision", id),
		attribute.String("verdict", d.Kind.String()),
	)

	out, err := elemental.Encode(elemental.EncodingTypeJSON, d.Response())
	if err != nil {
		slog.Error("Unable to encode decision", "id", id, "err", err)
		http.Error(w, "unable to encode decision", http.StatusInternalServerError)
		m(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderDecisionID, id)
	w.Header().Set(HeaderRulesFingerprint, d.Fingerprint)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)

	m(http.StatusOK)
}

func (s *Server) handleWS(w http.ResponseWriter, req *http.Request) {

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Error("Unable to upgrade to websocket", "err", err)
		return
	}

	ws.SetReadLimit(s.cfg.maxBodySize)

	session, err := wsc.Accept(req.Context(), ws, wsc.Config{WriteChanSize: 64, ReadChanSize: 16})
	if err != nil {
		slog.Error("Unable to accept websocket", "err", err)
		return
	}

	defer session.Close(1001)

	if s.cfg.metricsManager != nil {
		s.cfg.metricsManager.RegisterWSConnection()
		defer s.cfg.metricsManager.UnregisterWSConnection()
	}

	slog.Debug("New websocket decision stream", "remote", req.RemoteAddr)

	for {

		select {

		case data := <-session.Read():

			ctx, span := s.cfg.tracer.Start(req.Context(), "police.ws")
			d := s.decide(ctx, data)
			span.SetAttributes(attribute.String("verdict", d.Kind.String()))
			span.End()

			out, err := elemental.Encode(elemental.EncodingTypeJSON, d.Response())
			if err != nil {
				slog.Error("Unable to encode decision", "err", err)
				return
			}

			session.Write(out)

		case <-session.Done():
			slog.Debug("Websocket has closed")
			return

		case <-req.Context().Done():
			slog.Debug("Client is gone")
			return
		}
	}
}

// decide decodes the envelope and evaluates it. An envelope
// that cannot be decoded is denied.
func (s *Server) decide(ctx context.Context, data []byte) pdp.Decision {

	preq := api.Request{}
	if err := elemental.Decode(elemental.EncodingTypeJSON, sanitize.Envelope(data), &preq); err != nil {
		slog.Debug("Unable to decode envelope", "err", err)
		return pdp.Decision{Verdict: pdp.Deny(fmt.Sprintf("%s: unable to decode envelope", pdp.ErrMalformedInput))}
	}

	m := func(string) time.Duration { return 0 }
	if s.cfg.metricsManager != nil {
		m = s.cfg.metricsManager.MeasureDecision(preq.Type)
	}

	d := s.evaluator.Evaluate(ctx, preq)
	m(d.Kind.String())

	return d
}
