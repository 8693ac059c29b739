package cmd

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.acuvity.ai/bahamut"
	"go.acuvity.ai/minipolicer/pkgs/auth"
	"go.acuvity.ai/minipolicer/pkgs/metrics"
	"go.acuvity.ai/minipolicer/pkgs/pdp"
	"go.acuvity.ai/minipolicer/pkgs/policer"
	"go.acuvity.ai/minipolicer/pkgs/rules"
	"go.acuvity.ai/minipolicer/pkgs/server"
	"go.acuvity.ai/tg/tglib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func tlsServerConfigFromFlags() (*tls.Config, error) {

	var hasTLS bool

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
	}

	certPath := viper.GetString("tls-server-cert")
	keyPath := viper.GetString("tls-server-key")
	keyPass := viper.GetString("tls-server-key-pass")
	clientCAPath := viper.GetString("tls-server-client-ca")
	selfSigned := viper.GetBool("tls-server-self-signed")

	if selfSigned && certPath != "" {
		return nil, fmt.Errorf("you cannot set --tls-server-self-signed and --tls-server-cert")
	}

	if certPath != "" && keyPath != "" {
		x509Cert, x509Key, err := tglib.ReadCertificatePEM(certPath, keyPath, keyPass)
		if err != nil {
			return nil, fmt.Errorf("unable to read server certificate: %w", err)
		}

		tlsCert, err := tglib.ToTLSCertificate(x509Cert, x509Key)
		if err != nil {
			return nil, fmt.Errorf("unable to convert X509 certificate: %w", err)
		}

		tlsConfig.Certificates = []tls.Certificate{tlsCert}
		hasTLS = true
	}

	if selfSigned {
		tlsCert, err := makeSelfSignedCertificate()
		if err != nil {
			return nil, err
		}

		slog.Warn("Serving with a self signed certificate. Do not use this in production")
		tlsConfig.Certificates = []tls.Certificate{tlsCert}
		hasTLS = true
	}

	if clientCAPath != "" {
		data, err := os.ReadFile(clientCAPath) // #nosec: G304
		if err != nil {
			return nil, fmt.Errorf("unable to read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("unable to append client ca to pool")
		}

		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		hasTLS = true
	}

	if !hasTLS {
		return nil, nil
	}

	if len(tlsConfig.Certificates) == 0 {
		return nil, fmt.Errorf("--tls-server-client-ca requires --tls-server-cert and --tls-server-key")
	}

	return tlsConfig, nil
}

func makeSelfSignedCertificate() (tls.Certificate, error) {

	cert, key, err := tglib.Issue(
		pkix.Name{CommonName: "minipolicer"},
		tglib.OptIssueIPSANs(net.IP{127, 0, 0, 1}),
		tglib.OptIssueTypeServerAuth(),
	)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("unable to generate self signed certificate: %w", err)
	}

	x509Key, err := tglib.PEMToKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("unable to parse self signed key pem: %w", err)
	}

	x509Cert, err := tglib.ParseCertificate(pem.EncodeToMemory(cert))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("unable to parse self signed cert: %w", err)
	}

	tlsCert, err := tglib.ToTLSCertificate(x509Cert, x509Key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("unable to convert self signed cert to tls cert: %w", err)
	}

	return tlsCert, nil
}

func startHealthServer(ctx context.Context) (manager *metrics.Manager) {

	healthListen := viper.GetString("health-listen")

	if !viper.GetBool("health-enable") || healthListen == "" {
		return nil
	}

	manager = metrics.NewManager(healthListen)

	go func() {
		if err := manager.Start(ctx); err != nil {
			slog.Error("Unable to start metrics manager", "err", err)
		}
	}()

	slog.Info("Metrics manager configured", "listen", healthListen, "health", "/", "metrics", "/metrics")

	return manager
}

func makeVerifier() (*auth.Verifier, error) {

	secret := viper.GetString("auth-jwt-secret")
	keysPath := viper.GetString("auth-jwt-keys")
	certPath := viper.GetString("auth-jwt-cert")
	issuer := viper.GetString("auth-jwt-required-issuer")
	audience := viper.GetString("auth-jwt-required-audience")
	claim := viper.GetString("auth-jwt-principal-claim")
	algs := viper.GetStringSlice("auth-jwt-algorithms")
	leeway := viper.GetDuration("auth-jwt-leeway")

	var keys []crypto.PublicKey

	if keysPath != "" {

		data, err := os.ReadFile(keysPath) // #nosec: G304
		if err != nil {
			return nil, fmt.Errorf("unable to read jwt keys from '%s': %w", keysPath, err)
		}

		k, err := auth.ParsePublicKeysPEM(data)
		if err != nil {
			return nil, fmt.Errorf("unable to parse jwt keys from '%s': %w", keysPath, err)
		}

		keys = append(keys, k...)
	}

	if certPath != "" {

		certs, err := tglib.ParseCertificatePEMs(certPath)
		if err != nil {
			return nil, fmt.Errorf("unable parse jwt certificate from '%s': %w", certPath, err)
		}

		for _, c := range certs {
			keys = append(keys, c.PublicKey)
		}
	}

	opts := []auth.VerifierOption{
		auth.OptVerifierIssuer(issuer),
		auth.OptVerifierAudience(audience),
		auth.OptVerifierLeeway(leeway),
	}

	if secret != "" {
		opts = append(opts, auth.OptVerifierSecret([]byte(secret)))
	}

	if len(keys) > 0 {
		opts = append(opts, auth.OptVerifierKeys(keys...))
	}

	if claim != "" {
		opts = append(opts, auth.OptVerifierPrincipalClaim(claim))
	}

	if len(algs) > 0 {
		opts = append(opts, auth.OptVerifierAlgorithms(algs...))
	}

	v, err := auth.NewVerifier(opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to configure jwt verifier: %w", err)
	}

	slog.Info("JWT verifier configured",
		"issuer", issuer,
		"audience", audience,
		"claim", claim,
		"algorithms", v.Algorithms(),
		"secret", secret != "",
		"keys", len(keys),
		"leeway", leeway,
	)

	return v, nil
}

func makeRules(path string) (*rules.Set, error) {

	if path == "" {

		set, err := rules.NewSet()
		if err != nil {
			return nil, err
		}

		slog.Warn("No rules file configured. Every authenticated message will be allowed")

		return set, nil
	}

	set, err := rules.Load(path)
	if err != nil {
		return nil, err
	}

	slog.Info("Rules loaded",
		"path", path,
		"posture", set.Posture(),
		"identities", len(set.Identities()),
		"fingerprint", set.Fingerprint(),
	)

	return set, nil
}

func makePredicates() ([]pdp.Predicate, error) {

	regoFile := viper.GetString("policer-rego-policy")

	if regoFile == "" {
		return nil, nil
	}

	data, err := os.ReadFile(regoFile) // #nosec: G304
	if err != nil {
		return nil, fmt.Errorf("unable open rego policy file: %w", err)
	}

	p, err := policer.NewRego(string(data))
	if err != nil {
		return nil, err
	}

	slog.Info("Policer configured", "type", p.Type(), "policy", regoFile)

	return []pdp.Predicate{p}, nil
}

func makeEngine(store *rules.Store) (*pdp.Engine, error) {

	verifier, err := makeVerifier()
	if err != nil {
		return nil, err
	}

	predicates, err := makePredicates()
	if err != nil {
		return nil, fmt.Errorf("unable to make policer: %w", err)
	}

	opts := []pdp.EngineOption{
		pdp.OptEnginePredicates(predicates...),
	}

	if timeout := viper.GetDuration("decision-timeout"); timeout > 0 {
		opts = append(opts, pdp.OptEngineTimeout(timeout))
	}

	return pdp.NewEngine(verifier, store, opts...)
}

func makeRemotePolicer(remoteURL string) (policer.Policer, error) {

	remoteCA := viper.GetString("remote-ca")
	remoteSkip := viper.GetBool("remote-insecure-skip-verify")
	remoteToken := viper.GetString("remote-token")

	var pool *x509.CertPool
	if remoteCA != "" {
		caData, err := os.ReadFile(remoteCA) // #nosec: G304
		if err != nil {
			return nil, fmt.Errorf("unable to read remote policer CA: %w", err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, fmt.Errorf("unable to append remote policer CA to pool")
		}
	} else {
		var err error
		pool, err = x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("unable to load system ca pool: %w", err)
		}
	}

	if remoteSkip {
		slog.Warn("Remote policer certificates validation deactivated. Connection will not be secure")
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: remoteSkip, // #nosec: G402
		RootCAs:            pool,
	}

	var a *auth.Auth
	if remoteToken != "" {
		a = auth.NewBearerAuth(remoteToken)
	}

	slog.Debug("Policer configured", "type", "http", "url", remoteURL, "auth", a != nil)

	return policer.NewHTTP(remoteURL, a, tlsConfig), nil
}

func makeGatewayAuth() (a *auth.Auth, err error) {

	user := viper.GetString("gateway-user")
	pass := viper.GetString("gateway-password")
	token := viper.GetString("gateway-token")

	if (user != "" && pass == "") || (user == "" && pass != "") {
		return a, fmt.Errorf("you must set both --gateway-user and --gateway-password")
	}

	if user != "" && token != "" {
		return a, fmt.Errorf("if you set --gateway-token, you cannot set --gateway-user and --gateway-password")
	}

	if token != "" {
		a = auth.NewBearerAuth(token)
	} else if user != "" && pass != "" {
		a = auth.NewBasicAuth(user, pass)
	}

	if a != nil {
		slog.Info("Gateway auth enabled", "type", a.Type(), "user", a.User(), "password", a.Password() != "")
	}

	return a, nil
}

func makeCORSPolicy() *bahamut.CORSPolicy {

	origin := viper.GetString("cors-origin")

	if origin == "mirror" {
		origin = bahamut.CORSOriginMirror
	}

	return &bahamut.CORSPolicy{
		AllowOrigin:      origin,
		AllowCredentials: true,
		MaxAge:           1500,
		AllowHeaders: []string{
			"Authorization",
			"Accept",
			"Content-Type",
			"Cache-Control",
		},
		AllowMethods: []string{
			"GET",
			"POST",
			"OPTIONS",
		},
		ExposeHeaders: []string{
			server.HeaderDecisionID,
			server.HeaderRulesFingerprint,
		},
	}
}

func mtlsMode(tlsCfg *tls.Config) string {

	if tlsCfg == nil {
		return "NoClientCert"
	}

	return tlsCfg.ClientAuth.String()
}

func makeTracer(ctx context.Context, name string) (trace.Tracer, error) {

	var err error
	var exp sdktrace.SpanExporter

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if e := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); e != "" {
		endpoint = e
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(
			resource.NewSchemaless(
				attribute.String("service.name", "minipolicer"),
			),
		),
	}

	if endpoint != "" {
		proto := os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL")
		if p := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL"); p != "" {
			proto = p
		}

		if proto == "" {
			proto = "http/protobuf"
		}

		if proto == "grpc" {
			exp, err = otlptracegrpc.New(ctx)
		} else {
			exp, err = otlptracehttp.New(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OTEL %s exporter: %w", proto, err)
		}

		slog.Info("OTEL exporter configured", "proto", proto)
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
	}()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Tracer(name), nil
}
