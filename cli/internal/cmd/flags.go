package cmd

import (
	"github.com/spf13/pflag"
)

var (
	fTLSServer   = pflag.NewFlagSet("tlsserver", pflag.ExitOnError)
	fHealth      = pflag.NewFlagSet("health", pflag.ExitOnError)
	fJWTVerifier = pflag.NewFlagSet("jwtverifier", pflag.ExitOnError)
	fRules       = pflag.NewFlagSet("rules", pflag.ExitOnError)
	fPolicer     = pflag.NewFlagSet("police", pflag.ExitOnError)
	fCORS        = pflag.NewFlagSet("cors", pflag.ExitOnError)
	fGatewayAuth = pflag.NewFlagSet("gatewayauth", pflag.ExitOnError)
	fRemote      = pflag.NewFlagSet("remote", pflag.ExitOnError)

	initialized = false
)

func initSharedFlagSet() {

	if initialized {
		return
	}

	initialized = true

	fTLSServer.StringP("tls-server-cert", "c", "", "path to the server certificate for incoming HTTPS connections.")
	fTLSServer.StringP("tls-server-key", "k", "", "path to the key for the server certificate.")
	fTLSServer.StringP("tls-server-key-pass", "p", "", "passphrase for the server certificate key.")
	fTLSServer.String("tls-server-client-ca", "", "path to a CA to validate incoming client certificate. When enabled clients must send a valid certificate.")
	fTLSServer.Bool("tls-server-self-signed", false, "serve HTTPS with a self signed certificate for 127.0.0.1. Only use this for testing.")

	fHealth.String("health-listen", ":8080", "listen address of the health server.")
	fHealth.Bool("health-enable", false, "enables health server.")

	fJWTVerifier.String("auth-jwt-secret", "", "HMAC secret used to verify HS256, HS384 and HS512 agent tokens.")
	fJWTVerifier.String("auth-jwt-keys", "", "path to a PEM file containing public keys used to verify agent tokens.")
	fJWTVerifier.String("auth-jwt-cert", "", "path to a PEM file containing certificates used to verify agent tokens.")
	fJWTVerifier.StringP("auth-jwt-required-issuer", "I", "", "sets the required agent tokens issuer.")
	fJWTVerifier.StringP("auth-jwt-required-audience", "A", "", "sets the required agent tokens audience.")
	fJWTVerifier.StringP("auth-jwt-principal-claim", "S", "sub", "sets the claim to use as the principal identity.")
	fJWTVerifier.StringSlice("auth-jwt-algorithms", nil, "restricts the accepted signing algorithms. Derived from the configured keys if empty.")
	fJWTVerifier.Duration("auth-jwt-leeway", 0, "leeway allowed when validating exp and nbf.")

	fRules.StringP("rules", "r", "", "path to the rules file.")
	fRules.Bool("rules-watch", true, "reload the rules file when it changes.")

	fPolicer.String("policer-rego-policy", "", "path to a rego policy evaluated after the rules allowed a message.")
	fPolicer.Duration("decision-timeout", 0, "maximum time allowed to take a decision. Defaults to 1s.")

	fCORS.String("cors-origin", "*", "sets the valid HTTP Origin for CORS responses.")

	fGatewayAuth.String("gateway-token", "", "bearer token gateways must send to be allowed to call the policer.")
	fGatewayAuth.String("gateway-user", "", "basic auth user gateways must send to be allowed to call the policer.")
	fGatewayAuth.String("gateway-password", "", "basic auth password gateways must send to be allowed to call the policer.")

	fRemote.StringP("remote", "U", "", "URL of a remote policer to POST the envelope to instead of deciding locally.")
	fRemote.StringP("remote-token", "T", "", "token to use to authenticate against the remote policer.")
	fRemote.String("remote-ca", "", "path to a CA to validate the remote policer server certificates.")
	fRemote.Bool("remote-insecure-skip-verify", false, "skip remote policer's server certificates validation. Do not do this.")
}
