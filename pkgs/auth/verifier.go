package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Various errors returned by the Verifier.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

// DefaultPrincipalClaim is the claim used as identity
// when none is configured.
const DefaultPrincipalClaim = "sub"

// A Principal is the identity extracted from a
// verified credential.
type Principal struct {
	Identity string
	Claims   map[string]any
}

type verifierCfg struct {
	secret         []byte
	keys           []crypto.PublicKey
	issuer         string
	audience       string
	principalClaim string
	algorithms     []string
	leeway         time.Duration
}

// VerifierOption are options that can be given to NewVerifier().
type VerifierOption func(*verifierCfg)

// OptVerifierSecret sets the HMAC secret used to verify HS* tokens.
func OptVerifierSecret(secret []byte) VerifierOption {
	return func(cfg *verifierCfg) {
		cfg.secret = secret
	}
}

// OptVerifierKeys adds public keys used to verify RS*, PS*, ES*
// and EdDSA tokens. Supported keys are *rsa.PublicKey,
// *ecdsa.PublicKey and ed25519.PublicKey.
func OptVerifierKeys(keys ...crypto.PublicKey) VerifierOption {
	return func(cfg *verifierCfg) {
		cfg.keys = append(cfg.keys, keys...)
	}
}

// OptVerifierIssuer sets the required issuer.
func OptVerifierIssuer(iss string) VerifierOption {
	return func(cfg *verifierCfg) {
		cfg.issuer = iss
	}
}

// OptVerifierAudience sets the required audience.
func OptVerifierAudience(aud string) VerifierOption {
	return func(cfg *verifierCfg) {
		cfg.audience = aud
	}
}

// OptVerifierPrincipalClaim sets the claim to use as the principal identity.
func OptVerifierPrincipalClaim(claim string) VerifierOption {
	return func(cfg *verifierCfg) {
		cfg.principalClaim = claim
	}
}

// OptVerifierAlgorithms restricts the accepted signing algorithms.
// If not set, the algorithms are derived from the configured keys.
func OptVerifierAlgorithms(algs ...string) VerifierOption {
	return func(cfg *verifierCfg) {
		cfg.algorithms = algs
	}
}

// OptVerifierLeeway sets the leeway allowed when checking exp and nbf.
func OptVerifierLeeway(leeway time.Duration) VerifierOption {
	return func(cfg *verifierCfg) {
		cfg.leeway = leeway
	}
}

// A Verifier verifies agent tokens and extracts the Principal.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	parser         *jwt.Parser
	secret         []byte
	rsaKeys        []any
	ecKeys         []any
	edKeys         []any
	principalClaim string
	algorithms     []string
	attempts       int
}

// NewVerifier returns a new *Verifier.
func NewVerifier(opts ...VerifierOption) (*Verifier, error) {

	cfg := verifierCfg{
		principalClaim: DefaultPrincipalClaim,
	}

	for _, o := range opts {
		o(&cfg)
	}

	if cfg.issuer == "" {
		return nil, fmt.Errorf("a required issuer must be set")
	}

	if cfg.audience == "" {
		return nil, fmt.Errorf("a required audience must be set")
	}

	if cfg.principalClaim == "" {
		return nil, fmt.Errorf("the principal claim must not be empty")
	}

	v := &Verifier{
		secret:         cfg.secret,
		principalClaim: cfg.principalClaim,
	}

	for _, k := range cfg.keys {
		switch key := k.(type) {
		case *rsa.PublicKey:
			v.rsaKeys = append(v.rsaKeys, key)
		case *ecdsa.PublicKey:
			v.ecKeys = append(v.ecKeys, key)
		case ed25519.PublicKey:
			v.edKeys = append(v.edKeys, key)
		default:
			return nil, fmt.Errorf("unsupported public key type %T", k)
		}
	}

	if len(v.secret) == 0 && len(cfg.keys) == 0 {
		return nil, fmt.Errorf("at least one secret or public key must be set")
	}

	algs := cfg.algorithms
	if len(algs) == 0 {
		algs = v.defaultAlgorithms()
	}

	for _, alg := range algs {
		if err := v.checkAlgorithm(alg); err != nil {
			return nil, err
		}
	}

	v.algorithms = algs
	v.attempts = max(1, len(v.rsaKeys), len(v.ecKeys), len(v.edKeys))

	v.parser = jwt.NewParser(
		jwt.WithValidMethods(algs),
		jwt.WithIssuer(cfg.issuer),
		jwt.WithAudience(cfg.audience),
		jwt.WithLeeway(cfg.leeway),
	)

	return v, nil
}

// Verify verifies the given credential and returns the Principal it
// carries. An optional "Bearer " prefix is ignored.
// An empty credential returns ErrMissingCredential. Any other failure
// returns an error wrapping ErrInvalidCredential. The error message never
// contains key material.
func (v *Verifier) Verify(credential string) (*Principal, error) {

	credential = strings.TrimSpace(credential)
	if scheme, rest, ok := strings.Cut(credential, " "); ok && strings.EqualFold(scheme, "bearer") {
		credential = strings.TrimSpace(rest)
	} else if strings.EqualFold(credential, "bearer") {
		credential = ""
	}

	if credential == "" {
		return nil, ErrMissingCredential
	}

	var token *jwt.Token
	var err error

	// Several keys of the same family can be configured.
	// Each attempt tries the next one.
	for i := range v.attempts {
		token, err = v.parser.ParseWithClaims(credential, jwt.MapClaims{}, v.keyfunc(i))
		if err == nil || !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type %T", ErrInvalidCredential, token.Claims)
	}

	identity, _ := claims[v.principalClaim].(string)
	if identity == "" {
		return nil, fmt.Errorf("%w: missing principal claim '%s'", ErrInvalidCredential, v.principalClaim)
	}

	return &Principal{
		Identity: identity,
		Claims:   claims,
	}, nil
}

func (v *Verifier) keyfunc(attempt int) jwt.Keyfunc {

	return func(t *jwt.Token) (any, error) {

		var candidates []any

		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(v.secret) == 0 {
				return nil, fmt.Errorf("no secret configured for %s", t.Method.Alg())
			}
			return v.secret, nil
		case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
			candidates = v.rsaKeys
		case *jwt.SigningMethodECDSA:
			candidates = v.ecKeys
		case *jwt.SigningMethodEd25519:
			candidates = v.edKeys
		}

		if len(candidates) == 0 {
			return nil, fmt.Errorf("no key configured for %s", t.Method.Alg())
		}

		return candidates[min(attempt, len(candidates)-1)], nil
	}
}

func (v *Verifier) defaultAlgorithms() []string {

	var algs []string

	if len(v.secret) > 0 {
		algs = append(algs, "HS256", "HS384", "HS512")
	}
	if len(v.rsaKeys) > 0 {
		algs = append(algs, "RS256", "RS384", "RS512", "PS256", "PS384", "PS512")
	}
	if len(v.ecKeys) > 0 {
		algs = append(algs, "ES256", "ES384", "ES512")
	}
	if len(v.edKeys) > 0 {
		algs = append(algs, "EdDSA")
	}

	return algs
}

func (v *Verifier) checkAlgorithm(alg string) error {

	if strings.EqualFold(alg, "none") {
		return fmt.Errorf("signing algorithm 'none' is not allowed")
	}

	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return fmt.Errorf("unknown signing algorithm '%s'", alg)
	}

	var ok bool
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		ok = len(v.secret) > 0
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		ok = len(v.rsaKeys) > 0
	case *jwt.SigningMethodECDSA:
		ok = len(v.ecKeys) > 0
	case *jwt.SigningMethodEd25519:
		ok = len(v.edKeys) > 0
	}

	if !ok {
		return fmt.Errorf("signing algorithm '%s' has no matching key configured", alg)
	}

	return nil
}

// Algorithms returns the accepted signing algorithms.
func (v *Verifier) Algorithms() []string {
	return slices.Clone(v.algorithms)
}
