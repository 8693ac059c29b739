package pdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.acuvity.ai/minipolicer/pkgs/auth"
	"go.acuvity.ai/minipolicer/pkgs/mcp"
	"go.acuvity.ai/minipolicer/pkgs/policer/api"
	"go.acuvity.ai/minipolicer/pkgs/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultTimeout is the default deadline of a decision.
const DefaultTimeout = time.Second

// A CredentialVerifier verifies an agent credential.
type CredentialVerifier interface {
	Verify(credential string) (*auth.Principal, error)
}

// A Predicate is an additional check run after the rules
// allowed a message. It follows the policer contract: it returns
// an api.ErrBlocked error to deny, a message to rewrite, or nothing
// to allow.
type Predicate interface {
	Police(context.Context, api.Request) (*mcp.Message, error)
	Type() string
}

// A Decision is the result of Engine.Evaluate.
type Decision struct {
	Verdict

	// Identity of the principal, if the credential was valid.
	Identity string

	// Fingerprint of the rule set used for the decision.
	Fingerprint string
}

type engineCfg struct {
	predicates []Predicate
	timeout    time.Duration
}

// EngineOption are options that can be given to NewEngine().
type EngineOption func(*engineCfg)

// OptEnginePredicates adds predicates run after the rules,
// in the given order.
func OptEnginePredicates(predicates ...Predicate) EngineOption {
	return func(cfg *engineCfg) {
		cfg.predicates = append(cfg.predicates, predicates...)
	}
}

// OptEngineTimeout sets the deadline of a decision.
// A decision that times out is denied. 0 disables it.
func OptEngineTimeout(timeout time.Duration) EngineOption {
	return func(cfg *engineCfg) {
		cfg.timeout = timeout
	}
}

// An Engine verifies the credential carried by an envelope, decides
// against the current rules and runs the predicates.
type Engine struct {
	verifier   CredentialVerifier
	store      *rules.Store
	predicates []Predicate
	timeout    time.Duration
}

// NewEngine returns a new *Engine.
func NewEngine(verifier CredentialVerifier, store *rules.Store, opts ...EngineOption) (*Engine, error) {

	if verifier == nil {
		return nil, fmt.Errorf("a credential verifier must be set")
	}

	if store == nil {
		return nil, fmt.Errorf("a rule store must be set")
	}

	cfg := engineCfg{
		timeout: DefaultTimeout,
	}

	for _, o := range opts {
		o(&cfg)
	}

	return &Engine{
		verifier:   verifier,
		store:      store,
		predicates: cfg.predicates,
		timeout:    cfg.timeout,
	}, nil
}

// Evaluate returns the Decision for the given envelope.
// It never returns an allow verdict when the context is canceled
// or the decision deadline is exceeded.
func (e *Engine) Evaluate(ctx context.Context, req api.Request) Decision {

	ctx, span := otel.Tracer("minipolicer/pdp").Start(ctx, "pdp.evaluate")
	defer span.End()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	set := e.store.Load()

	ch := make(chan Decision, 1)
	go func() { ch <- e.evaluate(ctx, req, set) }()

	var d Decision

	select {
	case d = <-ch:
		if err := ctx.Err(); err != nil && d.Allowed() {
			d.Verdict = Deny(ReasonDecisionTimedOut)
		}
	case <-ctx.Done():
		d = Decision{Verdict: Deny(ReasonDecisionTimedOut)}
	}

	d.Fingerprint = set.Fingerprint()

	span.SetAttributes(
		attribute.String("pdp.type", string(req.Type)),
		attribute.String("pdp.method", req.MCP.Method),
		attribute.String("pdp.verdict", d.Kind.String()),
		attribute.String("pdp.rules", d.Fingerprint),
	)

	if !d.Allowed() {
		span.SetStatus(codes.Error, strings.Join(d.Reasons, ", "))
		slog.Debug("Decision denied",
			"type", req.Type,
			"method", req.MCP.Method,
			"identity", d.Identity,
			"reasons", d.Reasons,
		)
	}

	return d
}

func (e *Engine) evaluate(ctx context.Context, req api.Request, set *rules.Set) Decision {

	// Principal is only ever set from the verified credential.
	req.Principal = nil

	principal, err := e.verifier.Verify(req.Agent.Token)
	if err != nil {
		return Decision{Verdict: credentialDeny(err)}
	}

	d := Decision{
		Verdict:  Decide(req, principal, set),
		Identity: principal.Identity,
	}

	if !d.Allowed() || len(e.predicates) == 0 {
		return d
	}

	preq := req
	preq.Principal = &api.Principal{
		Identity: principal.Identity,
		Claims:   principal.Claims,
	}

	if d.Payload != nil {
		preq.MCP = *d.Payload
	}

	for _, p := range e.predicates {

		msg, err := p.Police(ctx, preq)
		if err != nil {
			d.Verdict = predicateDeny(p, err)
			return d
		}

		if msg == nil {
			continue
		}

		rewritten := msg.Clone()
		rewritten.ID = req.MCP.ID
		preq.MCP = rewritten
		d.Verdict = AllowWithRewrite(rewritten)
	}

	return d
}

// Police implements the policer interface, so an Engine can
// be used wherever a policer is expected.
func (e *Engine) Police(ctx context.Context, req api.Request) (*mcp.Message, error) {

	d := e.Evaluate(ctx, req)

	switch d.Kind {
	case KindAllow:
		return nil, nil
	case KindAllowWithRewrite:
		return d.Payload, nil
	default:
		return nil, api.NewBlockedError(d.Reasons...)
	}
}

// Type returns the type of the policer.
func (e *Engine) Type() string { return "local" }

func credentialDeny(err error) Verdict {

	if !errors.Is(err, auth.ErrInvalidCredential) {
		return Deny(ReasonNoCredential)
	}

	detail := strings.TrimPrefix(err.Error(), auth.ErrInvalidCredential.Error()+": ")
	if detail == "" || detail == err.Error() {
		return Deny(ReasonNoCredential)
	}

	return Deny(ReasonNoCredential, detail)
}

func predicateDeny(p Predicate, err error) Verdict {

	var berr *api.BlockedError
	if errors.As(err, &berr) {
		return Deny(berr.Reasons...)
	}

	if errors.Is(err, api.ErrBlocked) {
		return Deny(api.GenericDenyReason)
	}

	slog.Error("Unable to run policer", "type", p.Type(), "err", err)

	return Deny(ReasonPolicyFailed)
}
