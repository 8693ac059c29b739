package pdp

import (
	"errors"
	"fmt"

	"go.acuvity.ai/minipolicer/pkgs/auth"
	"go.acuvity.ai/minipolicer/pkgs/policer/api"
	"go.acuvity.ai/minipolicer/pkgs/rules"
)

// ErrMalformedInput is returned when an envelope is not valid.
var ErrMalformedInput = errors.New("malformed input")

// Reasons used in deny verdicts.
const (
	ReasonNoCredential     = "no valid credential"
	ReasonPolicyFailed     = "policy evaluation failed"
	ReasonDecisionTimedOut = "decision timed out"
)

// Validate checks that the envelope is well formed.
// It returns an error wrapping ErrMalformedInput otherwise.
func Validate(req api.Request) error {

	switch req.Type {
	case api.CallTypeRequest, api.CallTypeResponse:
	default:
		return fmt.Errorf("%w: unknown type '%s'", ErrMalformedInput, req.Type)
	}

	if len(req.MCP.Params) > 0 && len(req.MCP.Result) > 0 {
		return fmt.Errorf("%w: params and result are both set", ErrMalformedInput)
	}

	if req.Type == api.CallTypeRequest && len(req.MCP.Result) > 0 {
		return fmt.Errorf("%w: request carries a result", ErrMalformedInput)
	}

	if req.Type == api.CallTypeResponse && len(req.MCP.Params) > 0 {
		return fmt.Errorf("%w: response carries params", ErrMalformedInput)
	}

	return nil
}

// Decide returns the Verdict for the given envelope, principal and
// rule set. It has no side effect.
//
// A nil principal is always denied. Requests calling a tool or a
// method forbidden to the principal are denied. Responses carrying a list under one of
// the redacted fields are rewritten without the forbidden elements.
// Everything else is allowed, unless the rule set posture is deny, in
// which case requests must be explicitly allowed.
func Decide(req api.Request, principal *auth.Principal, set *rules.Set) Verdict {

	if principal == nil {
		return Deny(ReasonNoCredential)
	}

	if err := Validate(req); err != nil {
		return Deny(err.Error())
	}

	if set == nil {
		set, _ = rules.NewSet()
	}

	switch req.Type {
	case api.CallTypeRequest:
		return decideRequest(req, principal.Identity, set)
	default:
		return decideResponse(req, principal.Identity, set)
	}
}

func decideRequest(req api.Request, identity string, set *rules.Set) Verdict {

	method := req.MCP.Method

	name, isTool := req.MCP.ToolName()
	if isTool && set.IsForbidden(identity, name) {
		return Deny(fmt.Sprintf("forbidden method call %s %s", name, method))
	}

	if method != "" && set.IsForbidden(identity, method) {
		return Deny(fmt.Sprintf("forbidden method %s", method))
	}

	if set.Posture() != rules.PostureDeny {
		return Allow()
	}

	// Error replies sent by the agent to a server request
	// carry no method and no payload to check.
	if method == "" {
		if req.MCP.Error != nil {
			return Allow()
		}
		return Deny("request without method not allowed")
	}

	if isTool {
		if !set.IsAllowed(identity, name) {
			return Deny(fmt.Sprintf("tool %s not allowed", name))
		}
		return Allow()
	}

	if !set.IsAllowed(identity, method) {
		return Deny(fmt.Sprintf("method %s not allowed", method))
	}

	return Allow()
}

func decideResponse(req api.Request, identity string, set *rules.Set) Verdict {

	if req.MCP.Result == nil || !set.HasForbidden(identity) {
		return Allow()
	}

	keep := KeepNamesNotIn(set.Forbidden(identity))

	result := req.MCP.Result
	targeted := false

	for _, field := range set.RedactFields() {
		if _, ok := result[field].([]any); !ok {
			continue
		}
		targeted = true
		result = Redact(result, field, keep)
	}

	if !targeted {
		return Allow()
	}

	msg := req.MCP.Clone()
	msg.Result = result

	return AllowWithRewrite(msg)
}
