package pdp

import (
	"go.acuvity.ai/minipolicer/pkgs/mcp"
	"go.acuvity.ai/minipolicer/pkgs/policer/api"
)

// Kind is the kind of a Verdict.
type Kind int

// Various values of Kind.
const (
	KindDeny Kind = iota
	KindAllow
	KindAllowWithRewrite
)

func (k Kind) String() string {
	switch k {
	case KindAllow:
		return "allow"
	case KindAllowWithRewrite:
		return "rewrite"
	default:
		return "deny"
	}
}

// A Verdict is the outcome of a decision.
// The zero value is a deny.
type Verdict struct {
	Kind    Kind
	Reasons []string
	Payload *mcp.Message
}

// Allow returns an allow Verdict.
func Allow() Verdict {
	return Verdict{Kind: KindAllow}
}

// Deny returns a deny Verdict with the given reasons.
// If none is given, api.GenericDenyReason is used.
func Deny(reasons ...string) Verdict {

	if len(reasons) == 0 {
		reasons = []string{api.GenericDenyReason}
	}

	return Verdict{Kind: KindDeny, Reasons: reasons}
}

// AllowWithRewrite returns a Verdict allowing the message
// but replacing it with the given one.
func AllowWithRewrite(msg mcp.Message) Verdict {
	return Verdict{Kind: KindAllowWithRewrite, Payload: &msg}
}

// Allowed returns true if the verdict lets the message through.
func (v Verdict) Allowed() bool {
	return v.Kind == KindAllow || v.Kind == KindAllowWithRewrite
}

// Response converts the verdict into an api.Response.
func (v Verdict) Response() api.Response {

	switch v.Kind {

	case KindAllow:
		return api.Response{Allow: true}

	case KindAllowWithRewrite:
		return api.Response{Allow: true, MCP: v.Payload}

	default:
		reasons := v.Reasons
		if len(reasons) == 0 {
			reasons = []string{api.GenericDenyReason}
		}
		return api.Response{Allow: false, Reasons: reasons}
	}
}
