package rego

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.acuvity.ai/minipolicer/pkgs/mcp"
	"go.acuvity.ai/minipolicer/pkgs/policer/api"
)

// Policer evaluates envelopes against a rego policy.
//
// The policy must be in the main package and can define:
//   - allow: a boolean. The envelope is denied if it is not true.
//   - reasons: a set of strings explaining a deny.
//   - mcp: an object replacing the message of an allowed envelope.
//
// The envelope is available as input, including input.principal
// once the agent has been authenticated.
type Policer struct {
	queryAllow   rego.PreparedEvalQuery
	queryReasons rego.PreparedEvalQuery
	queryMCP     rego.PreparedEvalQuery
}

// New returns a new Rego based Policer.
func New(policy string) (*Policer, error) {

	comp, err := compile(policy)
	if err != nil {
		return nil, fmt.Errorf("unable to compile rego policy: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rt := runtimeTerm()

	prepare := func(query string) (rego.PreparedEvalQuery, error) {
		return rego.New(rego.Compiler(comp), rego.Query(query), rego.Runtime(rt)).PrepareForEval(ctx)
	}

	p := &Policer{}

	if p.queryAllow, err = prepare("data.main.allow"); err != nil {
		return nil, fmt.Errorf("unable to prepare rego allow query: %w", err)
	}

	if p.queryReasons, err = prepare("reasons := data.main.reasons"); err != nil {
		return nil, fmt.Errorf("unable to prepare rego reasons query: %w", err)
	}

	if p.queryMCP, err = prepare("mcp := data.main.mcp"); err != nil {
		return nil, fmt.Errorf("unable to prepare rego mcp query: %w", err)
	}

	return p, nil
}

// Type returns the type of the policer.
func (p *Policer) Type() string { return "rego" }

// Police evaluates the policy against the given envelope.
func (p *Policer) Police(ctx context.Context, preq api.Request) (*mcp.Message, error) {

	res, err := p.queryAllow.Eval(ctx, rego.EvalInput(preq), rego.EvalPrintHook(printer{}))
	if err != nil {
		return nil, fmt.Errorf("unable to eval allow query: %w", err)
	}

	if !res.Allowed() {
		return nil, p.blocked(ctx, preq)
	}

	res, err = p.queryMCP.Eval(ctx, rego.EvalInput(preq), rego.EvalPrintHook(printer{}))
	if err != nil {
		return nil, fmt.Errorf("unable to eval mcp query: %w", err)
	}

	if len(res) == 0 {
		return nil, nil
	}

	bindings := res[0].Bindings

	data, ok := bindings["mcp"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid binding: mcp must be an map[string]any, got %T", bindings["mcp"])
	}

	msg, err := decodeMessage(data)
	if err != nil {
		return nil, fmt.Errorf("unable to decode rego mcp into valid MCP message: %w", err)
	}

	msg.ID = preq.MCP.ID

	return msg, nil
}

func (p *Policer) blocked(ctx context.Context, preq api.Request) error {

	res, err := p.queryReasons.Eval(ctx, rego.EvalInput(preq), rego.EvalPrintHook(printer{}))
	if err != nil {
		return fmt.Errorf("unable to eval reasons query: %w", err)
	}

	var reasons []string

	if len(res) > 0 {
		breasons, _ := res[0].Bindings["reasons"].([]any)
		for _, v := range breasons {
			if s, ok := v.(string); ok && s != "" {
				reasons = append(reasons, s)
			}
		}
	}

	return api.NewBlockedError(reasons...)
}

// decodeMessage converts the object returned by the policy
// into a message. Unknown keys are kept as extra fields.
func decodeMessage(data map[string]any) (*mcp.Message, error) {

	msg := &mcp.Message{}
	md := mapstructure.Metadata{}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           msg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}

	if err := dec.Decode(data); err != nil {
		return nil, err
	}

	for _, k := range md.Unused {

		if _, ok := data[k]; !ok {
			continue
		}

		raw, err := json.Marshal(data[k])
		if err != nil {
			return nil, fmt.Errorf("unable to encode extra field '%s': %w", k, err)
		}

		if msg.Extra == nil {
			msg.Extra = map[string]json.RawMessage{}
		}
		msg.Extra[k] = raw
	}

	return msg, nil
}
