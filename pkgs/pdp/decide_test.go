package pdp

import (
	"encoding/json"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.acuvity.ai/minipolicer/pkgs/auth"
	"go.acuvity.ai/minipolicer/pkgs/mcp"
	"go.acuvity.ai/minipolicer/pkgs/policer/api"
	"go.acuvity.ai/minipolicer/pkgs/rules"
)

func makeToolCall(name string) api.Request {

	m := mcp.NewMessage(1)
	m.Method = mcp.MethodToolsCall
	m.Params = map[string]any{"name": name}

	return api.Request{Type: api.CallTypeRequest, MCP: m}
}

func makeToolsList(names ...string) api.Request {

	tools := make([]any, len(names))
	for i, n := range names {
		tools[i] = map[string]any{"name": n, "description": "tool " + n}
	}

	m := mcp.NewMessage(2)
	m.Result = map[string]any{
		"tools":      tools,
		"nextCursor": "abc",
	}

	return api.Request{Type: api.CallTypeResponse, MCP: m}
}

func makeSet(t *testing.T, opts ...rules.SetOption) *rules.Set {
	t.Helper()
	s, err := rules.NewSet(opts...)
	if err != nil {
		t.Fatalf("unable to build rule set: %s", err)
	}
	return s
}

func TestDecide(t *testing.T) {

	Convey("Given the reference rule set", t, func() {

		set := makeSet(t,
			rules.OptSetForbidden("*", "printEnv"),
			rules.OptSetForbidden("bob@example.com", "longRunningOperation"),
		)
		bob := &auth.Principal{Identity: "bob@example.com"}
		alice := &auth.Principal{Identity: "alice@example.com"}

		Convey("A missing principal should be denied", func() {
			v := Decide(makeToolCall("echo"), nil, set)
			So(v.Kind, ShouldEqual, KindDeny)
			So(v.Reasons, ShouldResemble, []string{"no valid credential"})
		})

		Convey("A missing principal should be denied before validation", func() {
			v := Decide(api.Request{Type: "nope"}, nil, set)
			So(v.Reasons, ShouldResemble, []string{"no valid credential"})
		})

		Convey("Bob calling longRunningOperation should be denied", func() {
			v := Decide(makeToolCall("longRunningOperation"), bob, set)
			So(v.Kind, ShouldEqual, KindDeny)
			So(v.Reasons, ShouldResemble, []string{"forbidden method call longRunningOperation tools/call"})
		})

		Convey("Wildcard rules should apply to everyone", func() {
			v := Decide(makeToolCall("printEnv"), bob, set)
			So(v.Reasons, ShouldResemble, []string{"forbidden method call printEnv tools/call"})

			v = Decide(makeToolCall("printEnv"), alice, set)
			So(v.Kind, ShouldEqual, KindDeny)
		})

		Convey("Identity rules should not apply to others", func() {
			v := Decide(makeToolCall("longRunningOperation"), alice, set)
			So(v.Kind, ShouldEqual, KindAllow)
		})

		Convey("A name in both wildcard and identity entries should still be forbidden", func() {
			s := makeSet(t,
				rules.OptSetForbidden("*", "printEnv"),
				rules.OptSetForbidden("bob@example.com", "printEnv"),
			)
			So(Decide(makeToolCall("printEnv"), bob, s).Kind, ShouldEqual, KindDeny)
		})

		Convey("Anything else should be allowed with no payload", func() {

			req := makeToolCall("echo")
			v := Decide(req, bob, set)
			So(v.Kind, ShouldEqual, KindAllow)
			So(v.Payload, ShouldBeNil)

			req = api.Request{Type: api.CallTypeRequest, MCP: mcp.NewMessage(3)}
			req.MCP.Method = "some/unknown"
			So(Decide(req, bob, set).Kind, ShouldEqual, KindAllow)

			req.MCP.Params = map[string]any{"name": 42}
			req.MCP.Method = mcp.MethodToolsCall
			So(Decide(req, bob, set).Kind, ShouldEqual, KindAllow)
		})

		Convey("Bob listing tools should get a redacted list", func() {

			req := makeToolsList("a", "longRunningOperation", "b")
			v := Decide(req, bob, set)

			So(v.Kind, ShouldEqual, KindAllowWithRewrite)
			So(v.Payload, ShouldNotBeNil)
			So(v.Payload.ID, ShouldEqual, 2)
			So(v.Payload.Result["tools"], ShouldResemble, []any{
				map[string]any{"name": "a", "description": "tool a"},
				map[string]any{"name": "b", "description": "tool b"},
			})
			So(v.Payload.Result["nextCursor"], ShouldEqual, "abc")

			Convey("The original message should not be modified", func() {
				So(len(req.MCP.Result["tools"].([]any)), ShouldEqual, 3)
			})
		})

		Convey("A response with no list under the redacted field should be allowed", func() {

			m := mcp.NewMessage(4)
			m.Result = map[string]any{"content": []any{"hello"}}
			v := Decide(api.Request{Type: api.CallTypeResponse, MCP: m}, bob, set)
			So(v.Kind, ShouldEqual, KindAllow)

			v = Decide(api.Request{Type: api.CallTypeResponse, MCP: mcp.NewMessage(5)}, bob, set)
			So(v.Kind, ShouldEqual, KindAllow)
		})

		Convey("A response should not be rewritten when nothing is forbidden", func() {
			v := Decide(makeToolsList("a", "b"), bob, makeSet(t))
			So(v.Kind, ShouldEqual, KindAllow)
		})

		Convey("A nil rule set should allow", func() {
			So(Decide(makeToolCall("printEnv"), bob, nil).Kind, ShouldEqual, KindAllow)
		})

		Convey("Malformed envelopes should be denied", func() {

			v := Decide(api.Request{Type: "sideways"}, bob, set)
			So(v.Kind, ShouldEqual, KindDeny)
			So(v.Reasons[0], ShouldStartWith, "malformed input")

			req := makeToolCall("echo")
			req.MCP.Result = map[string]any{"x": 1}
			v = Decide(req, bob, set)
			So(v.Kind, ShouldEqual, KindDeny)
			So(v.Reasons, ShouldResemble, []string{"malformed input: params and result are both set"})

			req = api.Request{Type: api.CallTypeRequest, MCP: mcp.NewMessage(1)}
			req.MCP.Method = "tools/list"
			req.MCP.Result = map[string]any{"tools": []any{}}
			v = Decide(req, bob, set)
			So(v.Kind, ShouldEqual, KindDeny)
			So(v.Reasons, ShouldResemble, []string{"malformed input: request carries a result"})

			req = api.Request{Type: api.CallTypeResponse, MCP: mcp.NewMessage(1)}
			req.MCP.Params = map[string]any{"name": "x"}
			v = Decide(req, bob, set)
			So(v.Kind, ShouldEqual, KindDeny)
			So(v.Reasons, ShouldResemble, []string{"malformed input: response carries params"})
		})

		Convey("Forbidden methods should be denied with the allow posture", func() {

			s := makeSet(t, rules.OptSetForbidden("*", "resources/read"))

			req := api.Request{Type: api.CallTypeRequest, MCP: mcp.NewMessage(1)}
			req.MCP.Method = "resources/read"
			req.MCP.Params = map[string]any{"uri": "file:///etc/passwd"}
			v := Decide(req, bob, s)
			So(v.Kind, ShouldEqual, KindDeny)
			So(v.Reasons, ShouldResemble, []string{"forbidden method resources/read"})

			s = makeSet(t, rules.OptSetForbidden("bob@example.com", mcp.MethodToolsCall))
			v = Decide(makeToolCall("echo"), bob, s)
			So(v.Reasons, ShouldResemble, []string{"forbidden method tools/call"})
			So(Decide(makeToolCall("echo"), alice, s).Kind, ShouldEqual, KindAllow)
		})

		Convey("Large numbers should survive a rewrite", func() {

			m := mcp.Message{}
			So(json.Unmarshal(
				[]byte(`{"jsonrpc":"2.0","id":9007199254740993,"result":{"tools":[{"name":"a"},{"name":"longRunningOperation"}],"nextCursor":12345678901234567890}}`),
				&m,
			), ShouldBeNil)

			v := Decide(api.Request{Type: api.CallTypeResponse, MCP: m}, bob, set)
			So(v.Kind, ShouldEqual, KindAllowWithRewrite)

			out, err := json.Marshal(v.Payload)
			So(err, ShouldBeNil)
			So(string(out), ShouldContainSubstring, `"id":9007199254740993`)
			So(string(out), ShouldContainSubstring, `"nextCursor":12345678901234567890`)
			So(string(out), ShouldNotContainSubstring, "longRunningOperation")
		})
	})

	Convey("Given a rule set with the deny posture", t, func() {

		set := makeSet(t,
			rules.OptSetPosture(rules.PostureDeny),
			rules.OptSetAllowed("*", "initialize", "tools/list"),
			rules.OptSetAllowed("bob", "echo", "printEnv", "resources/read"),
			rules.OptSetForbidden("*", "printEnv", "resources/read"),
		)
		bob := &auth.Principal{Identity: "bob"}

		Convey("Allowed tools and methods should be allowed", func() {
			So(Decide(makeToolCall("echo"), bob, set).Kind, ShouldEqual, KindAllow)

			req := api.Request{Type: api.CallTypeRequest, MCP: mcp.NewMessage(1)}
			req.MCP.Method = "tools/list"
			So(Decide(req, bob, set).Kind, ShouldEqual, KindAllow)
		})

		Convey("Other tools and methods should be denied", func() {
			v := Decide(makeToolCall("other"), bob, set)
			So(v.Reasons, ShouldResemble, []string{"tool other not allowed"})

			req := api.Request{Type: api.CallTypeRequest, MCP: mcp.NewMessage(1)}
			req.MCP.Method = "prompts/list"
			v = Decide(req, bob, set)
			So(v.Reasons, ShouldResemble, []string{"method prompts/list not allowed"})
		})

		Convey("Forbidden should win over allowed", func() {
			v := Decide(makeToolCall("printEnv"), bob, set)
			So(v.Reasons, ShouldResemble, []string{"forbidden method call printEnv tools/call"})

			req := api.Request{Type: api.CallTypeRequest, MCP: mcp.NewMessage(1)}
			req.MCP.Method = "resources/read"
			v = Decide(req, bob, set)
			So(v.Reasons, ShouldResemble, []string{"forbidden method resources/read"})
		})

		Convey("Client error replies without method should be allowed", func() {
			req := api.Request{Type: api.CallTypeRequest, MCP: mcp.NewMessage(1)}
			req.MCP.Error = &mcp.Error{Code: -32601, Message: "not supported"}
			So(Decide(req, bob, set).Kind, ShouldEqual, KindAllow)
		})

		Convey("Requests without method and without error should be denied", func() {
			req := api.Request{Type: api.CallTypeRequest, MCP: mcp.NewMessage(1)}
			v := Decide(req, bob, set)
			So(v.Reasons, ShouldResemble, []string{"request without method not allowed"})
		})
	})
}

func TestValidate(t *testing.T) {

	tests := []struct {
		name    string
		req     api.Request
		wantErr bool
	}{
		{"request", api.Request{Type: api.CallTypeRequest}, false},
		{"response", api.Request{Type: api.CallTypeResponse}, false},
		{"empty type", api.Request{}, true},
		{"unknown type", api.Request{Type: "other"}, true},
		{"request with result", api.Request{Type: api.CallTypeRequest, MCP: mcp.Message{Result: map[string]any{"b": 2}}}, true},
		{"response with params", api.Request{Type: api.CallTypeResponse, MCP: mcp.Message{Params: map[string]any{"a": 1}}}, true},
		{"response with empty result", api.Request{Type: api.CallTypeResponse, MCP: mcp.Message{Result: map[string]any{}}}, false},
		{
			"params and result",
			api.Request{
				Type: api.CallTypeResponse,
				MCP:  mcp.Message{Params: map[string]any{"a": 1}, Result: map[string]any{"b": 2}},
			},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedInput) {
				t.Fatalf("Validate() error = %v, should wrap ErrMalformedInput", err)
			}
		})
	}
}

func TestVerdict(t *testing.T) {

	Convey("Verdicts should convert to responses", t, func() {

		So(Allow().Response(), ShouldResemble, api.Response{Allow: true})
		So(Deny("a", "b").Response(), ShouldResemble, api.Response{Reasons: []string{"a", "b"}})
		So(Deny().Reasons, ShouldResemble, []string{api.GenericDenyReason})
		So(Verdict{}.Response(), ShouldResemble, api.Response{Reasons: []string{api.GenericDenyReason}})

		m := mcp.NewMessage(1)
		r := AllowWithRewrite(m).Response()
		So(r.Allow, ShouldBeTrue)
		So(r.MCP.ID, ShouldEqual, 1)

		So(Verdict{}.Allowed(), ShouldBeFalse)
		So(KindAllowWithRewrite.String(), ShouldEqual, "rewrite")
	})
}
