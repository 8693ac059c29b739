package api

import "go.acuvity.ai/minipolicer/pkgs/mcp"

// CallType type of request to the policer.
type CallType string

// Various values of CallType
var (
	CallTypeRequest  CallType = "request"
	CallTypeResponse CallType = "response"
)

// A Request represents the data sent to the Policer.
// It is the envelope of one intercepted MCP message.
type Request struct {

	// Type of the request. Request will be set for request from the agent
	// and Response will be set for replies from the MPC server.
	Type CallType `json:"type"`

	// MPC embeds the full MPC call, either request or response,
	// based on the Type.
	MCP mcp.Message `json:"mcp,omitzero"`

	// Agent contains callers information.
	Agent Agent `json:"agent,omitzero"`

	// Principal is set by the policer once the agent token has
	// been verified. It is never read from the wire, and is only
	// here so custom policies can use it.
	Principal *Principal `json:"principal,omitempty"`
}

// Agent contains information about the caller of the request.
type Agent struct {

	// Token is the agent token that as been received by the gateway.
	Token string `json:"token"`

	// RemoteAddr contains the agent's RemoteAddr, as seen by the gateway.
	RemoteAddr string `json:"remoteAddr"`

	// User Agent contains the user agent field of the agent.
	UserAgent string `json:"userAgent,omitempty"`
}

// Principal is the verified identity of the agent.
type Principal struct {
	Identity string         `json:"identity"`
	Claims   map[string]any `json:"claims,omitempty"`
}
