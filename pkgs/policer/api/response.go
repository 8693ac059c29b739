package api

import "go.acuvity.ai/minipolicer/pkgs/mcp"

// GenericDenyReason is used when a policer denies without
// giving any reason.
const GenericDenyReason = "You are not allowed to perform this operation"

// A Response is returned by the Policer.
type Response struct {

	// Allow tells if the request is allowed or not.
	Allow bool `json:"allow"`

	// Reasons contains the reasons for denying the request.
	Reasons []string `json:"reasons,omitempty"`

	// If non-zero, replace the request MCP call with
	// this one. This allows Policers to modify the content
	// of an MCP call.
	MCP *mcp.Message `json:"mcp,omitempty"`
}
