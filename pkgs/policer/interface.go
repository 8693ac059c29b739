package policer

import (
	"context"
	"crypto/tls"

	"go.acuvity.ai/minipolicer/pkgs/auth"
	"go.acuvity.ai/minipolicer/pkgs/mcp"
	"go.acuvity.ai/minipolicer/pkgs/pdp"
	"go.acuvity.ai/minipolicer/pkgs/policer/api"
	"go.acuvity.ai/minipolicer/pkgs/policer/internal/http"
	"go.acuvity.ai/minipolicer/pkgs/policer/internal/rego"
)

// A Policer is the interface of objects that can police request.
// Police returns an error wrapping api.ErrBlocked when the request
// is denied, a message when it must be replaced, or nothing when
// it is allowed as is.
type Policer interface {
	Police(context.Context, api.Request) (*mcp.Message, error)
	Type() string
}

// NewLocal returns a Policer deciding in process with the given engine.
func NewLocal(engine *pdp.Engine) Policer {
	return engine
}

// NewRego returns a new rego based Policer.
func NewRego(policy string) (Policer, error) {
	return rego.New(policy)
}

// NewHTTP returns a new HTTP based Policer.
// auth can be nil if the remote policer does not require authentication.
func NewHTTP(endpoint string, auth *auth.Auth, tlsConfig *tls.Config) Policer {
	return http.New(endpoint, auth, tlsConfig)
}
