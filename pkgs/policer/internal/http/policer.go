package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.acuvity.ai/elemental"
	"go.acuvity.ai/minipolicer/pkgs/auth"
	"go.acuvity.ai/minipolicer/pkgs/mcp"
	"go.acuvity.ai/minipolicer/pkgs/policer/api"
)

// maxResponseSize caps the size of a policer response.
const maxResponseSize = 4 << 20

// Policer sends envelopes to a remote policer.
type Policer struct {
	endpoint string
	auth     *auth.Auth
	client   *http.Client
}

// New returns a new HTTP based Policer.
func New(endpoint string, auth *auth.Auth, tlsConfig *tls.Config) *Policer {

	return &Policer{
		endpoint: endpoint,
		auth:     auth,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
	}
}

// Type returns the type of the policer.
func (p *Policer) Type() string { return "http" }

// Police sends the envelope to the remote policer and converts its verdict.
func (p *Policer) Police(ctx context.Context, preq api.Request) (*mcp.Message, error) {

	// The remote policer verifies the token itself.
	preq.Principal = nil

	body, err := elemental.Encode(elemental.EncodingTypeJSON, preq)
	if err != nil {
		return nil, fmt.Errorf("unable to encode policer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("unable to create new http request: %w", err)
	}

	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/json")
	if p.auth != nil {
		req.Header.Add("Authorization", p.auth.Encode())
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if id := resp.Header.Get("X-Decision-ID"); id != "" {
		slog.Debug("Received remote decision", "id", id, "rules", resp.Header.Get("X-Rules-Fingerprint"))
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	rbody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invalid response from policer `%s`: %s", string(rbody), resp.Status)
	}

	sresp := api.Response{}
	if err := elemental.Decode(elemental.EncodingTypeJSON, rbody, &sresp); err != nil {
		return nil, fmt.Errorf("unable to decode response body: %w", err)
	}

	if !sresp.Allow {
		return nil, api.NewBlockedError(sresp.Reasons...)
	}

	if sresp.MCP != nil && sresp.MCP.ID == nil {
		sresp.MCP.ID = preq.MCP.ID
	}

	return sresp.MCP, nil
}
