package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// MethodToolsCall is the MCP method used by agents to run a tool.
const MethodToolsCall = "tools/call"

var knownFields = map[string]struct{}{
	"jsonrpc": {},
	"id":      {},
	"method":  {},
	"params":  {},
	"result":  {},
	"error":   {},
}

// Message represents the inline MPC request or response.
//
// Fields the policer does not know about are kept verbatim
// in Extra, so a message can be decoded, inspected and encoded
// again without losing anything.
type Message struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id,omitempty,omitzero"`
	Method  string         `json:"method,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
	Error   *Error         `json:"error,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// NewMessage returns a Message initialized with the given id.
// To initialize a call without ID set, use an empty string.
func NewMessage[T int | string](id T) Message {
	c := Message{
		JSONRPC: "2.0",
	}

	var zero T
	if id != zero {
		c.ID = id
	}

	return c
}

// IDString returns the call ID as a string
// whatever is the original type.
func (c *Message) IDString() string {

	if c.ID == nil {
		return ""
	}

	return normalizeID(c.ID)
}

// ToolName returns the name of the tool targeted by a
// tools/call request. It returns false if the message is not
// a tools/call or if the name is missing or not a string.
func (c *Message) ToolName() (string, bool) {

	if c.Method != MethodToolsCall || c.Params == nil {
		return "", false
	}

	name, ok := c.Params["name"].(string)
	if !ok || name == "" {
		return "", false
	}

	return name, true
}

// Clone returns a copy of the message that can be modified
// at the top level without affecting the receiver.
// Nested values are shared.
func (c Message) Clone() Message {

	out := c
	out.Params = maps.Clone(c.Params)
	out.Result = maps.Clone(c.Result)
	out.Extra = maps.Clone(c.Extra)

	if c.Error != nil {
		e := *c.Error
		out.Error = &e
	}

	return out
}

// MarshalJSON implements json.Marshaler.
func (c Message) MarshalJSON() ([]byte, error) {

	out := make(map[string]any, 6+len(c.Extra))

	for k, v := range c.Extra {
		if _, ok := knownFields[k]; ok {
			continue
		}
		out[k] = v
	}

	out["jsonrpc"] = c.JSONRPC

	if c.ID != nil {
		out["id"] = c.ID
	}
	if c.Method != "" {
		out["method"] = c.Method
	}
	if c.Params != nil {
		out["params"] = c.Params
	}
	if c.Result != nil {
		out["result"] = c.Result
	}
	if c.Error != nil {
		out["error"] = c.Error
	}

	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Message) UnmarshalJSON(data []byte) error {

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unable to decode mcp message: %w", err)
	}

	m := Message{}

	for k, v := range raw {

		var err error

		switch k {
		case "jsonrpc":
			err = json.Unmarshal(v, &m.JSONRPC)
		case "id":
			err = decodeNumbers(v, &m.ID)
		case "method":
			err = json.Unmarshal(v, &m.Method)
		case "params":
			err = decodeNumbers(v, &m.Params)
		case "result":
			err = decodeNumbers(v, &m.Result)
		case "error":
			err = json.Unmarshal(v, &m.Error)
		default:
			if m.Extra == nil {
				m.Extra = map[string]json.RawMessage{}
			}
			m.Extra[k] = v
		}

		if err != nil {
			return fmt.Errorf("unable to decode mcp field '%s': %w", k, err)
		}
	}

	*c = m

	return nil
}

// decodeNumbers decodes numbers as json.Number so ids
// and payload values are encoded back exactly as received.
func decodeNumbers(data []byte, target any) error {

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return dec.Decode(target)
}
