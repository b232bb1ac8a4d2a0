package mcp

import (
	"encoding/json"
	"fmt"
)

// protocolVersion is the MCP revision spoken with capability servers
const protocolVersion = "2024-11-05"

// ServerSpec declares one external capability server. A URL selects a
// network transport; otherwise Command selects a stdio subprocess.
// Immutable once connected.
type ServerSpec struct {
	Command    string            `json:"command,omitempty" mapstructure:"command"`
	Args       []string          `json:"args,omitempty" mapstructure:"args"`
	Env        map[string]string `json:"env,omitempty" mapstructure:"env"`
	URL        string            `json:"url,omitempty" mapstructure:"url"`
	Headers    map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	ToolFilter []string          `json:"tool_filter,omitempty" mapstructure:"tool_filter"`
	Enabled    *bool             `json:"enabled,omitempty" mapstructure:"enabled"`
}

// IsEnabled treats a missing enabled flag as true
func (s ServerSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// JSON-RPC messages
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// catalogTool is one entry of a server's tools/list response
type catalogTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// callContent is one ordered content part of a tools/call response
type callContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// callResult is the result shape of a tools/call response
type callResult struct {
	Content []callContent `json:"content"`
	IsError bool          `json:"isError"`
}

func unmarshalResult(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty result")
	}
	return json.Unmarshal(raw, v)
}
