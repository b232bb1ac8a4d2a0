package mcp

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseToolSchema tests structural schema extraction
func TestParseToolSchema(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "search text"},
			"limit": {"type": "integer", "default": 10}
		},
		"required": ["query"]
	}`)

	schema := parseToolSchema(raw)
	require.Len(t, schema.Fields, 2)

	byName := map[string]bool{}
	for _, f := range schema.Fields {
		byName[f.Name] = true
		switch f.Name {
		case "query":
			assert.Equal(t, "string", f.Type)
			assert.Equal(t, "search text", f.Description)
			assert.True(t, f.Required)
		case "limit":
			assert.Equal(t, "integer", f.Type)
			assert.False(t, f.Required)
			assert.EqualValues(t, 10, f.Default)
		}
	}
	assert.True(t, byName["query"])
	assert.True(t, byName["limit"])
}

// TestParseToolSchema_Degenerate tests tolerance of missing or broken
// schemas
func TestParseToolSchema_Degenerate(t *testing.T) {
	assert.Empty(t, parseToolSchema(nil).Fields)
	assert.Empty(t, parseToolSchema(json.RawMessage(`not json`)).Fields)
	assert.Empty(t, parseToolSchema(json.RawMessage(`{"type":"object"}`)).Fields)
}

// TestIsTransportError tests the unreachable-vs-domain classification
func TestIsTransportError(t *testing.T) {
	transport := []string{
		"dial tcp 127.0.0.1:9: connect: connection refused",
		"write |1: broken pipe",
		"unexpected EOF",
		"use of closed network connection",
		"server disconnected",
		"read tcp: connection reset by peer",
		"request timeout for tools/call",
	}
	for _, msg := range transport {
		assert.True(t, isTransportError(errors.New(msg)), msg)
	}

	domain := []string{
		"server error (-32602): invalid params",
		"file does not exist",
		"permission denied",
	}
	for _, msg := range domain {
		assert.False(t, isTransportError(errors.New(msg)), msg)
	}
}
