package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/kirana/internal/observability"
	"github.com/harun/kirana/pkg/tools"
)

// transportErrorMarkers identify failures where the server process or
// connection itself is gone, as opposed to the tool reporting a domain
// error.
var transportErrorMarkers = []string{
	"connection refused",
	"connection failed",
	"broken pipe",
	"reset by peer",
	"closed",
	"disconnected",
	"eof",
	"no such host",
	"timeout",
	"context deadline exceeded",
	"context canceled",
}

func isTransportError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range transportErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// BridgedName returns the registry name for a server tool, namespaced so
// tools from different servers never collide.
func BridgedName(serverName, toolName string) string {
	return fmt.Sprintf("mcp_%s_%s", serverName, toolName)
}

// buildHandle bridges one catalog entry into a registry handle whose
// Invoke proxies the call through the server transport. Every failure
// mode is converted to a structured outcome string; Invoke never panics
// or returns an error to its caller.
func buildHandle(serverName string, entry catalogTool, tr transport) *tools.Handle {
	var schema *gojsonschema.Schema
	if len(entry.InputSchema) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(entry.InputSchema))
		if err != nil {
			log.Warn().Err(err).
				Str("server", serverName).
				Str("tool", entry.Name).
				Msg("Tool input schema does not compile, skipping validation")
		} else {
			schema = compiled
		}
	}

	bridged := BridgedName(serverName, entry.Name)
	remoteName := entry.Name

	return &tools.Handle{
		Name:        bridged,
		Description: entry.Description,
		Category:    tools.CategoryMCP,
		Schema:      parseToolSchema(entry.InputSchema),
		Invoke: func(ctx context.Context, input map[string]interface{}) (outcome string) {
			start := time.Now()
			success := false
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("tool", bridged).Msg("Recovered panic in tool invocation")
					outcome = fmt.Sprintf("Error: tool %s failed unexpectedly: %v", bridged, r)
				}
				observability.RecordInvocation(serverName, time.Since(start), success)
			}()

			if schema != nil {
				result, err := schema.Validate(gojsonschema.NewGoLoader(input))
				if err == nil && !result.Valid() {
					details := make([]string, 0, len(result.Errors()))
					for _, resErr := range result.Errors() {
						details = append(details, resErr.String())
					}
					return fmt.Sprintf("Error: invalid input for %s: %s", bridged, strings.Join(details, "; "))
				}
			}

			raw, err := tr.call(ctx, "tools/call", map[string]interface{}{
				"name":      remoteName,
				"arguments": input,
			})
			if err != nil {
				if isTransportError(err) {
					return fmt.Sprintf(
						"Error: tool %s failed: %v. Hint: capability server %q appears unreachable; check that the server process or endpoint is running.",
						bridged, err, serverName)
				}
				return fmt.Sprintf(
					"Tool error: %v. Hint: server %q is reachable; the tool itself reported this failure.",
					err, serverName)
			}

			var result callResult
			if err := json.Unmarshal(raw, &result); err != nil {
				return fmt.Sprintf("Error: tool %s returned an unparseable response: %v", bridged, err)
			}

			parts := make([]string, 0, len(result.Content))
			for _, content := range result.Content {
				if content.Text != "" {
					parts = append(parts, content.Text)
				}
			}
			text := strings.Join(parts, "\n")

			if result.IsError {
				if text == "" {
					text = "no details provided"
				}
				return fmt.Sprintf(
					"Tool error: %s. Hint: server %q is reachable; the tool itself reported this failure.",
					text, serverName)
			}

			success = true
			if text == "" {
				return "(no output)"
			}
			return text
		},
	}
}
