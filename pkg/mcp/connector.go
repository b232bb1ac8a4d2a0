package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/kirana/internal/observability"
	"github.com/harun/kirana/pkg/tools"
)

// connectedServer is the runtime record for one bridged server, owned
// exclusively by the connector and destroyed on disconnect.
type connectedServer struct {
	name      string
	spec      ServerSpec
	transport transport
	toolNames []string
}

// Connector discovers and bridges tools from external capability servers
// into the shared tool registry. Connect and disconnect are serialized;
// invocation through bridged handles runs concurrently with both.
type Connector struct {
	registry *tools.Registry
	index    *tools.Index
	logger   zerolog.Logger
	clientID string

	servers map[string]*connectedServer
	mu      sync.Mutex
}

// Config holds connector configuration
type Config struct {
	Registry *tools.Registry
	Index    *tools.Index
	Logger   zerolog.Logger
}

// NewConnector creates a new connector
func NewConnector(cfg Config) (*Connector, error) {
	observability.EnsureRegistered()

	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}

	return &Connector{
		registry: cfg.Registry,
		index:    cfg.Index,
		logger:   cfg.Logger,
		clientID: uuid.NewString(),
		servers:  make(map[string]*connectedServer),
	}, nil
}

// ConnectAll connects every enabled spec. A failing server is logged and
// skipped; one bad server never aborts startup. Returns all successfully
// bridged handles.
func (c *Connector) ConnectAll(ctx context.Context, specs map[string]ServerSpec) []*tools.Handle {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	bridged := []*tools.Handle{}
	for _, name := range names {
		spec := specs[name]
		if !spec.IsEnabled() {
			c.logger.Debug().Str("server", name).Msg("Server disabled, skipping")
			continue
		}

		handles, err := c.ConnectOne(ctx, name, spec)
		if err != nil {
			c.logger.Error().Err(err).Str("server", name).Msg("Failed to connect capability server")
			continue
		}
		bridged = append(bridged, handles...)
	}

	return bridged
}

// ConnectOne connects a single server: transport selection, handshake,
// catalog fetch, filter, bridge, register. Rejects duplicate names.
func (c *Connector) ConnectOne(ctx context.Context, name string, spec ServerSpec) ([]*tools.Handle, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("server name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.servers[name]; exists {
		return nil, fmt.Errorf("server already connected: %s", name)
	}

	tr, err := c.openTransport(name, spec)
	if err != nil {
		observability.RecordServerConnect(false)
		return nil, err
	}

	handles, err := c.bridgeServer(ctx, name, spec, tr)
	if err != nil {
		_ = tr.close()
		observability.RecordServerConnect(false)
		return nil, err
	}

	toolNames := make([]string, 0, len(handles))
	registered := make([]*tools.Handle, 0, len(handles))
	for _, h := range handles {
		if err := c.registry.Register(h); err != nil {
			c.logger.Warn().Err(err).Str("tool", h.Name).Msg("Skipping tool that failed to register")
			continue
		}
		toolNames = append(toolNames, h.Name)
		registered = append(registered, h)
	}

	c.servers[name] = &connectedServer{
		name:      name,
		spec:      spec,
		transport: tr,
		toolNames: toolNames,
	}

	if c.index != nil {
		c.index.Rebuild(c.registry)
	}

	observability.RecordServerConnect(true)
	observability.SetServersConnected(len(c.servers))
	observability.SetBridgedTools(c.bridgedCountLocked())

	c.logger.Info().
		Str("server", name).
		Int("tools", len(toolNames)).
		Msg("Capability server connected")

	return registered, nil
}

// openTransport selects the transport variant by spec shape
func (c *Connector) openTransport(name string, spec ServerSpec) (transport, error) {
	switch {
	case spec.URL != "":
		if strings.HasPrefix(spec.URL, "ws://") || strings.HasPrefix(spec.URL, "wss://") {
			return newWSTransport(name, spec.URL, spec.Headers)
		}
		return newHTTPTransport(spec.URL, spec.Headers), nil
	case spec.Command != "":
		return newStdioTransport(name, spec.Command, spec.Args, spec.Env)
	default:
		return nil, fmt.Errorf("server %s: spec needs either url or command", name)
	}
}

// bridgeServer performs the handshake, fetches the catalog, applies the
// tool filter, and builds handles.
func (c *Connector) bridgeServer(ctx context.Context, name string, spec ServerSpec, tr transport) ([]*tools.Handle, error) {
	_, err := tr.call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "kirana",
			"version": "0.1.0",
			"id":      c.clientID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	raw, err := tr.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tool catalog: %w", err)
	}

	var listResult struct {
		Tools []catalogTool `json:"tools"`
	}
	if err := unmarshalResult(raw, &listResult); err != nil {
		return nil, fmt.Errorf("failed to parse tool catalog: %w", err)
	}

	var filter map[string]bool
	if spec.ToolFilter != nil {
		filter = make(map[string]bool, len(spec.ToolFilter))
		for _, toolName := range spec.ToolFilter {
			filter[toolName] = true
		}
	}

	handles := make([]*tools.Handle, 0, len(listResult.Tools))
	for _, entry := range listResult.Tools {
		if entry.Name == "" {
			continue
		}
		if filter != nil && !filter[entry.Name] {
			continue
		}
		handles = append(handles, buildHandle(name, entry, tr))
	}

	return handles, nil
}

// DisconnectOne closes a server's transport, drops its record, and
// removes its tools from the registry. Close errors are swallowed since
// the remote side may already be gone. Returns the names that are no
// longer valid.
func (c *Connector) DisconnectOne(name string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, exists := c.servers[name]
	if !exists {
		return nil, fmt.Errorf("server not connected: %s", name)
	}

	if err := server.transport.close(); err != nil {
		c.logger.Debug().Err(err).Str("server", name).Msg("Ignoring transport close error")
	}

	for _, toolName := range server.toolNames {
		c.registry.Remove(toolName)
	}
	delete(c.servers, name)

	if c.index != nil {
		c.index.Rebuild(c.registry)
	}

	observability.SetServersConnected(len(c.servers))
	observability.SetBridgedTools(c.bridgedCountLocked())

	c.logger.Info().
		Str("server", name).
		Int("tools_removed", len(server.toolNames)).
		Msg("Capability server disconnected")

	return server.toolNames, nil
}

// DisconnectAll closes every connected server; one failure never prevents
// closing the rest. Used at process shutdown.
func (c *Connector) DisconnectAll() {
	for _, name := range c.Servers() {
		if _, err := c.DisconnectOne(name); err != nil {
			c.logger.Warn().Err(err).Str("server", name).Msg("Failed to disconnect server")
		}
	}
}

// Servers returns the names of connected servers, sorted
func (c *Connector) Servers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.servers))
	for name := range c.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerTools returns the bridged tool names contributed by one server
func (c *Connector) ServerTools(name string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, exists := c.servers[name]
	if !exists {
		return nil
	}
	names := make([]string, len(server.toolNames))
	copy(names, server.toolNames)
	return names
}

// AllTools returns every currently bridged handle across servers
func (c *Connector) AllTools() []*tools.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	handles := []*tools.Handle{}
	for _, server := range c.servers {
		for _, toolName := range server.toolNames {
			if h := c.registry.Get(toolName); h != nil {
				handles = append(handles, h)
			}
		}
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Name < handles[j].Name })
	return handles
}

func (c *Connector) bridgedCountLocked() int {
	total := 0
	for _, server := range c.servers {
		total += len(server.toolNames)
	}
	return total
}
