package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSpecFile(t *testing.T, path string, specs map[string]ServerSpec) {
	t.Helper()
	data, err := json.MarshalIndent(specs, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))
}

// TestLoadSpecFile tests spec file parsing and the missing-file case
func TestLoadSpecFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")

	specs, err := loadSpecFile(path)
	require.NoError(t, err)
	assert.Empty(t, specs)

	writeSpecFile(t, path, map[string]ServerSpec{
		"files": {Command: "files-server", Args: []string{"--stdio"}},
	})

	specs, err = loadSpecFile(path)
	require.NoError(t, err)
	require.Contains(t, specs, "files")
	assert.Equal(t, "files-server", specs["files"].Command)

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))
	_, err = loadSpecFile(path)
	assert.Error(t, err)
}

// TestSpecWatcher_Apply tests hot add and remove reconciliation without
// relying on filesystem event timing
func TestSpecWatcher_Apply(t *testing.T) {
	fs := newFakeServer(t, defaultCatalog())
	c, reg := newTestConnector(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	writeSpecFile(t, path, map[string]ServerSpec{
		"files": {URL: fs.URL},
	})

	w, err := NewSpecWatcher(SpecWatcherConfig{Connector: c, SpecPath: path})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.apply(context.Background()))
	assert.Equal(t, []string{"files"}, c.Servers())
	assert.True(t, reg.Has("mcp_files_read_file"))

	// Unchanged spec: reapplying must not churn the connection
	require.NoError(t, w.apply(context.Background()))
	assert.Equal(t, 1, fs.initCalls)

	// Server removed from the file: disconnect and drop its tools
	writeSpecFile(t, path, map[string]ServerSpec{})
	require.NoError(t, w.apply(context.Background()))
	assert.Empty(t, c.Servers())
	assert.False(t, reg.Has("mcp_files_read_file"))
}

// TestSpecWatcher_ApplyDisable tests that flipping enabled off
// disconnects the server
func TestSpecWatcher_ApplyDisable(t *testing.T) {
	fs := newFakeServer(t, defaultCatalog())
	c, reg := newTestConnector(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	writeSpecFile(t, path, map[string]ServerSpec{"files": {URL: fs.URL}})

	w, err := NewSpecWatcher(SpecWatcherConfig{Connector: c, SpecPath: path})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.apply(context.Background()))
	require.True(t, reg.Has("mcp_files_read_file"))

	disabled := false
	writeSpecFile(t, path, map[string]ServerSpec{"files": {URL: fs.URL, Enabled: &disabled}})
	require.NoError(t, w.apply(context.Background()))

	assert.Empty(t, c.Servers())
	assert.False(t, reg.Has("mcp_files_read_file"))
}

// TestSpecWatcher_Validation tests constructor validation
func TestSpecWatcher_Validation(t *testing.T) {
	c, _ := newTestConnector(t)

	_, err := NewSpecWatcher(SpecWatcherConfig{SpecPath: "x"})
	assert.Error(t, err)

	_, err = NewSpecWatcher(SpecWatcherConfig{Connector: c})
	assert.Error(t, err)
}
