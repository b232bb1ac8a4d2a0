package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIndex_Rebuild tests that rebuilding tracks registry changes
func TestIndex_Rebuild(t *testing.T) {
	reg := NewRegistry()
	ix := NewIndex()

	require.NoError(t, reg.Register(testHandle("file_read", CategoryRead)))
	ix.Rebuild(reg)
	assert.Equal(t, 1, ix.Len())

	require.NoError(t, reg.Register(testHandle("file_write", CategoryWrite)))
	ix.Rebuild(reg)
	assert.Equal(t, 2, ix.Len())

	reg.Remove("file_read")
	ix.Rebuild(reg)
	assert.Equal(t, 1, ix.Len())
}

// TestIndex_Search_Format tests the bulleted output format the discovery
// parser depends on
func TestIndex_Search_Format(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Handle{
		Name:        "file_read",
		Description: "Read a file from disk",
		Category:    CategoryRead,
		Invoke:      testHandle("x", CategoryRead).Invoke,
	}))

	ix := NewIndex()
	ix.Rebuild(reg)

	out := ix.Search("file", 10)
	assert.Contains(t, out, "- file_read: Read a file from disk")
}

// TestIndex_Search_Ranking tests term matching and the result limit
func TestIndex_Search_Ranking(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Handle{
		Name:        "git_commit",
		Description: "Create a git commit",
		Invoke:      testHandle("x", CategoryGeneral).Invoke,
	}))
	require.NoError(t, reg.Register(&Handle{
		Name:        "git_diff",
		Description: "Show pending git changes",
		Invoke:      testHandle("x", CategoryGeneral).Invoke,
	}))
	require.NoError(t, reg.Register(&Handle{
		Name:        "web_fetch",
		Description: "Fetch a web page",
		Invoke:      testHandle("x", CategoryGeneral).Invoke,
	}))

	ix := NewIndex()
	ix.Rebuild(reg)

	out := ix.Search("git commit", 10)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// Header plus two git matches; web_fetch matched nothing
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "git_commit")

	out = ix.Search("git", 1)
	assert.Equal(t, 1, strings.Count(out, "- git"))
}

// TestIndex_Search_NoMatches tests the empty result message
func TestIndex_Search_NoMatches(t *testing.T) {
	ix := NewIndex()
	ix.Rebuild(NewRegistry())

	assert.Equal(t, "No matching tools found.", ix.Search("anything", 5))
}
