package tools

import (
	"context"
	"strings"
)

// Category classifies a tool for visibility gating and role prompt synthesis
type Category string

const (
	CategoryRead        Category = "read"
	CategoryWrite       Category = "write"
	CategoryShell       Category = "shell"
	CategoryWeb         Category = "web"
	CategoryMemoryRead  Category = "memory_read"
	CategoryMemoryWrite Category = "memory_write"
	CategoryMCP         Category = "mcp"
	CategoryGeneral     Category = "general"
)

// AllCategories returns all valid tool categories
func AllCategories() []Category {
	return []Category{
		CategoryRead,
		CategoryWrite,
		CategoryShell,
		CategoryWeb,
		CategoryMemoryRead,
		CategoryMemoryWrite,
		CategoryMCP,
		CategoryGeneral,
	}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := Category(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}

// Field describes one input field of a tool schema
type Field struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Schema is the structural descriptor of a tool's input
type Schema struct {
	Fields []Field `json:"fields"`
}

// InvokeFunc executes a tool call. It must return a human-readable outcome
// string and never panic; failures are reported as outcome text.
type InvokeFunc func(ctx context.Context, input map[string]interface{}) string

// Handle is the unit exposed to the agent: a named, schema-described
// operation. Handles are immutable after registration.
type Handle struct {
	Name        string
	Description string
	Category    Category
	Schema      Schema
	Invoke      InvokeFunc
}
