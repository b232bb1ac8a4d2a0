// Package agent runs governed tool-use turns: it drives the model loop,
// consults the turn controller before every step, executes tool calls
// through the registry, and records token usage.
package agent
