package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Index is an explicit, rebuildable search index over registered tools.
// It is owned by the agent core and rebuilt whenever the registry changes;
// there is no hidden module-level copy.
type Index struct {
	entries []indexEntry
	mu      sync.RWMutex
}

type indexEntry struct {
	name        string
	description string
	category    Category
	haystack    string
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{}
}

// Rebuild replaces the index contents from the current registry state
func (ix *Index) Rebuild(reg *Registry) {
	handles := reg.All()
	entries := make([]indexEntry, 0, len(handles))
	for _, h := range handles {
		entries = append(entries, indexEntry{
			name:        h.Name,
			description: h.Description,
			category:    h.Category,
			haystack:    strings.ToLower(h.Name + " " + h.Description + " " + string(h.Category)),
		})
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()
}

// Len returns the number of indexed tools
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Search returns up to limit matching tools as formatted bulleted lines,
// one "- <name>: <description>" per match. The discovery-mode parser in
// the turn controller keys off this exact shape.
func (ix *Index) Search(query string, limit int) string {
	if limit <= 0 {
		limit = 10
	}

	terms := strings.Fields(strings.ToLower(query))

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type scored struct {
		entry indexEntry
		score int
	}
	matches := []scored{}
	for _, entry := range ix.entries {
		score := 0
		for _, term := range terms {
			if strings.Contains(entry.haystack, term) {
				score++
			}
		}
		if len(terms) == 0 || score > 0 {
			matches = append(matches, scored{entry: entry, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].entry.name < matches[j].entry.name
	})

	if len(matches) == 0 {
		return "No matching tools found."
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching tools:\n", len(matches))
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s: %s\n", m.entry.name, m.entry.description)
	}
	return b.String()
}
