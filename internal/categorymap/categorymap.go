// Package categorymap resolves a Product's free-form canonical category
// string (spec §3: "category (free-form string + optional mapped IDs)")
// into the per-platform category identifier CreateListing needs, loading
// the mapping from a static YAML fixture with ghodss/yaml so operators can
// edit it without touching Go code, the same "static fixture loaded once at
// startup" shape the teacher uses for its own state-file loading.
package categorymap

import (
	"fmt"
	"os"
	"sync"

	"github.com/ghodss/yaml"

	"github.com/tommytoolman/marketsync/internal/model"
)

// Entry is one canonical category's per-platform id mapping.
type Entry struct {
	Canonical string                       `json:"canonical"`
	Platforms map[model.PlatformTag]string `json:"platforms"`
}

// Map resolves a canonical category string to a platform-specific id.
type Map struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// document is the on-disk shape of platform_category_map.yaml.
type document struct {
	Categories []Entry `json:"categories"`
}

// Load reads and parses a category map fixture from path.
func Load(path string) (*Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading category map %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse builds a Map from raw YAML bytes (ghodss/yaml round-trips through
// encoding/json so struct tags stay JSON-shaped even though the source file
// is YAML).
func Parse(raw []byte) (*Map, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing category map: %w", err)
	}
	m := &Map{entries: make(map[string]Entry, len(doc.Categories))}
	for _, e := range doc.Categories {
		m.entries[e.Canonical] = e
	}
	return m, nil
}

// Resolve returns the per-platform category id for canonical, if mapped.
func (m *Map) Resolve(canonical string, platform model.PlatformTag) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[canonical]
	if !ok {
		return "", false
	}
	id, ok := entry.Platforms[platform]
	return id, ok
}

// CategoryFor returns the category id for product on platform, for
// platform.EnrichedContext: the YAML map's entry for the product's category,
// else product.CategoryIDs[platform], else the product's raw category string
// (the adapter is then responsible for rejecting an
// unmappable category as a *errs.PermanentError, per spec §4.2).
func (m *Map) CategoryFor(product *model.Product, platform model.PlatformTag) string {
	if id, ok := m.Resolve(product.Category, platform); ok {
		return id
	}
	if product.CategoryIDs != nil {
		if id, ok := product.CategoryIDs[platform]; ok {
			return id
		}
	}
	return product.Category
}
