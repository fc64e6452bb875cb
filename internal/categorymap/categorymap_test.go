package categorymap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tommytoolman/marketsync/internal/model"
)

const fixture = `
categories:
  - canonical: "Electric Guitars"
    platforms:
      P1: "33034"
      P2: "dc3f3d2a-electric-guitars"
`

func TestParseAndResolve(t *testing.T) {
	m, err := Parse([]byte(fixture))
	require.NoError(t, err)

	id, ok := m.Resolve("Electric Guitars", model.PlatformP1)
	require.True(t, ok)
	require.Equal(t, "33034", id)

	_, ok = m.Resolve("Electric Guitars", model.PlatformP3)
	require.False(t, ok)

	_, ok = m.Resolve("Unknown Category", model.PlatformP1)
	require.False(t, ok)
}

func TestCategoryForFallsBackToRawCategory(t *testing.T) {
	m, err := Parse([]byte(fixture))
	require.NoError(t, err)

	p := &model.Product{Category: "Unmapped Thing"}
	require.Equal(t, "Unmapped Thing", m.CategoryFor(p, model.PlatformP1))

	p2 := &model.Product{Category: "Electric Guitars"}
	require.Equal(t, "33034", m.CategoryFor(p2, model.PlatformP1))
}

func TestCategoryForPrefersExplicitCategoryIDs(t *testing.T) {
	m, err := Parse([]byte(fixture))
	require.NoError(t, err)

	p := &model.Product{
		Category:    "Electric Guitars",
		CategoryIDs: map[model.PlatformTag]string{model.PlatformP3: "manual-override"},
	}
	// P1 is resolved from the map; P3 has no map entry so the explicit
	// per-product override is used instead of the raw category string.
	require.Equal(t, "33034", m.CategoryFor(p, model.PlatformP1))
	require.Equal(t, "manual-override", m.CategoryFor(p, model.PlatformP3))
}
