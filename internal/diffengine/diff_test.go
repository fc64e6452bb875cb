package diffengine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
)

func TestDiff_IsPure(t *testing.T) {
	remote := map[string]platform.RemoteListing{
		"A100": {ExternalID: "A100", Status: model.StatusSold},
	}
	local := map[string]LocalListingRow{
		"A100": {ProductID: 1, ExternalID: "A100", Status: model.LinkActive, CanonicalPrice: 1500},
	}

	r1 := Diff(remote, local, Options{})
	r2 := Diff(remote, local, Options{})
	if diff := cmp.Diff(r1, r2); diff != "" {
		t.Fatalf("diff is not pure: %s", diff)
	}
}

// S1 — happy-path sale propagation: P1 now shows sold while local is active.
func TestDiff_S1_StatusChangeToSold(t *testing.T) {
	remote := map[string]platform.RemoteListing{
		"A100": {ExternalID: "A100", Status: model.StatusSold, Price: 1500},
	}
	local := map[string]LocalListingRow{
		"A100": {ProductID: 1, ExternalID: "A100", Status: model.LinkActive, CanonicalPrice: 1500},
	}

	res := Diff(remote, local, Options{})
	require.Len(t, res.Updates, 1)
	assert.Equal(t, model.ChangeStatusChange, res.Updates[0].ChangeType)
	assert.Empty(t, res.Creates)
	assert.Empty(t, res.Removes)
}

// S2 — price drift: P2 reports a lower price than canonical.
func TestDiff_S2_PriceDrift(t *testing.T) {
	remote := map[string]platform.RemoteListing{
		"B200": {ExternalID: "B200", Status: model.StatusActive, Price: 1450.00},
	}
	local := map[string]LocalListingRow{
		"B200": {ProductID: 1, ExternalID: "B200", Status: model.LinkActive, CanonicalPrice: 1500.00},
	}

	res := Diff(remote, local, Options{})
	require.Len(t, res.Updates, 1)
	c := res.Updates[0]
	assert.Equal(t, model.ChangePrice, c.ChangeType)
	require.NotNil(t, c.Data.OldPrice)
	require.NotNil(t, c.Data.NewPrice)
	assert.InDelta(t, 1500.00, *c.Data.OldPrice, 0.001)
	assert.InDelta(t, 1450.00, *c.Data.NewPrice, 0.001)
}

// S3 — rogue listing: remote has an item the local DB has never seen.
func TestDiff_S3_NewListing(t *testing.T) {
	remote := map[string]platform.RemoteListing{
		"C999": {ExternalID: "C999", Status: model.StatusActive, Price: 4999.00, Title: "1965 Fender Stratocaster Sunburst"},
	}
	local := map[string]LocalListingRow{}

	res := Diff(remote, local, Options{})
	require.Len(t, res.Creates, 1)
	assert.Equal(t, model.ChangeNewListing, res.Creates[0].ChangeType)
	assert.Equal(t, "C999", res.Creates[0].ExternalID)
}

// S6 — stocked item quantity sync: P1 now shows 3 of 5 available.
func TestDiff_S6_QuantityChange(t *testing.T) {
	remote := map[string]platform.RemoteListing{
		"Q1": {ExternalID: "Q1", Status: model.StatusActive, Price: 100, QuantityAvailable: intPtr(3)},
	}
	local := map[string]LocalListingRow{
		"Q1": {ProductID: 1, ExternalID: "Q1", Status: model.LinkActive, CanonicalPrice: 100, IsStockedItem: true, LocalQuantity: 5},
	}

	res := Diff(remote, local, Options{})
	require.Len(t, res.Updates, 1)
	c := res.Updates[0]
	assert.Equal(t, model.ChangeQuantityChange, c.ChangeType)
	assert.Equal(t, 5, *c.Data.OldQuantity)
	assert.Equal(t, 3, *c.Data.NewQuantity)
}

func TestDiff_QuantityAndPriceBothFireIndependently(t *testing.T) {
	remote := map[string]platform.RemoteListing{
		"Q2": {ExternalID: "Q2", Status: model.StatusActive, Price: 90, QuantityAvailable: intPtr(2)},
	}
	local := map[string]LocalListingRow{
		"Q2": {ProductID: 1, ExternalID: "Q2", Status: model.LinkActive, CanonicalPrice: 100, IsStockedItem: true, LocalQuantity: 5},
	}

	res := Diff(remote, local, Options{})
	require.Len(t, res.Updates, 2)
	// Tie-break emission order per spec §4.3: quantity_change before price.
	assert.Equal(t, model.ChangeQuantityChange, res.Updates[0].ChangeType)
	assert.Equal(t, model.ChangePrice, res.Updates[1].ChangeType)
}

func TestDiff_NoGhostCreates(t *testing.T) {
	remote := map[string]platform.RemoteListing{
		"X1": {ExternalID: "X1", Status: model.StatusEnded},
	}
	res := Diff(remote, map[string]LocalListingRow{}, Options{})
	assert.Empty(t, res.Creates)
}

func TestDiff_NoGhostRemoves(t *testing.T) {
	local := map[string]LocalListingRow{
		"X1": {ProductID: 1, ExternalID: "X1", Status: model.LinkEnded},
	}
	res := Diff(map[string]platform.RemoteListing{}, local, Options{})
	assert.Empty(t, res.Removes)
}

func TestDiff_SoldIsTerminal(t *testing.T) {
	remote := map[string]platform.RemoteListing{
		"S1": {ExternalID: "S1", Status: model.StatusSold, Price: 50, QuantityAvailable: intPtr(0)},
	}
	local := map[string]LocalListingRow{
		"S1": {ProductID: 1, ExternalID: "S1", Status: model.LinkSold, CanonicalPrice: 999, IsStockedItem: true, LocalQuantity: 0},
	}

	res := Diff(remote, local, Options{})
	assert.Empty(t, res.Updates, "price/quantity drift on an already-sold item must not raise a change")
}

func TestDiff_StatusEquivalenceClass(t *testing.T) {
	remote := map[string]platform.RemoteListing{
		"E1": {ExternalID: "E1", Status: model.StatusRemoved},
	}
	local := map[string]LocalListingRow{
		"E1": {ProductID: 1, ExternalID: "E1", Status: model.LinkEnded},
	}
	res := Diff(remote, local, Options{})
	assert.Empty(t, res.Updates, "ended vs removed are both off-market and must not raise a status_change")
}
