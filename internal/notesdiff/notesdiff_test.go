package notesdiff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tommytoolman/marketsync/internal/model"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int          { return &i }
func statusPtr(s model.UniversalStatus) *model.UniversalStatus { return &s }

func TestBuild_PriceChangeProducesStructuredDiff(t *testing.T) {
	out := Build(model.ChangePrice, model.ChangeData{
		OldPrice: floatPtr(1200), NewPrice: floatPtr(999),
	})
	require.Contains(t, out, "999")
}

func TestBuild_StatusChangeProducesStructuredDiff(t *testing.T) {
	out := Build(model.ChangeStatusChange, model.ChangeData{
		OldStatus: statusPtr(model.StatusActive), NewStatus: statusPtr(model.StatusSold),
	})
	require.Contains(t, out, "sold")
}

func TestBuild_ListingURLChangeProducesTextDiff(t *testing.T) {
	out := Build(model.ChangeNewListing, model.ChangeData{
		OldListingURL: "https://example.test/old",
		NewListingURL: "https://example.test/new",
	})
	require.Contains(t, out, "old")
	require.Contains(t, out, "new")
}

func TestBuild_NoChangesProducesEmptyString(t *testing.T) {
	out := Build(model.ChangeQuantityChange, model.ChangeData{})
	require.Empty(t, out)
}

func TestBuild_UnchangedListingURLSkipsTextDiff(t *testing.T) {
	out := Build(model.ChangeQuantityChange, model.ChangeData{
		OldQuantity: intPtr(5), NewQuantity: intPtr(3),
		OldListingURL: "https://example.test/a",
		NewListingURL: "https://example.test/a",
	})
	require.Contains(t, out, "quantity")
	require.NotContains(t, out, "(before)")
}
