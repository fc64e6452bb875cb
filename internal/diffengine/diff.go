// Package diffengine implements the pure diff function at the heart of the
// detection phase (spec §4.3). It is deliberately side-effect free: given a
// remote snapshot and a local snapshot it always returns the same three
// lists, generalizing the teacher's pkg/diff.Syncer.diff() from "Kong entity
// CRUD" to "marketplace listing drift" while dropping everything about the
// teacher's version that is stateful (queues, workers, retries) — those live
// in internal/dispatch instead.
package diffengine

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
)

// priceEpsilon is the default price-match tolerance from spec §4.3 / §6
// (price_match_epsilon); callers may override it via Options.
const priceEpsilon = 0.01

// LocalListingRow is one PlatformLink joined with its Product, as returned
// by Store.FetchLocalSnapshot — the local half of the diff's input.
type LocalListingRow struct {
	ProductID         int64
	ExternalID        string // empty when the link has no external id yet
	Status            model.LinkStatus
	CanonicalPrice    float64
	IsStockedItem     bool
	LocalQuantity     int
	ListingURL        string
}

// UniversalStatus maps a LocalListingRow's LinkStatus onto the universal
// vocabulary so it can be compared against a RemoteListing's Status.
func (r LocalListingRow) UniversalStatus() model.UniversalStatus {
	switch r.Status {
	case model.LinkActive:
		return model.StatusActive
	case model.LinkSold:
		return model.StatusSold
	case model.LinkEnded:
		return model.StatusEnded
	case model.LinkDraft:
		return model.StatusDraft
	case model.LinkRemoved:
		return model.StatusRemoved
	default:
		// LinkRefreshed rows (spec §9 open question 3) and any other
		// unknown value are treated conservatively as off-market so they
		// never spawn a ghost create.
		return model.StatusEnded
	}
}

// Change is one detected difference. Exactly one of the three Result slices
// below contains it. Creates carry ChangeNewListing and Removes carry
// ChangeRemovedListing; Updates carry status_change, quantity_change or
// price, and a single item can produce more than one Update.
type Change struct {
	ExternalID string
	ProductID  int64
	ChangeType model.ChangeType
	Data       model.ChangeData
}

// Result is the diff engine's output: three disjoint lists of changes.
type Result struct {
	Creates []Change
	Updates []Change
	Removes []Change
}

// Options tunes the diff engine's tolerances; zero value uses spec defaults.
type Options struct {
	PriceEpsilon float64
}

func (o Options) epsilon() float64 {
	if o.PriceEpsilon > 0 {
		return o.PriceEpsilon
	}
	return priceEpsilon
}

// Diff is a pure function from (remote, local) to an ordered Result. Calling
// it twice with the same inputs always returns equal output (spec §8,
// property 1).
func Diff(remote map[string]platform.RemoteListing, local map[string]LocalListingRow, opts Options) Result {
	var res Result

	remoteKeys := lo.Keys(remote)
	localKeys := lo.Keys(local)
	sort.Strings(remoteKeys)
	sort.Strings(localKeys)

	for _, extID := range onlyInA(remoteKeys, localKeys) {
		rl := remote[extID]
		// No ghost creates: off-market remote-only listings are ignored,
		// spec §8 property 3.
		if model.IsOffMarket(rl.Status) {
			continue
		}
		data := model.ChangeData{
			NewStatus:     statusPtr(rl.Status),
			NewPrice:      floatPtr(rl.Price),
			NewListingURL: rl.ListingURL,
			Title:         rl.Title,
			Raw:           rl.Raw,
		}
		if !rl.ListedAt.IsZero() {
			data.ListedAt = timePtr(rl.ListedAt)
		}
		res.Creates = append(res.Creates, Change{
			ExternalID: extID,
			ChangeType: model.ChangeNewListing,
			Data:       data,
		})
	}

	for _, extID := range onlyInA(localKeys, remoteKeys) {
		row := local[extID]
		// No ghost removes: only currently-ACTIVE local links raise a
		// removed_listing event, spec §8 property 4.
		if row.Status != model.LinkActive {
			continue
		}
		res.Removes = append(res.Removes, Change{
			ExternalID: extID,
			ProductID:  row.ProductID,
			ChangeType: model.ChangeRemovedListing,
			Data: model.ChangeData{
				OldStatus: statusPtr(row.UniversalStatus()),
			},
		})
	}

	for _, extID := range intersect(remoteKeys, localKeys) {
		rl := remote[extID]
		row := local[extID]
		res.Updates = append(res.Updates, hasChanged(extID, rl, row, opts)...)
	}

	return res
}

// hasChanged implements the ordered comparison rules of spec §4.3. A status
// change short-circuits everything else (rule 1/2) and is the only
// condition that ever produces a lone Change; once the item is still
// active, quantity and price are independent conditions that may *both*
// fire for the same item, so both are returned — in the tie-break order
// spec §4.3 gives for independent dispatch: status_change, quantity_change,
// price.
func hasChanged(extID string, rl platform.RemoteListing, row LocalListingRow, opts Options) []Change {
	localStatus := row.UniversalStatus()

	// Rule 1: status. Two statuses in the off-market equivalence class are
	// considered equal (spec §8 property 8).
	if !model.SameClass(rl.Status, localStatus) {
		data := model.ChangeData{
			OldStatus: statusPtr(localStatus),
			NewStatus: statusPtr(rl.Status),
		}
		if rl.QuantitySold != nil {
			data.QuantitySold = rl.QuantitySold
		}
		if rl.ListingURL != "" && rl.ListingURL != row.ListingURL {
			data.OldListingURL = row.ListingURL
			data.NewListingURL = rl.ListingURL
		}
		return []Change{{ExternalID: extID, ProductID: row.ProductID, ChangeType: model.ChangeStatusChange, Data: data}}
	}

	// Rule 2: once off-market locally, we stop looking — no price/qty
	// drift on sold items (spec §8 property 5).
	if localStatus != model.StatusActive {
		return nil
	}

	var changes []Change

	// Rule 4 (checked before rule 3 per the §4.3 tie-break emission order):
	// quantity, stocked items only.
	if row.IsStockedItem && rl.QuantityAvailable != nil && *rl.QuantityAvailable != row.LocalQuantity {
		changes = append(changes, Change{
			ExternalID: extID, ProductID: row.ProductID, ChangeType: model.ChangeQuantityChange,
			Data: model.ChangeData{OldQuantity: intPtr(row.LocalQuantity), NewQuantity: rl.QuantityAvailable},
		})
	}

	// Rule 3: price.
	if math.Abs(rl.Price-row.CanonicalPrice) > opts.epsilon() {
		data := model.ChangeData{
			OldPrice: floatPtr(row.CanonicalPrice),
			NewPrice: floatPtr(rl.Price),
		}
		if rl.ListingURL != "" && rl.ListingURL != row.ListingURL {
			data.OldListingURL = row.ListingURL
			data.NewListingURL = rl.ListingURL
		}
		changes = append(changes, Change{ExternalID: extID, ProductID: row.ProductID, ChangeType: model.ChangePrice, Data: data})
	}

	// Rule 5 (URL-only drift) never raises its own event on its own; it is
	// folded into a status/price change's payload above when one fires.
	return changes
}

func onlyInA(a, b []string) []string {
	bs := lo.SliceToMap(b, func(s string) (string, struct{}) { return s, struct{}{} })
	return lo.Filter(a, func(s string, _ int) bool {
		_, ok := bs[s]
		return !ok
	})
}

func intersect(a, b []string) []string {
	bs := lo.SliceToMap(b, func(s string) (string, struct{}) { return s, struct{}{} })
	return lo.Filter(a, func(s string, _ int) bool {
		_, ok := bs[s]
		return ok
	})
}

func statusPtr(s model.UniversalStatus) *model.UniversalStatus { return &s }
func floatPtr(f float64) *float64                               { return &f }
func intPtr(i int) *int                                         { return &i }
func timePtr(t time.Time) *time.Time                            { return &t }
