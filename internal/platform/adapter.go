// Package platform defines the uniform contract every marketplace
// integration implements: the Adapter interface and the RemoteListing shape
// the diff engine consumes. This is the one seam spec §1 calls out as an
// external collaborator — the core depends only on this interface, never on
// a concrete marketplace client.
package platform

import (
	"context"
	"time"

	"github.com/tommytoolman/marketsync/internal/model"
)

// RemoteListing is one marketplace's current view of a listing, normalized
// to the universal status set and to two-decimal GBP pricing. Raw preserves
// the untouched payload for audit and downstream enrichment; typed fields
// here are all the diff engine is allowed to look at.
type RemoteListing struct {
	ExternalID string
	Status     model.UniversalStatus

	// Price is normalized to two-decimal GBP units.
	Price float64

	// QuantityTotal, QuantityAvailable and QuantitySold are nil when the
	// marketplace does not expose that figure (e.g. single-quantity
	// platforms never report QuantityAvailable).
	QuantityTotal     *int
	QuantityAvailable *int
	QuantitySold      *int

	Title      string
	ListingURL string

	// ListedAt is the marketplace's own listing/publish timestamp, parsed
	// tolerantly (relvacode/iso8601) from whatever date format that
	// marketplace's API returns. Zero when the marketplace doesn't expose
	// one or the adapter didn't parse it.
	ListedAt time.Time

	// Raw is the adapter's untouched marketplace payload, byte-for-byte.
	Raw model.RawPayload
}

// CreateResult is returned by Adapter.CreateListing on success.
type CreateResult struct {
	ExternalID string
	ListingURL string
	Raw        model.RawPayload
}

// EditResult is returned by Adapter.ApplyProductEdit on success.
type EditResult struct {
	ListingURL string
	Raw        model.RawPayload
}

// EnrichedContext carries everything CreateListing needs beyond the bare
// Product: the resolved per-platform category id, shipping policy id, and
// seller profile. internal/onboard fills CategoryID from the category map
// (or the product's raw category) and leaves PolicyID and SellerProfile
// empty.
type EnrichedContext struct {
	CategoryID    string
	PolicyID      string
	SellerProfile string
}

// QuantityHints tells UpdateQuantity what kind of change this is, so
// single-quantity platforms can distinguish "end the listing" (new qty 0)
// from an unsupported partial-quantity update.
type QuantityHints struct {
	IsZero bool
}

// Adapter is the uniform detection + action contract every marketplace
// integration implements once. The core's diff engine, reconciler and
// dispatcher never see a marketplace-specific type; they only ever call
// through this interface.
type Adapter interface {
	// Name returns this adapter's platform tag.
	Name() model.PlatformTag

	// FetchAll returns the full remote snapshot as a single slice,
	// transparently paginating. Every marketplace-specific status token
	// must already be translated to the universal set.
	FetchAll(ctx context.Context) ([]RemoteListing, error)

	// MarkAsSold marks externalID as sold. An "already closed" remote
	// error is treated as success (idempotent: the remote reached the
	// desired state some other way).
	MarkAsSold(ctx context.Context, externalID string) error

	// UpdatePrice pushes newPrice (GBP, two decimals) to externalID.
	// Repeating the call after a first success must be a no-op.
	UpdatePrice(ctx context.Context, externalID string, newPrice float64) error

	// UpdateQuantity pushes newQty to externalID. Single-quantity
	// platforms only accept newQty == 0 (end the listing); hints.IsZero
	// tells the adapter which case it is without re-deriving it.
	UpdateQuantity(ctx context.Context, externalID string, newQty int, hints QuantityHints) error

	// CreateListing pushes a brand-new listing for product.
	CreateListing(ctx context.Context, product *model.Product, enriched EnrichedContext) (CreateResult, error)

	// ApplyProductEdit pushes a partial edit described by changedFields
	// against an existing listing.
	ApplyProductEdit(ctx context.Context, product *model.Product, link *model.PlatformLink, changedFields model.ChangedFields) (EditResult, error)
}
