// Package store defines the persistence boundary (spec §4.1): a thin
// transactional interface over the canonical tables with no business logic,
// the same role the teacher's in-memory state.KongState plays for Kong
// entities — except here the canonical record must survive past one
// process's lifetime, so the production implementation (store/postgres) is
// backed by a real database while store/memstore gives an in-process
// implementation for tests and for runs with no database configured.
package store

import (
	"context"

	"github.com/tommytoolman/marketsync/internal/model"
)

// LocalListingRow is one PlatformLink joined with its Product, keyed by
// external id by the caller. Mirrors diffengine.LocalListingRow; kept as a
// separate type here so store does not import diffengine.
type LocalListingRow struct {
	ProductID      int64
	ExternalID     string
	Status         model.LinkStatus
	CanonicalPrice float64
	IsStockedItem  bool
	LocalQuantity  int
	ListingURL     string
}

// PendingEventKey identifies one pending SyncEvent for dedup purposes.
type PendingEventKey struct {
	Platform   model.PlatformTag
	ExternalID string
	ChangeType model.ChangeType
}

// Store exposes transactional primitives only. Every operation may fail
// with *errs.TransientError or *errs.FatalError; no other error kind
// crosses this boundary.
type Store interface {
	// FetchLocalSnapshot returns one row per PlatformLink with
	// Platform == platform, including rows where ExternalID is empty
	// (listings in flight), joined against Product.
	FetchLocalSnapshot(ctx context.Context, platform model.PlatformTag) ([]LocalListingRow, error)

	// FetchPendingEventKeys returns the set of (external_id, change_type)
	// pairs currently PENDING for platform, used by the event writer for
	// dedup at the start of a detection phase.
	FetchPendingEventKeys(ctx context.Context, platform model.PlatformTag) (map[PendingEventKey]struct{}, error)

	// InsertSyncEvents bulk-inserts events, relying on the partial unique
	// index over (platform, external_id, change_type) WHERE status =
	// 'PENDING' to silently drop duplicates (errs.ConflictError is
	// absorbed here, never returned).
	InsertSyncEvents(ctx context.Context, events []model.SyncEvent) error

	// FetchPendingEventsForRun returns every event still PENDING or
	// PARTIAL that is eligible for this run: the run's own freshly
	// detected events, plus any PARTIAL carried over from an earlier run
	// (spec §5: "a PARTIAL event from run N is visible to run N+1").
	FetchPendingEventsForRun(ctx context.Context, syncRunID string) ([]model.SyncEvent, error)

	// UpdateEventStatus persists the reconciler/dispatcher's decision
	// about one event.
	UpdateEventStatus(ctx context.Context, eventID int64, status model.EventStatus, notes model.EventNotes) error

	// UpdateProduct persists authoritative canonical product state.
	UpdateProduct(ctx context.Context, product *model.Product) error

	// UpdatePlatformLink persists authoritative per-platform link state.
	UpdatePlatformLink(ctx context.Context, link *model.PlatformLink) error

	// UpsertPlatformListing persists marketplace-specific denormalized
	// fields for one link.
	UpsertPlatformListing(ctx context.Context, listing *model.PlatformListing) error

	// GetProduct fetches a canonical product by id.
	GetProduct(ctx context.Context, productID int64) (*model.Product, error)

	// ListProducts returns every canonical product, for the match
	// suggester's candidate pool (spec §4.4) and other whole-catalog scans.
	ListProducts(ctx context.Context) ([]model.Product, error)

	// GetPlatformLink fetches the link for (productID, platform), if any.
	GetPlatformLink(ctx context.Context, productID int64, platform model.PlatformTag) (*model.PlatformLink, error)

	// ActiveLinksForProduct returns every PlatformLink for productID whose
	// Status is ACTIVE, across all platforms.
	ActiveLinksForProduct(ctx context.Context, productID int64) ([]model.PlatformLink, error)

	// LinksForProduct returns every PlatformLink for productID regardless of
	// status, across all platforms — used to find DRAFT links (a listing
	// pending creation, spec §3: "external_id ... nullable while a listing
	// is being created") that ActiveLinksForProduct would filter out.
	LinksForProduct(ctx context.Context, productID int64) ([]model.PlatformLink, error)

	// InsertProductMapping records a match-suggester hint.
	InsertProductMapping(ctx context.Context, mapping *model.ProductMapping) error

	// CreateSyncRun and FinalizeSyncRun bracket one coordinator run.
	CreateSyncRun(ctx context.Context, run *model.SyncRun) error
	FinalizeSyncRun(ctx context.Context, run *model.SyncRun) error

	// GetSyncRun fetches one run by id, for `sync reconcile --run-id` and the
	// run statistics view. Returns (nil, nil) when runID is unknown.
	GetSyncRun(ctx context.Context, runID string) (*model.SyncRun, error)

	// ListRecentSyncRuns returns up to limit runs, most recently started
	// first, for the `sync events` run statistics view.
	ListRecentSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error)

	// ListEventsByStatus returns up to limit events in status, most
	// recently detected first, for the `sync events --status` CLI command.
	ListEventsByStatus(ctx context.Context, status model.EventStatus, limit int) ([]model.SyncEvent, error)

	// WithTransaction scopes fn inside a single transaction; fn's error,
	// if any, is propagated and the transaction rolled back.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
