// Package memstore is an in-process Store implementation backed by
// hashicorp/go-memdb, the same indexed in-memory database the teacher uses
// for state.KongState. The CLI uses it as the whole Store when no database
// host is configured, and tests use it as a full Store implementation that
// never needs to survive past one process.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/store"
)

const (
	tableProducts     = "products"
	tableLinks        = "links"
	tableListings     = "listings"
	tableEvents       = "events"
	tableMappings     = "mappings"
	tableRuns         = "runs"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableProducts: {
				Name: tableProducts,
				Indexes: map[string]*memdb.IndexSchema{
					"id":  {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"sku": {Name: "sku", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "SKU"}},
				},
			},
			tableLinks: {
				Name: tableLinks,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"product_platform": {
						Name:   "product_platform",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.IntFieldIndex{Field: "ProductID"},
							&memdb.StringFieldIndex{Field: "Platform"},
						}},
					},
					"platform": {Name: "platform", Indexer: &memdb.StringFieldIndex{Field: "Platform"}},
				},
			},
			tableListings: {
				Name: tableListings,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "LinkID"}},
				},
			},
			tableEvents: {
				Name: tableEvents,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"pending_key": {
						Name:         "pending_key",
						AllowMissing: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Platform"},
							&memdb.StringFieldIndex{Field: "ExternalID"},
							&memdb.StringFieldIndex{Field: "ChangeType"},
							&memdb.StringFieldIndex{Field: "Status"},
						}},
					},
				},
			},
			tableMappings: {
				Name: tableMappings,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
				},
			},
			tableRuns: {
				Name: tableRuns,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
				},
			},
		},
	}
}

// Store is an in-memory Store implementation.
type Store struct {
	db *memdb.MemDB

	mu        sync.Mutex
	nextEvent int64
	nextLink  int64
	nextMap   int64
}

// New returns an empty in-memory Store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("creating memdb: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) FetchLocalSnapshot(_ context.Context, platform model.PlatformTag) ([]store.LocalListingRow, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableLinks, "platform", string(platform))
	if err != nil {
		return nil, &errs.FatalError{Op: "FetchLocalSnapshot", Err: err}
	}

	var rows []store.LocalListingRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		link := raw.(*model.PlatformLink)
		prodRaw, err := txn.First(tableProducts, "id", link.ProductID)
		if err != nil {
			return nil, &errs.FatalError{Op: "FetchLocalSnapshot", Err: err}
		}
		row := store.LocalListingRow{
			ProductID: link.ProductID,
			Status:    link.Status,
			ListingURL: link.ListingURL,
		}
		if link.ExternalID != nil {
			row.ExternalID = *link.ExternalID
		}
		if prodRaw != nil {
			p := prodRaw.(*model.Product)
			row.CanonicalPrice = p.CanonicalPrice()
			row.IsStockedItem = p.IsStockedItem
			row.LocalQuantity = p.Quantity
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Store) FetchPendingEventKeys(_ context.Context, platform model.PlatformTag) (map[store.PendingEventKey]struct{}, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableEvents, "id")
	if err != nil {
		return nil, &errs.FatalError{Op: "FetchPendingEventKeys", Err: err}
	}

	keys := make(map[store.PendingEventKey]struct{})
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := raw.(*model.SyncEvent)
		if e.Status != model.EventPending || e.Platform != platform {
			continue
		}
		keys[store.PendingEventKey{Platform: e.Platform, ExternalID: e.ExternalID, ChangeType: e.ChangeType}] = struct{}{}
	}
	return keys, nil
}

func (s *Store) InsertSyncEvents(_ context.Context, events []model.SyncEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.db.Txn(true)
	defer txn.Abort()

	for i := range events {
		e := events[i]
		existing, err := txn.First(tableEvents, "pending_key",
			string(e.Platform), e.ExternalID, string(e.ChangeType), string(model.EventPending))
		if err != nil {
			return &errs.FatalError{Op: "InsertSyncEvents", Err: err}
		}
		if existing != nil {
			// Pending-unique-index collision: dedup worked, skip silently
			// (errs.ConflictError semantics, spec §7).
			continue
		}
		s.nextEvent++
		e.ID = s.nextEvent
		if err := txn.Insert(tableEvents, &e); err != nil {
			return &errs.FatalError{Op: "InsertSyncEvents", Err: err}
		}
	}
	txn.Commit()
	return nil
}

func (s *Store) FetchPendingEventsForRun(_ context.Context, syncRunID string) ([]model.SyncEvent, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableEvents, "id")
	if err != nil {
		return nil, &errs.FatalError{Op: "FetchPendingEventsForRun", Err: err}
	}

	var out []model.SyncEvent
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := raw.(*model.SyncEvent)
		if e.Status != model.EventPending && e.Status != model.EventPartial {
			continue
		}
		if e.Status == model.EventPending && e.SyncRunID != syncRunID {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (s *Store) UpdateEventStatus(_ context.Context, eventID int64, status model.EventStatus, notes model.EventNotes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableEvents, "id", eventID)
	if err != nil || raw == nil {
		return &errs.FatalError{Op: "UpdateEventStatus", Err: fmt.Errorf("event %d not found", eventID)}
	}
	e := *raw.(*model.SyncEvent)
	e.Status = status
	e.Notes = notes
	now := time.Now()
	e.ProcessedAt = &now
	if err := txn.Insert(tableEvents, &e); err != nil {
		return &errs.FatalError{Op: "UpdateEventStatus", Err: err}
	}
	txn.Commit()
	return nil
}

func (s *Store) UpdateProduct(_ context.Context, product *model.Product) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableProducts, product); err != nil {
		return &errs.FatalError{Op: "UpdateProduct", Err: err}
	}
	txn.Commit()
	return nil
}

func (s *Store) UpdatePlatformLink(_ context.Context, link *model.PlatformLink) error {
	s.mu.Lock()
	if link.ID == 0 {
		s.nextLink++
		link.ID = s.nextLink
	}
	s.mu.Unlock()

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableLinks, link); err != nil {
		return &errs.FatalError{Op: "UpdatePlatformLink", Err: err}
	}
	txn.Commit()
	return nil
}

func (s *Store) UpsertPlatformListing(_ context.Context, listing *model.PlatformListing) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableListings, listing); err != nil {
		return &errs.FatalError{Op: "UpsertPlatformListing", Err: err}
	}
	txn.Commit()
	return nil
}

func (s *Store) GetProduct(_ context.Context, productID int64) (*model.Product, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableProducts, "id", productID)
	if err != nil {
		return nil, &errs.FatalError{Op: "GetProduct", Err: err}
	}
	if raw == nil {
		return nil, nil
	}
	p := *raw.(*model.Product)
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]model.Product, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableProducts, "id")
	if err != nil {
		return nil, &errs.FatalError{Op: "ListProducts", Err: err}
	}
	var products []model.Product
	for raw := it.Next(); raw != nil; raw = it.Next() {
		products = append(products, *raw.(*model.Product))
	}
	return products, nil
}

func (s *Store) GetPlatformLink(_ context.Context, productID int64, platform model.PlatformTag) (*model.PlatformLink, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableLinks, "product_platform", productID, string(platform))
	if err != nil {
		return nil, &errs.FatalError{Op: "GetPlatformLink", Err: err}
	}
	if raw == nil {
		return nil, nil
	}
	l := *raw.(*model.PlatformLink)
	return &l, nil
}

func (s *Store) ActiveLinksForProduct(_ context.Context, productID int64) ([]model.PlatformLink, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	var out []model.PlatformLink
	for _, p := range model.AllPlatforms() {
		raw, err := txn.First(tableLinks, "product_platform", productID, string(p))
		if err != nil {
			return nil, &errs.FatalError{Op: "ActiveLinksForProduct", Err: err}
		}
		if raw == nil {
			continue
		}
		l := raw.(*model.PlatformLink)
		if l.Status == model.LinkActive {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *Store) LinksForProduct(_ context.Context, productID int64) ([]model.PlatformLink, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	var out []model.PlatformLink
	for _, p := range model.AllPlatforms() {
		raw, err := txn.First(tableLinks, "product_platform", productID, string(p))
		if err != nil {
			return nil, &errs.FatalError{Op: "LinksForProduct", Err: err}
		}
		if raw == nil {
			continue
		}
		out = append(out, *raw.(*model.PlatformLink))
	}
	return out, nil
}

func (s *Store) InsertProductMapping(_ context.Context, mapping *model.ProductMapping) error {
	s.mu.Lock()
	if mapping.ID == 0 {
		s.nextMap++
		mapping.ID = s.nextMap
	}
	s.mu.Unlock()

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableMappings, mapping); err != nil {
		return &errs.FatalError{Op: "InsertProductMapping", Err: err}
	}
	txn.Commit()
	return nil
}

func (s *Store) CreateSyncRun(_ context.Context, run *model.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableRuns, run); err != nil {
		return &errs.FatalError{Op: "CreateSyncRun", Err: err}
	}
	txn.Commit()
	return nil
}

func (s *Store) FinalizeSyncRun(_ context.Context, run *model.SyncRun) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableRuns, run); err != nil {
		return &errs.FatalError{Op: "FinalizeSyncRun", Err: err}
	}
	txn.Commit()
	return nil
}

func (s *Store) GetSyncRun(_ context.Context, runID string) (*model.SyncRun, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableRuns, "id", runID)
	if err != nil {
		return nil, &errs.FatalError{Op: "GetSyncRun", Err: err}
	}
	if raw == nil {
		return nil, nil
	}
	run := *raw.(*model.SyncRun)
	return &run, nil
}

func (s *Store) ListRecentSyncRuns(_ context.Context, limit int) ([]model.SyncRun, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableRuns, "id")
	if err != nil {
		return nil, &errs.FatalError{Op: "ListRecentSyncRuns", Err: err}
	}

	var out []model.SyncRun
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*model.SyncRun))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListEventsByStatus(_ context.Context, status model.EventStatus, limit int) ([]model.SyncEvent, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableEvents, "id")
	if err != nil {
		return nil, &errs.FatalError{Op: "ListEventsByStatus", Err: err}
	}

	var out []model.SyncEvent
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := raw.(*model.SyncEvent)
		if e.Status != status {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WithTransaction has no real isolation to offer over an in-memory store;
// it runs fn directly, matching the semantics the teacher's tests expect
// from an in-memory fixture.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var _ store.Store = (*Store)(nil)
