// Package postgres implements store.Store against PostgreSQL, in the
// connection-management style of
// andriipushkar-shop/services/analytics-etl/internal/sync.Manager's
// sql.Open("postgres", ...) setup. It is the durable half of the
// persistence boundary; internal/store/memstore covers the in-process half
// (tests, and runs with no database configured).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/store"
)

// Store is a store.Store backed by a *sql.DB.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and verifies connectivity.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Schema is the DDL this Store expects to already be applied; migrations
// are explicitly out of scope (spec §1) and are the operator's concern.
const Schema = `
CREATE TABLE IF NOT EXISTS products (
	id SERIAL PRIMARY KEY,
	sku TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	brand TEXT,
	model_name TEXT,
	year TEXT,
	finish TEXT,
	category TEXT,
	condition TEXT NOT NULL,
	base_price NUMERIC(12,2) NOT NULL,
	specialist_price NUMERIC(12,2),
	quantity INT NOT NULL CHECK (quantity >= 0),
	is_stocked_item BOOLEAN NOT NULL DEFAULT false,
	primary_image TEXT,
	additional_images JSONB,
	status TEXT NOT NULL,
	manufacturing_country TEXT,
	shipping_profile_id BIGINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS platform_links (
	id SERIAL PRIMARY KEY,
	product_id BIGINT NOT NULL REFERENCES products(id),
	platform_name TEXT NOT NULL,
	external_id TEXT,
	status TEXT NOT NULL,
	listing_url TEXT,
	last_sync TIMESTAMPTZ,
	sync_status TEXT NOT NULL DEFAULT 'PENDING',
	platform_specific_data JSONB,
	UNIQUE (product_id, platform_name)
);

CREATE TABLE IF NOT EXISTS platform_listings (
	link_id BIGINT PRIMARY KEY REFERENCES platform_links(id),
	platform_name TEXT NOT NULL,
	category_id TEXT,
	policy_id TEXT,
	seller_profile TEXT,
	pictures JSONB,
	raw_api_snapshot JSONB
);

CREATE TABLE IF NOT EXISTS sync_events (
	id SERIAL PRIMARY KEY,
	sync_run_id UUID NOT NULL,
	platform_name TEXT NOT NULL,
	product_id BIGINT REFERENCES products(id),
	platform_common_id BIGINT,
	external_id TEXT NOT NULL,
	change_type TEXT NOT NULL,
	change_data JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'PENDING',
	notes JSONB NOT NULL DEFAULT '{}',
	detected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS sync_events_pending_unique
	ON sync_events (platform_name, external_id, change_type)
	WHERE status = 'PENDING';

CREATE TABLE IF NOT EXISTS product_mappings (
	id SERIAL PRIMARY KEY,
	product_id BIGINT NOT NULL REFERENCES products(id),
	candidate_id BIGINT NOT NULL REFERENCES products(id),
	confidence INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved BOOLEAN NOT NULL DEFAULT false,
	resolution_notes TEXT
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id UUID PRIMARY KEY,
	state TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	summary JSONB
);
`

func (s *Store) FetchLocalSnapshot(ctx context.Context, platform model.PlatformTag) ([]store.LocalListingRow, error) {
	const q = `
		SELECT pl.product_id, coalesce(pl.external_id, ''), pl.status, pl.listing_url,
		       p.base_price, p.specialist_price, p.is_stocked_item, p.quantity
		FROM platform_links pl
		JOIN products p ON p.id = pl.product_id
		WHERE pl.platform_name = $1`

	rows, err := s.db.QueryContext(ctx, q, string(platform))
	if err != nil {
		return nil, transientOrFatal("FetchLocalSnapshot", err)
	}
	defer rows.Close()

	var out []store.LocalListingRow
	for rows.Next() {
		var r store.LocalListingRow
		var basePrice float64
		var specialist sql.NullFloat64
		if err := rows.Scan(&r.ProductID, &r.ExternalID, &r.Status, &r.ListingURL,
			&basePrice, &specialist, &r.IsStockedItem, &r.LocalQuantity); err != nil {
			return nil, transientOrFatal("FetchLocalSnapshot", err)
		}
		r.CanonicalPrice = basePrice
		if specialist.Valid {
			r.CanonicalPrice = specialist.Float64
		}
		out = append(out, r)
	}
	return out, transientOrFatal("FetchLocalSnapshot", rows.Err())
}

func (s *Store) FetchPendingEventKeys(ctx context.Context, platform model.PlatformTag) (map[store.PendingEventKey]struct{}, error) {
	const q = `SELECT external_id, change_type FROM sync_events WHERE platform_name = $1 AND status = 'PENDING'`
	rows, err := s.db.QueryContext(ctx, q, string(platform))
	if err != nil {
		return nil, transientOrFatal("FetchPendingEventKeys", err)
	}
	defer rows.Close()

	keys := make(map[store.PendingEventKey]struct{})
	for rows.Next() {
		var extID, changeType string
		if err := rows.Scan(&extID, &changeType); err != nil {
			return nil, transientOrFatal("FetchPendingEventKeys", err)
		}
		keys[store.PendingEventKey{Platform: platform, ExternalID: extID, ChangeType: model.ChangeType(changeType)}] = struct{}{}
	}
	return keys, transientOrFatal("FetchPendingEventKeys", rows.Err())
}

func (s *Store) InsertSyncEvents(ctx context.Context, events []model.SyncEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		tx := txFromContext(ctx)
		const q = `
			INSERT INTO sync_events
				(sync_run_id, platform_name, product_id, platform_common_id, external_id,
				 change_type, change_data, status, notes, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT DO NOTHING`
		for _, e := range events {
			data, err := json.Marshal(e.ChangeData)
			if err != nil {
				return &errs.FatalError{Op: "InsertSyncEvents", Err: err}
			}
			notes, err := json.Marshal(e.Notes)
			if err != nil {
				return &errs.FatalError{Op: "InsertSyncEvents", Err: err}
			}
			if _, err := tx.ExecContext(ctx, q, e.SyncRunID, string(e.Platform), e.ProductID,
				e.PlatformCommonID, e.ExternalID, string(e.ChangeType), data, string(e.Status), notes, e.DetectedAt); err != nil {
				return transientOrFatal("InsertSyncEvents", err)
			}
		}
		return nil
	})
}

func (s *Store) FetchPendingEventsForRun(ctx context.Context, syncRunID string) ([]model.SyncEvent, error) {
	const q = `
		SELECT id, sync_run_id, platform_name, product_id, platform_common_id, external_id,
		       change_type, change_data, status, notes, detected_at, processed_at
		FROM sync_events
		WHERE status = 'PARTIAL' OR (status = 'PENDING' AND sync_run_id = $1)`

	rows, err := s.db.QueryContext(ctx, q, syncRunID)
	if err != nil {
		return nil, transientOrFatal("FetchPendingEventsForRun", err)
	}
	defer rows.Close()

	var out []model.SyncEvent
	for rows.Next() {
		var e model.SyncEvent
		var productID, platformCommonID sql.NullInt64
		var data, notes []byte
		var processedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.SyncRunID, &e.Platform, &productID, &platformCommonID, &e.ExternalID,
			&e.ChangeType, &data, &e.Status, &notes, &e.DetectedAt, &processedAt); err != nil {
			return nil, transientOrFatal("FetchPendingEventsForRun", err)
		}
		if productID.Valid {
			e.ProductID = &productID.Int64
		}
		if platformCommonID.Valid {
			e.PlatformCommonID = &platformCommonID.Int64
		}
		if processedAt.Valid {
			e.ProcessedAt = &processedAt.Time
		}
		if err := json.Unmarshal(data, &e.ChangeData); err != nil {
			return nil, &errs.FatalError{Op: "FetchPendingEventsForRun", Err: err}
		}
		if err := json.Unmarshal(notes, &e.Notes); err != nil {
			return nil, &errs.FatalError{Op: "FetchPendingEventsForRun", Err: err}
		}
		out = append(out, e)
	}
	return out, transientOrFatal("FetchPendingEventsForRun", rows.Err())
}

func (s *Store) UpdateEventStatus(ctx context.Context, eventID int64, status model.EventStatus, notes model.EventNotes) error {
	data, err := json.Marshal(notes)
	if err != nil {
		return &errs.FatalError{Op: "UpdateEventStatus", Err: err}
	}
	const q = `UPDATE sync_events SET status = $1, notes = $2, processed_at = now() WHERE id = $3`
	if _, err := s.exec(ctx).ExecContext(ctx, q, string(status), data, eventID); err != nil {
		return transientOrFatal("UpdateEventStatus", err)
	}
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, p *model.Product) error {
	images, err := json.Marshal(p.AdditionalImages)
	if err != nil {
		return &errs.FatalError{Op: "UpdateProduct", Err: err}
	}
	const q = `
		UPDATE products SET title=$1, description=$2, brand=$3, model_name=$4, year=$5, finish=$6,
			category=$7, condition=$8, base_price=$9, specialist_price=$10, quantity=$11,
			is_stocked_item=$12, primary_image=$13, additional_images=$14, status=$15,
			manufacturing_country=$16, shipping_profile_id=$17, updated_at=now()
		WHERE id = $18`
	if _, err := s.exec(ctx).ExecContext(ctx, q, p.Title, p.Description, p.Brand, p.ModelName, p.Year, p.Finish,
		p.Category, string(p.Condition), p.BasePrice, p.SpecialistPrice, p.Quantity, p.IsStockedItem,
		p.PrimaryImage, images, string(p.Status), p.ManufacturingCountry, p.ShippingProfileID, p.ID); err != nil {
		return transientOrFatal("UpdateProduct", err)
	}
	return nil
}

func (s *Store) UpdatePlatformLink(ctx context.Context, link *model.PlatformLink) error {
	const q = `
		INSERT INTO platform_links (product_id, platform_name, external_id, status, listing_url, last_sync, sync_status, platform_specific_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (product_id, platform_name) DO UPDATE SET
			external_id = EXCLUDED.external_id, status = EXCLUDED.status,
			listing_url = EXCLUDED.listing_url, last_sync = EXCLUDED.last_sync,
			sync_status = EXCLUDED.sync_status, platform_specific_data = EXCLUDED.platform_specific_data
		RETURNING id`
	row := s.exec(ctx).QueryRowContext(ctx, q, link.ProductID, string(link.Platform), link.ExternalID,
		string(link.Status), link.ListingURL, link.LastSync, string(link.SyncStatus), []byte(link.PlatformSpecificData))
	if err := row.Scan(&link.ID); err != nil {
		return transientOrFatal("UpdatePlatformLink", err)
	}
	return nil
}

func (s *Store) UpsertPlatformListing(ctx context.Context, listing *model.PlatformListing) error {
	pictures, err := json.Marshal(listing.Pictures)
	if err != nil {
		return &errs.FatalError{Op: "UpsertPlatformListing", Err: err}
	}
	const q = `
		INSERT INTO platform_listings (link_id, platform_name, category_id, policy_id, seller_profile, pictures, raw_api_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (link_id) DO UPDATE SET
			category_id = EXCLUDED.category_id, policy_id = EXCLUDED.policy_id,
			seller_profile = EXCLUDED.seller_profile, pictures = EXCLUDED.pictures,
			raw_api_snapshot = EXCLUDED.raw_api_snapshot`
	if _, err := s.exec(ctx).ExecContext(ctx, q, listing.LinkID, string(listing.Platform), listing.CategoryID,
		listing.PolicyID, listing.SellerProfile, pictures, []byte(listing.RawAPISnapshot)); err != nil {
		return transientOrFatal("UpsertPlatformListing", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID int64) (*model.Product, error) {
	const q = `
		SELECT id, sku, title, description, brand, model_name, year, finish, category, condition,
		       base_price, specialist_price, quantity, is_stocked_item, primary_image, additional_images,
		       status, manufacturing_country, shipping_profile_id, created_at, updated_at
		FROM products WHERE id = $1`
	row := s.exec(ctx).QueryRowContext(ctx, q, productID)

	var p model.Product
	var specialist sql.NullFloat64
	var images []byte
	if err := row.Scan(&p.ID, &p.SKU, &p.Title, &p.Description, &p.Brand, &p.ModelName, &p.Year, &p.Finish,
		&p.Category, &p.Condition, &p.BasePrice, &specialist, &p.Quantity, &p.IsStockedItem, &p.PrimaryImage,
		&images, &p.Status, &p.ManufacturingCountry, &p.ShippingProfileID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, transientOrFatal("GetProduct", err)
	}
	if specialist.Valid {
		p.SpecialistPrice = &specialist.Float64
	}
	_ = json.Unmarshal(images, &p.AdditionalImages)
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]model.Product, error) {
	const q = `
		SELECT id, sku, title, description, brand, model_name, year, finish, category, condition,
		       base_price, specialist_price, quantity, is_stocked_item, primary_image, additional_images,
		       status, manufacturing_country, shipping_profile_id, created_at, updated_at
		FROM products ORDER BY id`
	rows, err := s.exec(ctx).QueryContext(ctx, q)
	if err != nil {
		return nil, transientOrFatal("ListProducts", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		var specialist sql.NullFloat64
		var images []byte
		if err := rows.Scan(&p.ID, &p.SKU, &p.Title, &p.Description, &p.Brand, &p.ModelName, &p.Year, &p.Finish,
			&p.Category, &p.Condition, &p.BasePrice, &specialist, &p.Quantity, &p.IsStockedItem, &p.PrimaryImage,
			&images, &p.Status, &p.ManufacturingCountry, &p.ShippingProfileID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, transientOrFatal("ListProducts", err)
		}
		if specialist.Valid {
			p.SpecialistPrice = &specialist.Float64
		}
		_ = json.Unmarshal(images, &p.AdditionalImages)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, transientOrFatal("ListProducts", err)
	}
	return products, nil
}

func (s *Store) GetPlatformLink(ctx context.Context, productID int64, platform model.PlatformTag) (*model.PlatformLink, error) {
	const q = `
		SELECT id, product_id, platform_name, external_id, status, listing_url, last_sync, sync_status, platform_specific_data
		FROM platform_links WHERE product_id = $1 AND platform_name = $2`
	row := s.exec(ctx).QueryRowContext(ctx, q, productID, string(platform))

	var l model.PlatformLink
	var extID sql.NullString
	var rawData []byte
	if err := row.Scan(&l.ID, &l.ProductID, &l.Platform, &extID, &l.Status, &l.ListingURL, &l.LastSync, &l.SyncStatus, &rawData); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, transientOrFatal("GetPlatformLink", err)
	}
	if extID.Valid {
		l.ExternalID = &extID.String
	}
	l.PlatformSpecificData = rawData
	return &l, nil
}

func (s *Store) ActiveLinksForProduct(ctx context.Context, productID int64) ([]model.PlatformLink, error) {
	const q = `
		SELECT id, product_id, platform_name, external_id, status, listing_url, last_sync, sync_status
		FROM platform_links WHERE product_id = $1 AND status = 'ACTIVE'`
	rows, err := s.exec(ctx).QueryContext(ctx, q, productID)
	if err != nil {
		return nil, transientOrFatal("ActiveLinksForProduct", err)
	}
	defer rows.Close()

	var out []model.PlatformLink
	for rows.Next() {
		var l model.PlatformLink
		var extID sql.NullString
		if err := rows.Scan(&l.ID, &l.ProductID, &l.Platform, &extID, &l.Status, &l.ListingURL, &l.LastSync, &l.SyncStatus); err != nil {
			return nil, transientOrFatal("ActiveLinksForProduct", err)
		}
		if extID.Valid {
			l.ExternalID = &extID.String
		}
		out = append(out, l)
	}
	return out, transientOrFatal("ActiveLinksForProduct", rows.Err())
}

func (s *Store) LinksForProduct(ctx context.Context, productID int64) ([]model.PlatformLink, error) {
	const q = `
		SELECT id, product_id, platform_name, external_id, status, listing_url, last_sync, sync_status
		FROM platform_links WHERE product_id = $1`
	rows, err := s.exec(ctx).QueryContext(ctx, q, productID)
	if err != nil {
		return nil, transientOrFatal("LinksForProduct", err)
	}
	defer rows.Close()

	var out []model.PlatformLink
	for rows.Next() {
		var l model.PlatformLink
		var extID sql.NullString
		if err := rows.Scan(&l.ID, &l.ProductID, &l.Platform, &extID, &l.Status, &l.ListingURL, &l.LastSync, &l.SyncStatus); err != nil {
			return nil, transientOrFatal("LinksForProduct", err)
		}
		if extID.Valid {
			l.ExternalID = &extID.String
		}
		out = append(out, l)
	}
	return out, transientOrFatal("LinksForProduct", rows.Err())
}

func (s *Store) InsertProductMapping(ctx context.Context, m *model.ProductMapping) error {
	const q = `
		INSERT INTO product_mappings (product_id, candidate_id, confidence, resolved, resolution_notes)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	row := s.exec(ctx).QueryRowContext(ctx, q, m.ProductID, m.CandidateID, m.Confidence, m.Resolved, m.ResolutionNotes)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return transientOrFatal("InsertProductMapping", err)
	}
	return nil
}

func (s *Store) CreateSyncRun(ctx context.Context, run *model.SyncRun) error {
	const q = `INSERT INTO sync_runs (id, state, started_at) VALUES ($1, $2, $3)`
	if _, err := s.exec(ctx).ExecContext(ctx, q, run.ID, string(run.State), run.StartedAt); err != nil {
		return transientOrFatal("CreateSyncRun", err)
	}
	return nil
}

func (s *Store) FinalizeSyncRun(ctx context.Context, run *model.SyncRun) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return &errs.FatalError{Op: "FinalizeSyncRun", Err: err}
	}
	const q = `UPDATE sync_runs SET state = $1, finished_at = $2, summary = $3 WHERE id = $4`
	if _, err := s.exec(ctx).ExecContext(ctx, q, string(run.State), run.FinishedAt, summary, run.ID); err != nil {
		return transientOrFatal("FinalizeSyncRun", err)
	}
	return nil
}

func (s *Store) GetSyncRun(ctx context.Context, runID string) (*model.SyncRun, error) {
	const q = `SELECT id, state, started_at, finished_at, summary FROM sync_runs WHERE id = $1`
	row := s.exec(ctx).QueryRowContext(ctx, q, runID)

	var run model.SyncRun
	var finishedAt sql.NullTime
	var summary []byte
	if err := row.Scan(&run.ID, &run.State, &run.StartedAt, &finishedAt, &summary); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, transientOrFatal("GetSyncRun", err)
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if len(summary) > 0 {
		_ = json.Unmarshal(summary, &run.Summary)
	}
	return &run, nil
}

func (s *Store) ListRecentSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	const q = `SELECT id, state, started_at, finished_at, summary FROM sync_runs ORDER BY started_at DESC LIMIT $1`
	rows, err := s.exec(ctx).QueryContext(ctx, q, limit)
	if err != nil {
		return nil, transientOrFatal("ListRecentSyncRuns", err)
	}
	defer rows.Close()

	var out []model.SyncRun
	for rows.Next() {
		var run model.SyncRun
		var finishedAt sql.NullTime
		var summary []byte
		if err := rows.Scan(&run.ID, &run.State, &run.StartedAt, &finishedAt, &summary); err != nil {
			return nil, transientOrFatal("ListRecentSyncRuns", err)
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		if len(summary) > 0 {
			_ = json.Unmarshal(summary, &run.Summary)
		}
		out = append(out, run)
	}
	return out, transientOrFatal("ListRecentSyncRuns", rows.Err())
}

func (s *Store) ListEventsByStatus(ctx context.Context, status model.EventStatus, limit int) ([]model.SyncEvent, error) {
	const q = `
		SELECT id, sync_run_id, platform_name, product_id, platform_common_id, external_id,
		       change_type, change_data, status, notes, detected_at, processed_at
		FROM sync_events
		WHERE status = $1
		ORDER BY detected_at DESC
		LIMIT $2`
	rows, err := s.exec(ctx).QueryContext(ctx, q, string(status), limit)
	if err != nil {
		return nil, transientOrFatal("ListEventsByStatus", err)
	}
	defer rows.Close()

	var out []model.SyncEvent
	for rows.Next() {
		var e model.SyncEvent
		var productID, platformCommonID sql.NullInt64
		var data, notes []byte
		var processedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.SyncRunID, &e.Platform, &productID, &platformCommonID, &e.ExternalID,
			&e.ChangeType, &data, &e.Status, &notes, &e.DetectedAt, &processedAt); err != nil {
			return nil, transientOrFatal("ListEventsByStatus", err)
		}
		if productID.Valid {
			e.ProductID = &productID.Int64
		}
		if platformCommonID.Valid {
			e.PlatformCommonID = &platformCommonID.Int64
		}
		if processedAt.Valid {
			e.ProcessedAt = &processedAt.Time
		}
		if err := json.Unmarshal(data, &e.ChangeData); err != nil {
			return nil, &errs.FatalError{Op: "ListEventsByStatus", Err: err}
		}
		if err := json.Unmarshal(notes, &e.Notes); err != nil {
			return nil, &errs.FatalError{Op: "ListEventsByStatus", Err: err}
		}
		out = append(out, e)
	}
	return out, transientOrFatal("ListEventsByStatus", rows.Err())
}

type txKey struct{}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) exec(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func txFromContext(ctx context.Context) *sql.Tx {
	return ctx.Value(txKey{}).(*sql.Tx)
}

// WithTransaction scopes fn inside a single *sql.Tx.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errs.FatalError{Op: "WithTransaction", Err: err}
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &errs.FatalError{Op: "WithTransaction", Err: err}
	}
	return nil
}

func transientOrFatal(op string, err error) error {
	if err == nil {
		return nil
	}
	// A dead connection/pool is recoverable by retrying the run; anything
	// else (constraint violation, bad SQL) is an invariant problem.
	if err == sql.ErrConnDone || err == sql.ErrTxDone {
		return &errs.TransientError{Op: op, Reason: "connection unavailable", Err: err}
	}
	return &errs.FatalError{Op: op, Err: err}
}

var _ store.Store = (*Store)(nil)
