// Package events turns diffengine.Result changes into persisted
// model.SyncEvent rows: loading the dedup set, running new_listing change
// through the match suggester, validating every payload against the
// generated schema, and bulk-inserting. This is the write side of
// detection; the diff engine itself stays pure (internal/diffengine).
package events

import (
	"context"
	"time"

	"github.com/tommytoolman/marketsync/internal/diffengine"
	"github.com/tommytoolman/marketsync/internal/matcher"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/notesdiff"
	"github.com/tommytoolman/marketsync/internal/schema"
	"github.com/tommytoolman/marketsync/internal/store"
)

// Writer persists diff results as SyncEvent rows for one sync run.
type Writer struct {
	store      store.Store
	schemas    *schema.Registry
	candidates func(ctx context.Context) ([]matcher.Candidate, error)

	// matchConfidence overrides matcher.MinConfidence; zero uses the
	// package default.
	matchConfidence int
}

// NewWriter builds a Writer. candidates supplies the local product pool the
// match suggester considers for rogue new_listing changes; callers
// typically load it once per run and close over it.
func NewWriter(s store.Store, schemas *schema.Registry, candidates func(ctx context.Context) ([]matcher.Candidate, error)) *Writer {
	return &Writer{store: s, schemas: schemas, candidates: candidates, matchConfidence: matcher.MinConfidence}
}

// WithMatchConfidence overrides the match suggester's confidence floor,
// wiring config.SyncConfig.MatcherConfidenceThreshold through to matcher.
func (w *Writer) WithMatchConfidence(threshold int) *Writer {
	w.matchConfidence = threshold
	return w
}

// Write converts result into SyncEvent rows for platform/syncRunID and
// inserts them, skipping anything already PENDING for the same
// (platform, external_id, change_type) key.
func (w *Writer) Write(ctx context.Context, platform model.PlatformTag, syncRunID string, result diffengine.Result) (int, error) {
	events, err := w.build(ctx, platform, syncRunID, result)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	if err := w.store.InsertSyncEvents(ctx, events); err != nil {
		return 0, err
	}
	return len(events), nil
}

// Preview runs the same match-suggestion and schema-validation pipeline as
// Write but never inserts anything. The caller gets back exactly what would
// have been written, including resolved match candidates. The CLI's
// `sync run --dry-run` does not call it.
func (w *Writer) Preview(ctx context.Context, platform model.PlatformTag, syncRunID string, result diffengine.Result) ([]model.SyncEvent, error) {
	return w.build(ctx, platform, syncRunID, result)
}

func (w *Writer) build(ctx context.Context, platform model.PlatformTag, syncRunID string, result diffengine.Result) ([]model.SyncEvent, error) {
	existing, err := w.store.FetchPendingEventKeys(ctx, platform)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var toInsert []model.SyncEvent

	all := append(append(append([]diffengine.Change{}, result.Creates...), result.Updates...), result.Removes...)
	for _, c := range all {
		key := store.PendingEventKey{Platform: platform, ExternalID: c.ExternalID, ChangeType: c.ChangeType}
		if _, dup := existing[key]; dup {
			continue
		}

		data := c.Data
		if c.ChangeType == model.ChangeNewListing && w.candidates != nil {
			if cand, err := w.candidates(ctx); err == nil {
				if match, ok := matcher.SuggestWithThreshold(data.Title, cand, w.matchConfidence); ok {
					data.MatchCandidate = match
				}
			}
		}

		if err := w.schemas.Validate(c.ChangeType, data); err != nil {
			return nil, err
		}

		// product_id is only ever set from a change the diff engine already
		// resolved against a known local row; a match_candidate suggestion
		// never auto-assigns it (spec §4.4/S3: the event stays product_id =
		// NULL until a human or a later run confirms the link).
		var productID *int64
		if c.ProductID != 0 {
			id := c.ProductID
			productID = &id
		}

		var notes model.EventNotes
		if diffText := notesdiff.Build(c.ChangeType, data); diffText != "" {
			notes.DiffText = diffText
		}

		toInsert = append(toInsert, model.SyncEvent{
			SyncRunID:  syncRunID,
			Platform:   platform,
			ProductID:  productID,
			ExternalID: c.ExternalID,
			ChangeType: c.ChangeType,
			ChangeData: data,
			Status:     model.EventPending,
			Notes:      notes,
			DetectedAt: now,
		})
		existing[key] = struct{}{}
	}

	return toInsert, nil
}
