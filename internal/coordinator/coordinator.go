// Package coordinator implements the top-level sync run state machine
// (spec §4.7): INIT → DETECTING → RECONCILING → DISPATCHING → FINALIZED,
// with an ABORTED branch reached only on a *errs.FatalError from the
// persistence layer. Detection fans out one task per enabled marketplace
// via golang.org/x/sync/errgroup (errors from one marketplace never abort
// the others); reconciliation and dispatch are single runs over the whole
// pending set.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tommytoolman/marketsync/internal/diffengine"
	"github.com/tommytoolman/marketsync/internal/dispatch"
	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/events"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
	"github.com/tommytoolman/marketsync/internal/reconcile"
	"github.com/tommytoolman/marketsync/internal/schema"
	"github.com/tommytoolman/marketsync/internal/stats"
	"github.com/tommytoolman/marketsync/internal/store"
)

// Config tunes one coordinator's timeouts, per spec §5 defaults.
type Config struct {
	PerAdapterCallTimeout  time.Duration
	PerDetectionTaskTimeout time.Duration
	PerRunTimeout          time.Duration
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		PerAdapterCallTimeout:   60 * time.Second,
		PerDetectionTaskTimeout: 15 * time.Minute,
		PerRunTimeout:           60 * time.Minute,
	}
}

// Coordinator drives one sync run end to end.
type Coordinator struct {
	store      store.Store
	adapters   map[model.PlatformTag]platform.Adapter
	writer     *events.Writer
	reconciler *reconcile.Reconciler
	dispatcher *dispatch.Dispatcher
	schemas    *schema.Registry
	cfg        Config
}

// New builds a Coordinator wired against every enabled adapter.
func New(s store.Store, adapters map[model.PlatformTag]platform.Adapter, writer *events.Writer,
	reconciler *reconcile.Reconciler, dispatcher *dispatch.Dispatcher, schemas *schema.Registry, cfg Config) *Coordinator {
	return &Coordinator{
		store: s, adapters: adapters, writer: writer, reconciler: reconciler,
		dispatcher: dispatcher, schemas: schemas, cfg: cfg,
	}
}

// Run executes one full sync: INIT, DETECTING, RECONCILING, DISPATCHING,
// FINALIZED/ABORTED.
func (c *Coordinator) Run(ctx context.Context) (model.SyncRun, error) {
	collector := stats.NewCollector()

	run := model.SyncRun{ID: uuid.NewString(), State: model.RunInit, StartedAt: time.Now().UTC()}
	if err := c.store.CreateSyncRun(ctx, &run); err != nil {
		return c.abort(ctx, run, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.PerRunTimeout)
	defer cancel()

	run.State = model.RunDetecting
	if err := c.detect(runCtx, run.ID, collector); err != nil {
		var fatal *errs.FatalError
		if errors.As(err, &fatal) {
			return c.abort(ctx, run, err)
		}
		// Non-fatal detection errors are already recorded per platform;
		// the run proceeds to reconcile whatever was written.
	}

	run.State = model.RunReconciling
	plan, err := c.reconciler.Reconcile(runCtx, run.ID)
	if err != nil {
		var fatal *errs.FatalError
		if errors.As(err, &fatal) {
			return c.abort(ctx, run, err)
		}
		return c.abort(ctx, run, err)
	}

	run.State = model.RunDispatching
	if err := c.dispatcher.Run(runCtx, plan); err != nil {
		var fatal *errs.FatalError
		if errors.As(err, &fatal) {
			return c.abort(ctx, run, err)
		}
	}

	run.State = model.RunFinalized
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Summary = collector.Summary()
	stats.ObserveRunDuration(finished.Sub(run.StartedAt).Seconds())

	if err := c.store.FinalizeSyncRun(ctx, &run); err != nil {
		return run, err
	}
	return run, nil
}

// ReconcileOnly re-runs reconciliation and dispatch against an existing
// run's already-detected events, skipping detection entirely — the
// `sync reconcile --run-id` CLI path.
func (c *Coordinator) ReconcileOnly(ctx context.Context, runID string) (reconcile.Plan, error) {
	plan, err := c.reconciler.Reconcile(ctx, runID)
	if err != nil {
		return reconcile.Plan{}, err
	}
	if err := c.dispatcher.Run(ctx, plan); err != nil {
		return plan, err
	}
	return plan, nil
}

func (c *Coordinator) detect(ctx context.Context, runID string, collector *stats.Collector) error {
	group, gctx := errgroup.WithContext(ctx)
	for platformTag, adapter := range c.adapters {
		platformTag, adapter := platformTag, adapter
		group.Go(func() error {
			return c.detectOne(gctx, runID, platformTag, adapter, collector)
		})
	}
	return group.Wait()
}

func (c *Coordinator) detectOne(ctx context.Context, runID string, platformTag model.PlatformTag, adapter platform.Adapter, collector *stats.Collector) error {
	taskCtx, cancel := context.WithTimeout(ctx, c.cfg.PerDetectionTaskTimeout)
	defer cancel()

	callCtx, cancel := context.WithTimeout(taskCtx, c.cfg.PerAdapterCallTimeout)
	remoteList, err := adapter.FetchAll(callCtx)
	cancel()
	if err != nil {
		if taskCtx.Err() != nil {
			collector.RecordDetectionError(platformTag, "detection task timed out")
			if err := c.recordDetectionTimeout(ctx, runID, platformTag); err != nil {
				var fatal *errs.FatalError
				if errors.As(err, &fatal) {
					return err
				}
			}
			return nil
		}
		var fatal *errs.FatalError
		if errors.As(err, &fatal) {
			return err
		}
		collector.RecordDetectionError(platformTag, err.Error())
		return nil
	}
	collector.RecordFetched(platformTag, len(remoteList))

	localRows, err := c.store.FetchLocalSnapshot(taskCtx, platformTag)
	if err != nil {
		var fatal *errs.FatalError
		if errors.As(err, &fatal) {
			return err
		}
		collector.RecordDetectionError(platformTag, err.Error())
		return nil
	}

	remote := make(map[string]platform.RemoteListing, len(remoteList))
	for _, rl := range remoteList {
		remote[rl.ExternalID] = rl
	}
	local := make(map[string]diffengine.LocalListingRow, len(localRows))
	for _, row := range localRows {
		if row.ExternalID == "" {
			continue
		}
		local[row.ExternalID] = diffengine.LocalListingRow{
			ProductID: row.ProductID, ExternalID: row.ExternalID, Status: row.Status,
			CanonicalPrice: row.CanonicalPrice, IsStockedItem: row.IsStockedItem,
			LocalQuantity: row.LocalQuantity, ListingURL: row.ListingURL,
		}
	}

	result := diffengine.Diff(remote, local, diffengine.Options{})
	for _, ch := range result.Creates {
		collector.RecordDetected(platformTag, ch.ChangeType)
	}
	for _, ch := range result.Updates {
		collector.RecordDetected(platformTag, ch.ChangeType)
	}
	for _, ch := range result.Removes {
		collector.RecordDetected(platformTag, ch.ChangeType)
	}

	if _, err := c.writer.Write(taskCtx, platformTag, runID, result); err != nil {
		var fatal *errs.FatalError
		if errors.As(err, &fatal) {
			return err
		}
		collector.RecordDetectionError(platformTag, err.Error())
	}
	return nil
}

// recordDetectionTimeout persists the marker event spec §4.7 requires when
// a detection task exceeds PerDetectionTaskTimeout, so `sync events`
// surfaces the timed-out platform instead of the run silently proceeding
// with whatever that platform managed to fetch.
func (c *Coordinator) recordDetectionTimeout(ctx context.Context, runID string, platformTag model.PlatformTag) error {
	data := model.ChangeData{Title: "detection task exceeded its timeout"}
	if err := c.schemas.Validate(model.ChangeDetectionTimeout, data); err != nil {
		return err
	}
	return c.store.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID:  runID,
		Platform:   platformTag,
		ChangeType: model.ChangeDetectionTimeout,
		ChangeData: data,
		Status:     model.EventPending,
		DetectedAt: time.Now().UTC(),
	}})
}

func (c *Coordinator) abort(ctx context.Context, run model.SyncRun, cause error) (model.SyncRun, error) {
	run.State = model.RunAborted
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	// Finalization is best-effort: if the store is the thing that just
	// failed, this may fail too, and the caller's returned error is
	// authoritative either way.
	_ = c.store.FinalizeSyncRun(ctx, &run)
	return run, cause
}
