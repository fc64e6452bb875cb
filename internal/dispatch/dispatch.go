// Package dispatch executes the reconciler's queued Decisions against
// marketplace adapters, adapted from the teacher's channel-and-waitgroup
// Syncer.Run/eventLoop pattern but modernized onto golang.org/x/sync:
// actions for different products run bounded-parallel via
// golang.org/x/sync/semaphore, while actions within one product's group run
// sequentially in the order the reconciler queued them (spec §4.6). Each
// action is wrapped in a cenkalti/backoff/v4 retry and checked against a
// redis-backed idempotency cache before it is re-sent, so resuming a
// PARTIAL event from an earlier run never double-applies a side effect.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tommytoolman/marketsync/internal/adapter/common"
	"github.com/tommytoolman/marketsync/internal/crud"
	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
	"github.com/tommytoolman/marketsync/internal/reconcile"
	"github.com/tommytoolman/marketsync/internal/stats"
	"github.com/tommytoolman/marketsync/internal/store"
)

// Dispatcher runs reconcile.Decisions through a crud.Registry of
// per-platform Actions, bounding overall fan-out while preserving
// per-product sequential ordering.
type Dispatcher struct {
	registry    *crud.Registry
	store       store.Store
	idempotency *redis.Client
	sem         *semaphore.Weighted
	stats       *stats.Collector
	callTimeout time.Duration
}

// Config tunes the dispatcher's behavior.
type Config struct {
	// MaxConcurrency bounds how many products' decision chains may run at
	// once (spec §5 default 8).
	MaxConcurrency int64
	// CallTimeout bounds each individual adapter call (spec §5's
	// per-adapter-call timeout, default 60s), applied fresh on every retry
	// attempt rather than once across the whole backoff loop.
	CallTimeout time.Duration
	// Idempotency is optional; a nil client disables the applied-action
	// cache and relies solely on adapter-level idempotency.
	Idempotency *redis.Client
}

// New builds a Dispatcher.
func New(registry *crud.Registry, s store.Store, collector *stats.Collector, cfg Config) *Dispatcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	return &Dispatcher{
		registry:    registry,
		store:       s,
		idempotency: cfg.Idempotency,
		sem:         semaphore.NewWeighted(cfg.MaxConcurrency),
		stats:       collector,
		callTimeout: cfg.CallTimeout,
	}
}

// Run executes plan, grouping decisions by product so each product's
// actions run sequentially while different products run in parallel up to
// the configured cap. It updates event status and canonical/link state as
// side effects complete. Outcomes that required no dispatch are applied
// directly.
func (d *Dispatcher) Run(ctx context.Context, plan reconcile.Plan) error {
	for _, o := range plan.Outcomes {
		if err := d.store.UpdateEventStatus(ctx, o.EventID, o.Status, o.Notes); err != nil {
			return err
		}
	}

	byProduct := make(map[int64][]reconcile.Decision)
	var order []int64
	for _, dec := range plan.Decisions {
		if _, ok := byProduct[dec.ProductID]; !ok {
			order = append(order, dec.ProductID)
		}
		byProduct[dec.ProductID] = append(byProduct[dec.ProductID], dec)
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, productID := range order {
		decisions := byProduct[productID]
		if err := d.sem.Acquire(gctx, 1); err != nil {
			return &errs.FatalError{Op: "dispatch.Run", Err: err}
		}
		group.Go(func() error {
			defer d.sem.Release(1)
			return d.runProductChain(gctx, decisions)
		})
	}
	return group.Wait()
}

// runProductChain executes decisions for one product in order. A failed
// action never stops the chain: every queued decision is attempted and its
// outcome recorded on its event; only a failure to persist an event status
// ends the chain early.
func (d *Dispatcher) runProductChain(ctx context.Context, decisions []reconcile.Decision) error {
	for _, dec := range decisions {
		notes := model.EventNotes{Attempts: map[model.PlatformTag]model.Attempt{}}
		result, err := d.execute(ctx, dec)
		status := model.EventProcessed
		switch {
		case err == nil:
			notes.Attempts[dec.Action.Platform] = model.Attempt{Outcome: "ok", Timestamp: now()}
		case isTransient(err):
			status = model.EventPartial
			notes.Attempts[dec.Action.Platform] = model.Attempt{Outcome: "transient", Reason: err.Error(), Timestamp: now()}
		case isNotFound(err):
			status = model.EventProcessed
			notes.Attempts[dec.Action.Platform] = model.Attempt{Outcome: "skipped", Reason: "already absent remotely", Timestamp: now()}
		default:
			status = model.EventError
			notes.Attempts[dec.Action.Platform] = model.Attempt{Outcome: "permanent", Reason: errString(err), Timestamp: now()}
		}

		if err == nil || isNotFound(err) {
			d.applyLocalState(ctx, dec, result)
		}

		if err := d.store.UpdateEventStatus(ctx, dec.EventID, status, notes); err != nil {
			return err
		}
		if d.stats != nil {
			d.stats.RecordAction(dec.Action.Platform, string(dec.Action.Op.String()), err == nil)
		}
	}
	return nil
}

// applyLocalState writes the effect of a successfully dispatched action back
// onto the authoritative PlatformLink (spec §3: PlatformLink.status "is the
// authoritative canonical view of what that marketplace currently shows").
// Best-effort: lookup and UpdatePlatformLink errors are ignored and never
// abort the chain.
func (d *Dispatcher) applyLocalState(ctx context.Context, dec reconcile.Decision, result crud.Arg) {
	if dec.Action.Op == crud.OpCreateListing {
		cr, ok := result.(platform.CreateResult)
		if !ok {
			return
		}
		link, err := d.store.GetPlatformLink(ctx, dec.ProductID, dec.Action.Platform)
		if err != nil || link == nil {
			return
		}
		extID := cr.ExternalID
		link.ExternalID = &extID
		link.ListingURL = cr.ListingURL
		link.Status = model.LinkActive
		link.SyncStatus = model.SyncSynced
		link.LastSync = now()
		_ = d.store.UpdatePlatformLink(ctx, link)
		return
	}

	link, err := d.store.GetPlatformLink(ctx, dec.ProductID, dec.Action.Platform)
	if err != nil || link == nil {
		return
	}
	link.LastSync = now()
	link.SyncStatus = model.SyncSynced

	switch dec.Action.Op {
	case crud.OpMarkAsSold:
		link.Status = model.LinkSold
	case crud.OpUpdateQuantity, crud.OpEndListing:
		if qp, ok := dec.Action.Payload.(crud.QuantityPayload); ok && qp.NewQty == 0 {
			link.Status = model.LinkEnded
		}
	case crud.OpApplyEdit:
		if er, ok := result.(platform.EditResult); ok && er.ListingURL != "" {
			link.ListingURL = er.ListingURL
		}
	}
	_ = d.store.UpdatePlatformLink(ctx, link)
}

func (d *Dispatcher) execute(ctx context.Context, dec reconcile.Decision) (crud.Arg, error) {
	key := common.IdempotencyKey(dec.Action.Platform, externalIDOf(dec.Action.Payload), dec.Action.Op.String())
	if d.idempotency != nil {
		if applied, err := d.idempotency.Get(ctx, key).Result(); err == nil && applied == "1" {
			return nil, nil
		}
	}

	var result crud.Arg
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
		r, err := d.registry.Do(callCtx, dec.Action.Platform, dec.Action.Op, dec.Action.Payload)
		if err != nil {
			if isTransient(err) {
				return err // retryable by backoff
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return nil, perm.Err
		}
		return nil, err
	}

	if d.idempotency != nil {
		d.idempotency.Set(ctx, key, "1", 24*time.Hour)
	}
	return result, nil
}

func externalIDOf(payload crud.Arg) string {
	switch p := payload.(type) {
	case *string:
		if p == nil {
			return ""
		}
		return *p
	case crud.PricePayload:
		if p.ExternalID == nil {
			return ""
		}
		return *p.ExternalID
	case crud.QuantityPayload:
		if p.ExternalID == nil {
			return ""
		}
		return *p.ExternalID
	default:
		return ""
	}
}

func isTransient(err error) bool {
	var t *errs.TransientError
	return errors.As(err, &t)
}

func isNotFound(err error) bool {
	var nf *errs.NotFoundError
	return errors.As(err, &nf)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func now() time.Time { return time.Now().UTC() }

// platformActions adapts one platform.Adapter into the crud.Actions
// surface the registry dispatches through.
type platformActions struct {
	adapter platform.Adapter
}

// NewPlatformActions wraps an Adapter as crud.Actions for registration.
func NewPlatformActions(a platform.Adapter) crud.Actions {
	return &platformActions{adapter: a}
}

func (p *platformActions) Do(ctx context.Context, op crud.Op, payload crud.Arg) (crud.Arg, error) {
	switch op {
	case crud.OpMarkAsSold:
		extID, _ := payload.(*string)
		if extID == nil {
			return nil, &errs.PermanentError{Op: "dispatch.MarkAsSold", Reason: "no external id"}
		}
		return nil, p.adapter.MarkAsSold(ctx, *extID)
	case crud.OpUpdatePrice:
		pp, ok := payload.(crud.PricePayload)
		if !ok || pp.ExternalID == nil {
			return nil, &errs.PermanentError{Op: "dispatch.UpdatePrice", Reason: "bad payload"}
		}
		return nil, p.adapter.UpdatePrice(ctx, *pp.ExternalID, pp.NewPrice)
	case crud.OpUpdateQuantity, crud.OpEndListing:
		qp, ok := payload.(crud.QuantityPayload)
		if !ok || qp.ExternalID == nil {
			return nil, &errs.PermanentError{Op: "dispatch.UpdateQuantity", Reason: "bad payload"}
		}
		return nil, p.adapter.UpdateQuantity(ctx, *qp.ExternalID, qp.NewQty, platform.QuantityHints{IsZero: qp.NewQty == 0})
	case crud.OpCreateListing:
		cp, ok := payload.(crud.CreatePayload)
		if !ok || cp.Product == nil {
			return nil, &errs.PermanentError{Op: "dispatch.CreateListing", Reason: "bad payload"}
		}
		result, err := p.adapter.CreateListing(ctx, cp.Product, cp.Enriched)
		if err != nil {
			return nil, err
		}
		return result, nil
	case crud.OpApplyEdit:
		ep, ok := payload.(crud.EditPayload)
		if !ok || ep.Product == nil || ep.Link == nil {
			return nil, &errs.PermanentError{Op: "dispatch.ApplyProductEdit", Reason: "bad payload"}
		}
		result, err := p.adapter.ApplyProductEdit(ctx, ep.Product, ep.Link, ep.Changed)
		if err != nil {
			return nil, err
		}
		return result, nil
	default:
		return nil, &errs.PermanentError{Op: "dispatch.Do", Reason: "unsupported op " + op.String()}
	}
}
