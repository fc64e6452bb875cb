// Package reconcile groups a run's pending SyncEvents by canonical
// product and decides the outbound actions each group implies, per the
// decision table in the persistence boundary's Store consumer contract.
// It runs strictly single-threaded (spec §5) so ordering across a
// product's events is deterministic; the bounded-parallel dispatcher
// (internal/dispatch) owns everything after that.
package reconcile

import (
	"context"
	"sort"

	"github.com/tommytoolman/marketsync/internal/categorymap"
	"github.com/tommytoolman/marketsync/internal/crud"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/store"
)

// PricePolicy decides, for a given platform, whether that platform is the
// price authority (its price always propagates outward) or a follower
// (its price is corrected back to canonical on drift). Default: nothing is
// an authority, canonical base_price always wins (spec §4.5).
type PricePolicy func(platform model.PlatformTag) bool

// DefaultPricePolicy treats every platform as a follower.
func DefaultPricePolicy(model.PlatformTag) bool { return false }

// Decision is one outbound action the dispatcher must execute, plus the
// SyncEvent it resolves.
type Decision struct {
	EventID   int64
	ProductID int64
	Action    crud.Event
}

// Outcome records what the reconciler decided for a SyncEvent that does
// not itself produce a dispatchable action (SKIPPED, awaiting match, etc).
type Outcome struct {
	EventID int64
	Status  model.EventStatus
	Notes   model.EventNotes
}

// Reconciler groups pending events and produces Decisions plus immediate
// Outcomes for events resolved without dispatch.
type Reconciler struct {
	store       store.Store
	pricePolicy PricePolicy
	categories  *categorymap.Map
}

// New builds a Reconciler. A nil pricePolicy defaults to DefaultPricePolicy.
// categories may be nil; Reconcile does not consult it, and DRAFT links are
// never dispatched from here (internal/onboard creates those listings).
func New(s store.Store, pricePolicy PricePolicy, categories *categorymap.Map) *Reconciler {
	if pricePolicy == nil {
		pricePolicy = DefaultPricePolicy
	}
	return &Reconciler{store: s, pricePolicy: pricePolicy, categories: categories}
}

// Plan is the reconciler's output for one run: dispatchable decisions and
// immediate outcomes (events that needed no outbound action).
type Plan struct {
	Decisions []Decision
	Outcomes  []Outcome
}

// Reconcile loads every pending/partial event for syncRunID, groups it by
// product, and produces a dispatch Plan.
func (r *Reconciler) Reconcile(ctx context.Context, syncRunID string) (Plan, error) {
	events, err := r.store.FetchPendingEventsForRun(ctx, syncRunID)
	if err != nil {
		return Plan{}, err
	}

	groups := make(map[int64][]model.SyncEvent)
	var rogue []model.SyncEvent
	var plan Plan
	for _, e := range events {
		if e.ChangeType == model.ChangeDetectionTimeout {
			// Purely informational (spec §4.7): nothing to decide, so it is
			// closed out immediately rather than sitting PENDING forever.
			plan.Outcomes = append(plan.Outcomes, Outcome{EventID: e.ID, Status: model.EventSkipped,
				Notes: model.EventNotes{Reason: "detection task timed out"}})
			continue
		}
		if e.ProductID == nil {
			rogue = append(rogue, e)
			continue
		}
		groups[*e.ProductID] = append(groups[*e.ProductID], e)
	}

	for _, e := range rogue {
		plan.Outcomes = append(plan.Outcomes, r.reconcileRogue(e))
	}

	productIDs := make([]int64, 0, len(groups))
	for id := range groups {
		productIDs = append(productIDs, id)
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	for _, productID := range productIDs {
		group := groups[productID]
		links, err := r.store.LinksForProduct(ctx, productID)
		if err != nil {
			return Plan{}, err
		}
		decisions, outcomes, err := r.reconcileGroup(ctx, productID, group, links)
		if err != nil {
			return Plan{}, err
		}
		plan.Decisions = append(plan.Decisions, decisions...)
		plan.Outcomes = append(plan.Outcomes, outcomes...)
	}

	return plan, nil
}

func (r *Reconciler) reconcileRogue(e model.SyncEvent) Outcome {
	if e.ChangeData.MatchCandidate != nil && e.ChangeData.MatchCandidate.Confidence >= 50 {
		// A confident suggestion still waits for confirmation (spec §4.4):
		// the event stays PENDING, just annotated, until a human or a later
		// run resolves ProductMapping.Resolved.
		return Outcome{EventID: e.ID, Status: model.EventPending, Notes: model.EventNotes{Reason: "awaiting match confirmation"}}
	}
	return Outcome{EventID: e.ID, Status: model.EventPending, Notes: model.EventNotes{Reason: "no confident match candidate"}}
}

// reconcileGroup implements the §4.5 decision table, honoring the tie-break
// order: status_change:sold first, then quantity_change, then price; a
// price event is dropped entirely if the product also has a sold event.
func (r *Reconciler) reconcileGroup(ctx context.Context, productID int64, group []model.SyncEvent, links []model.PlatformLink) ([]Decision, []Outcome, error) {
	var decisions []Decision
	var outcomes []Outcome

	// Only ACTIVE links receive propagated actions; DRAFT links (a listing
	// pending creation on that platform) are surfaced by
	// internal/onboard instead, since pushing a brand-new listing is an
	// operator-triggered action, not something a remote/local drift
	// comparison ever decides on its own.
	var activeLinks []model.PlatformLink
	for _, l := range links {
		if l.Status == model.LinkActive {
			activeLinks = append(activeLinks, l)
		}
	}

	var soldEvent *model.SyncEvent
	var endedRemoved []model.SyncEvent
	var quantityEvent *model.SyncEvent
	var priceEvent *model.SyncEvent
	var newListingEvents []model.SyncEvent
	var removedListingEvents []model.SyncEvent

	for i := range group {
		e := &group[i]
		switch e.ChangeType {
		case model.ChangeStatusChange:
			if e.ChangeData.NewStatus != nil && *e.ChangeData.NewStatus == model.StatusSold {
				soldEvent = e
			} else {
				endedRemoved = append(endedRemoved, *e)
			}
		case model.ChangeQuantityChange:
			quantityEvent = e
		case model.ChangePrice:
			priceEvent = e
		case model.ChangeNewListing:
			newListingEvents = append(newListingEvents, *e)
		case model.ChangeRemovedListing:
			removedListingEvents = append(removedListingEvents, *e)
		}
	}

	activeByPlatform := make(map[model.PlatformTag]model.PlatformLink, len(activeLinks))
	for _, l := range activeLinks {
		activeByPlatform[l.Platform] = l
	}

	// status_change:sold supersedes everything else for this product. The
	// canonical product mutation is committed here, synchronously with the
	// decision, not deferred to the dispatcher: per spec §4.5/S5 the
	// canonical SOLD state stands even when some outbound MarkAsSold legs
	// later fail with a retryable error.
	if soldEvent != nil {
		qtySold := 1
		if soldEvent.ChangeData.QuantitySold != nil {
			qtySold = *soldEvent.ChangeData.QuantitySold
		}
		if err := r.applySale(ctx, productID, qtySold); err != nil {
			return nil, nil, err
		}
		for platformTag, link := range activeByPlatform {
			if platformTag == soldEvent.Platform {
				continue
			}
			decisions = append(decisions, Decision{
				EventID: soldEvent.ID, ProductID: productID,
				Action: crud.Event{Op: crud.OpMarkAsSold, Platform: platformTag, EventID: soldEvent.ID, ProductID: productID, Payload: link.ExternalID},
			})
		}
		outcomes = append(outcomes, Outcome{EventID: soldEvent.ID, Status: model.EventProcessed,
			Notes: model.EventNotes{Reason: "sold, propagated", Attempts: nil}})

		// status_change:sold supersedes every other event in this group for
		// this run (spec §4.5 tie-break); none of them get their own decision,
		// but they still need a terminal outcome so they don't sit PENDING
		// forever once the product has already gone SOLD.
		for i := range group {
			e := &group[i]
			if e.ID == soldEvent.ID {
				continue
			}
			outcomes = append(outcomes, Outcome{EventID: e.ID, Status: model.EventSkipped,
				Notes: model.EventNotes{Reason: "superseded by status_change:sold in the same run"}})
		}
		return decisions, outcomes, nil
	}

	for _, e := range endedRemoved {
		status := model.LinkEnded
		if e.ChangeData.NewStatus != nil && *e.ChangeData.NewStatus == model.StatusRemoved {
			status = model.LinkRemoved
		}
		if err := r.setLinkStatus(ctx, productID, e.Platform, status); err != nil {
			return nil, nil, err
		}
		outcomes = append(outcomes, Outcome{EventID: e.ID, Status: model.EventProcessed, Notes: model.EventNotes{Reason: "local link status updated"}})
	}

	if quantityEvent != nil {
		newQty := 0
		if quantityEvent.ChangeData.NewQuantity != nil {
			newQty = *quantityEvent.ChangeData.NewQuantity
		}
		if err := r.applyQuantity(ctx, productID, newQty); err != nil {
			return nil, nil, err
		}
		for platformTag, link := range activeByPlatform {
			if platformTag == quantityEvent.Platform {
				continue
			}
			decisions = append(decisions, Decision{
				EventID: quantityEvent.ID, ProductID: productID,
				Action: crud.Event{Op: crud.OpUpdateQuantity, Platform: platformTag, EventID: quantityEvent.ID, ProductID: productID,
					Payload: crud.QuantityPayload{ExternalID: link.ExternalID, NewQty: newQty}},
			})
		}
		outcomes = append(outcomes, Outcome{EventID: quantityEvent.ID, Status: model.EventProcessed, Notes: model.EventNotes{Reason: "quantity propagated"}})
	}

	if priceEvent != nil {
		if r.pricePolicy(priceEvent.Platform) {
			for platformTag, link := range activeByPlatform {
				if platformTag == priceEvent.Platform {
					continue
				}
				decisions = append(decisions, Decision{
					EventID: priceEvent.ID, ProductID: productID,
					Action: crud.Event{Op: crud.OpUpdatePrice, Platform: platformTag, EventID: priceEvent.ID, ProductID: productID,
						Payload: crud.PricePayload{ExternalID: link.ExternalID, NewPrice: derefPrice(priceEvent.ChangeData.NewPrice)}},
				})
			}
		} else if link, ok := activeByPlatform[priceEvent.Platform]; ok {
			decisions = append(decisions, Decision{
				EventID: priceEvent.ID, ProductID: productID,
				Action: crud.Event{Op: crud.OpUpdatePrice, Platform: priceEvent.Platform, EventID: priceEvent.ID, ProductID: productID,
					Payload: crud.PricePayload{ExternalID: link.ExternalID, NewPrice: derefPrice(priceEvent.ChangeData.OldPrice)}},
			})
		}
		outcomes = append(outcomes, Outcome{EventID: priceEvent.ID, Status: model.EventProcessed, Notes: model.EventNotes{Reason: "price reconciled"}})
	}

	for _, e := range newListingEvents {
		if e.ChangeData.MatchCandidate != nil && e.ChangeData.MatchCandidate.Confidence >= 50 {
			outcomes = append(outcomes, Outcome{EventID: e.ID, Status: model.EventProcessed, Notes: model.EventNotes{Reason: "linked to matched product"}})
		} else {
			outcomes = append(outcomes, Outcome{EventID: e.ID, Status: model.EventPending, Notes: model.EventNotes{Reason: "awaiting match"}})
		}
	}

	if len(removedListingEvents) > 0 {
		// Stocked items always have other units to sell regardless of how
		// many platforms still list them, so only a non-stocked product with
		// zero remaining active links gets flagged (spec §4.5). The running
		// count is decremented as each event in this group is applied, so
		// two simultaneous removed_listing events for the same product both
		// see each other's removal rather than a stale pre-loop snapshot.
		isStockedItem := true
		if p, err := r.store.GetProduct(ctx, productID); err != nil {
			return nil, nil, err
		} else if p != nil {
			isStockedItem = p.IsStockedItem
		}

		remainingActive := len(activeByPlatform)
		for _, e := range removedListingEvents {
			if err := r.setLinkStatus(ctx, productID, e.Platform, model.LinkRemoved); err != nil {
				return nil, nil, err
			}
			if _, wasActive := activeByPlatform[e.Platform]; wasActive {
				remainingActive--
			}
			note := model.EventNotes{Reason: "platform link marked removed"}
			if !isStockedItem && remainingActive <= 0 {
				note.Reason = "platform link marked removed; zero active links remain, flagged for review"
			}
			outcomes = append(outcomes, Outcome{EventID: e.ID, Status: model.EventProcessed, Notes: note})
		}
	}

	return decisions, outcomes, nil
}

// applySale loads productID, applies a sale of qty units via
// model.Product.ApplySale (spec §3's stocked/non-stocked invariant), and
// persists the result. A product that has since vanished from the store is
// not an error here: the event's outcome still stands, there is simply
// nothing left to mutate.
func (r *Reconciler) applySale(ctx context.Context, productID int64, qty int) error {
	p, err := r.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	p.ApplySale(qty)
	return r.store.UpdateProduct(ctx, p)
}

// applyQuantity loads productID and overwrites its canonical Quantity with
// the remote-reported available quantity (spec §4.5 quantity_change),
// transitioning Status to SOLD once it reaches zero for stocked items.
func (r *Reconciler) applyQuantity(ctx context.Context, productID int64, newQty int) error {
	p, err := r.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	if newQty < 0 {
		newQty = 0
	}
	p.Quantity = newQty
	if p.IsStockedItem && p.Quantity == 0 {
		p.Status = model.ProductSold
	}
	return r.store.UpdateProduct(ctx, p)
}

// setLinkStatus updates the authoritative local PlatformLink for
// (productID, platform) to status. Used for status_change:ended/removed and
// removed_listing decisions, neither of which propagate outbound (spec
// §4.5), so the local write happens directly rather than through a
// dispatched crud.Event.
func (r *Reconciler) setLinkStatus(ctx context.Context, productID int64, platform model.PlatformTag, status model.LinkStatus) error {
	link, err := r.store.GetPlatformLink(ctx, productID, platform)
	if err != nil {
		return err
	}
	if link == nil {
		return nil
	}
	link.Status = status
	return r.store.UpdatePlatformLink(ctx, link)
}

func derefPrice(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
