// Package onboard pushes a product's DRAFT platform links live. A DRAFT
// PlatformLink (spec §3: "external_id ... nullable while a listing is being
// created") records the seller's intent to list a product on a platform it
// isn't on yet; unlike internal/reconcile, which only ever reacts to drift
// between two already-published listings, creating a brand-new listing is
// something an operator explicitly asks for, so it runs through its own
// small executor rather than the SyncEvent-keyed reconcile/dispatch
// pipeline.
package onboard

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tommytoolman/marketsync/internal/categorymap"
	"github.com/tommytoolman/marketsync/internal/crud"
	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
	"github.com/tommytoolman/marketsync/internal/store"
)

// Pusher creates DRAFT listings on their target platforms.
type Pusher struct {
	store      store.Store
	registry   *crud.Registry
	categories *categorymap.Map
}

// New builds a Pusher. categories may be nil, in which case CreateListing
// receives the product's raw category string unmapped.
func New(s store.Store, registry *crud.Registry, categories *categorymap.Map) *Pusher {
	return &Pusher{store: s, registry: registry, categories: categories}
}

// Result reports what happened when pushing one DRAFT link live.
type Result struct {
	Platform model.PlatformTag
	Err      error
}

// Push creates a listing for every DRAFT PlatformLink belonging to
// productID, promoting each to ACTIVE with its new ExternalID on success.
// A platform whose CreateListing call fails is reported in the returned
// slice and left DRAFT for a later retry; Push never aborts early.
func (p *Pusher) Push(ctx context.Context, productID int64) ([]Result, error) {
	product, err := p.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, &errs.FatalError{Op: "onboard.Push", Err: errors.New("unknown product")}
	}

	links, err := p.store.LinksForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, link := range links {
		if link.Status != model.LinkDraft {
			continue
		}
		results = append(results, p.pushOne(ctx, product, link))
	}
	return results, nil
}

func (p *Pusher) pushOne(ctx context.Context, product *model.Product, link model.PlatformLink) Result {
	enriched := platform.EnrichedContext{PolicyID: "", SellerProfile: ""}
	if p.categories != nil {
		enriched.CategoryID = p.categories.CategoryFor(product, link.Platform)
	} else {
		enriched.CategoryID = product.Category
	}

	var result crud.Arg
	op := func() error {
		r, err := p.registry.Do(ctx, link.Platform, crud.OpCreateListing, crud.CreatePayload{Product: product, Enriched: enriched})
		if err != nil {
			var t *errs.TransientError
			if errors.As(err, &t) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return Result{Platform: link.Platform, Err: perm.Err}
		}
		return Result{Platform: link.Platform, Err: err}
	}

	cr, ok := result.(platform.CreateResult)
	if !ok {
		return Result{Platform: link.Platform, Err: &errs.FatalError{Op: "onboard.Push", Err: errors.New("adapter returned no create result")}}
	}

	extID := cr.ExternalID
	updated := link
	updated.ExternalID = &extID
	updated.ListingURL = cr.ListingURL
	updated.Status = model.LinkActive
	updated.SyncStatus = model.SyncSynced
	updated.LastSync = time.Now().UTC()
	if err := p.store.UpdatePlatformLink(ctx, &updated); err != nil {
		return Result{Platform: link.Platform, Err: err}
	}
	return Result{Platform: link.Platform}
}
