// Package crud adapts the teacher's Op/Arg/Actions/Registry shape from
// "CRUD operations against Kong entities" to "outbound actions against a
// marketplace listing". The action dispatcher (internal/dispatch) is built
// on this the same way the teacher's diff.Syncer is built on pkg/crud.
package crud

import (
	"context"
	"fmt"

	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
)

// Op is the kind of outbound action decided by the reconciler.
type Op struct {
	name string
}

func (op Op) String() string { return op.name }

var (
	OpMarkAsSold      = Op{"MarkAsSold"}
	OpUpdatePrice     = Op{"UpdatePrice"}
	OpUpdateQuantity  = Op{"UpdateQuantity"}
	OpCreateListing   = Op{"CreateListing"}
	OpApplyEdit       = Op{"ApplyProductEdit"}
	OpEndListing      = Op{"EndListing"} // UpdateQuantity(0) on single-quantity platforms
)

// Arg is an argument to, or a result from, a dispatched action.
type Arg interface{}

// PricePayload is the Arg shape for OpUpdatePrice: the target external id
// and the price to push.
type PricePayload struct {
	ExternalID *string
	NewPrice   float64
}

// QuantityPayload is the Arg shape for OpUpdateQuantity/OpEndListing: the
// target external id and the quantity to push (0 means "end the listing"
// on single-quantity platforms).
type QuantityPayload struct {
	ExternalID *string
	NewQty     int
}

// CreatePayload is the Arg shape for OpCreateListing: a product whose
// PlatformLink on this platform has no ExternalID yet (spec §3: "external_id
// ... nullable while a listing is being created").
type CreatePayload struct {
	Product  *model.Product
	Enriched platform.EnrichedContext
}

// EditPayload is the Arg shape for OpApplyEdit: a partial edit against an
// already-created listing.
type EditPayload struct {
	Product *model.Product
	Link    *model.PlatformLink
	Changed model.ChangedFields
}

// Event is one outbound action the dispatcher must execute against a
// platform, produced by the reconciler from a SyncEvent group decision.
type Event struct {
	Op        Op
	Platform  model.PlatformTag
	EventID   int64
	ProductID int64
	Payload   Arg
}

// Registry maps a platform tag to the Actions implementation (an Adapter
// wrapper, see internal/dispatch) that executes events for it. Mirrors the
// teacher's crud.Registry but keyed on platform rather than entity kind.
type Registry struct {
	actions map[model.PlatformTag]Actions
}

// Actions is the narrow surface the dispatcher invokes per platform.
type Actions interface {
	Do(ctx context.Context, op Op, payload Arg) (Arg, error)
}

// Register associates platform with its Actions implementation.
func (r *Registry) Register(platform model.PlatformTag, a Actions) error {
	if platform == "" {
		return fmt.Errorf("platform tag cannot be empty")
	}
	if r.actions == nil {
		r.actions = make(map[model.PlatformTag]Actions)
	}
	if _, ok := r.actions[platform]; ok {
		return fmt.Errorf("platform %q is already registered", platform)
	}
	r.actions[platform] = a
	return nil
}

// MustRegister is Register but panics on error.
func (r *Registry) MustRegister(platform model.PlatformTag, a Actions) {
	if err := r.Register(platform, a); err != nil {
		panic(err)
	}
}

// Get returns the Actions registered for platform.
func (r *Registry) Get(platform model.PlatformTag) (Actions, error) {
	a, ok := r.actions[platform]
	if !ok {
		return nil, fmt.Errorf("no actions registered for platform %q", platform)
	}
	return a, nil
}

// Do looks up platform's Actions and invokes it with op/payload.
func (r *Registry) Do(ctx context.Context, platform model.PlatformTag, op Op, payload Arg) (Arg, error) {
	a, err := r.Get(platform)
	if err != nil {
		return nil, err
	}
	return a.Do(ctx, op, payload)
}

// ActionError wraps a failure executing one outbound action, mirroring the
// teacher's crud.ActionError.
type ActionError struct {
	Op        Op
	Platform  model.PlatformTag
	EventID   int64
	Err       error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s on %s for event %d failed: %v", e.Op, e.Platform, e.EventID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
