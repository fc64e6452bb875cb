package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tommytoolman/marketsync/internal/crud"
	"github.com/tommytoolman/marketsync/internal/dispatch"
	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/events"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
	"github.com/tommytoolman/marketsync/internal/reconcile"
	"github.com/tommytoolman/marketsync/internal/schema"
	"github.com/tommytoolman/marketsync/internal/store/memstore"
)

// fakeAdapter is an in-test double satisfying platform.Adapter, grounded in
// the same "build a tiny stub adapter for coordinator tests" shape the
// teacher's own Syncer tests use for Kong client mocks.
type fakeAdapter struct {
	tag     model.PlatformTag
	listing platform.RemoteListing
}

func (f *fakeAdapter) Name() model.PlatformTag { return f.tag }
func (f *fakeAdapter) FetchAll(ctx context.Context) ([]platform.RemoteListing, error) {
	return []platform.RemoteListing{f.listing}, nil
}
func (f *fakeAdapter) MarkAsSold(ctx context.Context, externalID string) error { return nil }
func (f *fakeAdapter) UpdatePrice(ctx context.Context, externalID string, newPrice float64) error {
	return nil
}
func (f *fakeAdapter) UpdateQuantity(ctx context.Context, externalID string, newQty int, hints platform.QuantityHints) error {
	return nil
}
func (f *fakeAdapter) CreateListing(ctx context.Context, p *model.Product, enriched platform.EnrichedContext) (platform.CreateResult, error) {
	return platform.CreateResult{}, &errs.PermanentError{Op: "fake", Reason: "not implemented"}
}
func (f *fakeAdapter) ApplyProductEdit(ctx context.Context, p *model.Product, link *model.PlatformLink, changed model.ChangedFields) (platform.EditResult, error) {
	return platform.EditResult{}, &errs.PermanentError{Op: "fake", Reason: "not implemented"}
}

var _ platform.Adapter = (*fakeAdapter)(nil)

func TestCoordinator_Run_NewListingStaysAwaitingMatch(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	adapter := &fakeAdapter{tag: model.PlatformP2, listing: platform.RemoteListing{
		ExternalID: "R1", Status: model.StatusActive, Price: 250, Title: "Rogue Listing",
	}}

	writer := events.NewWriter(s, schema.NewRegistry(), nil)
	reconciler := reconcile.New(s, nil, nil)

	registry := &crud.Registry{}
	registry.MustRegister(model.PlatformP2, dispatch.NewPlatformActions(adapter))
	dispatcher := dispatch.New(registry, s, nil, dispatch.Config{MaxConcurrency: 2})

	cfg := DefaultConfig()
	cfg.PerDetectionTaskTimeout = 5 * time.Second
	cfg.PerRunTimeout = 10 * time.Second

	coord := New(s, map[model.PlatformTag]platform.Adapter{model.PlatformP2: adapter},
		writer, reconciler, dispatcher, schema.NewRegistry(), cfg)

	run, err := coord.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, model.RunFinalized, run.State)
	require.Equal(t, 1, run.Summary.PerPlatform[model.PlatformP2].Creates)
}
