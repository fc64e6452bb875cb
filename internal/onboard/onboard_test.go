package onboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tommytoolman/marketsync/internal/crud"
	"github.com/tommytoolman/marketsync/internal/dispatch"
	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
	"github.com/tommytoolman/marketsync/internal/store/memstore"
)

// fakeAdapter is grounded in the same stub shape coordinator_test.go uses
// for platform.Adapter doubles.
type fakeAdapter struct {
	tag       model.PlatformTag
	createErr error
}

func (f *fakeAdapter) Name() model.PlatformTag { return f.tag }
func (f *fakeAdapter) FetchAll(ctx context.Context) ([]platform.RemoteListing, error) {
	return nil, nil
}
func (f *fakeAdapter) MarkAsSold(ctx context.Context, externalID string) error { return nil }
func (f *fakeAdapter) UpdatePrice(ctx context.Context, externalID string, newPrice float64) error {
	return nil
}
func (f *fakeAdapter) UpdateQuantity(ctx context.Context, externalID string, newQty int, hints platform.QuantityHints) error {
	return nil
}
func (f *fakeAdapter) CreateListing(ctx context.Context, p *model.Product, enriched platform.EnrichedContext) (platform.CreateResult, error) {
	if f.createErr != nil {
		return platform.CreateResult{}, f.createErr
	}
	return platform.CreateResult{ExternalID: "NEW-1", ListingURL: "https://example.test/NEW-1"}, nil
}
func (f *fakeAdapter) ApplyProductEdit(ctx context.Context, p *model.Product, link *model.PlatformLink, changed model.ChangedFields) (platform.EditResult, error) {
	return platform.EditResult{}, nil
}

func TestPush_ActivatesDraftLink(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	product := &model.Product{ID: 1, SKU: "SKU-1", Title: "1959 Les Paul", Category: "guitars", BasePrice: 1000}
	require.NoError(t, s.UpdateProduct(ctx, product))
	require.NoError(t, s.UpdatePlatformLink(ctx, &model.PlatformLink{ProductID: 1, Platform: model.PlatformP2, Status: model.LinkDraft}))

	adapter := &fakeAdapter{tag: model.PlatformP2}
	registry := &crud.Registry{}
	registry.MustRegister(model.PlatformP2, dispatch.NewPlatformActions(adapter))

	pusher := New(s, registry, nil)
	results, err := pusher.Push(ctx, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	link, err := s.GetPlatformLink(ctx, 1, model.PlatformP2)
	require.NoError(t, err)
	require.Equal(t, model.LinkActive, link.Status)
	require.Equal(t, "NEW-1", *link.ExternalID)
	require.Equal(t, model.SyncSynced, link.SyncStatus)
}

func TestPush_LeavesDraftOnPermanentFailure(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	product := &model.Product{ID: 2, SKU: "SKU-2", Title: "Strat", Category: "unmapped-category"}
	require.NoError(t, s.UpdateProduct(ctx, product))
	require.NoError(t, s.UpdatePlatformLink(ctx, &model.PlatformLink{ProductID: 2, Platform: model.PlatformP2, Status: model.LinkDraft}))

	adapter := &fakeAdapter{tag: model.PlatformP2, createErr: &errs.PermanentError{Op: "CreateListing", Reason: "unmapped category"}}
	registry := &crud.Registry{}
	registry.MustRegister(model.PlatformP2, dispatch.NewPlatformActions(adapter))

	pusher := New(s, registry, nil)
	results, err := pusher.Push(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)

	link, err := s.GetPlatformLink(ctx, 2, model.PlatformP2)
	require.NoError(t, err)
	require.Equal(t, model.LinkDraft, link.Status)
}

func TestPush_SkipsNonDraftLinks(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	product := &model.Product{ID: 3, SKU: "SKU-3", Title: "Bass", Category: "guitars"}
	require.NoError(t, s.UpdateProduct(ctx, product))
	require.NoError(t, s.UpdatePlatformLink(ctx, &model.PlatformLink{ProductID: 3, Platform: model.PlatformP1, Status: model.LinkActive}))

	pusher := New(s, &crud.Registry{}, nil)
	results, err := pusher.Push(ctx, 3)
	require.NoError(t, err)
	require.Empty(t, results)
}
