package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tommytoolman/marketsync/internal/crud"
	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/platform"
	"github.com/tommytoolman/marketsync/internal/reconcile"
	"github.com/tommytoolman/marketsync/internal/store/memstore"
)

// fakeAdapter mirrors the stub shape used by coordinator_test.go and
// internal/onboard's tests.
type fakeAdapter struct {
	tag          model.PlatformTag
	markSoldErr  error
	updateQtyErr error
	createResult platform.CreateResult
	editResult   platform.EditResult
}

func (f *fakeAdapter) Name() model.PlatformTag { return f.tag }
func (f *fakeAdapter) FetchAll(ctx context.Context) ([]platform.RemoteListing, error) {
	return nil, nil
}
func (f *fakeAdapter) MarkAsSold(ctx context.Context, externalID string) error {
	return f.markSoldErr
}
func (f *fakeAdapter) UpdatePrice(ctx context.Context, externalID string, newPrice float64) error {
	return nil
}
func (f *fakeAdapter) UpdateQuantity(ctx context.Context, externalID string, newQty int, hints platform.QuantityHints) error {
	return f.updateQtyErr
}
func (f *fakeAdapter) CreateListing(ctx context.Context, p *model.Product, enriched platform.EnrichedContext) (platform.CreateResult, error) {
	return f.createResult, nil
}
func (f *fakeAdapter) ApplyProductEdit(ctx context.Context, p *model.Product, link *model.PlatformLink, changed model.ChangedFields) (platform.EditResult, error) {
	return f.editResult, nil
}

func strPtr(s string) *string { return &s }

func seedActiveLink(t *testing.T, s *memstore.Store, productID int64, tag model.PlatformTag, externalID string) {
	t.Helper()
	require.NoError(t, s.UpdatePlatformLink(context.Background(), &model.PlatformLink{
		ProductID: productID, Platform: tag, ExternalID: strPtr(externalID), Status: model.LinkActive,
	}))
}

func newRegistry(tag model.PlatformTag, adapter *fakeAdapter) *crud.Registry {
	r := &crud.Registry{}
	r.MustRegister(tag, NewPlatformActions(adapter))
	return r
}

func TestRun_MarkAsSoldUpdatesEventAndLink(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)
	seedActiveLink(t, s, 1, model.PlatformP2, "R200")

	productID := int64(1)
	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID: "run-1", Platform: model.PlatformP1, ProductID: &productID, ExternalID: "A100",
		ChangeType: model.ChangeStatusChange, Status: model.EventPending,
	}}))
	events, err := s.ListEventsByStatus(ctx, model.EventPending, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	adapter := &fakeAdapter{tag: model.PlatformP2}
	d := New(newRegistry(model.PlatformP2, adapter), s, nil, Config{})

	extID := "R200"
	plan := reconcile.Plan{Decisions: []reconcile.Decision{{
		EventID: events[0].ID, ProductID: 1,
		Action: crud.Event{Op: crud.OpMarkAsSold, Platform: model.PlatformP2, EventID: events[0].ID, ProductID: 1, Payload: &extID},
	}}}

	require.NoError(t, d.Run(ctx, plan))

	link, err := s.GetPlatformLink(ctx, 1, model.PlatformP2)
	require.NoError(t, err)
	require.Equal(t, model.LinkSold, link.Status)

	processed, err := s.ListEventsByStatus(ctx, model.EventProcessed, 0)
	require.NoError(t, err)
	require.Len(t, processed, 1)
}

func TestRun_TransientFailureLeavesEventPartial(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)
	seedActiveLink(t, s, 1, model.PlatformP2, "R200")

	productID := int64(1)
	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID: "run-1", Platform: model.PlatformP1, ProductID: &productID, ExternalID: "A100",
		ChangeType: model.ChangeStatusChange, Status: model.EventPending,
	}}))
	events, err := s.ListEventsByStatus(ctx, model.EventPending, 0)
	require.NoError(t, err)

	adapter := &fakeAdapter{tag: model.PlatformP2, markSoldErr: &errs.TransientError{Op: "MarkAsSold", Reason: "timeout"}}
	d := New(newRegistry(model.PlatformP2, adapter), s, nil, Config{})

	extID := "R200"
	plan := reconcile.Plan{Decisions: []reconcile.Decision{{
		EventID: events[0].ID, ProductID: 1,
		Action: crud.Event{Op: crud.OpMarkAsSold, Platform: model.PlatformP2, EventID: events[0].ID, ProductID: 1, Payload: &extID},
	}}}

	require.NoError(t, d.Run(ctx, plan))

	link, err := s.GetPlatformLink(ctx, 1, model.PlatformP2)
	require.NoError(t, err)
	require.Equal(t, model.LinkActive, link.Status, "a transient failure must not apply local state")

	partial, err := s.ListEventsByStatus(ctx, model.EventPartial, 0)
	require.NoError(t, err)
	require.Len(t, partial, 1)
}

func TestRun_NotFoundRemoteTreatedAsAlreadyApplied(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)
	seedActiveLink(t, s, 1, model.PlatformP2, "R200")

	productID := int64(1)
	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID: "run-1", Platform: model.PlatformP1, ProductID: &productID, ExternalID: "A100",
		ChangeType: model.ChangeStatusChange, Status: model.EventPending,
	}}))
	events, err := s.ListEventsByStatus(ctx, model.EventPending, 0)
	require.NoError(t, err)

	adapter := &fakeAdapter{tag: model.PlatformP2, markSoldErr: &errs.NotFoundError{Op: "MarkAsSold", ExternalID: "R200"}}
	d := New(newRegistry(model.PlatformP2, adapter), s, nil, Config{})

	extID := "R200"
	plan := reconcile.Plan{Decisions: []reconcile.Decision{{
		EventID: events[0].ID, ProductID: 1,
		Action: crud.Event{Op: crud.OpMarkAsSold, Platform: model.PlatformP2, EventID: events[0].ID, ProductID: 1, Payload: &extID},
	}}}

	require.NoError(t, d.Run(ctx, plan))

	processed, err := s.ListEventsByStatus(ctx, model.EventProcessed, 0)
	require.NoError(t, err)
	require.Len(t, processed, 1)
}

func TestRun_CreateListingActivatesLink(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)
	require.NoError(t, s.UpdatePlatformLink(ctx, &model.PlatformLink{ProductID: 1, Platform: model.PlatformP3, Status: model.LinkDraft}))

	productID := int64(1)
	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID: "run-1", Platform: model.PlatformP3, ProductID: &productID, ExternalID: "S1",
		ChangeType: model.ChangeNewListing, Status: model.EventPending,
	}}))
	events, err := s.ListEventsByStatus(ctx, model.EventPending, 0)
	require.NoError(t, err)

	adapter := &fakeAdapter{tag: model.PlatformP3, createResult: platform.CreateResult{ExternalID: "S100", ListingURL: "https://example.test/S100"}}
	d := New(newRegistry(model.PlatformP3, adapter), s, nil, Config{})

	product := &model.Product{ID: 1, SKU: "SKU-1", Title: "Jazzmaster"}
	plan := reconcile.Plan{Decisions: []reconcile.Decision{{
		EventID: events[0].ID, ProductID: 1,
		Action: crud.Event{Op: crud.OpCreateListing, Platform: model.PlatformP3, EventID: events[0].ID, ProductID: 1, Payload: crud.CreatePayload{Product: product}},
	}}}

	require.NoError(t, d.Run(ctx, plan))

	link, err := s.GetPlatformLink(ctx, 1, model.PlatformP3)
	require.NoError(t, err)
	require.Equal(t, model.LinkActive, link.Status)
	require.Equal(t, "S100", *link.ExternalID)
	require.Equal(t, "https://example.test/S100", link.ListingURL)
}
