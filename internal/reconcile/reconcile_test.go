package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tommytoolman/marketsync/internal/crud"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/store/memstore"
)

func strPtr(s string) *string { return &s }
func statusPtr(s model.UniversalStatus) *model.UniversalStatus { return &s }

func seedLink(t *testing.T, s *memstore.Store, productID int64, platform model.PlatformTag, externalID string) {
	t.Helper()
	require.NoError(t, s.UpdatePlatformLink(context.Background(), &model.PlatformLink{
		ProductID: productID, Platform: platform, ExternalID: strPtr(externalID), Status: model.LinkActive,
	}))
}

func TestReconcile_SoldPropagatesToOtherActivePlatforms(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	seedLink(t, s, 1, model.PlatformP1, "A100")
	seedLink(t, s, 1, model.PlatformP2, "R200")

	productID := int64(1)
	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID: "run-1", Platform: model.PlatformP1, ProductID: &productID, ExternalID: "A100",
		ChangeType: model.ChangeStatusChange, Status: model.EventPending,
		ChangeData: model.ChangeData{NewStatus: statusPtr(model.StatusSold)},
	}}))

	r := New(s, nil, nil)
	plan, err := r.Reconcile(ctx, "run-1")
	require.NoError(t, err)

	require.Len(t, plan.Decisions, 1)
	dec := plan.Decisions[0]
	require.Equal(t, model.PlatformP2, dec.Action.Platform)
	require.Equal(t, "MarkAsSold", dec.Action.Op.String())
	require.Len(t, plan.Outcomes, 1)
	require.Equal(t, model.EventProcessed, plan.Outcomes[0].Status)
}

func TestReconcile_SoldAppliesCanonicalProductState(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	productID := int64(1)
	require.NoError(t, s.UpdateProduct(ctx, &model.Product{
		ID: productID, SKU: "REV-1001", IsStockedItem: false, Quantity: 1, Status: model.ProductActive,
	}))
	seedLink(t, s, productID, model.PlatformP1, "A100")
	seedLink(t, s, productID, model.PlatformP2, "B200")

	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID: "run-1", Platform: model.PlatformP1, ProductID: &productID, ExternalID: "A100",
		ChangeType: model.ChangeStatusChange, Status: model.EventPending,
		ChangeData: model.ChangeData{NewStatus: statusPtr(model.StatusSold)},
	}}))

	r := New(s, nil, nil)
	_, err = r.Reconcile(ctx, "run-1")
	require.NoError(t, err)

	p, err := s.GetProduct(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, model.ProductSold, p.Status)
	require.Equal(t, 0, p.Quantity)
}

func TestReconcile_SoldSupersedesOtherEventsInSameGroup(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	productID := int64(1)
	require.NoError(t, s.UpdateProduct(ctx, &model.Product{
		ID: productID, SKU: "REV-1001", IsStockedItem: false, Quantity: 1, Status: model.ProductActive,
	}))
	seedLink(t, s, productID, model.PlatformP1, "A100")
	seedLink(t, s, productID, model.PlatformP2, "B200")
	seedLink(t, s, productID, model.PlatformP3, "C300")

	oldPrice := 1500.0
	newPrice := 1450.0
	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{
		{
			SyncRunID: "run-1", Platform: model.PlatformP1, ProductID: &productID, ExternalID: "A100",
			ChangeType: model.ChangeStatusChange, Status: model.EventPending,
			ChangeData: model.ChangeData{NewStatus: statusPtr(model.StatusSold)},
		},
		{
			SyncRunID: "run-1", Platform: model.PlatformP2, ProductID: &productID, ExternalID: "B200",
			ChangeType: model.ChangePrice, Status: model.EventPending,
			ChangeData: model.ChangeData{OldPrice: &oldPrice, NewPrice: &newPrice},
		},
	}))

	r := New(s, DefaultPricePolicy, nil)
	plan, err := r.Reconcile(ctx, "run-1")
	require.NoError(t, err)

	// Only the sold event's own MarkAsSold propagation decisions are
	// produced; the price event does not get its own UpdatePrice decision
	// since a status_change:sold for the same product supersedes it.
	require.Len(t, plan.Decisions, 2)
	for _, dec := range plan.Decisions {
		require.Equal(t, "MarkAsSold", dec.Action.Op.String())
	}

	// Every event in the group still reaches a terminal outcome: the sold
	// event PROCESSED, the superseded price event SKIPPED rather than left
	// PENDING forever.
	require.Len(t, plan.Outcomes, 2)
	byStatus := map[model.EventStatus]int{}
	for _, o := range plan.Outcomes {
		byStatus[o.Status]++
	}
	require.Equal(t, 1, byStatus[model.EventProcessed])
	require.Equal(t, 1, byStatus[model.EventSkipped])
}

func TestReconcile_QuantityChangeAppliesCanonicalQuantity(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	productID := int64(2)
	require.NoError(t, s.UpdateProduct(ctx, &model.Product{
		ID: productID, SKU: "BAG-1", IsStockedItem: true, Quantity: 5, Status: model.ProductActive,
	}))
	seedLink(t, s, productID, model.PlatformP1, "A1")
	seedLink(t, s, productID, model.PlatformP2, "B1")

	newQty := 3
	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID: "run-1", Platform: model.PlatformP1, ProductID: &productID, ExternalID: "A1",
		ChangeType: model.ChangeQuantityChange, Status: model.EventPending,
		ChangeData: model.ChangeData{NewQuantity: &newQty},
	}}))

	r := New(s, nil, nil)
	plan, err := r.Reconcile(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, plan.Decisions, 1)

	p, err := s.GetProduct(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, model.ProductActive, p.Status)
	require.Equal(t, 3, p.Quantity)
}

func TestReconcile_PriceFollowerCorrectedToCanonical(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	seedLink(t, s, 1, model.PlatformP2, "R200")

	productID := int64(1)
	oldPrice := 1200.0
	newPrice := 999.0
	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID: "run-1", Platform: model.PlatformP2, ProductID: &productID, ExternalID: "R200",
		ChangeType: model.ChangePrice, Status: model.EventPending,
		ChangeData: model.ChangeData{OldPrice: &oldPrice, NewPrice: &newPrice},
	}}))

	// P2 is not the price authority, so the follower gets corrected back to
	// its own old (canonical) price rather than adopting the drifted one.
	r := New(s, DefaultPricePolicy, nil)
	plan, err := r.Reconcile(ctx, "run-1")
	require.NoError(t, err)

	require.Len(t, plan.Decisions, 1)
	payload, ok := plan.Decisions[0].Action.Payload.(crud.PricePayload)
	require.True(t, ok)
	require.Equal(t, oldPrice, payload.NewPrice)
}

func TestReconcile_RemovedListingMarksLinkRemoved(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	productID := int64(3)
	seedLink(t, s, productID, model.PlatformP3, "C300")

	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID: "run-1", Platform: model.PlatformP3, ProductID: &productID, ExternalID: "C300",
		ChangeType: model.ChangeRemovedListing, Status: model.EventPending,
	}}))

	r := New(s, nil, nil)
	plan, err := r.Reconcile(ctx, "run-1")
	require.NoError(t, err)
	require.Empty(t, plan.Decisions)

	link, err := s.GetPlatformLink(ctx, productID, model.PlatformP3)
	require.NoError(t, err)
	require.Equal(t, model.LinkRemoved, link.Status)
}

func TestReconcile_StatusChangeEndedUpdatesLinkOnly(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	productID := int64(4)
	seedLink(t, s, productID, model.PlatformP1, "A400")

	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID: "run-1", Platform: model.PlatformP1, ProductID: &productID, ExternalID: "A400",
		ChangeType: model.ChangeStatusChange, Status: model.EventPending,
		ChangeData: model.ChangeData{NewStatus: statusPtr(model.StatusEnded)},
	}}))

	r := New(s, nil, nil)
	plan, err := r.Reconcile(ctx, "run-1")
	require.NoError(t, err)
	require.Empty(t, plan.Decisions)

	link, err := s.GetPlatformLink(ctx, productID, model.PlatformP1)
	require.NoError(t, err)
	require.Equal(t, model.LinkEnded, link.Status)
}

func TestReconcile_SimultaneousRemovedListingsFlagZeroActiveLinks(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	productID := int64(5)
	require.NoError(t, s.UpdateProduct(ctx, &model.Product{
		ID: productID, SKU: "REV-5", IsStockedItem: false, Quantity: 1, Status: model.ProductActive,
	}))
	seedLink(t, s, productID, model.PlatformP1, "A1")
	seedLink(t, s, productID, model.PlatformP2, "B1")

	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{
		{SyncRunID: "run-1", Platform: model.PlatformP1, ProductID: &productID, ExternalID: "A1", ChangeType: model.ChangeRemovedListing, Status: model.EventPending},
		{SyncRunID: "run-1", Platform: model.PlatformP2, ProductID: &productID, ExternalID: "B1", ChangeType: model.ChangeRemovedListing, Status: model.EventPending},
	}))

	r := New(s, nil, nil)
	plan, err := r.Reconcile(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, plan.Outcomes, 2)

	// Both links are removed; only once both removals are accounted for does
	// the zero-active-links flag appear, on whichever outcome closes it out.
	flagged := false
	for _, o := range plan.Outcomes {
		if o.Notes.Reason == "platform link marked removed; zero active links remain, flagged for review" {
			flagged = true
		}
	}
	require.True(t, flagged)

	link1, err := s.GetPlatformLink(ctx, productID, model.PlatformP1)
	require.NoError(t, err)
	require.Equal(t, model.LinkRemoved, link1.Status)
	link2, err := s.GetPlatformLink(ctx, productID, model.PlatformP2)
	require.NoError(t, err)
	require.Equal(t, model.LinkRemoved, link2.Status)
}

func TestReconcile_RemovedListingDoesNotFlagStockedItem(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	productID := int64(6)
	require.NoError(t, s.UpdateProduct(ctx, &model.Product{
		ID: productID, SKU: "BAG-6", IsStockedItem: true, Quantity: 3, Status: model.ProductActive,
	}))
	seedLink(t, s, productID, model.PlatformP1, "A6")

	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{
		{SyncRunID: "run-1", Platform: model.PlatformP1, ProductID: &productID, ExternalID: "A6", ChangeType: model.ChangeRemovedListing, Status: model.EventPending},
	}))

	r := New(s, nil, nil)
	plan, err := r.Reconcile(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, plan.Outcomes, 1)
	require.Equal(t, "platform link marked removed", plan.Outcomes[0].Notes.Reason)
}

func TestReconcile_DetectionTimeoutEventIsSkipped(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID: "run-1", Platform: model.PlatformP4, ChangeType: model.ChangeDetectionTimeout, Status: model.EventPending,
	}}))

	r := New(s, nil, nil)
	plan, err := r.Reconcile(ctx, "run-1")
	require.NoError(t, err)
	require.Empty(t, plan.Decisions)
	require.Len(t, plan.Outcomes, 1)
	require.Equal(t, model.EventSkipped, plan.Outcomes[0].Status)
}

func TestReconcile_RogueEventAwaitsMatch(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{{
		SyncRunID: "run-1", Platform: model.PlatformP2, ExternalID: "R999",
		ChangeType: model.ChangeNewListing, Status: model.EventPending,
		ChangeData: model.ChangeData{Title: "Unmatched Listing"},
	}}))

	r := New(s, nil, nil)
	plan, err := r.Reconcile(ctx, "run-1")
	require.NoError(t, err)

	require.Empty(t, plan.Decisions)
	require.Len(t, plan.Outcomes, 1)
	require.Equal(t, model.EventPending, plan.Outcomes[0].Status)
}
