package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tommytoolman/marketsync/internal/model"
)

func TestLinksForProduct_ReturnsOnlyLinksThatExist(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	extID := "A100"
	require.NoError(t, s.UpdatePlatformLink(ctx, &model.PlatformLink{
		ProductID: 1, Platform: model.PlatformP1, ExternalID: &extID, Status: model.LinkActive,
	}))

	links, err := s.LinksForProduct(ctx, 1)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, model.PlatformP1, links[0].Platform)

	none, err := s.LinksForProduct(ctx, 2)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestGetSyncRun_UnknownReturnsNilNotError(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	run, err := s.GetSyncRun(ctx, "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, run)

	require.NoError(t, s.CreateSyncRun(ctx, &model.SyncRun{ID: "run-1", State: model.RunInit, StartedAt: time.Now()}))
	got, err := s.GetSyncRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "run-1", got.ID)
}

func TestListRecentSyncRuns_NewestFirstAndLimited(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, s.CreateSyncRun(ctx, &model.SyncRun{
			ID: id, State: model.RunFinalized, StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := s.ListRecentSyncRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-c", runs[0].ID)
	require.Equal(t, "run-b", runs[1].ID)
}

func TestListEventsByStatus_FiltersAndDedupsPending(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.InsertSyncEvents(ctx, []model.SyncEvent{
		{SyncRunID: "run-1", Platform: model.PlatformP1, ExternalID: "A1", ChangeType: model.ChangeNewListing, Status: model.EventPending},
		{SyncRunID: "run-1", Platform: model.PlatformP1, ExternalID: "A1", ChangeType: model.ChangeNewListing, Status: model.EventPending},
		{SyncRunID: "run-1", Platform: model.PlatformP2, ExternalID: "R1", ChangeType: model.ChangeNewListing, Status: model.EventPending},
	}))

	pending, err := s.ListEventsByStatus(ctx, model.EventPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2, "duplicate pending event for the same platform/external_id/change_type should be deduped on insert")

	require.NoError(t, s.UpdateEventStatus(ctx, pending[0].ID, model.EventProcessed, model.EventNotes{}))
	processed, err := s.ListEventsByStatus(ctx, model.EventProcessed, 0)
	require.NoError(t, err)
	require.Len(t, processed, 1)

	stillPending, err := s.ListEventsByStatus(ctx, model.EventPending, 0)
	require.NoError(t, err)
	require.Len(t, stillPending, 1)
}
