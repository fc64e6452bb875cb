package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tommytoolman/marketsync/internal/diffengine"
	"github.com/tommytoolman/marketsync/internal/matcher"
	"github.com/tommytoolman/marketsync/internal/model"
	"github.com/tommytoolman/marketsync/internal/schema"
	"github.com/tommytoolman/marketsync/internal/store/memstore"
)

func TestWriter_Write_DedupsAgainstPending(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	w := NewWriter(s, schema.NewRegistry(), nil)

	active := model.StatusActive
	result := diffengine.Result{
		Creates: []diffengine.Change{
			{ExternalID: "C1", ChangeType: model.ChangeNewListing, Data: model.ChangeData{Title: "Test Guitar", NewStatus: &active}},
		},
	}

	n, err := w.Write(ctx, model.PlatformP2, "run-1", result)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Second write with the same external id + change type must be a no-op:
	// the row is still PENDING so the dedup key still matches.
	n, err = w.Write(ctx, model.PlatformP2, "run-2", result)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestWriter_Write_AttachesMatchCandidate(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)

	candidateFn := func(ctx context.Context) ([]matcher.Candidate, error) {
		return []matcher.Candidate{
			{Product: &model.Product{ID: 7, Title: "Fender Stratocaster 1965", Brand: "Fender", ModelName: "Stratocaster"}},
		}, nil
	}
	w := NewWriter(s, schema.NewRegistry(), candidateFn)

	active := model.StatusActive
	result := diffengine.Result{
		Creates: []diffengine.Change{
			{ExternalID: "C2", ChangeType: model.ChangeNewListing, Data: model.ChangeData{Title: "1965 Fender Stratocaster", NewStatus: &active}},
		},
	}

	n, err := w.Write(ctx, model.PlatformP1, "run-1", result)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// S3: a confident match candidate is attached for operator review but
	// never auto-assigns product_id — the event stays a rogue listing until
	// a human or a later run confirms the link.
	events, err := s.ListEventsByStatus(ctx, model.EventPending, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Nil(t, events[0].ProductID)
	require.NotNil(t, events[0].ChangeData.MatchCandidate)
	require.Equal(t, int64(7), events[0].ChangeData.MatchCandidate.ProductID)
}
