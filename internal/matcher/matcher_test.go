package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tommytoolman/marketsync/internal/model"
)

func TestSuggest_StrongBrandModelMatch(t *testing.T) {
	candidates := []Candidate{
		{Product: &model.Product{ID: 1, Title: "Gibson Les Paul Standard", Brand: "Gibson", ModelName: "Les Paul Standard"}},
		{Product: &model.Product{ID: 2, Title: "Fender Stratocaster 1965 Sunburst", Brand: "Fender", ModelName: "Stratocaster"}},
	}

	got, ok := Suggest("1965 Fender Stratocaster Sunburst", candidates)
	assert := assert.New(t)
	assert.True(ok)
	assert.Equal(int64(2), got.ProductID)
	assert.GreaterOrEqual(got.Confidence, MinConfidence)
}

func TestSuggest_NoCandidatesClearThreshold(t *testing.T) {
	candidates := []Candidate{
		{Product: &model.Product{ID: 1, Title: "Yamaha Digital Piano", Brand: "Yamaha", ModelName: "P-125"}},
	}
	_, ok := Suggest("1965 Fender Stratocaster Sunburst", candidates)
	assert.False(t, ok)
}

func TestSuggest_EmptyCandidates(t *testing.T) {
	_, ok := Suggest("anything", nil)
	assert.False(t, ok)
}
