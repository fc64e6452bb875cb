package cli

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tommytoolman/marketsync/internal/matcher"
)

func TestCheckSchemaVersion_EmptySkipsCheck(t *testing.T) {
	require.NoError(t, checkSchemaVersion(""))
}

func TestCheckSchemaVersion_AcceptsCurrentAndNewer(t *testing.T) {
	require.NoError(t, checkSchemaVersion("1.0.0"))
	require.NoError(t, checkSchemaVersion("1.2.0"))
}

func TestCheckSchemaVersion_RejectsOlder(t *testing.T) {
	err := checkSchemaVersion("0.9.0")
	require.Error(t, err)
}

func TestCheckSchemaVersion_RejectsUnparseable(t *testing.T) {
	err := checkSchemaVersion("not-a-version")
	require.Error(t, err)
}

func TestMatcherThreshold_FallsBackToDefault(t *testing.T) {
	require.Equal(t, matcher.MinConfidence, matcherThreshold(0))
	require.Equal(t, matcher.MinConfidence, matcherThreshold(-5))
}

func TestMatcherThreshold_UsesConfiguredValue(t *testing.T) {
	require.Equal(t, 75, matcherThreshold(75))
}
