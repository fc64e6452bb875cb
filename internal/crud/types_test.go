package crud

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommytoolman/marketsync/internal/model"
)

type fixtureActions struct{ state string }

func (f fixtureActions) Do(_ context.Context, op Op, payload Arg) (Arg, error) {
	return f.state + " " + op.String(), nil
}

func TestRegistryRegister(t *testing.T) {
	var r Registry
	var a Actions = fixtureActions{"yolo"}

	require.Error(t, r.Register("", nil))
	require.NoError(t, r.Register(model.PlatformP1, a))
	require.Error(t, r.Register(model.PlatformP1, a))
}

func TestRegistryMustRegister(t *testing.T) {
	assert := assert.New(t)
	var r Registry
	var a Actions = fixtureActions{"yolo"}

	assert.Panics(func() { r.MustRegister("", nil) })
	assert.NotPanics(func() { r.MustRegister(model.PlatformP1, a) })
	assert.Panics(func() { r.MustRegister(model.PlatformP1, a) })
}

func TestRegistryDo(t *testing.T) {
	var r Registry
	r.MustRegister(model.PlatformP2, fixtureActions{"foo"})

	res, err := r.Do(context.Background(), model.PlatformP2, OpMarkAsSold, nil)
	require.NoError(t, err)
	assert.Equal(t, "foo MarkAsSold", res)

	_, err = r.Do(context.Background(), model.PlatformP3, OpMarkAsSold, nil)
	require.Error(t, err)
}
