package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-accel/api"
)

func TestBudgetReserveAndRelease(t *testing.T) {
	b := NewBudget([]int64{4, 4})
	req, _ := api.BudgetOf(2, 2)

	require.NoError(t, b.Reserve(req))
	require.NoError(t, b.Reserve(req))
	assert.Equal(t, int64(4), b.Reserved(0))

	err := b.Reserve(req)
	assert.ErrorIs(t, err, api.ErrResourceExhausted)
	assert.Equal(t, int64(4), b.Reserved(1))

	b.Release(req)
	assert.Equal(t, int64(2), b.Reserved(0))
	require.NoError(t, b.Reserve(req))
}

func TestBudgetReserveIsAllOrNothing(t *testing.T) {
	b := NewBudget([]int64{4, 1})
	req, _ := api.BudgetOf(3, 2)

	assert.ErrorIs(t, b.Reserve(req), api.ErrResourceExhausted)
	assert.Zero(t, b.Reserved(0), "socket 0 must be rolled back")
	assert.Zero(t, b.Reserved(1))
}

func TestBudgetUnknownSocket(t *testing.T) {
	b := NewBudget([]int64{4})
	req, _ := api.BudgetOf(1, 1)
	assert.ErrorIs(t, b.Reserve(req), api.ErrInvalidArgument)
	assert.Zero(t, b.Reserved(0))
}

func TestBudgetAvailable(t *testing.T) {
	b := NewBudget([]int64{4, 8})
	req, _ := api.BudgetOf(1, 3)
	require.NoError(t, b.Reserve(req))

	assert.Equal(t, int64(3), b.Available(0))
	assert.Equal(t, int64(5), b.Available(1))
	assert.Equal(t, int64(8), b.Limit(1))
	assert.Zero(t, b.Limit(7))
	assert.Zero(t, b.Available(-1))
}
