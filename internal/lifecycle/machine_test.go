package lifecycle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"ordercore/internal/types"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to types.State
		want     bool
	}{
		{types.StateNew, types.StateAccepted, true},
		{types.StateNew, types.StateFilled, true},
		{types.StateNew, types.StateCancelled, true},
		{types.StateNew, types.StateExpired, true},
		{types.StateAccepted, types.StatePartiallyFilled, true},
		{types.StateAccepted, types.StateFilled, true},
		{types.StateAccepted, types.StateNew, false},
		{types.StatePartiallyFilled, types.StatePartiallyFilled, true},
		{types.StatePartiallyFilled, types.StateFilled, true},
		{types.StatePartiallyFilled, types.StateAccepted, false},
		{types.StatePartiallyFilled, types.StateNew, false},
		// Terminal states: self-loop only.
		{types.StateFilled, types.StateFilled, true},
		{types.StateFilled, types.StateAccepted, false},
		{types.StateFilled, types.StateCancelled, false},
		{types.StateCancelled, types.StateCancelled, true},
		{types.StateCancelled, types.StatePartiallyFilled, false},
		{types.StateExpired, types.StateExpired, true},
		{types.StateExpired, types.StateFilled, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestNormalizeStatus(t *testing.T) {
	zero := decimal.Zero
	ten := decimal.NewFromInt(10)
	five := decimal.NewFromInt(5)

	assert.Equal(t, types.StateNew, NormalizeStatus("new", zero, ten))
	assert.Equal(t, types.StateNew, NormalizeStatus("pending_new", zero, ten))
	assert.Equal(t, types.StateAccepted, NormalizeStatus("accepted", zero, ten))
	assert.Equal(t, types.StateAccepted, NormalizeStatus("replaced", zero, ten))
	assert.Equal(t, types.StateAccepted, NormalizeStatus("pending_replace", zero, ten))
	assert.Equal(t, types.StateAccepted, NormalizeStatus("pending_cancel", zero, ten))
	assert.Equal(t, types.StatePartiallyFilled, NormalizeStatus("partially_filled", five, ten))
	assert.Equal(t, types.StateFilled, NormalizeStatus("filled", ten, ten))
	assert.Equal(t, types.StateCancelled, NormalizeStatus("canceled", zero, ten))
	assert.Equal(t, types.StateCancelled, NormalizeStatus("cancelled", zero, ten))
	assert.Equal(t, types.StateExpired, NormalizeStatus("expired", zero, ten))

	// Quantity evidence wins over stale non-terminal strings.
	assert.Equal(t, types.StatePartiallyFilled, NormalizeStatus("accepted", five, ten))
	assert.Equal(t, types.StateFilled, NormalizeStatus("accepted", ten, ten))

	// Terminal strings win over partial quantities.
	assert.Equal(t, types.StateCancelled, NormalizeStatus("canceled", five, ten))

	// Unknown statuses fall back on quantities, then NEW.
	assert.Equal(t, types.StateNew, NormalizeStatus("held", zero, ten))
	assert.Equal(t, types.StatePartiallyFilled, NormalizeStatus("held", five, ten))
}
