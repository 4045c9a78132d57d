package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceTotal(t *testing.T) {
	b := Balance{Asset: "USDT", Free: 100, Locked: 25}
	assert.Equal(t, 125.0, b.Total())
}

func TestApplyDelta(t *testing.T) {
	b := Balance{Asset: "USDT", Free: 100}

	require.NoError(t, b.ApplyDelta(50))
	assert.Equal(t, 150.0, b.Free)

	require.NoError(t, b.ApplyDelta(-150))
	assert.Zero(t, b.Free)
}

func TestApplyDelta_RejectsNegativeResult(t *testing.T) {
	b := Balance{Asset: "USDT", Free: 100}

	err := b.ApplyDelta(-100.01)
	require.Error(t, err)
	assert.Equal(t, 100.0, b.Free, "rejected delta must leave the balance unchanged")
}
