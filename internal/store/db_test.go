package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolBounds(t *testing.T) {
	open, idle := poolBounds(10, 5)
	assert.Equal(t, 10, open)
	assert.Equal(t, 5, idle)

	// Zero or negative settings fall back to defaults.
	open, idle = poolBounds(0, 0)
	assert.Equal(t, 10, open)
	assert.Equal(t, 5, idle)

	// Idle is clamped below the open cap.
	open, idle = poolBounds(4, 100)
	assert.Equal(t, 4, open)
	assert.Equal(t, 2, idle)

	open, idle = poolBounds(1, 0)
	assert.Equal(t, 1, open)
	assert.Equal(t, 1, idle)
}
