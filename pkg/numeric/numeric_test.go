package numeric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound(t *testing.T) {
	assert.Equal(t, 3.7869, Round(3.786893, 4))
	assert.Equal(t, 1.3333, Round(4.0/3.0, 4))
	assert.Equal(t, 0.5, Round(0.45, 1))
	assert.Equal(t, -2.0, Round(-1.5, 0))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-1, 0, 1))
	assert.Equal(t, 1.0, Clamp(2, 0, 1))
	assert.Equal(t, 0.4, Clamp(0.4, 0, 1))
	assert.Equal(t, 0.0, Clamp(math.NaN(), 0, 1))
}

func TestRamp(t *testing.T) {
	assert.Equal(t, 0.0, Ramp(1.0, 1.1, 4.6))
	assert.Equal(t, 1.0, Ramp(5.0, 1.1, 4.6))
	assert.InDelta(t, 0.5, Ramp(14, 3, 25), 1e-12)
}

func TestFinite(t *testing.T) {
	assert.True(t, Finite(1))
	assert.False(t, Finite(math.Inf(1)))
	assert.False(t, Finite(math.NaN()))
}
