package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameSeedSameSequence(t *testing.T) {
	a := NewSource(42)
	b := NewSource(42)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Uint64("x"), b.Uint64("x"))
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := NewSource(1)
	b := NewSource(2)
	assert.NotEqual(t, a.Uint64("x"), b.Uint64("x"))
}

func TestLabelledStreamsAreIndependent(t *testing.T) {
	a := NewSource(42)
	b := NewSource(42)

	// Interleaving draws on another label must not perturb the "x" stream.
	for i := 0; i < 10; i++ {
		a.Uint64("noise")
	}
	for i := 0; i < 20; i++ {
		require.Equal(t, b.Uint64("x"), a.Uint64("x"))
	}
}

func TestFloatRange(t *testing.T) {
	s := NewSource(7)
	for i := 0; i < 1000; i++ {
		f := s.Float("f")
		assert.GreaterOrEqual(t, f, 0.0)
		assert.Less(t, f, 1.0)
	}
}

func TestIntN(t *testing.T) {
	s := NewSource(7)
	for i := 0; i < 1000; i++ {
		n := s.IntN("n", 10)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 10)
	}
	assert.Equal(t, 0, s.IntN("n", 0))
	assert.Equal(t, 0, s.IntN("n", -5))
}

func TestAtIsPositionalAndStable(t *testing.T) {
	s := NewSource(42)
	v := s.At("tile", 99)
	// Advancing the sequential stream does not move positional reads.
	s.Uint64("tile")
	s.Uint64("tile")
	assert.Equal(t, v, s.At("tile", 99))
	assert.NotEqual(t, v, s.At("tile", 100))
}

func TestCoordCounter(t *testing.T) {
	assert.NotEqual(t, CoordCounter(1, 2), CoordCounter(2, 1))
	assert.NotEqual(t, CoordCounter(0, 1), CoordCounter(1, 0))
	assert.Equal(t, CoordCounter(3, 4), CoordCounter(3, 4))
	// Negative coordinates still map to distinct counters.
	assert.NotEqual(t, CoordCounter(-1, 5), CoordCounter(1, 5))
}

func TestNormFloatDeterministic(t *testing.T) {
	a := NewSource(5)
	b := NewSource(5)
	for i := 0; i < 10; i++ {
		require.Equal(t, a.NormFloat("g"), b.NormFloat("g"))
	}
}
