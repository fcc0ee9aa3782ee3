package mesh

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomPoints(rng *rand.Rand, n int, scale float64) []r3.Vector {
	pts := make([]r3.Vector, n)
	for i := range pts {
		pts[i] = r3.Vector{
			X: (rng.Float64() - 0.5) * scale,
			Y: (rng.Float64() - 0.5) * scale,
			Z: (rng.Float64() - 0.5) * scale,
		}
	}
	return pts
}

func bruteNearest(points []r3.Vector, q r3.Vector) (float64, int) {
	best, bestIdx := math.Inf(1), -1
	for i, p := range points {
		if d := p.Sub(q).Norm(); d < best {
			best, bestIdx = d, i
		}
	}
	return best, bestIdx
}

func TestKDIndexMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	points := randomPoints(rng, 500, 10)
	index, err := NewKDIndex(points)
	require.NoError(t, err)
	assert.Equal(t, 500, index.Len())

	for i := 0; i < 200; i++ {
		q := randomPoints(rng, 1, 12)[0]
		wantDist, wantIdx := bruteNearest(points, q)
		gotDist, gotIdx := index.Nearest(q)
		assert.InDelta(t, wantDist, gotDist, 1e-12)
		assert.Equal(t, wantIdx, gotIdx)
	}
}

func TestKDIndexExactHit(t *testing.T) {
	points := Cube(2).Vertices
	index, err := NewKDIndex(points)
	require.NoError(t, err)
	for i, p := range points {
		d, idx := index.Nearest(p)
		assert.Equal(t, 0.0, d)
		assert.Equal(t, i, idx)
	}
}

func TestKDIndexDoesNotReorderInput(t *testing.T) {
	points := []r3.Vector{{X: 3}, {X: 1}, {X: 2}}
	_, err := NewKDIndex(points)
	require.NoError(t, err)
	assert.Equal(t, []r3.Vector{{X: 3}, {X: 1}, {X: 2}}, points)
}

func TestKDIndexEmpty(t *testing.T) {
	_, err := NewKDIndex(nil)
	assert.True(t, errors.Is(err, ErrDegenerateInput))
}
