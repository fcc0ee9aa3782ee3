package mesh

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindCorrespondences(t *testing.T) {
	dst := []r3.Vector{{X: 0}, {X: 10}, {X: 20}}
	index, err := NewKDIndex(dst)
	require.NoError(t, err)

	src := []r3.Vector{{X: 1}, {X: 19}, {X: 9.5}, {X: -3}}
	got, err := FindCorrespondences(index, src, []int{2, 0, 1}, 1)
	require.NoError(t, err)
	want := []Correspondence{
		{SourceIndex: 2, DestinationIndex: 1, Distance: 0.5},
		{SourceIndex: 0, DestinationIndex: 0, Distance: 1},
		{SourceIndex: 1, DestinationIndex: 2, Distance: 1},
	}
	assert.Equal(t, want, got)
}

func TestFindCorrespondencesParallelMatchesSerial(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	index, err := NewKDIndex(randomPoints(rng, 400, 10))
	require.NoError(t, err)
	src := randomPoints(rng, 1000, 10)
	indices := make([]int, 0, 700)
	for i := 999; i >= 300; i-- {
		indices = append(indices, i)
	}

	serial, err := FindCorrespondences(index, src, indices, 1)
	require.NoError(t, err)
	for _, workers := range []int{2, 3, 8} {
		parallel, err := FindCorrespondences(index, src, indices, workers)
		require.NoError(t, err)
		assert.Equal(t, serial, parallel, "workers=%d", workers)
	}
}

func TestFindCorrespondencesErrors(t *testing.T) {
	_, err := FindCorrespondences(nil, []r3.Vector{{}}, []int{0}, 1)
	assert.True(t, errors.Is(err, ErrDegenerateInput))

	index, err := NewKDIndex([]r3.Vector{{}})
	require.NoError(t, err)
	_, err = FindCorrespondences(index, []r3.Vector{{}}, []int{1}, 1)
	assert.Error(t, err)
}

func TestFilterOutliers(t *testing.T) {
	corr := []Correspondence{
		{SourceIndex: 0, Distance: 1},
		{SourceIndex: 1, Distance: 2},
		{SourceIndex: 2, Distance: 3},
		{SourceIndex: 3, Distance: 5},
		{SourceIndex: 4, Distance: 100},
	}
	inliers, median, err := FilterOutliers(corr, 2)
	require.NoError(t, err)
	assert.Equal(t, 3.0, median)
	require.Len(t, inliers, 4)
	for _, c := range inliers {
		assert.Less(t, c.Distance, 2*median)
		assert.True(t, c.Inlier)
	}
	assert.False(t, corr[4].Inlier)
	assert.True(t, corr[0].Inlier)
}

func TestFilterOutliersStrictThreshold(t *testing.T) {
	// 6 is exactly k*median and must be rejected
	corr := []Correspondence{{Distance: 2}, {Distance: 3}, {Distance: 6}}
	inliers, _, err := FilterOutliers(corr, 2)
	require.NoError(t, err)
	assert.Len(t, inliers, 2)
}

func TestFilterOutliersEqualDistances(t *testing.T) {
	t.Run("all zero rejects everything", func(t *testing.T) {
		inliers, median, err := FilterOutliers([]Correspondence{{}, {}, {}}, 2.5)
		require.NoError(t, err)
		assert.Equal(t, 0.0, median)
		assert.Empty(t, inliers)
	})
	t.Run("equal positive kept when k > 1", func(t *testing.T) {
		inliers, _, err := FilterOutliers([]Correspondence{{Distance: 1}, {Distance: 1}}, 1.5)
		require.NoError(t, err)
		assert.Len(t, inliers, 2)
	})
	t.Run("equal positive rejected when k <= 1", func(t *testing.T) {
		inliers, _, err := FilterOutliers([]Correspondence{{Distance: 1}, {Distance: 1}}, 1)
		require.NoError(t, err)
		assert.Empty(t, inliers)
	})
}

func TestFilterOutliersEdgeCases(t *testing.T) {
	inliers, median, err := FilterOutliers(nil, 2)
	require.NoError(t, err)
	assert.Empty(t, inliers)
	assert.Equal(t, 0.0, median)

	_, _, err = FilterOutliers([]Correspondence{{Distance: 1}}, 0)
	assert.True(t, errors.Is(err, ErrConfiguration))
}
