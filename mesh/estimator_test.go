package mesh

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointToPointRecoversTransform(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	tests := []struct {
		name string
		want Transform
	}{
		{"identity", Identity()},
		{"translation", Translation(r3.Vector{X: 1, Y: -2, Z: 3})},
		{"small rotation", AxisAngle(r3.Vector{X: 0.01, Y: -0.005, Z: 0.008})},
		{"large rotation", Multiply(Translation(r3.Vector{X: 0.3}), AxisAngle(r3.Vector{X: 1.2, Y: 0.4, Z: -2.1}))},
		{"half turn", RotationZ(3.141592653589793)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := randomPoints(rng, 50, 4)
			dst := tt.want.ApplyAll(src)
			got, warn := PointToPointTransform(src, dst)
			assert.Nil(t, warn)
			assert.True(t, transformsClose(got, tt.want, 1e-9), "got %v want %v", got, tt.want)
			assert.True(t, got.IsRigid(1e-9))
		})
	}
}

func TestPointToPointNeverReflects(t *testing.T) {
	src := randomPoints(rand.New(rand.NewSource(32)), 30, 2)
	dst := make([]r3.Vector, len(src))
	for i, p := range src {
		dst[i] = r3.Vector{X: -p.X, Y: p.Y, Z: p.Z}
	}
	got, _ := PointToPointTransform(src, dst)
	assert.True(t, got.IsRigid(1e-9))
}

func TestPointToPointDegenerate(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		got, warn := PointToPointTransform(nil, nil)
		assert.Equal(t, Identity(), got)
		assert.Nil(t, warn)
	})
	t.Run("length mismatch", func(t *testing.T) {
		got, warn := PointToPointTransform([]r3.Vector{{}, {X: 1}}, []r3.Vector{{}})
		assert.Equal(t, Identity(), got)
		assert.Nil(t, warn)
	})
	t.Run("collinear", func(t *testing.T) {
		src := []r3.Vector{{X: 0}, {X: 1}, {X: 2}, {X: 3}}
		dst := Translation(r3.Vector{Y: 1}).ApplyAll(src)
		got, warn := PointToPointTransform(src, dst)
		require.NotNil(t, warn)
		assert.Equal(t, string(PointToPoint), warn.Estimator)
		assert.Equal(t, 1, warn.Rank)
		assert.True(t, got.IsRigid(1e-9))
		for i, p := range src {
			assert.True(t, vectorsClose(got.Apply(p), dst[i], 1e-9), "point %d", i)
		}
	})
	t.Run("single pair", func(t *testing.T) {
		got, warn := PointToPointTransform([]r3.Vector{{X: 1}}, []r3.Vector{{X: 2, Y: 1}})
		assert.NotNil(t, warn)
		assert.True(t, got.IsRigid(1e-9))
		assert.True(t, vectorsClose(got.Apply(r3.Vector{X: 1}), r3.Vector{X: 2, Y: 1}, 1e-9))
	})
}

// tiltedNormals gives every point a distinct, well-spread unit normal.
func tiltedNormals(rng *rand.Rand, n int) []r3.Vector {
	normals := make([]r3.Vector, n)
	for i := range normals {
		v := randomPoints(rng, 1, 2)[0]
		for v.Norm() < 0.1 {
			v = randomPoints(rng, 1, 2)[0]
		}
		normals[i] = v.Normalize()
	}
	return normals
}

func TestPointToPlaneTranslationIsExact(t *testing.T) {
	rng := rand.New(rand.NewSource(33))
	src := randomPoints(rng, 40, 3)
	normals := tiltedNormals(rng, 40)
	want := Translation(r3.Vector{X: 0.02, Y: -0.01, Z: 0.03})

	got, warn := PointToPlaneTransform(src, want.ApplyAll(src), normals)
	assert.Nil(t, warn)
	assert.True(t, transformsClose(got, want, 1e-9), "got %v", got)
}

func TestPointToPlaneSmallRotation(t *testing.T) {
	rng := rand.New(rand.NewSource(34))
	src := randomPoints(rng, 60, 2)
	want := Multiply(Translation(r3.Vector{X: 0.01, Y: 0.005, Z: -0.004}), AxisAngle(r3.Vector{X: 0.004, Y: -0.006, Z: 0.005}))
	normals := tiltedNormals(rng, 60)
	for i := range normals {
		normals[i] = want.ApplyRotation(normals[i])
	}

	got, warn := PointToPlaneTransform(src, want.ApplyAll(src), normals)
	assert.Nil(t, warn)
	assert.True(t, got.IsRigid(1e-9))
	assert.Less(t, got.RotationAngleTo(want), 1e-3)
	assert.Less(t, got.TranslationVector().Sub(want.TranslationVector()).Norm(), 1e-3)
}

func TestPointToPlaneRankDeficient(t *testing.T) {
	// a flat patch with shared normals only constrains z, x rotation and y rotation
	var src []r3.Vector
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			src = append(src, r3.Vector{X: float64(i), Y: float64(j)})
		}
	}
	normals := make([]r3.Vector, len(src))
	for i := range normals {
		normals[i] = r3.Vector{Z: 1}
	}
	got, warn := PointToPlaneTransform(src, Translation(r3.Vector{Z: 0.5}).ApplyAll(src), normals)
	require.NotNil(t, warn)
	assert.Equal(t, 3, warn.Rank)
	assert.True(t, got.IsRigid(1e-9))
	for _, p := range src {
		assert.InDelta(t, p.Z+0.5, got.Apply(p).Z, 1e-9)
	}
}

func TestPointToPlaneDegenerate(t *testing.T) {
	got, warn := PointToPlaneTransform(nil, nil, nil)
	assert.Equal(t, Identity(), got)
	assert.Nil(t, warn)

	got, _ = PointToPlaneTransform([]r3.Vector{{}}, []r3.Vector{{}}, nil)
	assert.Equal(t, Identity(), got)
}

func TestEstimateTransform(t *testing.T) {
	src := randomPoints(rand.New(rand.NewSource(35)), 10, 1)
	want := Translation(r3.Vector{X: 1})
	got, _, err := EstimateTransform(PointToPoint, src, want.ApplyAll(src), nil)
	require.NoError(t, err)
	assert.True(t, transformsClose(got, want, 1e-9))

	_, _, err = EstimateTransform("POINT_TO_LINE", src, src, nil)
	assert.True(t, errors.Is(err, ErrConfiguration))
}
