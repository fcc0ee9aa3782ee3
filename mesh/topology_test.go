package mesh

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimitiveTopology(t *testing.T) {
	tests := []struct {
		name       string
		mesh       *TriangleMesh
		vertices   int
		faces      int
		components int
		loops      int
		genus      int
	}{
		{"cube", Cube(2), 8, 12, 1, 0, 0},
		{"uv sphere", UVSphere(32, 16, 1), 2 + 15*32, 2*32 + 2*32*14, 1, 0, 0},
		{"torus", Torus(48, 12, 1, 0.25), 48 * 12, 2 * 48 * 12, 1, 0, 1},
		{"height field", HeightField(16, 16, 2, Wave), 256, 2 * 15 * 15, 1, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := Analyze(tt.mesh)
			assert.Equal(t, tt.vertices, stats.Vertices)
			assert.Equal(t, tt.faces, stats.Faces)
			assert.Equal(t, tt.components, stats.Components)
			assert.Equal(t, tt.loops, stats.BoundaryLoops)
			assert.Equal(t, tt.genus, stats.Genus)
		})
	}
}

func TestVolume(t *testing.T) {
	assert.InDelta(t, 8.0, Volume(Cube(2)), 1e-12)
	assert.InDelta(t, 1.0, Volume(Cube(1)), 1e-12)

	// discretized shapes are slightly smaller than the smooth ones
	sphere := Volume(UVSphere(64, 32, 1))
	assert.InDelta(t, 4.0/3.0*math.Pi, sphere, 0.05)
	assert.Less(t, sphere, 4.0/3.0*math.Pi)

	torus := Volume(Torus(96, 24, 1, 0.25))
	assert.InDelta(t, 2*math.Pi*math.Pi*0.25*0.25, torus, 0.02)
}

func TestVolumeInvariantUnderRigidMotion(t *testing.T) {
	m := Torus(24, 8, 1, 0.3)
	moved := m.Transformed(Multiply(Translation(r3.Vector{X: 4, Y: -2, Z: 7}), AxisAngle(r3.Vector{X: 0.3, Y: 1.1, Z: -0.4})))
	assert.InDelta(t, Volume(m), Volume(moved), 1e-9)
}

func TestConnectedComponents(t *testing.T) {
	a := Cube(1)
	b := Cube(1).Transformed(Translation(r3.Vector{X: 5}))
	merged := &TriangleMesh{Vertices: append(append([]r3.Vector{}, a.Vertices...), b.Vertices...)}
	merged.Faces = append(merged.Faces, a.Faces...)
	for _, f := range b.Faces {
		merged.Faces = append(merged.Faces, [3]int{f[0] + 8, f[1] + 8, f[2] + 8})
	}
	// an unreferenced vertex does not form a component
	merged.Vertices = append(merged.Vertices, r3.Vector{X: 100})

	components := ConnectedComponents(merged)
	require.Len(t, components, 2)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, components[0])
	assert.Equal(t, []int{8, 9, 10, 11, 12, 13, 14, 15}, components[1])
	assert.Equal(t, 0, Genus(merged))
}

func TestBoundaryLoops(t *testing.T) {
	loops := BoundaryLoops(flatSquare())
	require.Len(t, loops, 1)
	assert.Equal(t, []int{0, 1, 2, 3}, loops[0])

	hf := HeightField(4, 3, 1, func(x, y float64) float64 { return 0 })
	loops = BoundaryLoops(hf)
	require.Len(t, loops, 1)
	assert.Len(t, loops[0], 2*(4+3)-4)

	assert.Empty(t, BoundaryLoops(Cube(2)))
}

func TestAnalyzeEdges(t *testing.T) {
	stats := Analyze(Cube(2))
	assert.Equal(t, 18, stats.Edges)
	assert.InDelta(t, 24.0, stats.Area, 1e-12)
	assert.InDelta(t, 8.0, stats.Volume, 1e-12)
}
