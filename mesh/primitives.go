package mesh

import (
	"math"

	"github.com/golang/geo/r3"
)

// Cube returns an axis-aligned cube centred on the origin with the given edge
// length: 8 vertices, 12 outward-facing triangles.
func Cube(size float64) *TriangleMesh {
	h := size / 2
	return &TriangleMesh{
		Vertices: []r3.Vector{
			{X: -h, Y: -h, Z: -h}, {X: h, Y: -h, Z: -h}, {X: h, Y: h, Z: -h}, {X: -h, Y: h, Z: -h},
			{X: -h, Y: -h, Z: h}, {X: h, Y: -h, Z: h}, {X: h, Y: h, Z: h}, {X: -h, Y: h, Z: h},
		},
		Faces: [][3]int{
			{0, 2, 1}, {0, 3, 2}, // -z
			{4, 5, 6}, {4, 6, 7}, // +z
			{0, 1, 5}, {0, 5, 4}, // -y
			{3, 7, 6}, {3, 6, 2}, // +y
			{0, 4, 7}, {0, 7, 3}, // -x
			{1, 2, 6}, {1, 6, 5}, // +x
		},
	}
}

// UVSphere returns a latitude/longitude sphere with the given number of
// segments (around the z axis) and rings (pole to pole).
func UVSphere(segments, rings int, radius float64) *TriangleMesh {
	segments, rings = max(segments, 3), max(rings, 2)
	m := &TriangleMesh{}
	m.Vertices = append(m.Vertices, r3.Vector{Z: radius})
	for i := 1; i < rings; i++ {
		theta := math.Pi * float64(i) / float64(rings)
		for j := 0; j < segments; j++ {
			phi := 2 * math.Pi * float64(j) / float64(segments)
			m.Vertices = append(m.Vertices, r3.Vector{
				X: radius * math.Sin(theta) * math.Cos(phi),
				Y: radius * math.Sin(theta) * math.Sin(phi),
				Z: radius * math.Cos(theta),
			})
		}
	}
	bottom := len(m.Vertices)
	m.Vertices = append(m.Vertices, r3.Vector{Z: -radius})

	ring := func(i, j int) int { return 1 + (i-1)*segments + j%segments }
	for j := 0; j < segments; j++ {
		m.Faces = append(m.Faces, [3]int{0, ring(1, j), ring(1, j+1)})
	}
	for i := 1; i < rings-1; i++ {
		for j := 0; j < segments; j++ {
			a, b, c, d := ring(i, j), ring(i+1, j), ring(i+1, j+1), ring(i, j+1)
			m.Faces = append(m.Faces, [3]int{a, b, c}, [3]int{a, c, d})
		}
	}
	for j := 0; j < segments; j++ {
		m.Faces = append(m.Faces, [3]int{bottom, ring(rings-1, j+1), ring(rings-1, j)})
	}
	return m
}

// Torus returns a torus around the z axis. major is the number of segments
// around the ring, minor the number around the tube.
func Torus(major, minor int, majorRadius, minorRadius float64) *TriangleMesh {
	major, minor = max(major, 3), max(minor, 3)
	m := &TriangleMesh{}
	for i := 0; i < major; i++ {
		u := 2 * math.Pi * float64(i) / float64(major)
		for j := 0; j < minor; j++ {
			v := 2 * math.Pi * float64(j) / float64(minor)
			r := majorRadius + minorRadius*math.Cos(v)
			m.Vertices = append(m.Vertices, r3.Vector{
				X: r * math.Cos(u),
				Y: r * math.Sin(u),
				Z: minorRadius * math.Sin(v),
			})
		}
	}
	at := func(i, j int) int { return (i%major)*minor + j%minor }
	for i := 0; i < major; i++ {
		for j := 0; j < minor; j++ {
			a, b, c, d := at(i, j), at(i+1, j), at(i+1, j+1), at(i, j+1)
			m.Faces = append(m.Faces, [3]int{a, b, c}, [3]int{a, c, d})
		}
	}
	return m
}

// HeightField samples z = f(x, y) on an nx by ny grid spanning [-size/2, size/2]
// in x and y. The result is an open surface with one boundary loop.
func HeightField(nx, ny int, size float64, f func(x, y float64) float64) *TriangleMesh {
	nx, ny = max(nx, 2), max(ny, 2)
	m := &TriangleMesh{}
	for j := 0; j < ny; j++ {
		y := -size/2 + size*float64(j)/float64(ny-1)
		for i := 0; i < nx; i++ {
			x := -size/2 + size*float64(i)/float64(nx-1)
			m.Vertices = append(m.Vertices, r3.Vector{X: x, Y: y, Z: f(x, y)})
		}
	}
	at := func(i, j int) int { return j*nx + i }
	for j := 0; j+1 < ny; j++ {
		for i := 0; i+1 < nx; i++ {
			a, b, c, d := at(i, j), at(i+1, j), at(i+1, j+1), at(i, j+1)
			m.Faces = append(m.Faces, [3]int{a, b, c}, [3]int{a, c, d})
		}
	}
	return m
}

// Wave is the default HeightField surface: asymmetric enough that every rigid
// motion changes it.
func Wave(x, y float64) float64 {
	return 0.3*math.Sin(2*x)*math.Cos(3*y) + 0.1*x*y
}
