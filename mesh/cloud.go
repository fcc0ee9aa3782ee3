package mesh

import (
	"math"

	"github.com/golang/geo/r3"
)

// CloudSource is anything that can present itself as a point cloud for registration.
// Implementations return a copy the caller may modify freely.
type CloudSource interface {
	Cloud() (*PointCloud, error)
}

// Cloud returns a deep copy of the point cloud.
func (pc *PointCloud) Cloud() (*PointCloud, error) {
	if pc == nil {
		return &PointCloud{}, nil
	}
	return pc.Clone(), nil
}

// Clone deep-copies positions and normals.
func (pc *PointCloud) Clone() *PointCloud {
	out := &PointCloud{Positions: append([]r3.Vector(nil), pc.Positions...)}
	if len(pc.Normals) > 0 {
		out.Normals = append([]r3.Vector(nil), pc.Normals...)
	}
	return out
}

// Len returns the number of points.
func (pc *PointCloud) Len() int { return len(pc.Positions) }

// HasNormals reports whether every position has a normal.
func (pc *PointCloud) HasNormals() bool {
	return len(pc.Positions) > 0 && len(pc.Normals) == len(pc.Positions)
}

// Transformed returns a copy with positions moved and normals rotated by t.
func (pc *PointCloud) Transformed(t Transform) *PointCloud {
	out := &PointCloud{Positions: t.ApplyAll(pc.Positions)}
	if len(pc.Normals) > 0 {
		out.Normals = make([]r3.Vector, len(pc.Normals))
		for i, n := range pc.Normals {
			out.Normals[i] = t.ApplyRotation(n)
		}
	}
	return out
}

// Bounds returns the axis-aligned bounding box of the cloud.
func (pc *PointCloud) Bounds() (min, max r3.Vector) {
	return bounds(pc.Positions)
}

func bounds(points []r3.Vector) (min, max r3.Vector) {
	if len(points) == 0 {
		return
	}
	min = r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max = r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range points {
		min.X, max.X = math.Min(min.X, p.X), math.Max(max.X, p.X)
		min.Y, max.Y = math.Min(min.Y, p.Y), math.Max(max.Y, p.Y)
		min.Z, max.Z = math.Min(min.Z, p.Z), math.Max(max.Z, p.Z)
	}
	return
}

// Cloud converts the mesh into a point cloud: one point per vertex, with the
// normalized area-weighted sum of incident face normals as its normal.
// Vertices not referenced by any face get a zero normal.
func (m *TriangleMesh) Cloud() (*PointCloud, error) {
	if m == nil {
		return &PointCloud{}, nil
	}
	for i, f := range m.Faces {
		for _, v := range f {
			if v < 0 || v >= len(m.Vertices) {
				return nil, degenerateErrorf("face %d references vertex %d of %d", i, v, len(m.Vertices))
			}
		}
	}
	return &PointCloud{
		Positions: append([]r3.Vector(nil), m.Vertices...),
		Normals:   m.VertexNormals(),
	}, nil
}

// VertexNormals computes area-weighted vertex normals.
func (m *TriangleMesh) VertexNormals() []r3.Vector {
	normals := make([]r3.Vector, len(m.Vertices))
	for _, f := range m.Faces {
		// the unnormalized cross product has length 2*area, which is the weight
		n := m.faceCross(f)
		for _, v := range f {
			normals[v] = normals[v].Add(n)
		}
	}
	for i, n := range normals {
		if l := n.Norm(); l > 0 {
			normals[i] = n.Mul(1 / l)
		}
	}
	return normals
}

// FaceNormal returns the unit normal of face i, or zero for a degenerate face.
func (m *TriangleMesh) FaceNormal(i int) r3.Vector {
	n := m.faceCross(m.Faces[i])
	if l := n.Norm(); l > 0 {
		return n.Mul(1 / l)
	}
	return r3.Vector{}
}

// Area returns the total surface area.
func (m *TriangleMesh) Area() float64 {
	var area float64
	for _, f := range m.Faces {
		area += m.faceCross(f).Norm() / 2
	}
	return area
}

// Transformed returns a copy of the mesh with every vertex moved by t.
func (m *TriangleMesh) Transformed(t Transform) *TriangleMesh {
	return &TriangleMesh{
		Vertices: t.ApplyAll(m.Vertices),
		Faces:    append([][3]int(nil), m.Faces...),
	}
}

func (m *TriangleMesh) faceCross(f [3]int) r3.Vector {
	a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
	return b.Sub(a).Cross(c.Sub(a))
}
