package mesh

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Transform is a row-major 4x4 homogeneous matrix acting on column vectors:
// p' = R*p + t, where R is the upper-left 3x3 block and t the last column.
type Transform [4][4]float64

// Identity returns the identity transform (no change)
func Identity() Transform {
	return Transform{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Translation creates a translation-only transform
func Translation(t r3.Vector) Transform {
	m := Identity()
	m[0][3], m[1][3], m[2][3] = t.X, t.Y, t.Z
	return m
}

// FromRotationTranslation assembles a transform from a 3x3 rotation and a translation.
// The rotation is applied first, then the translation.
func FromRotationTranslation(r [3][3]float64, t r3.Vector) Transform {
	m := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = r[i][j]
		}
	}
	m[0][3], m[1][3], m[2][3] = t.X, t.Y, t.Z
	return m
}

// RotationX creates a rotation about the X axis (radians)
func RotationX(angle float64) Transform {
	c, s := math.Cos(angle), math.Sin(angle)
	return FromRotationTranslation([3][3]float64{{1, 0, 0}, {0, c, -s}, {0, s, c}}, r3.Vector{})
}

// RotationY creates a rotation about the Y axis (radians)
func RotationY(angle float64) Transform {
	c, s := math.Cos(angle), math.Sin(angle)
	return FromRotationTranslation([3][3]float64{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}, r3.Vector{})
}

// RotationZ creates a rotation about the Z axis (radians)
func RotationZ(angle float64) Transform {
	c, s := math.Cos(angle), math.Sin(angle)
	return FromRotationTranslation([3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}, r3.Vector{})
}

// AxisAngle builds a rotation from a rotation vector whose direction is the axis
// and whose length is the angle in radians (the Rodrigues exponential map).
// A zero vector yields the identity.
func AxisAngle(v r3.Vector) Transform {
	theta := v.Norm()
	if theta == 0 {
		return Identity()
	}
	axis := v.Mul(1 / theta)
	s := math.Sin(theta / 2)
	q := quat.Number{Real: math.Cos(theta / 2), Imag: s * axis.X, Jmag: s * axis.Y, Kmag: s * axis.Z}
	return FromQuaternion(q)
}

// FromQuaternion converts a quaternion to a rotation-only transform.
// The quaternion is normalized first.
func FromQuaternion(q quat.Number) Transform {
	if n := quat.Abs(q); n > 0 && n != 1 {
		q = quat.Scale(1/n, q)
	}
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return FromRotationTranslation([3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}, r3.Vector{})
}

// Quaternion extracts the rotation block as a unit quaternion with a non-negative real part.
func (t Transform) Quaternion() quat.Number {
	m := t.Rotation()
	var q quat.Number
	trace := m[0][0] + m[1][1] + m[2][2]
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: s / 4, Imag: (m[2][1] - m[1][2]) / s, Jmag: (m[0][2] - m[2][0]) / s, Kmag: (m[1][0] - m[0][1]) / s}
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math.Sqrt(1+m[0][0]-m[1][1]-m[2][2]) * 2
		q = quat.Number{Real: (m[2][1] - m[1][2]) / s, Imag: s / 4, Jmag: (m[0][1] + m[1][0]) / s, Kmag: (m[0][2] + m[2][0]) / s}
	case m[1][1] > m[2][2]:
		s := math.Sqrt(1+m[1][1]-m[0][0]-m[2][2]) * 2
		q = quat.Number{Real: (m[0][2] - m[2][0]) / s, Imag: (m[0][1] + m[1][0]) / s, Jmag: s / 4, Kmag: (m[1][2] + m[2][1]) / s}
	default:
		s := math.Sqrt(1+m[2][2]-m[0][0]-m[1][1]) * 2
		q = quat.Number{Real: (m[1][0] - m[0][1]) / s, Imag: (m[0][2] + m[2][0]) / s, Jmag: (m[1][2] + m[2][1]) / s, Kmag: s / 4}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// Rotation returns the upper-left 3x3 block
func (t Transform) Rotation() [3][3]float64 {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = t[i][j]
		}
	}
	return r
}

// TranslationVector returns the translation column
func (t Transform) TranslationVector() r3.Vector {
	return r3.Vector{X: t[0][3], Y: t[1][3], Z: t[2][3]}
}

// Multiply composes two transforms: result = a * b.
// Applying result is equivalent to applying b first, then a.
func Multiply(a, b Transform) Transform {
	var m Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[i][k] * b[k][j]
			}
			m[i][j] = sum
		}
	}
	return m
}

// Apply transforms a point (rotation, then translation)
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: t[0][0]*p.X + t[0][1]*p.Y + t[0][2]*p.Z + t[0][3],
		Y: t[1][0]*p.X + t[1][1]*p.Y + t[1][2]*p.Z + t[1][3],
		Z: t[2][0]*p.X + t[2][1]*p.Y + t[2][2]*p.Z + t[2][3],
	}
}

// ApplyRotation transforms a direction, ignoring translation
func (t Transform) ApplyRotation(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: t[0][0]*v.X + t[0][1]*v.Y + t[0][2]*v.Z,
		Y: t[1][0]*v.X + t[1][1]*v.Y + t[1][2]*v.Z,
		Z: t[2][0]*v.X + t[2][1]*v.Y + t[2][2]*v.Z,
	}
}

// ApplyAll transforms multiple points into a freshly allocated slice
func (t Transform) ApplyAll(points []r3.Vector) []r3.Vector {
	result := make([]r3.Vector, len(points))
	for i, p := range points {
		result[i] = t.Apply(p)
	}
	return result
}

// Inverse returns the inverse of a rigid transform: [R^T | -R^T t].
func (t Transform) Inverse() Transform {
	r := t.Rotation()
	var rt [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt[i][j] = r[j][i]
		}
	}
	inv := FromRotationTranslation(rt, r3.Vector{})
	tr := inv.ApplyRotation(t.TranslationVector()).Mul(-1)
	inv[0][3], inv[1][3], inv[2][3] = tr.X, tr.Y, tr.Z
	return inv
}

// Deviation measures the element-wise difference from the identity,
// returning its Frobenius norm and its largest absolute element.
func (t Transform) Deviation() (frobenius, maxAbs float64) {
	id := Identity()
	var sum float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			d := t[i][j] - id[i][j]
			sum += d * d
			if a := math.Abs(d); a > maxAbs {
				maxAbs = a
			}
		}
	}
	return math.Sqrt(sum), maxAbs
}

// IsRigid reports whether the rotation block is orthonormal with determinant +1
// and the bottom row is [0 0 0 1], within tol.
func (t Transform) IsRigid(tol float64) bool {
	r := t.Rotation()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += r[k][i] * r[k][j]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > tol {
				return false
			}
		}
	}
	if math.Abs(det3(r)-1) > tol {
		return false
	}
	return math.Abs(t[3][0]) <= tol && math.Abs(t[3][1]) <= tol && math.Abs(t[3][2]) <= tol && math.Abs(t[3][3]-1) <= tol
}

// RotationAngleTo returns the angle (radians) of the relative rotation between t and o.
func (t Transform) RotationAngleTo(o Transform) float64 {
	a, b := t.Rotation(), o.Rotation()
	// trace(A * B^T)
	var trace float64
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			trace += a[i][k] * b[i][k]
		}
	}
	c := (trace - 1) / 2
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c)
}

// NetTransform folds a sequence of transforms into one with the same effect as
// applying them in order: net = T_last * ... * T_1.
func NetTransform(transforms []Transform) Transform {
	net := Identity()
	for _, t := range transforms {
		net = Multiply(t, net)
	}
	return net
}

func det3(m [3][3]float64) float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Centroid calculates the center of mass of a set of points
func Centroid(points []r3.Vector) r3.Vector {
	if len(points) == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}
