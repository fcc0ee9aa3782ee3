package mesh

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

const (
	// kabschRcond is the smallest acceptable ratio between the last and first
	// singular values of the cross-covariance matrix.
	kabschRcond = 1e-9
	// planeRcond truncates the point-to-plane system's singular values.
	planeRcond = 1e-10
)

// EstimateTransform solves for the rigid transform moving src onto dst with the
// chosen metric. dstNormals is only read for PointToPlane.
func EstimateTransform(metric DistanceMetric, src, dst, dstNormals []r3.Vector) (Transform, *NumericalInstabilityWarning, error) {
	switch metric {
	case PointToPoint:
		t, w := PointToPointTransform(src, dst)
		return t, w, nil
	case PointToPlane:
		t, w := PointToPlaneTransform(src, dst, dstNormals)
		return t, w, nil
	default:
		return Identity(), nil, configErrorf("unknown distance metric %q", metric)
	}
}

// PointToPointTransform is the Kabsch solution minimizing the summed squared distance
// between R*src_i + t and dst_i. Empty or mismatched inputs yield the identity.
// The rotation always has determinant +1; a warning is returned when the
// correspondences are too degenerate (coincident, collinear or coplanar) to pin
// it down uniquely.
func PointToPointTransform(src, dst []r3.Vector) (Transform, *NumericalInstabilityWarning) {
	n := len(src)
	if n == 0 || n != len(dst) {
		return Identity(), nil
	}

	cs, cd := Centroid(src), Centroid(dst)
	// H = sum of dst_i * src_i^T over centered points
	h := mat.NewDense(3, 3, nil)
	for i := range src {
		a := src[i].Sub(cs)
		b := dst[i].Sub(cd)
		av := [3]float64{a.X, a.Y, a.Z}
		bv := [3]float64{b.X, b.Y, b.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+bv[r]*av[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return Translation(cd.Sub(cs)), &NumericalInstabilityWarning{
			Estimator: string(PointToPoint),
			Reason:    "SVD of cross-covariance failed to converge",
		}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	var rot mat.Dense
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		// reflection: negate the last row of V^T
		for r := 0; r < 3; r++ {
			v.Set(r, 2, -v.At(r, 2))
		}
		rot.Mul(&u, v.T())
	}

	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = rot.At(i, j)
		}
	}
	t := FromRotationTranslation(r, r3.Vector{})
	t = FromRotationTranslation(r, cd.Sub(t.ApplyRotation(cs)))

	var warn *NumericalInstabilityWarning
	if values[0] == 0 || values[2] < kabschRcond*values[0] {
		rank := 0
		for _, s := range values {
			if s > kabschRcond*values[0] {
				rank++
			}
		}
		warn = &NumericalInstabilityWarning{
			Estimator: string(PointToPoint),
			Reason:    "cross-covariance is rank deficient; correspondences are coincident, collinear or coplanar",
			Rank:      rank,
		}
	}
	return t, warn
}

// PointToPlaneTransform linearizes the rotation about the identity and solves
//
//	min sum_i ((R*src_i + t - dst_i) . n_i)^2
//
// as a 6-unknown least-squares problem over the rotation vector and translation.
// Rank-deficient systems (e.g. all points on one plane) get the minimum-norm
// solution and a warning. Empty or mismatched inputs yield the identity.
func PointToPlaneTransform(src, dst, dstNormals []r3.Vector) (Transform, *NumericalInstabilityWarning) {
	n := len(src)
	if n == 0 || n != len(dst) || n != len(dstNormals) {
		return Identity(), nil
	}

	a := mat.NewDense(n, 6, nil)
	b := mat.NewVecDense(n, nil)
	for i := range src {
		nrm := dstNormals[i]
		c := src[i].Cross(nrm)
		a.SetRow(i, []float64{c.X, c.Y, c.Z, nrm.X, nrm.Y, nrm.Z})
		b.SetVec(i, nrm.Dot(dst[i].Sub(src[i])))
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return Identity(), &NumericalInstabilityWarning{
			Estimator: string(PointToPlane),
			Reason:    "SVD of the linear system failed to converge",
		}
	}
	rank := svd.Rank(planeRcond)
	if rank == 0 {
		return Identity(), &NumericalInstabilityWarning{
			Estimator: string(PointToPlane),
			Reason:    "linear system has rank zero",
		}
	}
	var x mat.VecDense
	svd.SolveVecTo(&x, b, rank)

	rot := AxisAngle(r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)})
	t := FromRotationTranslation(rot.Rotation(), r3.Vector{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)})

	var warn *NumericalInstabilityWarning
	if rank < 6 {
		warn = &NumericalInstabilityWarning{
			Estimator: string(PointToPlane),
			Reason:    fmt.Sprintf("linear system has rank %d of 6; using the minimum-norm solution", rank),
			Rank:      rank,
		}
	}
	return t, warn
}
