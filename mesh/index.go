package mesh

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// KDIndex answers nearest-neighbour queries over a fixed destination point set.
// The tree is immutable after construction and safe for concurrent queries.
type KDIndex struct {
	tree *kdtree.Tree
	size int
}

// NewKDIndex builds a 3D tree over points. Pivots are chosen by median of medians,
// so the same input always yields the same tree.
func NewKDIndex(points []r3.Vector) (*KDIndex, error) {
	if len(points) == 0 {
		return nil, degenerateErrorf("cannot index an empty point set")
	}
	items := make(indexedPoints, len(points))
	for i, p := range points {
		items[i] = indexedPoint{Vector: p, index: i}
	}
	return &KDIndex{tree: kdtree.New(items, false), size: len(points)}, nil
}

// Len returns the number of indexed points.
func (k *KDIndex) Len() int { return k.size }

// Nearest returns the Euclidean distance to, and index of, the closest indexed point.
func (k *KDIndex) Nearest(q r3.Vector) (dist float64, idx int) {
	c, d := k.tree.Nearest(indexedPoint{Vector: q, index: -1})
	if c == nil {
		return math.Inf(1), -1
	}
	return math.Sqrt(d), c.(indexedPoint).index
}

// indexedPoint remembers its position in the caller's slice, since the tree reorders points.
type indexedPoint struct {
	r3.Vector
	index int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	return p.Sub(c.(indexedPoint).Vector).Norm2()
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable        { return p[i] }
func (p indexedPoints) Len() int                             { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p indexedPoints) Pivot(d kdtree.Dim) int {
	plane := pointPlane{indexedPoints: p, Dim: d}
	return kdtree.Partition(plane, kdtree.MedianOfMedians(plane))
}

// pointPlane sorts points along one axis for pivot selection.
type pointPlane struct {
	indexedPoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	return p.indexedPoints[i].Compare(p.indexedPoints[j], p.Dim) < 0
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{indexedPoints: p.indexedPoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}
