package mesh

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// TopologyStats summarizes a mesh for the inspect command.
type TopologyStats struct {
	Vertices      int     `json:"vertices"`
	Faces         int     `json:"faces"`
	Edges         int     `json:"edges"`
	Components    int     `json:"components"`
	BoundaryLoops int     `json:"boundaryLoops"`
	Genus         int     `json:"genus"`
	Area          float64 `json:"area"`
	Volume        float64 `json:"volume"`
}

// Analyze computes all topology statistics of m.
func Analyze(m *TriangleMesh) TopologyStats {
	return TopologyStats{
		Vertices:      len(m.Vertices),
		Faces:         len(m.Faces),
		Edges:         len(edgeFaceCounts(m)),
		Components:    len(ConnectedComponents(m)),
		BoundaryLoops: len(BoundaryLoops(m)),
		Genus:         Genus(m),
		Area:          m.Area(),
		Volume:        Volume(m),
	}
}

// Volume returns the signed enclosed volume (positive for outward-facing
// triangles). Only meaningful for closed meshes.
func Volume(m *TriangleMesh) float64 {
	var v float64
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		v += a.Dot(b.Cross(c))
	}
	return v / 6
}

// ConnectedComponents groups the vertices used by faces into edge-connected
// sets. Each set is sorted; sets are ordered by their smallest vertex.
// Vertices that no face references are ignored.
func ConnectedComponents(m *TriangleMesh) [][]int {
	g := simple.NewUndirectedGraph()
	for _, f := range m.Faces {
		for i := 0; i < 3; i++ {
			a, b := f[i], f[(i+1)%3]
			if g.Node(int64(a)) == nil {
				g.AddNode(simple.Node(a))
			}
			if a != b {
				g.SetEdge(simple.Edge{F: simple.Node(a), T: simple.Node(b)})
			}
		}
	}

	var components [][]int
	for _, cc := range topo.ConnectedComponents(g) {
		ids := make([]int, len(cc))
		for i, n := range cc {
			ids[i] = int(n.ID())
		}
		sort.Ints(ids)
		components = append(components, ids)
	}
	sort.Slice(components, func(i, j int) bool { return components[i][0] < components[j][0] })
	return components
}

type edgeKey [2]int

func undirected(a, b int) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// edgeFaceCounts maps every undirected edge to the number of faces using it.
func edgeFaceCounts(m *TriangleMesh) map[edgeKey]int {
	counts := make(map[edgeKey]int, len(m.Faces)*3/2)
	for _, f := range m.Faces {
		for i := 0; i < 3; i++ {
			a, b := f[i], f[(i+1)%3]
			if a != b {
				counts[undirected(a, b)]++
			}
		}
	}
	return counts
}

// BoundaryLoops returns the closed chains of edges that belong to exactly one
// face, each as an ordered list of vertex indices following face orientation.
func BoundaryLoops(m *TriangleMesh) [][]int {
	counts := edgeFaceCounts(m)
	next := map[int][]int{}
	for _, f := range m.Faces {
		for i := 0; i < 3; i++ {
			a, b := f[i], f[(i+1)%3]
			if a != b && counts[undirected(a, b)] == 1 {
				next[a] = append(next[a], b)
			}
		}
	}

	starts := make([]int, 0, len(next))
	for v := range next {
		starts = append(starts, v)
	}
	sort.Ints(starts)

	var loops [][]int
	for _, start := range starts {
		for len(next[start]) > 0 {
			loop := []int{start}
			cur := start
			for {
				outs := next[cur]
				if len(outs) == 0 {
					break
				}
				to := outs[0]
				next[cur] = outs[1:]
				if to == start {
					break
				}
				loop = append(loop, to)
				cur = to
			}
			loops = append(loops, loop)
		}
	}
	return loops
}

// Genus returns the number of handles, from the Euler characteristic
// V - E + F = 2C - 2g - B over the vertices faces actually use.
func Genus(m *TriangleMesh) int {
	used := map[int]bool{}
	for _, f := range m.Faces {
		for _, v := range f {
			used[v] = true
		}
	}
	euler := len(used) - len(edgeFaceCounts(m)) + len(m.Faces)
	c := len(ConnectedComponents(m))
	b := len(BoundaryLoops(m))
	return (2*c - b - euler) / 2
}
