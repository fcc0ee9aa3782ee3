package mesh

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

// SamplerOptions selects and tunes the sampling strategy.
type SamplerOptions struct {
	Strategy SamplingStrategy `json:"strategy" yaml:"sampling"`
	Binning  NormalBinning    `json:"binning,omitempty" yaml:"binning"`
	Bins     int              `json:"bins,omitempty" yaml:"bins"`
}

// DefaultSamplerOptions returns uniform sampling with 4 angular bins ready for normal-space use.
func DefaultSamplerOptions() SamplerOptions {
	return SamplerOptions{Strategy: SamplingUniform, Binning: BinningAngular, Bins: 4}
}

// Validate checks the selectors and, for normal-space sampling, the bin count.
func (o SamplerOptions) Validate() error {
	switch o.Strategy {
	case SamplingUniform, SamplingFarthestPoint:
	case SamplingNormalSpace:
		switch o.Binning {
		case "", BinningAngular, BinningKMeans:
		default:
			return configErrorf("unknown normal binning %q", o.Binning)
		}
		if o.Bins < 1 {
			return configErrorf("bins must be at least 1, got %d", o.Bins)
		}
	default:
		return configErrorf("unknown sampling strategy %q", o.Strategy)
	}
	return nil
}

// Sample picks up to count distinct indices into points. count is clamped to
// [1, len(points)]. normals may be nil; normal-space sampling then degrades to
// uniform sampling. All randomness comes from rng.
func Sample(points, normals []r3.Vector, count int, opts SamplerOptions, rng *rand.Rand) ([]int, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	n := len(points)
	if n == 0 {
		return nil, degenerateErrorf("cannot sample from an empty population")
	}
	count = clampSampleSize(count, n)

	switch opts.Strategy {
	case SamplingFarthestPoint:
		return sampleFarthest(points, count, rng), nil
	case SamplingNormalSpace:
		if len(normals) != n {
			normals = nil
		}
		bins, err := binNormals(normals, opts)
		if err != nil {
			return nil, err
		}
		return sampleNormalSpace(n, bins, count, rng), nil
	default:
		return sampleUniform(n, count, rng), nil
	}
}

func clampSampleSize(count, population int) int {
	if count < 1 {
		return 1
	}
	if count > population {
		return population
	}
	return count
}

// sampleUniform draws count distinct indices with a partial Fisher-Yates shuffle.
func sampleUniform(n, count int, rng *rand.Rand) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < count; i++ {
		j := i + rng.Intn(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm[:count]
}

// sampleFarthest seeds with a random point, then greedily adds the point farthest
// from everything selected so far.
func sampleFarthest(points []r3.Vector, count int, rng *rand.Rand) []int {
	minDist := make([]float64, len(points))
	for i := range minDist {
		minDist[i] = math.Inf(1)
	}
	selected := make([]int, 0, count)
	next := rng.Intn(len(points))
	for len(selected) < count {
		selected = append(selected, next)
		p := points[next]
		minDist[next] = -1
		best, bestDist := -1, -1.0
		for i, q := range points {
			if minDist[i] < 0 {
				continue
			}
			if d := p.Sub(q).Norm2(); d < minDist[i] {
				minDist[i] = d
			}
			if minDist[i] > bestDist {
				best, bestDist = i, minDist[i]
			}
		}
		if best < 0 {
			break
		}
		next = best
	}
	return selected
}

// sampleNormalSpace draws round-robin across the bins so every normal direction
// is represented, then pads uniformly from whatever was not picked.
func sampleNormalSpace(n int, bins [][]int, count int, rng *rand.Rand) []int {
	selected := make([]int, 0, count)
	taken := make([]bool, n)

	for _, b := range bins {
		rng.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
	}
	cursor := make([]int, len(bins))
	active := make([]int, 0, len(bins))
	for i, b := range bins {
		if len(b) > 0 {
			active = append(active, i)
		}
	}

	for len(selected) < count && len(active) > 0 {
		rng.Shuffle(len(active), func(i, j int) { active[i], active[j] = active[j], active[i] })
		remaining := active[:0]
		for _, bi := range active {
			if len(selected) < count {
				idx := bins[bi][cursor[bi]]
				cursor[bi]++
				selected = append(selected, idx)
				taken[idx] = true
			}
			if cursor[bi] < len(bins[bi]) {
				remaining = append(remaining, bi)
			}
		}
		active = remaining
	}

	if len(selected) < count {
		rest := make([]int, 0, n-len(selected))
		for i, t := range taken {
			if !t {
				rest = append(rest, i)
			}
		}
		for i := 0; len(selected) < count; i++ {
			j := i + rng.Intn(len(rest)-i)
			rest[i], rest[j] = rest[j], rest[i]
			selected = append(selected, rest[i])
		}
	}
	return selected
}

// binNormals groups point indices by normal direction. Points with a missing or
// zero-length normal are left out of every bin.
func binNormals(normals []r3.Vector, opts SamplerOptions) ([][]int, error) {
	if opts.Binning == BinningKMeans {
		return kmeansBins(normals, opts.Bins)
	}
	return angularBins(normals, opts.Bins), nil
}

// angularBins splits the sphere of directions into b polar bands and 2b azimuth sectors.
func angularBins(normals []r3.Vector, b int) [][]int {
	bins := make([][]int, b*2*b)
	for i, n := range normals {
		l := n.Norm()
		if l == 0 || math.IsNaN(l) {
			continue
		}
		u := n.Mul(1 / l)
		theta := math.Acos(math.Max(-1, math.Min(1, u.Z)))
		phi := math.Atan2(u.Y, u.X)
		ti := min(int(theta/math.Pi*float64(b)), b-1)
		si := min(int((phi+math.Pi)/(2*math.Pi)*float64(2*b)), 2*b-1)
		bin := ti*2*b + si
		bins[bin] = append(bins[bin], i)
	}
	return bins
}

// normalObservation adapts a unit normal to the clustering library.
type normalObservation struct {
	n     r3.Vector
	index int
}

func (o normalObservation) Coordinates() clusters.Coordinates {
	return clusters.Coordinates{o.n.X, o.n.Y, o.n.Z}
}

func (o normalObservation) Distance(c clusters.Coordinates) float64 {
	return o.n.Sub(r3.Vector{X: c[0], Y: c[1], Z: c[2]}).Norm2()
}

// kmeansBins clusters unit normals into at most k groups.
func kmeansBins(normals []r3.Vector, k int) ([][]int, error) {
	var obs clusters.Observations
	for i, n := range normals {
		l := n.Norm()
		if l == 0 || math.IsNaN(l) {
			continue
		}
		obs = append(obs, normalObservation{n: n.Mul(1 / l), index: i})
	}
	if len(obs) == 0 {
		return nil, nil
	}
	k = min(k, len(obs))

	km := kmeans.New()
	parts, err := km.Partition(obs, k)
	if err != nil {
		return nil, err
	}
	bins := make([][]int, 0, len(parts))
	for _, c := range parts {
		bin := make([]int, 0, len(c.Observations))
		for _, o := range c.Observations {
			bin = append(bin, o.(normalObservation).index)
		}
		bins = append(bins, bin)
	}
	return bins, nil
}
