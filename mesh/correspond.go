package mesh

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
)

// FindCorrespondences pairs each sampled point (points[i] for i in indices) with its
// nearest neighbour in the index. With workers > 1 the queries run on that many
// goroutines; the output order always matches indices.
func FindCorrespondences(index *KDIndex, points []r3.Vector, indices []int, workers int) ([]Correspondence, error) {
	if index == nil || index.Len() == 0 {
		return nil, degenerateErrorf("no destination points to match against")
	}
	for _, i := range indices {
		if i < 0 || i >= len(points) {
			return nil, fmt.Errorf("sample index %d out of range (%d points)", i, len(points))
		}
	}

	out := make([]Correspondence, len(indices))
	query := func(start, end int) {
		for j := start; j < end; j++ {
			src := indices[j]
			dist, dst := index.Nearest(points[src])
			out[j] = Correspondence{SourceIndex: src, DestinationIndex: dst, Distance: dist}
		}
	}

	if workers <= 1 || len(indices) < 2*workers {
		query(0, len(indices))
		return out, nil
	}

	chunk := (len(indices) + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < len(indices); start += chunk {
		start, end := start, min(start+chunk, len(indices))
		g.Go(func() error {
			query(start, end)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// FilterOutliers keeps correspondences whose distance is strictly below k times the
// median distance of this batch. Kept entries are also marked Inlier in corr.
// When every distance is zero the median is zero and nothing is kept.
func FilterOutliers(corr []Correspondence, k float64) (inliers []Correspondence, median float64, err error) {
	if k <= 0 {
		return nil, 0, configErrorf("k must be positive, got %v", k)
	}
	if len(corr) == 0 {
		return []Correspondence{}, 0, nil
	}

	distances := make([]float64, len(corr))
	for i, c := range corr {
		distances[i] = c.Distance
	}
	median, err = stats.Median(distances)
	if err != nil {
		return nil, 0, fmt.Errorf("median distance: %w", err)
	}

	threshold := k * median
	inliers = make([]Correspondence, 0, len(corr))
	for i := range corr {
		corr[i].Inlier = corr[i].Distance < threshold
		if corr[i].Inlier {
			inliers = append(inliers, corr[i])
		}
	}
	return inliers, median, nil
}
