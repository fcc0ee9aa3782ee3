// Package mesh registers triangle meshes and point clouds with Iterative Closest Point,
// and carries the supporting pieces around it: mesh loading, topology statistics,
// previews, and the transports used by the meshalign service.
package mesh

import (
	"strconv"

	"github.com/golang/geo/r3"
)

// DistanceMetric selects the transform estimator used each ICP iteration.
type DistanceMetric string

const (
	PointToPoint DistanceMetric = "POINT_TO_POINT"
	PointToPlane DistanceMetric = "POINT_TO_PLANE"
)

// SamplingStrategy selects how source points are chosen each iteration.
type SamplingStrategy string

const (
	SamplingUniform       SamplingStrategy = "UNIFORM"
	SamplingFarthestPoint SamplingStrategy = "FARTHEST_POINT"
	SamplingNormalSpace   SamplingStrategy = "NORMAL_SPACE"
)

// NormalBinning selects how normal-space sampling buckets normals.
type NormalBinning string

const (
	// BinningAngular buckets normals by polar and azimuthal angle.
	BinningAngular NormalBinning = "ANGULAR"
	// BinningKMeans clusters normals with k-means. The clustering library seeds
	// its own centroids, so results are not reproducible from the sampler's rng.
	BinningKMeans NormalBinning = "KMEANS"
)

// TerminalState is the state of a registration run.
type TerminalState string

const (
	StateRunning   TerminalState = "RUNNING"
	StateConverged TerminalState = "CONVERGED"
	StateExhausted TerminalState = "EXHAUSTED"
)

// PointCloud is an ordered set of positions with optional index-aligned unit normals.
type PointCloud struct {
	Positions []r3.Vector `json:"positions"`
	Normals   []r3.Vector `json:"normals,omitempty"`
}

// TriangleMesh is an indexed triangle mesh.
type TriangleMesh struct {
	Vertices []r3.Vector `json:"vertices"`
	Faces    [][3]int    `json:"faces"`
}

// Correspondence pairs a sampled source point with its nearest destination point.
type Correspondence struct {
	SourceIndex      int     `json:"sourceIndex"`
	DestinationIndex int     `json:"destinationIndex"`
	Distance         float64 `json:"distance"`
	Inlier           bool    `json:"inlier"`
}

// IterationStats records what one ICP iteration saw.
type IterationStats struct {
	Iteration       int     `json:"iteration"`
	SampleSize      int     `json:"sampleSize"`
	Correspondences int     `json:"correspondences"`
	Inliers         int     `json:"inliers"`
	Median          float64 `json:"median"`
	Threshold       float64 `json:"threshold"`
	Applied         bool    `json:"applied"`
}

// RegistrationRequest asks the service to register one file onto another.
type RegistrationRequest struct {
	ID          string              `json:"id,omitempty"`
	Source      string              `json:"source"`
	Destination string              `json:"destination"`
	Overrides   *RegistrationConfig `json:"overrides,omitempty"`
}

// RegistrationRecord is the persisted outcome of one registration.
type RegistrationRecord struct {
	ID          string                        `json:"id"`
	Source      string                        `json:"source"`
	Destination string                        `json:"destination"`
	Config      RegistrationConfig            `json:"config"`
	State       TerminalState                 `json:"state"`
	Iterations  int                           `json:"iterations"`
	Transforms  []Transform                   `json:"transforms"`
	Net         Transform                     `json:"net"`
	Warnings    []NumericalInstabilityWarning `json:"warnings,omitempty"`
	Error       string                        `json:"error,omitempty"`
	DurationMs  int64                         `json:"durationMs"`
	Timestamp   int64                         `json:"timestamp"`
}

// Status returns the operator-facing summary of a record.
func (r *RegistrationRecord) Status() string {
	switch {
	case r.Error != "":
		return "Rigid registration failed with error '" + r.Error + "'"
	case r.State == StateConverged:
		return "Converged in " + strconv.Itoa(r.Iterations) + " iterations"
	default:
		return "Failed to converge after " + strconv.Itoa(r.Iterations) + " iterations"
	}
}
