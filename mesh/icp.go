package mesh

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ICPConfig holds every knob of one registration call. Nothing is read from
// package-level state; callers pass the full configuration each time.
type ICPConfig struct {
	K              float64        // Inlier threshold is K times the median correspondence distance
	NumPoints      int            // Source points sampled per iteration (clamped to the cloud size)
	MaxIterations  int            // Upper bound on accepted transforms
	Epsilon        float64        // Convergence tolerance on the deviation from identity
	DistanceMetric DistanceMetric // Estimator selection
	Sampling       SamplerOptions // Sampler selection
	Workers        int            // Parallel nearest-neighbour queries; <= 1 runs inline
	RNG            *rand.Rand     // Random source for sampling; seed it for reproducible runs
	Logger         *zap.SugaredLogger
}

// DefaultICPConfig returns the operator defaults.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		K:              2.0,
		NumPoints:      500,
		MaxIterations:  10,
		Epsilon:        0.01,
		DistanceMetric: PointToPoint,
		Sampling:       DefaultSamplerOptions(),
		Workers:        1,
		RNG:            rand.New(rand.NewSource(time.Now().UnixNano())),
		Logger:         zap.NewNop().Sugar(),
	}
}

// Validate reports every out-of-range value or unknown selector at once.
// Each reported error wraps ErrConfiguration.
func (c ICPConfig) Validate() error {
	var err error
	if c.K <= 0 {
		err = multierr.Append(err, configErrorf("k must be positive, got %v", c.K))
	}
	if c.NumPoints < 1 {
		err = multierr.Append(err, configErrorf("num_points must be at least 1, got %d", c.NumPoints))
	}
	if c.MaxIterations < 1 {
		err = multierr.Append(err, configErrorf("max_iterations must be at least 1, got %d", c.MaxIterations))
	}
	if c.Epsilon < 0 {
		err = multierr.Append(err, configErrorf("epsilon must not be negative, got %v", c.Epsilon))
	}
	switch c.DistanceMetric {
	case PointToPoint, PointToPlane:
	default:
		err = multierr.Append(err, configErrorf("unknown distance metric %q", c.DistanceMetric))
	}
	if c.Sampling.Bins < 1 {
		err = multierr.Append(err, configErrorf("bins must be at least 1, got %d", c.Sampling.Bins))
	}
	selectors := c.Sampling
	selectors.Bins = max(selectors.Bins, 1) // reported above
	err = multierr.Append(err, selectors.Validate())
	return err
}

func (c ICPConfig) logger() *zap.SugaredLogger {
	if c.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return c.Logger
}

// ICPResult is the outcome of a registration call.
type ICPResult struct {
	Transforms []Transform                   // Accepted transforms in application order
	State      TerminalState                 // StateConverged or StateExhausted
	Iterations int                           // len(Transforms)
	Warnings   []NumericalInstabilityWarning // Non-fatal estimator warnings
	Stats      []IterationStats              // One entry per attempted iteration
}

// Net returns the single transform equivalent to applying Transforms in order.
func (r ICPResult) Net() Transform {
	return NetTransform(r.Transforms)
}

// Converged reports whether t is within eps of the identity, both by Frobenius
// norm and by largest absolute element.
func Converged(t Transform, eps float64) bool {
	frob, maxAbs := t.Deviation()
	return frob < eps && maxAbs < eps
}

// Register aligns source onto destination with Iterative Closest Point.
// Configuration and degenerate-input errors are returned before any work is done.
// Running out of iterations is not an error: the result's State is StateExhausted.
// Neither input is modified.
func Register(source, destination CloudSource, config ICPConfig) (ICPResult, error) {
	if err := config.Validate(); err != nil {
		return ICPResult{}, err
	}
	log := config.logger()

	dst, err := destination.Cloud()
	if err != nil {
		return ICPResult{}, fmt.Errorf("destination: %w", err)
	}
	if dst.Len() == 0 {
		return ICPResult{}, degenerateErrorf("destination cloud is empty")
	}
	working, err := source.Cloud()
	if err != nil {
		return ICPResult{}, fmt.Errorf("source: %w", err)
	}
	if working.Len() == 0 {
		return ICPResult{}, degenerateErrorf("source cloud is empty")
	}
	if config.DistanceMetric == PointToPlane && !dst.HasNormals() {
		return ICPResult{}, degenerateErrorf("%s requires destination normals", PointToPlane)
	}

	index, err := NewKDIndex(dst.Positions)
	if err != nil {
		return ICPResult{}, err
	}
	rng := config.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	result := ICPResult{State: StateRunning, Transforms: []Transform{}}
	for len(result.Transforms) < config.MaxIterations {
		attempt := len(result.Transforms) + 1
		candidate, stats, warn, err := ClosestPointRegistration(working, dst, index, config, rng)
		stats.Iteration = attempt
		if err != nil {
			return result, fmt.Errorf("iteration %d: %w", stats.Iteration, err)
		}
		if warn != nil {
			warn.Iteration = stats.Iteration
			log.Warnw("numerical instability", "iteration", warn.Iteration, "estimator", warn.Estimator, "rank", warn.Rank, "reason", warn.Reason)
			result.Warnings = append(result.Warnings, *warn)
		}

		if Converged(candidate, config.Epsilon) {
			result.Stats = append(result.Stats, stats)
			result.State = StateConverged
			break
		}

		working = working.Transformed(candidate)
		stats.Applied = true
		result.Stats = append(result.Stats, stats)
		result.Transforms = append(result.Transforms, candidate)
		log.Debugw("icp iteration",
			"iteration", stats.Iteration,
			"samples", stats.SampleSize,
			"inliers", stats.Inliers,
			"median", stats.Median)
	}
	if result.State == StateRunning {
		result.State = StateExhausted
	}
	result.Iterations = len(result.Transforms)

	if result.State == StateConverged {
		log.Infof("Converged in %d iterations", result.Iterations)
	} else {
		log.Infof("Failed to converge after %d iterations", result.Iterations)
	}
	return result, nil
}

// ClosestPointRegistration runs one ICP step against a prebuilt destination index:
// sample the working cloud, match, reject outliers and estimate a candidate transform.
// It does not move the working cloud.
func ClosestPointRegistration(working, destination *PointCloud, index *KDIndex, config ICPConfig, rng *rand.Rand) (Transform, IterationStats, *NumericalInstabilityWarning, error) {
	var stats IterationStats

	samples, err := Sample(working.Positions, working.Normals, config.NumPoints, config.Sampling, rng)
	if err != nil {
		return Identity(), stats, nil, err
	}
	stats.SampleSize = len(samples)

	corr, err := FindCorrespondences(index, working.Positions, samples, config.Workers)
	if err != nil {
		return Identity(), stats, nil, err
	}
	stats.Correspondences = len(corr)

	inliers, median, err := FilterOutliers(corr, config.K)
	if err != nil {
		return Identity(), stats, nil, err
	}
	stats.Inliers = len(inliers)
	stats.Median = median
	stats.Threshold = config.K * median

	src := make([]r3.Vector, len(inliers))
	dst := make([]r3.Vector, len(inliers))
	var dstNormals []r3.Vector
	if config.DistanceMetric == PointToPlane {
		dstNormals = make([]r3.Vector, len(inliers))
	}
	for i, c := range inliers {
		src[i] = working.Positions[c.SourceIndex]
		dst[i] = destination.Positions[c.DestinationIndex]
		if dstNormals != nil {
			dstNormals[i] = destination.Normals[c.DestinationIndex]
		}
	}

	t, warn, err := EstimateTransform(config.DistanceMetric, src, dst, dstNormals)
	return t, stats, warn, err
}
