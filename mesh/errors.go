package mesh

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned for unrecognized selectors or out-of-range hyperparameters.
	ErrConfiguration = errors.New("configuration error")

	// ErrDegenerateInput is returned when a cloud or sample population is empty,
	// or when an estimator's inputs (such as destination normals) are missing.
	ErrDegenerateInput = errors.New("degenerate input")
)

// NumericalInstabilityWarning reports an estimator result that is valid but not
// uniquely determined, e.g. collinear or coplanar correspondences. It is never fatal.
type NumericalInstabilityWarning struct {
	Iteration int    `json:"iteration"`
	Estimator string `json:"estimator"`
	Reason    string `json:"reason"`
	Rank      int    `json:"rank"`
}

func (w *NumericalInstabilityWarning) Error() string {
	return fmt.Sprintf("numerical instability in %s (iteration %d, rank %d): %s",
		w.Estimator, w.Iteration, w.Rank, w.Reason)
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func degenerateErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDegenerateInput, fmt.Sprintf(format, args...))
}
