package odometry

import "github.com/pkg/errors"

var (
	// ErrConfiguration is returned for setup defects, such as images that do not match the
	// configured camera. It halts a Run.
	ErrConfiguration = errors.New("invalid visual odometry configuration")

	// ErrDegenerateInput is returned when there are too few usable landmarks to constrain the
	// six degrees of freedom of a pose.
	ErrDegenerateInput = errors.New("too few landmarks to estimate a pose")

	// ErrNonConvergence is returned when the normal equations stay singular.
	ErrNonConvergence = errors.New("pose optimization did not converge")
)

// newConfigurationError wraps err so that errors.Is(err, ErrConfiguration) holds.
func newConfigurationError(err error) error {
	return &configurationError{err: err}
}

type configurationError struct {
	err error
}

func (e *configurationError) Error() string {
	return ErrConfiguration.Error() + ": " + e.err.Error()
}

func (e *configurationError) Unwrap() []error {
	return []error{ErrConfiguration, e.err}
}
