package projection

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotPrepared is returned by Project before a successful Prepare,
	// or after the engine has failed.
	ErrNotPrepared = errors.New("projection engine is not prepared")
	// ErrUnsupportedBackend means no compute backend could be opened.
	// There is no host fallback; the caller must stop the stream.
	ErrUnsupportedBackend = errors.New("no compute backend can run the projection kernel")
)

// SetupError wraps a failure to validate, compile, or allocate a
// projection kernel during Prepare.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return "projection setup failed: " + e.Err.Error()
}

// Unwrap returns the underlying failure.
func (e *SetupError) Unwrap() error {
	return e.Err
}

// SizeMismatchError reports a frame whose sample count does not match the
// geometry the engine was prepared with.
type SizeMismatchError struct {
	Got  int
	Want int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("frame has %d depth samples, engine was prepared for %d", e.Got, e.Want)
}

// ProjectionError reports a frame that failed to project. BackendLost
// means the device is unusable and the engine has moved to StateFailed;
// otherwise the failure was scoped to this frame and the next may succeed.
type ProjectionError struct {
	Err         error
	BackendLost bool
}

func (e *ProjectionError) Error() string {
	if e.BackendLost {
		return "projection failed, compute device lost: " + e.Err.Error()
	}
	return "projection failed: " + e.Err.Error()
}

// Unwrap returns the underlying failure.
func (e *ProjectionError) Unwrap() error {
	return e.Err
}
