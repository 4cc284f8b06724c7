package slam

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotInitialized is returned when an operation is invoked before
// Initialize or after Shutdown.
var ErrNotInitialized = errors.New("session is not initialized")

// ErrInvalidFrame is returned when a frame image is nil or empty before any
// map exists; once tracking has started, invalid frames degrade to the LOST
// state instead.
var ErrInvalidFrame = errors.New("frame image is nil or empty")

// OutOfOrderTimestampError is returned when a frame timestamp is strictly
// older than the previous one. The session state is left untouched.
type OutOfOrderTimestampError struct {
	Timestamp float64
	Last      float64
}

func (e *OutOfOrderTimestampError) Error() string {
	return fmt.Sprintf("out of order frame timestamp %f, last seen %f", e.Timestamp, e.Last)
}

// errTrackingFailed reports a tracker failure on a frame; it is absorbed into
// the LOST state by the session and never escapes ProcessFrame.
var errTrackingFailed = errors.New("frame tracking failed")
