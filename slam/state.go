package slam

// TrackingState is the lifecycle state of the tracking pipeline. The numeric
// values match the wire codes of the lifecycle API.
type TrackingState int

const (
	// StateNoImagesYet is the state of a session before Initialize and
	// after Shutdown.
	StateNoImagesYet TrackingState = iota
	// StateNotInitialized means the session is ready but the map has not
	// been bootstrapped from two frames yet.
	StateNotInitialized
	// StateOK means the tracker is localizing frames against the map.
	StateOK
	// StateLost means the tracker failed on the last frame and the session
	// is attempting relocalization.
	StateLost
)

func (s TrackingState) String() string {
	switch s {
	case StateNoImagesYet:
		return "NO_IMAGES_YET"
	case StateNotInitialized:
		return "NOT_INITIALIZED"
	case StateOK:
		return "OK"
	case StateLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}
