package wrapper

import "errors"

// ErrSnapshotRoundTrip is returned when a save/load cycle's reload does not
// reproduce the sequence that was just saved. The spec treats this as an
// invariant violation: the run is broken and must not continue silently.
// Callers should treat it as fatal to this wrapper instance and rebuild.
var ErrSnapshotRoundTrip = errors.New("wrapper: snapshot did not round-trip to the same sequence")

// ErrNotInitialized names the "Initialize has not completed" condition. No
// Wrapper method checks for that condition or returns this error; calling
// other methods before Initialize is not detected.
var ErrNotInitialized = errors.New("wrapper: not initialized")
