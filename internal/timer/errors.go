package timer

import "errors"

// ErrTimeout is passed to a Waiter when its deadline elapses before a
// matching response arrives.
var ErrTimeout = errors.New("timer: request timed out")
