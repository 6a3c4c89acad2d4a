package musiccast

import (
	"errors"
	"fmt"
)

// The protocol error taxonomy. Every error produced by this package wraps
// exactly one of these sentinels; callers classify with errors.Is().
//
// The classification drives actor lifecycle policy:
//   - ErrComms and ErrConfig while running a command or refresh are
//     device-fatal: the actor disables itself and exits, requiring
//     rediscovery.
//   - ErrLogic is always caller-facing and never kills the actor.
//   - Any error during event absorption is logged only; the device
//     reported the payload about itself, so a bad field is noise.
var (
	// ErrComms is a transport-level failure: timeout, socket error,
	// malformed body, or a non-success vendor response code.
	// Always potentially transient.
	ErrComms = errors.New("musiccast: communication error")

	// ErrConfig is structurally invalid or missing static/capability data:
	// bad schema, unresolvable id references. Not self-healing.
	ErrConfig = errors.New("musiccast: configuration error")

	// ErrLogic is a command requested in a state that does not support it:
	// zone off, source mismatch, out-of-range preset, unresolvable source.
	ErrLogic = errors.New("musiccast: logic error")
)

var (
	// ErrQueueFull is returned by Enqueue when a device's task queue is at
	// capacity. The caller decides whether to drop or report backpressure.
	ErrQueueFull = errors.New("musiccast: task queue full")

	// ErrDisabled is returned by a disabled transport. It wraps ErrLogic so
	// in-flight tasks drain without tripping the device-fatal policy.
	ErrDisabled = fmt.Errorf("%w: device disabled", ErrLogic)
)
