package landmarker

import (
	"errors"

	"github.com/andresmejia3/landmarker/internal/runner"
)

var (
	// ErrInvalidOptions rejects options at construction.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrGraphConstruction is returned when the engine refuses the graph.
	ErrGraphConstruction = errors.New("graph construction failed")
	// ErrModeMismatch is returned by a detect call that does not belong to
	// the running mode.
	ErrModeMismatch = errors.New("running mode mismatch")
	// ErrNonMonotonicTimestamp rejects a timestamp not after the previous one.
	ErrNonMonotonicTimestamp = errors.New("timestamp must be monotonically increasing")
	// ErrEngineExecution wraps failures reported by the engine.
	ErrEngineExecution = errors.New("engine execution failed")
	// ErrInvalidArgument rejects a bad image or processing option.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("landmarker is closed")
)

// ErrFrameDropped marks a live frame shed by the flow limiter.
var ErrFrameDropped = runner.ErrFrameDropped
