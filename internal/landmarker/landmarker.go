// Package landmarker detects face landmarks in still images, decoded video
// and live streams.
//
// A Landmarker is created for one RunningMode and only accepts the matching
// detect call: Detect for images, DetectForVideo for video frames and
// DetectAsync for live frames. Live results are delivered to the
// ResultCallback on a dedicated goroutine, one at a time.
//
// Callbacks must not call DetectAsync or Close on the Landmarker that
// invoked them.
package landmarker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/landmarker/internal/engine"
	"github.com/andresmejia3/landmarker/internal/graph"
	"github.com/andresmejia3/landmarker/internal/logger"
	"github.com/andresmejia3/landmarker/internal/metrics"
	"github.com/andresmejia3/landmarker/internal/packet"
	"github.com/andresmejia3/landmarker/internal/runner"
	"github.com/andresmejia3/landmarker/internal/types"
	"github.com/google/uuid"
)

// Landmarker owns one engine graph and its task runner.
type Landmarker struct {
	id      string
	opts    Options
	cfg     graph.Config
	runner  *runner.TaskRunner
	log     *slog.Logger
	metrics *metrics.Metrics

	// mu serializes submissions and guards closed and lastTs.
	mu     sync.Mutex
	closed bool
	lastTs packet.Timestamp

	results      chan delivery
	consumerDone chan struct{}
	// deliverMu spans the closing check and the user callback, so Close
	// cannot begin teardown between the two.
	deliverMu sync.Mutex
	closing   bool
	counters  counters
}

// New validates opts, builds the graph description and starts the task
// runner on exec.
func New(opts Options, exec engine.Executor) (*Landmarker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	l := &Landmarker{
		id:      uuid.NewString(),
		opts:    opts,
		cfg:     opts.GraphConfig(),
		metrics: opts.Metrics,
		lastTs:  packet.Unset,
	}
	l.log = logger.Or(opts.Logger).With("landmarker", l.id, "mode", opts.RunningMode.String())

	g, err := engine.NewGraph(l.cfg, exec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGraphConstruction, err)
	}

	ropts := runner.Options{
		StreamMode: opts.RunningMode != ModeImage,
		Logger:     l.log,
	}
	live := opts.RunningMode == ModeLiveStream
	if live {
		l.results = make(chan delivery, 1)
		l.consumerDone = make(chan struct{})
		ropts.Callback = l.onPackets
	}

	r, err := runner.New(g, ropts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGraphConstruction, err)
	}
	l.runner = r
	if live {
		go l.consume()
	}

	l.log.Debug("landmarker created",
		"num_faces", opts.NumFaces,
		"blendshapes", opts.OutputFaceBlendshapes,
		"transformation_matrixes", opts.OutputFacialTransformationMatrixes)
	return l, nil
}

// ID identifies this instance in logs.
func (l *Landmarker) ID() string { return l.id }

// RunningMode returns the mode the Landmarker was created with.
func (l *Landmarker) RunningMode() RunningMode { return l.opts.RunningMode }

// GraphConfig returns the graph description the runner executes.
func (l *Landmarker) GraphConfig() graph.Config { return l.cfg }

// Stats returns a snapshot of the frame counters.
func (l *Landmarker) Stats() Stats { return l.counters.snapshot() }

// Detect finds face landmarks in a single image. Image mode only.
func (l *Landmarker) Detect(ctx context.Context, image types.Image, ipo *ImageProcessingOptions) (Result, error) {
	if err := l.requireMode(ModeImage, "Detect"); err != nil {
		return Result{}, err
	}
	return l.detectSync(ctx, image, packet.Unset, ipo)
}

// DetectForVideo finds face landmarks in one video frame. Video mode only.
// Timestamps must increase from call to call.
func (l *Landmarker) DetectForVideo(ctx context.Context, image types.Image, timestampMs int64, ipo *ImageProcessingOptions) (Result, error) {
	if err := l.requireMode(ModeVideo, "DetectForVideo"); err != nil {
		return Result{}, err
	}
	ts, err := inputTimestamp(timestampMs)
	if err != nil {
		return Result{}, err
	}
	return l.detectSync(ctx, image, ts, ipo)
}

// DetectAsync submits one live frame and returns without waiting for the
// engine. The result reaches the ResultCallback later. Live stream mode only.
//
// When the submission evicts a queued frame, the drop is handed to the
// delivery goroutine before DetectAsync returns, so a slow callback applies
// backpressure to the caller.
func (l *Landmarker) DetectAsync(image types.Image, timestampMs int64, ipo *ImageProcessingOptions) error {
	if err := l.requireMode(ModeLiveStream, "DetectAsync"); err != nil {
		return err
	}
	ts, err := inputTimestamp(timestampMs)
	if err != nil {
		return err
	}
	inputs, err := buildInputs(image, ipo, ts)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.accept(ts); err != nil {
		return err
	}
	if err := l.runner.RunAsync(inputs); err != nil {
		return l.runnerError(err)
	}
	l.counters.submitted.Add(1)
	l.metrics.Submitted(l.opts.RunningMode.String())
	return nil
}

func (l *Landmarker) detectSync(ctx context.Context, image types.Image, ts packet.Timestamp, ipo *ImageProcessingOptions) (Result, error) {
	inputs, err := buildInputs(image, ipo, ts)
	if err != nil {
		return Result{}, err
	}
	mode := l.opts.RunningMode.String()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.opts.RunningMode == ModeVideo {
		if err := l.accept(ts); err != nil {
			return Result{}, err
		}
	} else if l.closed {
		return Result{}, ErrClosed
	}

	start := time.Now()
	l.counters.submitted.Add(1)
	l.metrics.Submitted(mode)

	outputs, err := l.runner.RunSync(ctx, inputs)
	if err != nil {
		err = l.runnerError(err)
		if errors.Is(err, ErrEngineExecution) {
			l.counters.failures.Add(1)
			l.metrics.Failed(mode)
		}
		return Result{}, err
	}
	result, err := assembleResult(outputs)
	if err != nil {
		l.counters.failures.Add(1)
		l.metrics.Failed(mode)
		return Result{}, fmt.Errorf("%w: %w", ErrEngineExecution, err)
	}

	l.counters.delivered.Add(1)
	l.metrics.Delivered(mode)
	l.metrics.ObserveLatency(mode, start)
	return result, nil
}

func (l *Landmarker) requireMode(want RunningMode, call string) error {
	if l.opts.RunningMode != want {
		return fmt.Errorf("%w: %s needs %s mode, landmarker was created for %s", ErrModeMismatch, call, want, l.opts.RunningMode)
	}
	return nil
}

// accept checks that ts moves forward and records it. Callers hold l.mu.
func (l *Landmarker) accept(ts packet.Timestamp) error {
	if l.closed {
		return ErrClosed
	}
	if l.lastTs.IsSet() && ts <= l.lastTs {
		return fmt.Errorf("%w: %d ms is not after %d ms", ErrNonMonotonicTimestamp, ts.Millis(), l.lastTs.Millis())
	}
	l.lastTs = ts
	return nil
}

func (l *Landmarker) runnerError(err error) error {
	switch {
	case errors.Is(err, runner.ErrClosed):
		return ErrClosed
	case errors.Is(err, runner.ErrTimestampOrder):
		return fmt.Errorf("%w: %w", ErrNonMonotonicTimestamp, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrEngineExecution, err)
	}
}

// inputTimestamp converts a caller timestamp, rejecting values that would
// overflow engine time.
func inputTimestamp(ms int64) (packet.Timestamp, error) {
	ts, err := packet.ParseMillis(ms)
	if err != nil {
		return packet.Unset, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return ts, nil
}

func buildInputs(image types.Image, ipo *ImageProcessingOptions, ts packet.Timestamp) (packet.Map, error) {
	if image.IsEmpty() {
		return packet.Map{}, fmt.Errorf("%w: image has no data", ErrInvalidArgument)
	}
	rect, err := normalizedRect(ipo)
	if err != nil {
		return packet.Map{}, err
	}
	return packet.NewMap(map[string]packet.Packet{
		graph.ImageInStream:  packet.Make(image).At(ts),
		graph.NormRectStream: packet.Make(rect).At(ts),
	}), nil
}

// Close stops accepting frames and shuts the runner down. Pending live
// results are discarded; a callback already running is waited for. Close is
// idempotent.
func (l *Landmarker) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	// Waits for a callback that is already running.
	l.deliverMu.Lock()
	l.closing = true
	l.deliverMu.Unlock()

	err := l.runner.Close()
	if l.results != nil {
		close(l.results)
		<-l.consumerDone
	}

	stats := l.Stats()
	l.log.Debug("landmarker closed",
		"submitted", stats.Submitted,
		"delivered", stats.Delivered,
		"dropped", stats.Dropped,
		"discarded", stats.Discarded)
	return err
}
