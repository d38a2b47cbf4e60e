// Package runner owns a validated engine graph and drives it either
// synchronously (one call, one result) or asynchronously (results delivered to
// a callback), applying timestamp discipline and flow limiting.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/landmarker/internal/engine"
	"github.com/andresmejia3/landmarker/internal/logger"
	"github.com/andresmejia3/landmarker/internal/packet"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrFrameDropped is handed to the callback, together with empty outputs
	// at the frame's timestamp, when the flow limiter sheds a frame.
	ErrFrameDropped = errors.New("frame dropped by flow limiter")
	// ErrTimestampOrder rejects stream-mode inputs that do not move forward.
	ErrTimestampOrder = errors.New("input timestamp must be monotonically increasing")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("task runner is closed")
	// ErrAsyncOnly is returned by RunSync on a runner built with a callback.
	ErrAsyncOnly = errors.New("task runner delivers results through its callback; use RunAsync")
	// ErrSyncOnly is returned by RunAsync on a runner built without a callback.
	ErrSyncOnly = errors.New("task runner has no result callback; use RunSync")
)

// microsPerSecond spaces the internal timestamps assigned in image mode.
const microsPerSecond = 1_000_000

// PacketsCallback receives the outputs of one asynchronous run. On failure
// outputs is empty and err is set.
type PacketsCallback func(outputs packet.Map, err error)

// Options configures a TaskRunner.
type Options struct {
	// StreamMode requires callers to stamp inputs with strictly increasing
	// timestamps. Without it the runner stamps inputs itself.
	StreamMode bool
	// Callback switches the runner to asynchronous delivery. Requires StreamMode.
	Callback PacketsCallback
	Logger   *slog.Logger
}

// TaskRunner executes an engine graph for a single owner.
type TaskRunner struct {
	graph *engine.Graph
	opts  Options
	log   *slog.Logger

	// syncSlot keeps RunSync callers from driving the engine concurrently.
	syncSlot *semaphore.Weighted

	mu       sync.Mutex
	closed   bool
	lastSeen packet.Timestamp

	limiter  *flowLimiter
	work     chan frame
	stopping atomic.Bool
	wg       sync.WaitGroup
}

// New builds a runner around g. With a callback it starts the engine workers
// right away: one per admitted in-flight frame.
func New(g *engine.Graph, opts Options) (*TaskRunner, error) {
	if g == nil {
		return nil, fmt.Errorf("task runner needs a graph")
	}
	if opts.Callback != nil && !opts.StreamMode {
		return nil, fmt.Errorf("a result callback requires stream mode")
	}

	r := &TaskRunner{
		graph:    g,
		opts:     opts,
		log:      logger.Or(opts.Logger),
		syncSlot: semaphore.NewWeighted(1),
		lastSeen: packet.Unset,
	}

	if opts.Callback != nil {
		workers := 1
		if lim, ok := g.FlowLimit(); ok {
			r.limiter = newFlowLimiter(lim)
			workers = lim.MaxInFlight
		}
		r.work = make(chan frame, workers)
		for i := 0; i < workers; i++ {
			r.wg.Add(1)
			go r.loop()
		}
		r.log.Debug("task runner started", "workers", workers, "flow_limited", r.limiter != nil, "pacing_stream", g.PacingStream())
	}
	return r, nil
}

// RunSync executes one set of inputs and returns the graph outputs.
func (r *TaskRunner) RunSync(ctx context.Context, inputs packet.Map) (packet.Map, error) {
	if r.opts.Callback != nil {
		return packet.Map{}, ErrAsyncOnly
	}
	if err := r.syncSlot.Acquire(ctx, 1); err != nil {
		return packet.Map{}, fmt.Errorf("failed to acquire execution slot: %w", err)
	}
	defer r.syncSlot.Release(1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return packet.Map{}, ErrClosed
	}
	ts, stamped, err := r.stamp(inputs)
	if err != nil {
		r.mu.Unlock()
		return packet.Map{}, err
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	return r.graph.Run(ctx, ts, stamped)
}

// RunAsync hands inputs to the engine and returns without waiting for the
// result. Frames shed by the flow limiter are reported to the callback with
// ErrFrameDropped. Without a flow limiter the call blocks while the engine is
// busy.
func (r *TaskRunner) RunAsync(inputs packet.Map) error {
	if r.opts.Callback == nil {
		return ErrSyncOnly
	}

	dropped, err := r.enqueue(inputs)
	if err != nil {
		return err
	}
	if dropped != nil {
		r.log.Debug("flow limiter dropped frame", "timestamp", dropped.ts)
		r.opts.Callback(r.graph.EmptyOutputs(dropped.ts), fmt.Errorf("%w at %s", ErrFrameDropped, dropped.ts))
	}
	return nil
}

func (r *TaskRunner) enqueue(inputs packet.Map) (*frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	ts, stamped, err := r.stamp(inputs)
	if err != nil {
		return nil, err
	}
	f := frame{ts: ts, inputs: stamped}

	if r.limiter == nil {
		r.work <- f
		return nil, nil
	}
	admitted, dropped := r.limiter.offer(f)
	if admitted {
		// Never blocks: the channel holds one entry per slot.
		r.work <- f
	}
	return dropped, nil
}

// stamp assigns or validates the timestamp of inputs. Callers hold r.mu.
func (r *TaskRunner) stamp(inputs packet.Map) (packet.Timestamp, packet.Map, error) {
	if !r.opts.StreamMode {
		ts := packet.Timestamp(0)
		if r.lastSeen.IsSet() {
			ts = r.lastSeen + microsPerSecond
		}
		r.lastSeen = ts
		return ts, inputs.StampAll(ts), nil
	}

	ts, err := inputs.Timestamp()
	if err != nil {
		return packet.Unset, packet.Map{}, fmt.Errorf("invalid inputs: %w", err)
	}
	if !ts.IsSet() {
		return packet.Unset, packet.Map{}, fmt.Errorf("stream mode inputs must carry a timestamp")
	}
	if r.lastSeen.IsSet() && ts <= r.lastSeen {
		return packet.Unset, packet.Map{}, fmt.Errorf("%w: got %s after %s", ErrTimestampOrder, ts, r.lastSeen)
	}
	r.lastSeen = ts
	return ts, inputs, nil
}

func (r *TaskRunner) loop() {
	defer r.wg.Done()
	for f := range r.work {
		next, ok := f, true
		for ok {
			r.process(next)
			next, ok = r.release()
		}
	}
}

// release frees the limiter slot held by a completed frame and returns the
// frame that inherits it, if any.
func (r *TaskRunner) release() (frame, bool) {
	if r.limiter == nil {
		return frame{}, false
	}
	return r.limiter.finish()
}

func (r *TaskRunner) process(f frame) {
	if r.stopping.Load() {
		r.log.Debug("discarding frame on close", "timestamp", f.ts)
		return
	}
	out, err := r.graph.Run(context.Background(), f.ts, f.inputs)
	if err != nil {
		r.opts.Callback(packet.Map{}, err)
		return
	}
	r.opts.Callback(out, nil)
}

// InFlight reports how many frames hold a limiter slot and how many wait.
func (r *TaskRunner) InFlight() (inFlight, queued int) {
	if r.limiter == nil {
		return 0, 0
	}
	return r.limiter.stats()
}

// Close stops accepting inputs, discards frames that have not started, and
// waits for running executions. No callback fires after Close returns.
func (r *TaskRunner) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.stopping.Store(true)
	if r.work != nil {
		close(r.work)
	}
	r.mu.Unlock()

	if r.limiter != nil {
		if n := r.limiter.drain(); n > 0 {
			r.log.Debug("discarded queued frames on close", "count", n)
		}
	}
	r.wg.Wait()
	return nil
}
