package landmarker

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/andresmejia3/landmarker/internal/graph"
	"github.com/andresmejia3/landmarker/internal/packet"
	"github.com/andresmejia3/landmarker/internal/runner"
	"github.com/andresmejia3/landmarker/internal/types"
)

// Stats counts what happened to submitted frames.
type Stats struct {
	Submitted   uint64 `json:"submitted"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	EmptyFrames uint64 `json:"empty_frames"`
	Failures    uint64 `json:"failures"`
	Discarded   uint64 `json:"discarded"` // live results thrown away by Close
}

type counters struct {
	submitted   atomic.Uint64
	delivered   atomic.Uint64
	dropped     atomic.Uint64
	emptyFrames atomic.Uint64
	failures    atomic.Uint64
	discarded   atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Submitted:   c.submitted.Load(),
		Delivered:   c.delivered.Load(),
		Dropped:     c.dropped.Load(),
		EmptyFrames: c.emptyFrames.Load(),
		Failures:    c.failures.Load(),
		Discarded:   c.discarded.Load(),
	}
}

// delivery is one runner callback waiting for the consumer.
type delivery struct {
	outputs packet.Map
	err     error
}

// onPackets is the runner callback. It only hands the outputs over; the user
// callback runs on the consumer goroutine.
func (l *Landmarker) onPackets(outputs packet.Map, err error) {
	l.results <- delivery{outputs: outputs, err: err}
}

// consume runs user callbacks until the results channel is closed.
func (l *Landmarker) consume() {
	defer close(l.consumerDone)
	for d := range l.results {
		l.deliverMu.Lock()
		if l.closing {
			l.counters.discarded.Add(1)
		} else {
			l.deliver(d)
		}
		l.deliverMu.Unlock()
	}
}

func (l *Landmarker) deliver(d delivery) {
	mode := l.opts.RunningMode.String()

	if d.err != nil {
		if errors.Is(d.err, runner.ErrFrameDropped) {
			ts := packet.Unset
			if p, ok := d.outputs.Get(graph.ImageOutStream); ok {
				ts = p.Timestamp()
			}
			l.counters.dropped.Add(1)
			l.metrics.Dropped(mode)
			l.log.Debug("live frame dropped", "timestamp_ms", ts.Millis())
			if l.opts.DropCallback != nil {
				l.opts.DropCallback(ts.Millis())
			}
			return
		}
		l.fail(fmt.Errorf("%w: %w", ErrEngineExecution, d.err))
		return
	}

	imgPacket, ok := d.outputs.Get(graph.ImageOutStream)
	if !ok || imgPacket.IsEmpty() {
		l.counters.emptyFrames.Add(1)
		l.metrics.EmptyFrame(mode)
		l.log.Debug("engine produced no output for frame", "timestamp_ms", imgPacket.Timestamp().Millis())
		return
	}
	image, err := packet.Get[types.Image](imgPacket)
	if err != nil {
		l.fail(fmt.Errorf("%w: decode image: %w", ErrEngineExecution, err))
		return
	}

	lm, ok := d.outputs.Get(graph.NormLandmarksStream)
	if !ok || lm.IsEmpty() {
		l.counters.delivered.Add(1)
		l.metrics.Delivered(mode)
		l.opts.ResultCallback(Result{}, image, lm.Timestamp().Millis(), nil)
		return
	}

	result, err := assembleResult(d.outputs)
	if err != nil {
		l.fail(fmt.Errorf("%w: %w", ErrEngineExecution, err))
		return
	}
	l.counters.delivered.Add(1)
	l.metrics.Delivered(mode)
	l.opts.ResultCallback(result, image, lm.Timestamp().Millis(), nil)
}

func (l *Landmarker) fail(err error) {
	l.counters.failures.Add(1)
	l.metrics.Failed(l.opts.RunningMode.String())
	l.log.Warn("live detection failed", "error", err)
	l.opts.ResultCallback(Result{}, types.Image{}, packet.Unset.Millis(), err)
}
