package runner

import (
	"sync"

	"github.com/andresmejia3/landmarker/internal/graph"
	"github.com/andresmejia3/landmarker/internal/packet"
)

type frame struct {
	ts     packet.Timestamp
	inputs packet.Map
}

// flowLimiter gates frames into the engine. A slot is held from admission
// until the pacing output of that frame has been delivered.
type flowLimiter struct {
	mu          sync.Mutex
	maxInFlight int
	maxInQueue  int
	inFlight    int
	queue       []frame
}

func newFlowLimiter(opts graph.FlowLimiterOptions) *flowLimiter {
	return &flowLimiter{maxInFlight: opts.MaxInFlight, maxInQueue: opts.MaxInQueue}
}

// offer admits f when a slot is free, otherwise queues it. When the queue is
// full the oldest waiting frame is evicted; with no queue f itself is
// rejected. The evicted or rejected frame, if any, is returned.
func (l *flowLimiter) offer(f frame) (admitted bool, dropped *frame) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight < l.maxInFlight {
		l.inFlight++
		return true, nil
	}
	if l.maxInQueue == 0 {
		return false, &f
	}
	if len(l.queue) == l.maxInQueue {
		oldest := l.queue[0]
		l.queue = append(l.queue[1:], f)
		return false, &oldest
	}
	l.queue = append(l.queue, f)
	return false, nil
}

// finish releases the slot of a completed frame. If a frame is waiting it
// takes over the slot and is returned.
func (l *flowLimiter) finish() (frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) > 0 {
		next := l.queue[0]
		l.queue = l.queue[1:]
		return next, true
	}
	if l.inFlight > 0 {
		l.inFlight--
	}
	return frame{}, false
}

// drain empties the queue and returns how many frames were waiting.
func (l *flowLimiter) drain() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.queue)
	l.queue = nil
	return n
}

func (l *flowLimiter) stats() (inFlight, queued int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight, len(l.queue)
}
