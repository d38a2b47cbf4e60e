// Package engine validates a graph description and runs it one timestamp at a
// time. The heavy lifting of the task subgraph is delegated to an Executor,
// typically the external landmark engine process.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/landmarker/internal/graph"
	"github.com/andresmejia3/landmarker/internal/packet"
)

// ErrInvalidConfig is returned when a graph description cannot be run.
var ErrInvalidConfig = errors.New("invalid graph config")

// Executor runs the task subgraph node for a single timestamp. Inputs and
// outputs are keyed by stream tag. Outputs the executor does not produce are
// treated as empty.
type Executor interface {
	Execute(ctx context.Context, node graph.Node, inputs map[string]packet.Packet) (map[string]packet.Packet, error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, node graph.Node, inputs map[string]packet.Packet) (map[string]packet.Packet, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, node graph.Node, inputs map[string]packet.Packet) (map[string]packet.Packet, error) {
	return f(ctx, node, inputs)
}

// Graph is a validated, runnable graph description.
type Graph struct {
	cfg  graph.Config
	exec Executor
	task graph.Node

	// taskInputs maps a task input tag to the graph input stream feeding it.
	taskInputs map[string]string
	// outputs maps a graph output stream name to the task output tag behind it.
	outputs map[string]string

	limiter *graph.FlowLimiterOptions
	pacing  string
}

// NewGraph validates cfg and binds it to exec.
func NewGraph(cfg graph.Config, exec Executor) (*Graph, error) {
	if exec == nil {
		return nil, fmt.Errorf("%w: no executor", ErrInvalidConfig)
	}

	g := &Graph{
		cfg:        cfg,
		exec:       exec,
		taskInputs: make(map[string]string),
		outputs:    make(map[string]string),
	}

	graphInputs := make(map[string]bool)
	for _, s := range cfg.InputStreams {
		_, name := graph.ParseStream(s)
		if graphInputs[name] {
			return nil, fmt.Errorf("%w: duplicate input stream %q", ErrInvalidConfig, name)
		}
		graphInputs[name] = true
	}

	// producers maps every node output stream to its node index.
	producers := make(map[string]int)
	var tasks, limiters []int
	for i, n := range cfg.Nodes {
		switch n.Calculator {
		case graph.TaskGraphType:
			tasks = append(tasks, i)
		case graph.FlowLimiterType:
			limiters = append(limiters, i)
		default:
			return nil, fmt.Errorf("%w: unknown calculator %q", ErrInvalidConfig, n.Calculator)
		}
		for _, s := range n.OutputStreams {
			_, name := graph.ParseStream(s)
			if _, dup := producers[name]; dup || graphInputs[name] {
				return nil, fmt.Errorf("%w: stream %q has more than one producer", ErrInvalidConfig, name)
			}
			producers[name] = i
		}
	}
	if len(tasks) != 1 {
		return nil, fmt.Errorf("%w: want exactly one %s node, got %d", ErrInvalidConfig, graph.TaskGraphType, len(tasks))
	}
	if len(limiters) > 1 {
		return nil, fmt.Errorf("%w: at most one %s node is supported", ErrInvalidConfig, graph.FlowLimiterType)
	}
	g.task = cfg.Nodes[tasks[0]]

	for _, n := range cfg.Nodes {
		for _, s := range n.InputStreams {
			tag, name := graph.ParseStream(s)
			if n.IsBackEdge(tag) {
				if _, ok := producers[name]; !ok {
					return nil, fmt.Errorf("%w: back edge %q is not produced by any node", ErrInvalidConfig, name)
				}
				continue
			}
			if _, ok := producers[name]; !ok && !graphInputs[name] {
				return nil, fmt.Errorf("%w: %s input %q is not connected", ErrInvalidConfig, n.Calculator, name)
			}
		}
	}

	if len(limiters) == 1 {
		if err := g.bindLimiter(cfg.Nodes[limiters[0]]); err != nil {
			return nil, err
		}
	}

	limiterFeeds := g.limiterFeeds(cfg, limiters)
	for _, s := range g.task.InputStreams {
		tag, name := graph.ParseStream(s)
		switch {
		case graphInputs[name]:
			g.taskInputs[tag] = name
		case limiterFeeds[name] != "":
			g.taskInputs[tag] = limiterFeeds[name]
		default:
			return nil, fmt.Errorf("%w: task input %q cannot be traced to a graph input", ErrInvalidConfig, name)
		}
	}

	for _, s := range cfg.OutputStreams {
		_, name := graph.ParseStream(s)
		idx, ok := producers[name]
		if !ok || idx != tasks[0] {
			return nil, fmt.Errorf("%w: output stream %q is not produced by the task node", ErrInvalidConfig, name)
		}
		tag, _ := graph.ParseStream(findStream(g.task.OutputStreams, name))
		g.outputs[name] = tag
	}
	if g.limiter != nil {
		if _, ok := g.outputs[g.pacing]; !ok {
			return nil, fmt.Errorf("%w: pacing stream %q is not a graph output", ErrInvalidConfig, g.pacing)
		}
	}

	return g, nil
}

func (g *Graph) bindLimiter(n graph.Node) error {
	opts := graph.DefaultFlowLimiterOptions()
	if n.FlowLimiterOptions != nil {
		opts = *n.FlowLimiterOptions
	}
	if opts.MaxInFlight < 1 || opts.MaxInQueue < 0 {
		return fmt.Errorf("%w: flow limiter needs max_in_flight >= 1 and max_in_queue >= 0, got %d/%d",
			ErrInvalidConfig, opts.MaxInFlight, opts.MaxInQueue)
	}
	finished, ok := n.InputStreamName(graph.TagFinished)
	if !ok || !n.IsBackEdge(graph.TagFinished) {
		return fmt.Errorf("%w: flow limiter has no FINISHED back edge", ErrInvalidConfig)
	}
	g.limiter = &opts
	g.pacing = finished
	return nil
}

// limiterFeeds maps each throttled limiter output to the limiter input it
// passes through. Untagged limiter streams pair up by position.
func (g *Graph) limiterFeeds(cfg graph.Config, limiters []int) map[string]string {
	feeds := make(map[string]string)
	if len(limiters) == 0 {
		return feeds
	}
	n := cfg.Nodes[limiters[0]]
	var ins []string
	for _, s := range n.InputStreams {
		if tag, name := graph.ParseStream(s); tag == "" {
			ins = append(ins, name)
		}
	}
	for i, s := range n.OutputStreams {
		if i < len(ins) {
			_, name := graph.ParseStream(s)
			feeds[name] = ins[i]
		}
	}
	return feeds
}

func findStream(streams []string, name string) string {
	for _, s := range streams {
		if _, n := graph.ParseStream(s); n == name {
			return s
		}
	}
	return ""
}

// Config returns the description the graph was built from.
func (g *Graph) Config() graph.Config { return g.cfg }

// FlowLimit returns the gating parameters when the graph has a flow limiter.
func (g *Graph) FlowLimit() (graph.FlowLimiterOptions, bool) {
	if g.limiter == nil {
		return graph.FlowLimiterOptions{}, false
	}
	return *g.limiter, true
}

// PacingStream names the output whose completion releases the flow limiter.
func (g *Graph) PacingStream() string { return g.pacing }

// EmptyOutputs returns a map holding an empty packet at ts for every graph output.
func (g *Graph) EmptyOutputs(ts packet.Timestamp) packet.Map {
	var out packet.Map
	for name := range g.outputs {
		out.Set(name, packet.Empty(ts))
	}
	return out
}

// Run executes the task subgraph for inputs stamped at ts. Every graph output
// is present in the returned map; outputs the executor left out are empty.
func (g *Graph) Run(ctx context.Context, ts packet.Timestamp, inputs packet.Map) (packet.Map, error) {
	nodeInputs := make(map[string]packet.Packet, len(g.taskInputs))
	for tag, stream := range g.taskInputs {
		p, ok := inputs.Get(stream)
		if !ok {
			return packet.Map{}, fmt.Errorf("missing input stream %q", stream)
		}
		nodeInputs[tag] = p.At(ts)
	}

	produced, err := g.exec.Execute(ctx, g.task, nodeInputs)
	if err != nil {
		return packet.Map{}, err
	}

	var out packet.Map
	for name, tag := range g.outputs {
		p, ok := produced[tag]
		if !ok || p.IsEmpty() {
			out.Set(name, packet.Empty(ts))
			continue
		}
		out.Set(name, p.At(ts))
	}
	return out, nil
}
