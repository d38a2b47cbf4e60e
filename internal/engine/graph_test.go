package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/andresmejia3/landmarker/internal/graph"
	"github.com/andresmejia3/landmarker/internal/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoExecutor(extra map[string]packet.Packet) Executor {
	return ExecutorFunc(func(_ context.Context, _ graph.Node, in map[string]packet.Packet) (map[string]packet.Packet, error) {
		out := map[string]packet.Packet{
			graph.TagImage:         in[graph.TagImage],
			graph.TagNormLandmarks: packet.Make("landmarks"),
		}
		for tag, p := range extra {
			out[tag] = p
		}
		return out, nil
	})
}

func inputs() packet.Map {
	return packet.NewMap(map[string]packet.Packet{
		graph.ImageInStream:  packet.Make("frame"),
		graph.NormRectStream: packet.Make("rect"),
	})
}

func TestNewGraphAcceptsBuiltConfigs(t *testing.T) {
	for _, limit := range []bool{false, true} {
		cfg := graph.CreateConfig(graph.GraphOptions{}, true, true, limit)
		g, err := NewGraph(cfg, echoExecutor(nil))
		require.NoError(t, err, "flow limiting %v", limit)

		_, limited := g.FlowLimit()
		assert.Equal(t, limit, limited)
		if limit {
			assert.Equal(t, graph.NormLandmarksStream, g.PacingStream())
		}
	}
}

func TestNewGraphRejectsBrokenConfigs(t *testing.T) {
	valid := func() graph.Config { return graph.CreateConfig(graph.GraphOptions{}, false, false, false) }

	tests := []struct {
		name   string
		mutate func(*graph.Config)
	}{
		{"unknown calculator", func(c *graph.Config) { c.Nodes[0].Calculator = "MysteryCalculator" }},
		{"dangling node input", func(c *graph.Config) { c.Nodes[0].InputStreams[0] = "IMAGE:nowhere" }},
		{"unproduced graph output", func(c *graph.Config) { c.OutputStreams = append(c.OutputStreams, "EXTRA:extra") }},
		{"duplicate input", func(c *graph.Config) { c.InputStreams = append(c.InputStreams, "OTHER:image_in") }},
		{"no task node", func(c *graph.Config) { c.Nodes = nil }},
		{"two task nodes", func(c *graph.Config) { c.Nodes = append(c.Nodes, c.Nodes[0]) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			_, err := NewGraph(cfg, echoExecutor(nil))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := NewGraph(valid(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewGraphRejectsBadLimiter(t *testing.T) {
	cfg := graph.CreateConfig(graph.GraphOptions{}, false, false, true)
	for i := range cfg.Nodes {
		if cfg.Nodes[i].Calculator == graph.FlowLimiterType {
			cfg.Nodes[i].FlowLimiterOptions = &graph.FlowLimiterOptions{MaxInFlight: 0}
		}
	}
	_, err := NewGraph(cfg, echoExecutor(nil))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunMapsOutputs(t *testing.T) {
	// The executor produces blendshapes, but the description does not ask for
	// them, so they must never reach the caller.
	extra := map[string]packet.Packet{graph.TagBlendshapes: packet.Make("scores")}
	for _, limit := range []bool{false, true} {
		g, err := NewGraph(graph.CreateConfig(graph.GraphOptions{}, false, false, limit), echoExecutor(extra))
		require.NoError(t, err)

		ts := packet.FromMillis(10)
		out, err := g.Run(context.Background(), ts, inputs())
		require.NoError(t, err)

		assert.Equal(t, []string{graph.ImageOutStream, graph.NormLandmarksStream}, out.Names())
		img, _ := out.Get(graph.ImageOutStream)
		assert.Equal(t, "frame", img.Value())
		assert.Equal(t, ts, img.Timestamp())
		_, ok := out.Get(graph.BlendshapesStream)
		assert.False(t, ok)
	}
}

func TestRunFillsMissingOutputs(t *testing.T) {
	exec := ExecutorFunc(func(context.Context, graph.Node, map[string]packet.Packet) (map[string]packet.Packet, error) {
		return map[string]packet.Packet{}, nil
	})
	g, err := NewGraph(graph.CreateConfig(graph.GraphOptions{}, true, false, false), exec)
	require.NoError(t, err)

	ts := packet.FromMillis(3)
	out, err := g.Run(context.Background(), ts, inputs())
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())
	for _, name := range out.Names() {
		p, _ := out.Get(name)
		assert.True(t, p.IsEmpty(), name)
		assert.Equal(t, ts, p.Timestamp(), name)
	}
}

func TestRunPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	exec := ExecutorFunc(func(context.Context, graph.Node, map[string]packet.Packet) (map[string]packet.Packet, error) {
		return nil, boom
	})
	g, err := NewGraph(graph.CreateConfig(graph.GraphOptions{}, false, false, false), exec)
	require.NoError(t, err)

	_, err = g.Run(context.Background(), 0, inputs())
	assert.ErrorIs(t, err, boom)

	_, err = g.Run(context.Background(), 0, packet.Map{})
	assert.Error(t, err, "missing inputs must fail before execution")
}
