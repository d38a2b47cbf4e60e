// Package graph builds the description of the processing graph a landmarker
// runs: named input streams, named output streams and the nodes between them.
// A Config is built once per landmarker and never mutated afterwards.
package graph

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is a directed description of a processing graph. Streams are written
// as "TAG:name"; untagged streams are addressed by position.
type Config struct {
	InputStreams  []string `yaml:"input_stream"`
	OutputStreams []string `yaml:"output_stream"`
	Nodes         []Node   `yaml:"node"`
}

// Node is one calculator or subgraph inside a Config.
type Node struct {
	Calculator      string            `yaml:"calculator"`
	InputStreams    []string          `yaml:"input_stream,omitempty"`
	OutputStreams   []string          `yaml:"output_stream,omitempty"`
	InputStreamInfo []InputStreamInfo `yaml:"input_stream_info,omitempty"`

	LandmarkerOptions  *GraphOptions       `yaml:"landmarker_options,omitempty"`
	FlowLimiterOptions *FlowLimiterOptions `yaml:"flow_limiter_options,omitempty"`
}

// InputStreamInfo flags node inputs that close a loop in the graph.
type InputStreamInfo struct {
	TagIndex string `yaml:"tag_index"`
	BackEdge bool   `yaml:"back_edge"`
}

// JoinStream formats a tagged stream reference.
func JoinStream(tag, name string) string {
	if tag == "" {
		return name
	}
	return tag + ":" + name
}

// ParseStream splits "TAG:name" into its parts. A bare name has an empty tag.
func ParseStream(s string) (tag, name string) {
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

// HasOutput reports whether the graph exposes an output stream tagged tag.
func (c Config) HasOutput(tag string) bool {
	_, ok := c.OutputStreamName(tag)
	return ok
}

// OutputStreamName resolves the graph output stream tagged tag.
func (c Config) OutputStreamName(tag string) (string, bool) {
	return lookup(c.OutputStreams, tag)
}

// InputStreamName resolves the graph input stream tagged tag.
func (c Config) InputStreamName(tag string) (string, bool) {
	return lookup(c.InputStreams, tag)
}

// OutputTags lists the tags of all graph outputs in declaration order.
func (c Config) OutputTags() []string {
	tags := make([]string, 0, len(c.OutputStreams))
	for _, s := range c.OutputStreams {
		tag, _ := ParseStream(s)
		tags = append(tags, tag)
	}
	return tags
}

// NodesOf returns the nodes running the given calculator.
func (c Config) NodesOf(calculator string) []Node {
	var nodes []Node
	for _, n := range c.Nodes {
		if n.Calculator == calculator {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// YAML renders the description for inspection.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render graph config: %w", err)
	}
	return out, nil
}

// InputStreamName resolves a node input tagged tag.
func (n Node) InputStreamName(tag string) (string, bool) {
	return lookup(n.InputStreams, tag)
}

// OutputStreamName resolves a node output tagged tag.
func (n Node) OutputStreamName(tag string) (string, bool) {
	return lookup(n.OutputStreams, tag)
}

// IsBackEdge reports whether the node input tagged tag is a back edge.
func (n Node) IsBackEdge(tag string) bool {
	for _, info := range n.InputStreamInfo {
		if info.TagIndex == tag && info.BackEdge {
			return true
		}
	}
	return false
}

func lookup(streams []string, tag string) (string, bool) {
	for _, s := range streams {
		t, name := ParseStream(s)
		if t == tag {
			return name, true
		}
	}
	return "", false
}
