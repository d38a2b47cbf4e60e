package graph

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCreateConfigOutputs(t *testing.T) {
	tests := []struct {
		name        string
		blendshapes bool
		matrixes    bool
		want        []string
	}{
		{"no optional outputs", false, false, []string{TagImage, TagNormLandmarks}},
		{"blendshapes only", true, false, []string{TagBlendshapes, TagImage, TagNormLandmarks}},
		{"geometry only", false, true, []string{TagFaceGeometry, TagImage, TagNormLandmarks}},
		{"both", true, true, []string{TagBlendshapes, TagFaceGeometry, TagImage, TagNormLandmarks}},
	}

	for _, tt := range tests {
		for _, limit := range []bool{false, true} {
			cfg := CreateConfig(GraphOptions{}, tt.blendshapes, tt.matrixes, limit)

			got := cfg.OutputTags()
			sort.Strings(got)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("%s (flow limiting %v): output tags mismatch (-want +got):\n%s", tt.name, limit, diff)
			}

			task := cfg.NodesOf(TaskGraphType)
			require.Len(t, task, 1)
			assert.Len(t, task[0].OutputStreams, len(tt.want), "task outputs follow graph outputs")
		}
	}
}

func TestCreateConfigDirectInputs(t *testing.T) {
	cfg := CreateConfig(GraphOptions{}, false, false, false)

	assert.Equal(t, []string{"IMAGE:image_in", "NORM_RECT:norm_rect_in"}, cfg.InputStreams)
	assert.Empty(t, cfg.NodesOf(FlowLimiterType))

	task := cfg.NodesOf(TaskGraphType)[0]
	assert.Equal(t, cfg.InputStreams, task.InputStreams)
}

func TestCreateConfigFlowLimited(t *testing.T) {
	opts := GraphOptions{FaceDetector: FaceDetectorOptions{NumFaces: 2}}
	cfg := CreateConfig(opts, true, false, true)

	limiters := cfg.NodesOf(FlowLimiterType)
	require.Len(t, limiters, 1)
	limiter := limiters[0]

	assert.Equal(t, []string{"image_in", "norm_rect_in", "FINISHED:norm_landmarks"}, limiter.InputStreams)
	assert.Equal(t, []string{"throttled_image_in", "throttled_norm_rect_in"}, limiter.OutputStreams)
	assert.True(t, limiter.IsBackEdge(TagFinished))
	require.NotNil(t, limiter.FlowLimiterOptions)
	assert.Equal(t, DefaultFlowLimiterOptions(), *limiter.FlowLimiterOptions)

	task := cfg.NodesOf(TaskGraphType)[0]
	assert.Equal(t, []string{"IMAGE:throttled_image_in", "NORM_RECT:throttled_norm_rect_in"}, task.InputStreams)
	require.NotNil(t, task.LandmarkerOptions)
	assert.Equal(t, 2, task.LandmarkerOptions.FaceDetector.NumFaces)

	// Graph inputs are unchanged by gating.
	assert.Equal(t, []string{"IMAGE:image_in", "NORM_RECT:norm_rect_in"}, cfg.InputStreams)
}

func TestParseStream(t *testing.T) {
	tag, name := ParseStream("IMAGE:image_in")
	assert.Equal(t, "IMAGE", tag)
	assert.Equal(t, "image_in", name)

	tag, name = ParseStream("image_in")
	assert.Empty(t, tag)
	assert.Equal(t, "image_in", name)
}

func TestConfigYAML(t *testing.T) {
	cfg := CreateConfig(GraphOptions{MinTrackingConfidence: 0.5}, false, true, true)

	out, err := cfg.YAML()
	require.NoError(t, err)
	text := string(out)
	assert.True(t, strings.Contains(text, "FlowLimiterCalculator"))
	assert.True(t, strings.Contains(text, "FACE_GEOMETRY:face_geometry"))

	var decoded Config
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, cfg.OutputStreams, decoded.OutputStreams)
}
