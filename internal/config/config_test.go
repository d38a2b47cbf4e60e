package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/landmarker/internal/landmarker"
	"github.com/andresmejia3/landmarker/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "landmarker.yaml", `
mode: video
num_faces: 3
output_face_blendshapes: true
engine:
  command: ["python3", "engine.py"]
  read_timeout: 2s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	opts := landmarker.DefaultOptions()
	cfg.ApplyTo(&opts, true)
	assert.Equal(t, landmarker.ModeVideo, opts.RunningMode)
	assert.Equal(t, 3, opts.NumFaces)
	assert.True(t, opts.OutputFaceBlendshapes)
	assert.False(t, opts.OutputFacialTransformationMatrixes)
	assert.Equal(t, float32(0.5), opts.MinTrackingConfidence, "omitted keys keep defaults")

	var eng worker.Config
	cfg.ApplyEngine(&eng)
	assert.Equal(t, []string{"python3", "engine.py"}, eng.Command)
	assert.Equal(t, 2*time.Second, eng.ReadTimeout)
}

func TestApplyToWithoutMode(t *testing.T) {
	cfg, err := Parse([]byte("mode: live_stream\n"))
	require.NoError(t, err)

	opts := landmarker.DefaultOptions()
	cfg.ApplyTo(&opts, false)
	assert.Equal(t, landmarker.ModeImage, opts.RunningMode)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"extension", "landmarker.json", "{}", "extension"},
		{"syntax", "bad.yaml", "num_faces: [", "parse"},
		{"mode", "mode.yaml", "mode: batch", "unknown running mode"},
		{"faces", "faces.yml", "num_faces: 0", "num_faces"},
		{"confidence", "conf.yaml", "min_tracking_confidence: 2", "min_tracking_confidence"},
		{"timeout", "timeout.yaml", "engine:\n  read_timeout: soon", "read_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadTooLarge(t *testing.T) {
	path := writeConfig(t, "big.yaml", "# "+strings.Repeat("x", maxFileSize))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}
