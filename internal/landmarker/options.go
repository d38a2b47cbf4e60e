package landmarker

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/andresmejia3/landmarker/internal/graph"
	"github.com/andresmejia3/landmarker/internal/metrics"
	"github.com/andresmejia3/landmarker/internal/types"
)

// RunningMode selects the submission discipline for the lifetime of a
// Landmarker.
type RunningMode int

const (
	// ModeImage runs single still images synchronously.
	ModeImage RunningMode = iota
	// ModeVideo runs timestamped frames synchronously, in order.
	ModeVideo
	// ModeLiveStream accepts frames asynchronously and delivers results to
	// the result callback.
	ModeLiveStream
)

func (m RunningMode) String() string {
	switch m {
	case ModeImage:
		return "image"
	case ModeVideo:
		return "video"
	case ModeLiveStream:
		return "live_stream"
	default:
		return fmt.Sprintf("RunningMode(%d)", int(m))
	}
}

// ParseRunningMode accepts the names printed by String, case-insensitively.
func ParseRunningMode(s string) (RunningMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image":
		return ModeImage, nil
	case "video":
		return ModeVideo, nil
	case "live_stream", "live-stream", "livestream":
		return ModeLiveStream, nil
	}
	return 0, fmt.Errorf("%w: unknown running mode %q", ErrInvalidOptions, s)
}

// ResultCallback receives live results. On failure result and image are
// empty and timestampMs is the unset sentinel.
type ResultCallback func(result Result, image types.Image, timestampMs int64, err error)

// DropCallback is told about live frames shed by the flow limiter.
type DropCallback func(timestampMs int64)

// Options configures a Landmarker. Start from DefaultOptions.
type Options struct {
	RunningMode    RunningMode
	ModelAssetPath string

	// NumFaces is the maximum number of faces reported.
	NumFaces                   int
	MinFaceDetectionConfidence float32
	MinFacePresenceConfidence  float32
	MinTrackingConfidence      float32

	OutputFaceBlendshapes              bool
	OutputFacialTransformationMatrixes bool

	// ResultCallback must be set in live stream mode and only there.
	ResultCallback ResultCallback
	DropCallback   DropCallback

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns image-mode options with the engine defaults.
func DefaultOptions() Options {
	return Options{
		RunningMode:                ModeImage,
		NumFaces:                   1,
		MinFaceDetectionConfidence: 0.5,
		MinFacePresenceConfidence:  0.5,
		MinTrackingConfidence:      0.5,
	}
}

// Validate checks mode/callback consistency and option ranges.
func (o Options) Validate() error {
	switch o.RunningMode {
	case ModeImage, ModeVideo, ModeLiveStream:
	default:
		return fmt.Errorf("%w: unknown running mode %d", ErrInvalidOptions, int(o.RunningMode))
	}

	live := o.RunningMode == ModeLiveStream
	if live && o.ResultCallback == nil {
		return fmt.Errorf("%w: live stream mode requires a result callback", ErrInvalidOptions)
	}
	if !live && o.ResultCallback != nil {
		return fmt.Errorf("%w: a result callback is only allowed in live stream mode, not %s", ErrInvalidOptions, o.RunningMode)
	}
	if !live && o.DropCallback != nil {
		return fmt.Errorf("%w: a drop callback is only allowed in live stream mode, not %s", ErrInvalidOptions, o.RunningMode)
	}

	if o.NumFaces < 1 {
		return fmt.Errorf("%w: num faces must be at least 1, got %d", ErrInvalidOptions, o.NumFaces)
	}
	for _, c := range []struct {
		name  string
		value float32
	}{
		{"min face detection confidence", o.MinFaceDetectionConfidence},
		{"min face presence confidence", o.MinFacePresenceConfidence},
		{"min tracking confidence", o.MinTrackingConfidence},
	} {
		if c.value < 0 || c.value > 1 {
			return fmt.Errorf("%w: %s must be in [0,1], got %v", ErrInvalidOptions, c.name, c.value)
		}
	}
	return nil
}

// GraphOptions converts o into the options block of the landmarker subgraph.
func (o Options) GraphOptions() graph.GraphOptions {
	return graph.GraphOptions{
		BaseOptions: graph.BaseOptions{
			ModelAssetPath: o.ModelAssetPath,
			UseStreamMode:  o.RunningMode != ModeImage,
		},
		FaceDetector: graph.FaceDetectorOptions{
			NumFaces:               o.NumFaces,
			MinDetectionConfidence: o.MinFaceDetectionConfidence,
		},
		FaceLandmarksDetector: graph.FaceLandmarksDetectorOptions{
			MinDetectionConfidence: o.MinFacePresenceConfidence,
		},
		MinTrackingConfidence: o.MinTrackingConfidence,
	}
}

// GraphConfig builds the graph description for o. Live stream mode gets a
// flow limiter.
func (o Options) GraphConfig() graph.Config {
	return graph.CreateConfig(
		o.GraphOptions(),
		o.OutputFaceBlendshapes,
		o.OutputFacialTransformationMatrixes,
		o.RunningMode == ModeLiveStream,
	)
}
