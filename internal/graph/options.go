package graph

// BaseOptions is shared by every task graph.
type BaseOptions struct {
	ModelAssetPath string `yaml:"model_asset_path,omitempty" json:"model_asset_path,omitempty"`
	// UseStreamMode is set for VIDEO and LIVE_STREAM so the engine keeps
	// tracking state between frames.
	UseStreamMode bool `yaml:"use_stream_mode" json:"use_stream_mode"`
}

// FaceDetectorOptions configures the detection stage of the subgraph.
type FaceDetectorOptions struct {
	NumFaces               int     `yaml:"num_faces" json:"num_faces"`
	MinDetectionConfidence float32 `yaml:"min_detection_confidence" json:"min_detection_confidence"`
}

// FaceLandmarksDetectorOptions configures the landmark stage of the subgraph.
type FaceLandmarksDetectorOptions struct {
	MinDetectionConfidence float32 `yaml:"min_detection_confidence" json:"min_detection_confidence"`
}

// GraphOptions is the internal options block of the landmarker subgraph.
type GraphOptions struct {
	BaseOptions           BaseOptions                  `yaml:"base_options" json:"base_options"`
	FaceDetector          FaceDetectorOptions          `yaml:"face_detector_graph_options" json:"face_detector_graph_options"`
	FaceLandmarksDetector FaceLandmarksDetectorOptions `yaml:"face_landmarks_detector_graph_options" json:"face_landmarks_detector_graph_options"`
	MinTrackingConfidence float32                      `yaml:"min_tracking_confidence" json:"min_tracking_confidence"`
}

// FlowLimiterOptions bounds the frames admitted into the gated subgraph.
type FlowLimiterOptions struct {
	MaxInFlight int `yaml:"max_in_flight"`
	MaxInQueue  int `yaml:"max_in_queue"`
}

// DefaultFlowLimiterOptions admits one frame at a time and keeps the newest
// waiting frame.
func DefaultFlowLimiterOptions() FlowLimiterOptions {
	return FlowLimiterOptions{MaxInFlight: 1, MaxInQueue: 1}
}
