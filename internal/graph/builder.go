package graph

// Calculator types the engine knows how to run.
const (
	TaskGraphType   = "landmarker.FaceLandmarkerGraph"
	FlowLimiterType = "FlowLimiterCalculator"
)

// Stream tags.
const (
	TagImage         = "IMAGE"
	TagNormRect      = "NORM_RECT"
	TagNormLandmarks = "NORM_LANDMARKS"
	TagBlendshapes   = "BLENDSHAPES"
	TagFaceGeometry  = "FACE_GEOMETRY"
	TagFinished      = "FINISHED"
)

// Stream names. Packet maps exchanged with the runner are keyed by these.
const (
	ImageInStream       = "image_in"
	ImageOutStream      = "image_out"
	NormRectStream      = "norm_rect_in"
	NormLandmarksStream = "norm_landmarks"
	BlendshapesStream   = "blendshapes"
	FaceGeometryStream  = "face_geometry"
)

const throttledPrefix = "throttled_"

// CreateConfig builds the landmarker graph. Optional outputs appear in the
// description only when requested. With flow limiting the image and rect
// inputs are gated on the landmarks output; otherwise they feed the subgraph
// directly.
func CreateConfig(opts GraphOptions, outputBlendshapes, outputTransformationMatrixes, enableFlowLimiting bool) Config {
	cfg := Config{
		InputStreams: []string{
			JoinStream(TagImage, ImageInStream),
			JoinStream(TagNormRect, NormRectStream),
		},
	}
	task := Node{
		Calculator:        TaskGraphType,
		LandmarkerOptions: &opts,
	}

	addOutput := func(tag, name string) {
		task.OutputStreams = append(task.OutputStreams, JoinStream(tag, name))
		cfg.OutputStreams = append(cfg.OutputStreams, JoinStream(tag, name))
	}
	addOutput(TagNormLandmarks, NormLandmarksStream)
	addOutput(TagImage, ImageOutStream)
	if outputBlendshapes {
		addOutput(TagBlendshapes, BlendshapesStream)
	}
	if outputTransformationMatrixes {
		addOutput(TagFaceGeometry, FaceGeometryStream)
	}

	if enableFlowLimiting {
		return AddFlowLimiter(cfg, task, []string{TagImage, TagNormRect}, TagNormLandmarks)
	}

	task.InputStreams = []string{
		JoinStream(TagImage, ImageInStream),
		JoinStream(TagNormRect, NormRectStream),
	}
	cfg.Nodes = append(cfg.Nodes, task)
	return cfg
}

// AddFlowLimiter puts a FlowLimiterCalculator between the graph inputs tagged
// inputTags and the task node. The task output tagged finishedTag is looped
// back so the limiter admits a new frame only once the previous one produced
// it.
func AddFlowLimiter(cfg Config, task Node, inputTags []string, finishedTag string) Config {
	limiter := Node{Calculator: FlowLimiterType}
	opts := DefaultFlowLimiterOptions()
	limiter.FlowLimiterOptions = &opts

	task.InputStreams = nil
	for _, tag := range inputTags {
		name, ok := cfg.InputStreamName(tag)
		if !ok {
			continue
		}
		throttled := throttledPrefix + name
		limiter.InputStreams = append(limiter.InputStreams, name)
		limiter.OutputStreams = append(limiter.OutputStreams, throttled)
		task.InputStreams = append(task.InputStreams, JoinStream(tag, throttled))
	}

	if finished, ok := task.OutputStreamName(finishedTag); ok {
		limiter.InputStreams = append(limiter.InputStreams, JoinStream(TagFinished, finished))
		limiter.InputStreamInfo = append(limiter.InputStreamInfo, InputStreamInfo{
			TagIndex: TagFinished,
			BackEdge: true,
		})
	}

	cfg.Nodes = append(cfg.Nodes, limiter, task)
	return cfg
}
