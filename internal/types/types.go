package types

// Image is an encoded frame handed to the engine untouched.
type Image struct {
	Data   []byte `json:"data,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format,omitempty"` // e.g. "jpeg"
}

// IsEmpty reports whether the image carries no pixels.
func (i Image) IsEmpty() bool {
	return len(i.Data) == 0
}

// FrameTask represents a single frame read from a video or live source
type FrameTask struct {
	Index       int
	TimestampMs int64
	Data        []byte
}
