// Package formats holds the shapes the landmark engine emits on its output
// streams. They mirror the engine's wire schema and are converted into the
// public result types by the landmarker package.
package formats

// NormalizedLandmark is one landmark with coordinates normalized to [0,1] by
// the image size. Z uses roughly the same scale as X.
type NormalizedLandmark struct {
	X          float32  `json:"x"`
	Y          float32  `json:"y"`
	Z          float32  `json:"z"`
	Visibility *float32 `json:"visibility,omitempty"`
	Presence   *float32 `json:"presence,omitempty"`
}

// NormalizedLandmarkList is the landmark set of a single face.
type NormalizedLandmarkList struct {
	Landmark []NormalizedLandmark `json:"landmark"`
}

// Classification is one scored label.
type Classification struct {
	Index       int     `json:"index"`
	Score       float32 `json:"score"`
	Label       string  `json:"label,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
}

// ClassificationList holds the blendshape scores of a single face.
type ClassificationList struct {
	Classification []Classification `json:"classification"`
}

// MatrixLayout describes how PackedData is ordered.
type MatrixLayout string

const (
	ColumnMajor MatrixLayout = "COLUMN_MAJOR"
	RowMajor    MatrixLayout = "ROW_MAJOR"
)

// MatrixData is a dense float matrix.
type MatrixData struct {
	Rows       int          `json:"rows"`
	Cols       int          `json:"cols"`
	PackedData []float32    `json:"packed_data"`
	Layout     MatrixLayout `json:"layout,omitempty"`
}

// Mesh3D is the canonical face mesh fitted to a detection.
type Mesh3D struct {
	VertexType   string    `json:"vertex_type,omitempty"`
	VertexBuffer []float32 `json:"vertex_buffer,omitempty"`
	IndexBuffer  []uint32  `json:"index_buffer,omitempty"`
}

// FaceGeometry is the full geometry output for one face. Only the pose
// transform is surfaced publicly.
type FaceGeometry struct {
	Mesh                Mesh3D     `json:"mesh"`
	PoseTransformMatrix MatrixData `json:"pose_transform_matrix"`
}

// NormalizedRect is a rotated rectangle in normalized image coordinates.
type NormalizedRect struct {
	XCenter  float32 `json:"x_center"`
	YCenter  float32 `json:"y_center"`
	Width    float32 `json:"width"`
	Height   float32 `json:"height"`
	Rotation float32 `json:"rotation"`
}
