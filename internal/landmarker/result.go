package landmarker

import (
	"fmt"

	"github.com/andresmejia3/landmarker/internal/formats"
	"github.com/andresmejia3/landmarker/internal/graph"
	"github.com/andresmejia3/landmarker/internal/packet"
)

// Landmark is a normalized face landmark.
type Landmark = formats.NormalizedLandmark

// Category is one blendshape score.
type Category struct {
	Index        int     `json:"index"`
	Score        float32 `json:"score"`
	CategoryName string  `json:"category_name,omitempty"`
	DisplayName  string  `json:"display_name,omitempty"`
}

// Classifications holds the blendshape categories of one face.
type Classifications struct {
	Categories []Category `json:"categories"`
	HeadIndex  int        `json:"head_index"`
}

// Matrix is a face pose transform.
type Matrix = formats.MatrixData

// Result is the detection output for one image. FaceBlendshapes and
// FacialTransformationMatrixes are only set when requested in Options.
type Result struct {
	FaceLandmarks                [][]Landmark      `json:"face_landmarks"`
	FaceBlendshapes              []Classifications `json:"face_blendshapes,omitempty"`
	FacialTransformationMatrixes []Matrix          `json:"facial_transformation_matrixes,omitempty"`
}

// IsEmpty reports whether no face was found.
func (r Result) IsEmpty() bool {
	return len(r.FaceLandmarks) == 0
}

// packetSource is the read side of an output packet map.
type packetSource interface {
	Get(name string) (packet.Packet, bool)
}

// assembleResult converts engine outputs into a Result. A missing or empty
// landmarks packet yields an empty Result. Optional outputs are decoded only
// when their stream is present and non-empty.
func assembleResult(outputs packetSource) (Result, error) {
	p, ok := outputs.Get(graph.NormLandmarksStream)
	if !ok || p.IsEmpty() {
		return Result{}, nil
	}
	lists, err := packet.Get[[]formats.NormalizedLandmarkList](p)
	if err != nil {
		return Result{}, fmt.Errorf("decode landmarks: %w", err)
	}

	var result Result
	result.FaceLandmarks = make([][]Landmark, 0, len(lists))
	for _, l := range lists {
		result.FaceLandmarks = append(result.FaceLandmarks, l.Landmark)
	}

	if p, ok := outputs.Get(graph.BlendshapesStream); ok && !p.IsEmpty() {
		lists, err := packet.Get[[]formats.ClassificationList](p)
		if err != nil {
			return Result{}, fmt.Errorf("decode blendshapes: %w", err)
		}
		result.FaceBlendshapes = make([]Classifications, 0, len(lists))
		for i, l := range lists {
			result.FaceBlendshapes = append(result.FaceBlendshapes, toClassifications(l, i))
		}
	}

	if p, ok := outputs.Get(graph.FaceGeometryStream); ok && !p.IsEmpty() {
		geometries, err := packet.Get[[]formats.FaceGeometry](p)
		if err != nil {
			return Result{}, fmt.Errorf("decode face geometry: %w", err)
		}
		result.FacialTransformationMatrixes = make([]Matrix, 0, len(geometries))
		for _, g := range geometries {
			result.FacialTransformationMatrixes = append(result.FacialTransformationMatrixes, g.PoseTransformMatrix)
		}
	}
	return result, nil
}

func toClassifications(l formats.ClassificationList, head int) Classifications {
	c := Classifications{HeadIndex: head, Categories: make([]Category, 0, len(l.Classification))}
	for _, cl := range l.Classification {
		c.Categories = append(c.Categories, Category{
			Index:        cl.Index,
			Score:        cl.Score,
			CategoryName: cl.Label,
			DisplayName:  cl.DisplayName,
		})
	}
	return c
}
