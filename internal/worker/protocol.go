package worker

import (
	"encoding/json"
	"fmt"

	"github.com/andresmejia3/landmarker/internal/formats"
	"github.com/andresmejia3/landmarker/internal/graph"
	"github.com/andresmejia3/landmarker/internal/packet"
	"github.com/andresmejia3/landmarker/internal/types"
)

// Response status codes written by the engine process.
const (
	statusOK    = 0
	statusError = 1
)

// request is one frame sent to the engine process.
type request struct {
	Node        string                  `json:"node"`
	Options     *graph.GraphOptions     `json:"options,omitempty"`
	Outputs     []string                `json:"outputs"` // tags the graph consumes
	TimestampUs int64                   `json:"timestamp_us"`
	Image       []byte                  `json:"image"` // base64 on the wire
	Format      string                  `json:"format,omitempty"`
	NormRect    *formats.NormalizedRect `json:"norm_rect,omitempty"`
}

// response mirrors what the engine process writes back. Outputs the engine
// did not compute are omitted.
type response struct {
	Status  int    `json:"status"`
	Error   string `json:"error,omitempty"`
	Outputs struct {
		NormLandmarks []formats.NormalizedLandmarkList `json:"norm_landmarks,omitempty"`
		Blendshapes   []formats.ClassificationList     `json:"blendshapes,omitempty"`
		FaceGeometry  []formats.FaceGeometry           `json:"face_geometry,omitempty"`
	} `json:"outputs"`
}

func encodeRequest(node graph.Node, inputs map[string]packet.Packet) ([]byte, error) {
	imgPacket, ok := inputs[graph.TagImage]
	if !ok {
		return nil, fmt.Errorf("missing %s input", graph.TagImage)
	}
	img, err := packet.Get[types.Image](imgPacket)
	if err != nil {
		return nil, fmt.Errorf("bad %s input: %w", graph.TagImage, err)
	}

	req := request{
		Node:        node.Calculator,
		Options:     node.LandmarkerOptions,
		TimestampUs: imgPacket.Timestamp().Value(),
		Image:       img.Data,
		Format:      img.Format,
	}
	for _, s := range node.OutputStreams {
		tag, _ := graph.ParseStream(s)
		req.Outputs = append(req.Outputs, tag)
	}
	if p, ok := inputs[graph.TagNormRect]; ok {
		rect, err := packet.Get[formats.NormalizedRect](p)
		if err != nil {
			return nil, fmt.Errorf("bad %s input: %w", graph.TagNormRect, err)
		}
		req.NormRect = &rect
	}
	return json.Marshal(req)
}

// decodeResponse turns the engine reply into tagged output packets. No faces
// means no landmarks packet. The input image is echoed on the IMAGE output.
func decodeResponse(body []byte, node graph.Node, inputs map[string]packet.Packet) (map[string]packet.Packet, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("malformed engine response: %w", err)
	}
	if resp.Status != statusOK {
		return nil, fmt.Errorf("engine process error: %s", resp.Error)
	}

	out := make(map[string]packet.Packet)
	if _, ok := node.OutputStreamName(graph.TagImage); ok {
		out[graph.TagImage] = inputs[graph.TagImage]
	}
	if len(resp.Outputs.NormLandmarks) > 0 {
		out[graph.TagNormLandmarks] = packet.Make(resp.Outputs.NormLandmarks)
	}
	if _, ok := node.OutputStreamName(graph.TagBlendshapes); ok && len(resp.Outputs.Blendshapes) > 0 {
		out[graph.TagBlendshapes] = packet.Make(resp.Outputs.Blendshapes)
	}
	if _, ok := node.OutputStreamName(graph.TagFaceGeometry); ok && len(resp.Outputs.FaceGeometry) > 0 {
		out[graph.TagFaceGeometry] = packet.Make(resp.Outputs.FaceGeometry)
	}
	return out, nil
}
