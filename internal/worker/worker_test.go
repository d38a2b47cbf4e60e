package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/landmarker/internal/formats"
	"github.com/andresmejia3/landmarker/internal/graph"
	"github.com/andresmejia3/landmarker/internal/packet"
	"github.com/andresmejia3/landmarker/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// writeFrame pre-fills the pipe with one length-prefixed engine reply.
func writeFrame(t *testing.T, pipe *MockCloser, v any) {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	binary.Write(pipe, binary.BigEndian, uint32(len(body)))
	pipe.Write(body)
}

func taskNode(blendshapes bool) graph.Node {
	cfg := graph.CreateConfig(graph.GraphOptions{}, blendshapes, false, false)
	return cfg.NodesOf(graph.TaskGraphType)[0]
}

func taskInputs() map[string]packet.Packet {
	ts := packet.FromMillis(40)
	return map[string]packet.Packet{
		graph.TagImage:    packet.Make(types.Image{Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}, Format: "jpeg"}).At(ts),
		graph.TagNormRect: packet.Make(formats.NormalizedRect{XCenter: 0.5, YCenter: 0.5, Width: 1, Height: 1}).At(ts),
	}
}

func TestExecute(t *testing.T) {
	// 1. Setup Mocks
	// stdinMock simulates the pipe TO the engine (we write to it)
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// dataPipeMock simulates the pipe FROM the engine (we read from it)
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// 2. Pre-fill dataPipeMock with a fake response
	var resp response
	resp.Status = statusOK
	resp.Outputs.NormLandmarks = []formats.NormalizedLandmarkList{{Landmark: []formats.NormalizedLandmark{{X: 0.5}}}}
	resp.Outputs.Blendshapes = []formats.ClassificationList{{Classification: []formats.Classification{{Score: 0.7}}}}
	resp.Outputs.FaceGeometry = []formats.FaceGeometry{{}} // not requested by the node
	writeFrame(t, dataPipeMock, resp)

	// 3. Create Worker with mocks injected
	w := &EngineWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	// 4. Execute the function under test
	out, err := w.Execute(context.Background(), taskNode(true), taskInputs())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// 5. Verify what was sent TO the engine
	sent := stdinMock.Bytes()
	if len(sent) < 4 {
		t.Fatalf("Expected a length header, got %d bytes", len(sent))
	}
	if n := binary.BigEndian.Uint32(sent[:4]); int(n) != len(sent)-4 {
		t.Errorf("Header says %d bytes, body has %d", n, len(sent)-4)
	}
	var req request
	if err := json.Unmarshal(sent[4:], &req); err != nil {
		t.Fatalf("Request is not JSON: %v", err)
	}
	if req.Node != graph.TaskGraphType {
		t.Errorf("Expected node %q, got %q", graph.TaskGraphType, req.Node)
	}
	if req.TimestampUs != 40_000 {
		t.Errorf("Expected timestamp 40000us, got %d", req.TimestampUs)
	}
	if !bytes.Equal(req.Image, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("Image bytes were not forwarded: %X", req.Image)
	}
	if req.NormRect == nil || req.NormRect.Width != 1 {
		t.Errorf("Expected full-image rect, got %+v", req.NormRect)
	}

	// 6. Verify what was read FROM the engine
	lists, err := packet.Get[[]formats.NormalizedLandmarkList](out[graph.TagNormLandmarks])
	if err != nil {
		t.Fatalf("Landmarks missing: %v", err)
	}
	if len(lists) != 1 || lists[0].Landmark[0].X != 0.5 {
		t.Errorf("Unexpected landmarks %+v", lists)
	}
	if _, ok := out[graph.TagBlendshapes]; !ok {
		t.Error("Expected blendshapes output")
	}
	if _, ok := out[graph.TagFaceGeometry]; ok {
		t.Error("Face geometry was not requested and must stay absent")
	}
	img, err := packet.Get[types.Image](out[graph.TagImage])
	if err != nil || img.Format != "jpeg" {
		t.Errorf("Expected the input image echoed, got %+v (%v)", img, err)
	}
}

func TestExecute_NoFace(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	writeFrame(t, dataPipeMock, map[string]any{"status": statusOK, "outputs": map[string]any{}})

	w := &EngineWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	out, err := w.Execute(context.Background(), taskNode(false), taskInputs())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, ok := out[graph.TagNormLandmarks]; ok {
		t.Error("Expected no landmarks packet when no face was found")
	}
	if _, ok := out[graph.TagImage]; !ok {
		t.Error("Expected the image to be echoed")
	}
}

func TestExecute_Error(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	errMsg := "Python Exception: Import Error"
	writeFrame(t, dataPipeMock, map[string]any{"status": statusError, "error": errMsg})

	w := &EngineWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	_, err := w.Execute(context.Background(), taskNode(false), taskInputs())
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "engine process error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "engine process error: "+errMsg, err)
	}
}

// noDeadlinePipe is a data pipe whose read deadline cannot be set.
type noDeadlinePipe struct {
	MockCloser
}

func (p *noDeadlinePipe) SetReadDeadline(time.Time) error {
	return errors.New("deadline not supported")
}

func TestExecute_DeadlineUnsupported(t *testing.T) {
	dataPipe := &noDeadlinePipe{MockCloser{Buffer: new(bytes.Buffer)}}
	writeFrame(t, &dataPipe.MockCloser, map[string]any{"status": statusOK, "outputs": map[string]any{}})

	var logs bytes.Buffer
	w := &EngineWorker{
		ID:       4,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: dataPipe,
		cfg: Config{
			ReadTimeout: time.Second,
			Logger:      slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		},
	}

	if _, err := w.Execute(context.Background(), taskNode(false), taskInputs()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out := logs.String(); !strings.Contains(out, "engine read deadline not set") || !strings.Contains(out, "deadline not supported") {
		t.Errorf("Expected the deadline failure to be logged, got %q", out)
	}
}

func TestExecute_BrokenPipe(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)} // engine never answers

	w := &EngineWorker{ID: 3, Stdin: stdinMock, DataPipe: dataPipeMock}

	if _, err := w.Execute(context.Background(), taskNode(false), taskInputs()); err == nil {
		t.Fatal("Expected an error when the engine closes its pipe")
	}
}

func TestExecute_MissingImage(t *testing.T) {
	w := &EngineWorker{ID: 1, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: &MockCloser{Buffer: new(bytes.Buffer)}}
	_, err := w.Execute(context.Background(), taskNode(false), map[string]packet.Packet{})
	if err == nil {
		t.Fatal("Expected error for missing image input")
	}
}
