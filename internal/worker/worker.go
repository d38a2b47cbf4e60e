package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/landmarker/internal/graph"
	"github.com/andresmejia3/landmarker/internal/logger"
	"github.com/andresmejia3/landmarker/internal/packet"
	"github.com/andresmejia3/landmarker/internal/utils" // Using the SafeCommand wrapper
)

// DefaultCommand starts the bundled landmark engine.
var DefaultCommand = []string{"python3", "-u", "python/landmarker_engine.py"}

// maxResponseSize guards against a corrupt length header.
const maxResponseSize = 64 * 1024 * 1024

// ErrReadTimeout is returned when the engine does not answer in time.
var ErrReadTimeout = errors.New("timed out waiting for engine response")

// Config tunes the engine process.
type Config struct {
	Command     []string
	ReadTimeout time.Duration
	Debug       bool
	Logger      *slog.Logger // nil uses the package logger
}

// EngineWorker drives one landmark engine process over a framed pipe. It
// implements engine.Executor; calls are serialized.
type EngineWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	cfg Config
	mu  sync.Mutex
}

// NewEngineWorker starts the engine process. The process reads frames on
// stdin and answers on FD 3, keeping stdout and stderr free for its logs.
func NewEngineWorker(ctx context.Context, id int, cfg Config) (*EngineWorker, error) {
	if len(cfg.Command) == 0 {
		cfg.Command = DefaultCommand
	}

	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	if cfg.Debug {
		py.Env = append(os.Environ(), "LANDMARKER_DEBUG=1")
	}

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("engine %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &EngineWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		cfg:      cfg,
	}, nil
}

// Communicate sends one frame and reads one reply.
// Protocol: [uint32 big endian length][payload] in both directions.
func (w *EngineWorker) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // a crashed engine surfaces here
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponseSize {
		return nil, fmt.Errorf("engine response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Execute runs the task node for one timestamp inside the engine process.
func (w *EngineWorker) Execute(ctx context.Context, node graph.Node, inputs map[string]packet.Packet) (map[string]packet.Packet, error) {
	body, err := encodeRequest(node, inputs)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if d, ok := w.DataPipe.(deadliner); ok {
		deadline := time.Time{}
		if w.cfg.ReadTimeout > 0 {
			deadline = time.Now().Add(w.cfg.ReadTimeout)
		}
		if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
			deadline = ctxDeadline
		}
		// Without a deadline a hung engine blocks until ctx ends the process.
		if err := d.SetReadDeadline(deadline); err != nil {
			logger.Or(w.cfg.Logger).Debug("engine read deadline not set", "engine", w.ID, "error", err)
		}
	}

	resp, err := w.Communicate(body)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("engine %d: %w", w.ID, ErrReadTimeout)
		}
		return nil, fmt.Errorf("engine %d: %w", w.ID, err)
	}
	return decodeResponse(resp, node, inputs)
}

// Logs returns whatever the engine wrote to stderr.
func (w *EngineWorker) Logs() string {
	if w.Cmd == nil || w.Cmd.Stderr == nil {
		return ""
	}
	return w.Cmd.Stderr.String()
}

// Close shuts the pipes and waits for the process to exit.
func (w *EngineWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
