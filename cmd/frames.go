package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/andresmejia3/landmarker/internal/landmarker"
	"github.com/andresmejia3/landmarker/internal/types"
	"github.com/andresmejia3/landmarker/internal/utils"
)

const megabyte = 1024 * 1024

// readFrames decodes input with FFmpeg and calls emit for every JPEG frame.
// The frame data is a private copy. Decoding stops at the first emit error.
func readFrames(ctx context.Context, input string, realtime bool, emit func(types.FrameTask) error) error {
	ffmpeg := utils.NewFFmpegCmd(ctx, input, realtime)

	var stderrBuf bytes.Buffer
	ffmpeg.Stderr = &stderrBuf

	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	defer ffmpegOut.Close() // Ensure pipe is closed to prevent leaks/zombies

	if err := ffmpeg.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	// Frame Splitter
	scanner := bufio.NewScanner(ffmpegOut)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	index := 0
	var emitErr error
	for scanner.Scan() {
		data := make([]byte, len(scanner.Bytes()))
		copy(data, scanner.Bytes())
		if emitErr = emit(types.FrameTask{Index: index, Data: data}); emitErr != nil {
			break
		}
		index++
	}

	if emitErr != nil {
		// Unblock FFmpeg so Wait returns
		_, _ = io.Copy(io.Discard, ffmpegOut)
		_ = ffmpeg.Wait()
		return emitErr
	}
	// Check for scanner errors (e.g. token too long, unexpected EOF)
	if err := scanner.Err(); err != nil {
		_ = ffmpeg.Wait()
		return fmt.Errorf("frame scanner failed: %w", err)
	}
	if err := ffmpeg.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if stderrBuf.Len() > 0 {
			fmt.Fprintf(os.Stderr, "\nFFmpeg Logs:\n%s\n", stderrBuf.String())
		}
		return fmt.Errorf("FFmpeg execution failed: %w", err)
	}
	return nil
}

// frameTimestamp is the presentation time in ms of the index-th frame.
func frameTimestamp(index int, fps float64) int64 {
	return int64(math.Round(float64(index) * 1000 / fps))
}

// liveClock stamps live frames with wall-clock milliseconds since start,
// nudging equal readings forward so timestamps strictly increase.
type liveClock struct {
	start   time.Time
	last    int64
	started bool
}

func newLiveClock(start time.Time) *liveClock {
	return &liveClock{start: start}
}

func (c *liveClock) Next(now time.Time) int64 {
	ms := now.Sub(c.start).Milliseconds()
	if c.started && ms <= c.last {
		ms = c.last + 1
	}
	c.last, c.started = ms, true
	return ms
}

// frameResult is one detection waiting to be recorded.
type frameResult struct {
	TimestampMs int64             `json:"timestamp_ms"`
	Result      landmarker.Result `json:"result"`
}

// resultSink persists frame results. *store.Store implements it.
type resultSink interface {
	InsertFrameResult(ctx context.Context, runID string, timestampMs int64, r landmarker.Result) error
}

// runSummary aggregates a processed run for the final report.
type runSummary struct {
	Frames          int
	FramesWithFaces int
	MaxFaces        int
	FirstFaceMs     int64
	LastFaceMs      int64
}

func (s *runSummary) add(r frameResult) {
	s.Frames++
	n := len(r.Result.FaceLandmarks)
	if n == 0 {
		return
	}
	if s.FramesWithFaces == 0 {
		s.FirstFaceMs = r.TimestampMs
	}
	s.FramesWithFaces++
	s.LastFaceMs = r.TimestampMs
	if n > s.MaxFaces {
		s.MaxFaces = n
	}
}

// collectResults drains results into the summary, the optional sink and the
// optional JSON-lines writer until the channel is closed. It keeps draining
// after a sink failure so producers never block, and returns the first error.
func collectResults(ctx context.Context, results <-chan frameResult, sink resultSink, runID string, out io.Writer) (runSummary, error) {
	var summary runSummary
	var firstErr error
	var enc *json.Encoder
	if out != nil {
		enc = json.NewEncoder(out)
	}

	for r := range results {
		summary.add(r)
		if firstErr != nil {
			continue
		}
		if sink != nil {
			if err := sink.InsertFrameResult(ctx, runID, r.TimestampMs, r.Result); err != nil {
				firstErr = fmt.Errorf("failed to persist frame at %d ms: %w", r.TimestampMs, err)
				continue
			}
		}
		if enc != nil {
			if err := enc.Encode(r); err != nil {
				firstErr = fmt.Errorf("failed to write result: %w", err)
			}
		}
	}
	return summary, firstErr
}

func printSummary(title string, s runSummary, stats landmarker.Stats) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 %s\n", title)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🎞️  Frames Processed:     %d\n", s.Frames)
	fmt.Fprintf(os.Stderr, "👤 Frames With Faces:    %d (max %d per frame)\n", s.FramesWithFaces, s.MaxFaces)
	if s.FramesWithFaces > 0 {
		fmt.Fprintf(os.Stderr, "⏱️  Faces Visible:        %s -> %s\n",
			fmtTime(float64(s.FirstFaceMs)/1000), fmtTime(float64(s.LastFaceMs)/1000))
	}
	if stats.Dropped > 0 || stats.EmptyFrames > 0 || stats.Failures > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  Dropped: %d  Empty: %d  Failed: %d\n", stats.Dropped, stats.EmptyFrames, stats.Failures)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
