package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/landmarker/internal/landmarker"
	"github.com/andresmejia3/landmarker/internal/logger"
	"github.com/andresmejia3/landmarker/internal/store"
	"github.com/andresmejia3/landmarker/internal/types"
	"github.com/andresmejia3/landmarker/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var videoOpts Options

var videoCmd = &cobra.Command{
	Use:   "video",
	Short: "Track face landmarks through a video file",
	Run: func(cmd *cobra.Command, args []string) {
		runVideo(cmd, videoOpts)
	},
}

func init() {
	videoCmd.Flags().StringVarP(&videoOpts.InputPath, "input", "i", "", "Path to video")
	videoCmd.Flags().IntVarP(&videoOpts.NthFrame, "nth-frame", "n", 1, "Keyframe interval (e.g. detect on every 10th frame)")
	videoCmd.Flags().BoolVarP(&videoOpts.Save, "save", "s", false, "Persist per-frame results to the database")
	addDetectionFlags(videoCmd, &videoOpts)

	videoCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(videoCmd)
}

// runVideo decodes the video with FFmpeg, runs every nth frame through the
// landmarker in VIDEO mode and aggregates (optionally persists) the results.
func runVideo(cmd *cobra.Command, opts Options) {
	if err := validateVideoFlags(&opts); err != nil {
		utils.Die("Invalid arguments", err, nil)
	}
	ctx := cmd.Context()

	fps, err := utils.GetVideoFPS(opts.InputPath)
	if err != nil {
		utils.Die("Failed to determine video FPS", err, nil)
	}

	lo := buildOptions(cmd, landmarker.ModeVideo, opts)

	var sink resultSink
	var runID string
	if opts.Save {
		videoID, err := utils.GenerateVideoID(opts.InputPath)
		if err != nil {
			utils.Die("Failed to generate video ID", err, nil)
		}
		runID, err = DB.CreateRun(ctx, store.RunInfo{
			Mode:     landmarker.ModeVideo.String(),
			Source:   opts.InputPath,
			SourceID: videoID,
			Options:  lo.GraphOptions(),
		})
		if err != nil {
			utils.Die("Failed to register run", err, nil)
		}
		sink = DB
		fmt.Fprintf(os.Stderr, "📼 Processing Video ID: %s (run %s)\n", videoID[:12], runID)
	}

	lm, eng, cleanup, err := startEngine(cmd, lo, opts)
	if err != nil {
		utils.Die("Landmarker startup failed", err, engineCmdOf(eng))
	}
	defer cleanup()
	logger.InfoContext(ctx, "video started", "input", opts.InputPath, "fps", fps, "nth_frame", opts.NthFrame, "landmarker", lm.ID())

	totalVideoFrames := utils.GetTotalFrames(opts.InputPath)
	if totalVideoFrames <= 0 {
		// Fallback to a spinner or unknown total if ffprobe fails
		totalVideoFrames = -1
	}
	bar := progressbar.NewOptions(totalVideoFrames,
		progressbar.OptionSetDescription("🔍 Landmarking"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	ipo := processingOptions(opts)
	frames := make(chan types.FrameTask, 2)
	results := make(chan frameResult, 16)
	g, gctx := errgroup.WithContext(ctx)

	// Decoder
	g.Go(func() error {
		defer close(frames)
		return readFrames(gctx, opts.InputPath, false, func(task types.FrameTask) error {
			bar.Add(1)
			if task.Index%opts.NthFrame != 0 {
				return nil
			}
			task.TimestampMs = frameTimestamp(task.Index, fps)
			select {
			case frames <- task:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	// Detector. VIDEO mode is ordered, so a single goroutine feeds the graph.
	g.Go(func() error {
		defer close(results)
		for task := range frames {
			res, err := lm.DetectForVideo(gctx, utils.NewImage(task.Data), task.TimestampMs, ipo)
			if err != nil {
				return fmt.Errorf("frame %d: %w", task.Index, err)
			}
			select {
			case results <- frameResult{TimestampMs: task.TimestampMs, Result: res}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	// Aggregator
	var summary runSummary
	g.Go(func() error {
		var err error
		summary, err = collectResults(gctx, results, sink, runID, nil)
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, landmarker.ErrEngineExecution) {
			utils.Die("Engine failed", err, engineCmdOf(eng))
		}
		utils.Die("Video processing failed", err, nil)
	}

	bar.Finish()
	printSummary("VIDEO SUMMARY", summary, lm.Stats())
}

// validateVideoFlags ensures all CLI arguments are valid before starting heavy processes.
func validateVideoFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return errors.New("input path is a directory, expected a video file")
	}
	if opts.NthFrame < 1 {
		return fmt.Errorf("nth-frame must be >= 1, got %d", opts.NthFrame)
	}
	return validateDetectionFlags(opts)
}

// validateDetectionFlags checks the flags added by addDetectionFlags.
func validateDetectionFlags(opts *Options) error {
	if opts.NumFaces < 1 {
		return fmt.Errorf("num-faces must be >= 1, got %d", opts.NumFaces)
	}
	if opts.Rotation%90 != 0 {
		return fmt.Errorf("rotation must be a multiple of 90, got %d", opts.Rotation)
	}
	return nil
}
