package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/landmarker/internal/landmarker"
	"github.com/andresmejia3/landmarker/internal/logger"
	"github.com/andresmejia3/landmarker/internal/metrics"
	"github.com/andresmejia3/landmarker/internal/store"
	"github.com/andresmejia3/landmarker/internal/types"
	"github.com/andresmejia3/landmarker/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var streamOpts Options

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Detect face landmarks on a live source, dropping frames when the engine falls behind",
	Run: func(cmd *cobra.Command, args []string) {
		runStream(cmd, streamOpts)
	},
}

func init() {
	streamCmd.Flags().StringVarP(&streamOpts.InputPath, "input", "i", "", "Camera device, URL or file to stream")
	streamCmd.Flags().BoolVar(&streamOpts.Realtime, "realtime", true, "Read file inputs at their native frame rate")
	streamCmd.Flags().BoolVarP(&streamOpts.Save, "save", "s", false, "Persist delivered results to the database")
	streamCmd.Flags().StringVar(&streamOpts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	addDetectionFlags(streamCmd, &streamOpts)

	streamCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, opts Options) {
	if err := validateDetectionFlags(&opts); err != nil {
		utils.Die("Invalid arguments", err, nil)
	}
	ctx := cmd.Context()

	if opts.MetricsAddr == "" && fileCfg.MetricsAddr != nil {
		opts.MetricsAddr = *fileCfg.MetricsAddr
	}
	reg := metrics.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		utils.Die("Failed to register metrics", err, nil)
	}

	lo := buildOptions(cmd, landmarker.ModeLiveStream, opts)
	lo.Metrics = m

	var sink resultSink
	var runID string
	if opts.Save {
		runID, err = DB.CreateRun(ctx, store.RunInfo{
			Mode:    landmarker.ModeLiveStream.String(),
			Source:  opts.InputPath,
			Options: lo.GraphOptions(),
		})
		if err != nil {
			utils.Die("Failed to register run", err, nil)
		}
		sink = DB
		fmt.Fprintf(os.Stderr, "📡 Recording stream as run %s\n", runID)
	}

	results := make(chan frameResult, 64)
	lo.ResultCallback = func(r landmarker.Result, _ types.Image, timestampMs int64, err error) {
		if err != nil {
			logger.Warn("frame failed", "error", err)
			return
		}
		results <- frameResult{TimestampMs: timestampMs, Result: r}
	}
	lo.DropCallback = func(timestampMs int64) {
		logger.Debug("frame dropped", "timestamp_ms", timestampMs)
	}

	lm, eng, cleanup, err := startEngine(cmd, lo, opts)
	if err != nil {
		utils.Die("Landmarker startup failed", err, engineCmdOf(eng))
	}

	logger.InfoContext(ctx, "stream started", "input", opts.InputPath, "landmarker", lm.ID())

	var summary runSummary
	var collectErr error
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		// Background: rows already delivered are still written after Ctrl+C
		summary, collectErr = collectResults(context.Background(), results, sink, runID, os.Stdout)
	}()

	sctx, stop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(sctx)

	if opts.MetricsAddr != "" {
		fmt.Fprintf(os.Stderr, "📈 Metrics on http://%s/metrics\n", opts.MetricsAddr)
		g.Go(func() error {
			return metrics.Serve(gctx, opts.MetricsAddr, reg)
		})
	}

	ipo := processingOptions(opts)
	clock := newLiveClock(time.Now())
	g.Go(func() error {
		defer stop() // source exhausted, stop the metrics server too
		return readFrames(gctx, opts.InputPath, opts.Realtime, func(task types.FrameTask) error {
			return lm.DetectAsync(utils.NewImage(task.Data), clock.Next(time.Now()), ipo)
		})
	})

	runErr := g.Wait()
	stop()

	// Close waits for the in-flight callback, then no more sends happen.
	cleanup()
	close(results)
	<-collected

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		utils.Die("Stream processing failed", runErr, engineCmdOf(eng))
	}
	if collectErr != nil {
		utils.Die("Failed to record results", collectErr, nil)
	}
	printSummary("STREAM SUMMARY", summary, lm.Stats())
}
