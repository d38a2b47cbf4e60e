package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andresmejia3/landmarker/internal/config"
	"github.com/andresmejia3/landmarker/internal/landmarker"
	"github.com/andresmejia3/landmarker/internal/logger"
	"github.com/andresmejia3/landmarker/internal/store"
	"github.com/andresmejia3/landmarker/internal/utils"
	"github.com/andresmejia3/landmarker/internal/worker"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the image, video and stream commands
type Options struct {
	InputPath     string
	NthFrame      int
	NumFaces      int
	Blendshapes   bool
	Matrixes      bool
	Rotation      int
	Save          bool
	Realtime      bool
	MetricsAddr   string
	EngineTimeout string
}

// needsDB marks commands that always talk to the database.
const needsDB = "needs-db"

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// dbURL is the connection string
	dbURL string

	configPath string
	logLevel   string
	engineCmd  string
	engineDbg  bool
	verbose    bool

	// fileCfg is the parsed --config file, empty when none was given
	fileCfg = &config.File{}
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "landmarker",
	Short:   "Face landmark detection for images, videos and live streams",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fileCfg = cfg
		}

		level := logLevel
		if !cmd.Flags().Changed("log-level") && fileCfg.LogLevel != nil {
			level = *fileCfg.LogLevel
		}
		logger.SetLevel(logger.ParseLevel(level))
		if verbose {
			logger.SetVerbose(true)
		}

		if !wantsDB(cmd) {
			return nil
		}

		// If no flag was provided, try the config file, then the environment
		if dbURL == "" && fileCfg.Database != nil {
			dbURL = *fileCfg.Database
		}
		if dbURL == "" {
			dbURL = databaseURLFromEnv()
		}

		// Initialize DB connection
		var err error
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/landmarker)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML options file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&engineCmd, "engine", "", "Engine command line (default: python3 -u python/landmarker_engine.py)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")
	rootCmd.PersistentFlags().BoolVar(&engineDbg, "engine-debug", false, "Ask the engine process for verbose logs")
}

func wantsDB(cmd *cobra.Command) bool {
	if cmd.Annotations[needsDB] == "true" {
		return true
	}
	save, err := cmd.Flags().GetBool("save")
	return err == nil && save
}

func databaseURLFromEnv() string {
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/landmarker"
}

// addDetectionFlags registers the landmarker flags shared by the detect commands.
func addDetectionFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().IntVarP(&opts.NumFaces, "num-faces", "f", 1, "Maximum number of faces to detect")
	cmd.Flags().BoolVar(&opts.Blendshapes, "blendshapes", false, "Output face blendshape scores")
	cmd.Flags().BoolVar(&opts.Matrixes, "matrixes", false, "Output facial transformation matrixes")
	cmd.Flags().IntVarP(&opts.Rotation, "rotation", "r", 0, "Rotate input clockwise by this many degrees (multiple of 90)")
	cmd.Flags().StringVar(&opts.EngineTimeout, "engine-timeout", "30s", "Maximum time to wait for the engine per frame")
}

// buildOptions layers defaults, the config file and explicitly set flags.
func buildOptions(cmd *cobra.Command, mode landmarker.RunningMode, opts Options) landmarker.Options {
	lo := landmarker.DefaultOptions()
	fileCfg.ApplyTo(&lo, false)
	lo.RunningMode = mode

	flags := cmd.Flags()
	if flags.Changed("num-faces") {
		lo.NumFaces = opts.NumFaces
	}
	if flags.Changed("blendshapes") {
		lo.OutputFaceBlendshapes = opts.Blendshapes
	}
	if flags.Changed("matrixes") {
		lo.OutputFacialTransformationMatrixes = opts.Matrixes
	}
	return lo
}

// engineConfig layers the config file and the --engine flags.
func engineConfig(cmd *cobra.Command, opts Options) (worker.Config, error) {
	var cfg worker.Config
	fileCfg.ApplyEngine(&cfg)
	if engineCmd != "" {
		cfg.Command = strings.Fields(engineCmd)
	}
	if engineDbg {
		cfg.Debug = true
	}
	if opts.EngineTimeout != "" && (cmd.Flags().Changed("engine-timeout") || cfg.ReadTimeout == 0) {
		d, err := time.ParseDuration(opts.EngineTimeout)
		if err != nil {
			return cfg, fmt.Errorf("invalid engine-timeout format (use '30s', '500ms'): %w", err)
		}
		cfg.ReadTimeout = d
	}
	return cfg, nil
}

// processingOptions turns --rotation into per-image options.
func processingOptions(opts Options) *landmarker.ImageProcessingOptions {
	if opts.Rotation == 0 {
		return nil
	}
	return &landmarker.ImageProcessingOptions{RotationDegrees: opts.Rotation}
}

// startEngine launches the engine process and a Landmarker on top of it.
// The returned cleanup closes both, landmarker first.
func startEngine(cmd *cobra.Command, lo landmarker.Options, opts Options) (*landmarker.Landmarker, *worker.EngineWorker, func(), error) {
	cfg, err := engineConfig(cmd, opts)
	if err != nil {
		return nil, nil, nil, err
	}
	eng, err := worker.NewEngineWorker(cmd.Context(), 0, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	lm, err := landmarker.New(lo, eng)
	if err != nil {
		eng.Close()
		return nil, eng, nil, err
	}
	cleanup := func() {
		if err := lm.Close(); err != nil {
			logger.Warn("landmarker close failed", "error", err)
		}
		if err := eng.Close(); err != nil {
			logger.Debug("engine exited", "error", err, "stderr", eng.Logs())
		}
	}
	return lm, eng, cleanup, nil
}

// engineCmdOf returns the engine process, if any, so its logs can be dumped.
func engineCmdOf(eng *worker.EngineWorker) *utils.SafeCommand {
	if eng == nil {
		return nil
	}
	return eng.Cmd
}
