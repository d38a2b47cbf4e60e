package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/landmarker/internal/landmarker"
	"github.com/andresmejia3/landmarker/internal/overlay"
	"github.com/andresmejia3/landmarker/internal/types"
	"github.com/andresmejia3/landmarker/internal/utils"
	"github.com/spf13/cobra"
)

var (
	imageOpts     Options
	annotateDir   string
	annotateStyle string
)

var imageCmd = &cobra.Command{
	Use:   "image <path>...",
	Short: "Detect face landmarks in still images",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runImage(cmd, args, imageOpts)
	},
}

func init() {
	addDetectionFlags(imageCmd, &imageOpts)
	imageCmd.Flags().StringVarP(&annotateDir, "annotate", "a", "", "Write an annotated PNG of each image into this directory")
	imageCmd.Flags().StringVar(&annotateStyle, "style", "points", "Annotation style: points, box, black, secure, pixel")
	rootCmd.AddCommand(imageCmd)
}

// imageOutput is one line of the JSON printed to stdout.
type imageOutput struct {
	Path      string            `json:"path"`
	Result    landmarker.Result `json:"result"`
	Annotated string            `json:"annotated,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func runImage(cmd *cobra.Command, paths []string, opts Options) {
	if err := validateDetectionFlags(&opts); err != nil {
		utils.Die("Invalid arguments", err, nil)
	}
	ovl := overlay.DefaultOptions()
	if annotateDir != "" {
		style, err := overlay.ParseStyle(annotateStyle)
		if err != nil {
			utils.Die("Invalid arguments", err, nil)
		}
		ovl.Style = style
		if err := os.MkdirAll(annotateDir, 0755); err != nil {
			utils.Die("Failed to create annotation directory", err, nil)
		}
	}

	lm, eng, cleanup, err := startEngine(cmd, buildOptions(cmd, landmarker.ModeImage, opts), opts)
	if err != nil {
		utils.Die("Landmarker startup failed", err, engineCmdOf(eng))
	}
	defer cleanup()

	ipo := processingOptions(opts)
	enc := json.NewEncoder(os.Stdout)
	failed := 0

	for _, path := range paths {
		out := imageOutput{Path: path}

		img, err := utils.ReadImageFile(path)
		if err == nil {
			out.Result, err = lm.Detect(cmd.Context(), img, ipo)
		}
		if err == nil && annotateDir != "" {
			out.Annotated, err = writeAnnotated(path, img, out.Result, ovl)
		}
		if err != nil {
			out.Error = err.Error()
			failed++
		}
		if err := enc.Encode(out); err != nil {
			utils.Die("Failed to write result", err, nil)
		}
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  %d of %d images failed\n", failed, len(paths))
	}
}

func writeAnnotated(path string, img types.Image, r landmarker.Result, opts overlay.Options) (string, error) {
	data, err := overlay.Render(img, r, opts)
	if err != nil {
		return "", err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".landmarks.png"
	outPath := filepath.Join(annotateDir, name)
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return "", err
	}
	return outPath, nil
}
