package cmd

import (
	"fmt"

	"github.com/andresmejia3/landmarker/internal/landmarker"
	"github.com/andresmejia3/landmarker/internal/types"
	"github.com/andresmejia3/landmarker/internal/utils"
	"github.com/spf13/cobra"
)

var (
	graphMode string
	graphOpts Options
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the pipeline graph built for a running mode",
	Run: func(cmd *cobra.Command, args []string) {
		mode, err := landmarker.ParseRunningMode(graphMode)
		if err != nil {
			utils.Die("Invalid mode", err, nil)
		}
		lo := buildOptions(cmd, mode, graphOpts)
		if mode == landmarker.ModeLiveStream {
			lo.ResultCallback = func(landmarker.Result, types.Image, int64, error) {}
		}
		if err := lo.Validate(); err != nil {
			utils.Die("Invalid options", err, nil)
		}
		out, err := lo.GraphConfig().YAML()
		if err != nil {
			utils.Die("Failed to render graph", err, nil)
		}
		fmt.Print(string(out))
	},
}

func init() {
	graphCmd.Flags().StringVarP(&graphMode, "mode", "m", "image", "Running mode (image, video, live_stream)")
	graphCmd.Flags().IntVarP(&graphOpts.NumFaces, "num-faces", "f", 1, "Maximum number of faces to detect")
	graphCmd.Flags().BoolVar(&graphOpts.Blendshapes, "blendshapes", false, "Include the blendshapes output")
	graphCmd.Flags().BoolVar(&graphOpts.Matrixes, "matrixes", false, "Include the transformation matrix output")
	rootCmd.AddCommand(graphCmd)
}
