package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/landmarker/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:         "list [run-id]",
	Short:       "List recorded runs, or the frames of one run",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			runListFrames(cmd, args[0])
			return
		}
		runList(cmd)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command) {
	runs, err := DB.ListRuns(cmd.Context())
	if err != nil {
		utils.Die("Failed to list runs", err, nil)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSOURCE\tFRAMES\tFACES\tSTARTED")
	fmt.Fprintln(w, "--\t----\t------\t------\t-----\t-------")

	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", r.ID, r.Mode, r.Source, r.Frames, r.Faces, r.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func runListFrames(cmd *cobra.Command, runID string) {
	frames, err := DB.GetFrameResults(cmd.Context(), runID)
	if err != nil {
		utils.Die("Failed to load run", err, nil)
	}

	if len(frames) == 0 {
		fmt.Println("Run has no recorded frames.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tTIMESTAMP (ms)\tFACES\tBLENDSHAPES\tMATRIXES")
	fmt.Fprintln(w, "----\t--------------\t-----\t-----------\t--------")

	for _, f := range frames {
		fmt.Fprintf(w, "%s\t%d\t%d\t%t\t%t\n",
			fmtTime(float64(f.TimestampMs)/1000), f.TimestampMs, f.FaceCount,
			len(f.Result.FaceBlendshapes) > 0, len(f.Result.FacialTransformationMatrixes) > 0)
	}
	w.Flush()
}
