package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/FocusRecorder/internal/capture"
	"github.com/bryanchriswhite/FocusRecorder/internal/logger"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordable windows and displays",
	Long: `List the top-level X11 windows and the active displays that can be
recorded. Use a window id with 'record --window' or a display index with
'record --display'.`,
	Example: `  # List targets in table format (default)
  focusrecorder list

  # List targets in JSON format
  focusrecorder list --format json`,
	RunE: runList,
}

var listFormat string

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
}

type targets struct {
	Windows  []capture.WindowInfo  `json:"windows"`
	Displays []capture.DisplayInfo `json:"displays"`
}

func runList(cmd *cobra.Command, args []string) error {
	if listFormat != "table" && listFormat != "json" {
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}

	t := targets{Displays: capture.ListDisplays()}
	windows, err := capture.ListWindows()
	if err != nil {
		logger.WithComponent("list").Warn().Err(err).Msg("Failed to list X11 windows")
	}
	t.Windows = windows
	if t.Windows == nil {
		t.Windows = []capture.WindowInfo{}
	}

	if listFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(t)
	}
	printTargetsTable(t)
	return nil
}

func printTargetsTable(t targets) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "DISPLAY\tPOSITION\tSIZE")
	fmt.Fprintln(w, "-------\t--------\t----")
	for _, d := range t.Displays {
		fmt.Fprintf(w, "%d\t%d,%d\t%dx%d\n", d.Index, d.X, d.Y, d.Width, d.Height)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "WINDOW\tCLASS\tPID\tSIZE\tTITLE")
	fmt.Fprintln(w, "------\t-----\t---\t----\t-----")
	for _, win := range t.Windows {
		fmt.Fprintf(w, "0x%x\t%s\t%d\t%dx%d\t%s\n", win.ID, win.Class, win.PID, win.Width, win.Height, win.Title)
	}
}
