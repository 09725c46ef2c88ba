package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var scanJSON bool

var scanCmd = &cobra.Command{
	Use:   "scan <pattern>",
	Short: "List marker comments with their authors",
	Long: `Expands the glob pattern, finds every line containing the marker and
attributes it with git blame.

Example:
  todoslash scan './src/**'
  todoslash scan '**/*.go' --marker FIXME --out s3://bucket/todos --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close(cmd.Context())

		pattern := args[0]
		res, scanErr := eng.Scan(cmd.Context(), pattern)
		if res == nil {
			return scanErr
		}

		snap := eng.Snapshot(pattern, res)
		out := cmd.OutOrStdout()
		if scanJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(snap); err != nil {
				return err
			}
		} else {
			renderOccurrences(out, res.Occurrences)
			failures := make([]error, len(res.Failures))
			for i, f := range res.Failures {
				failures[i] = f
			}
			renderFailures(cmd.ErrOrStderr(), failures)
		}

		if eng.Config().Export.Out != "" {
			if _, err := eng.ExportSnapshot(cmd.Context(), snap); err != nil {
				return err
			}
		}
		return scanErr
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print the scan as JSON")
	scanCmd.Flags().String("out", "", "Export a snapshot to a directory or s3://bucket/prefix")
	scanCmd.Flags().String("format", "json", "Snapshot format: json or yaml")

	_ = viper.BindPFlag("export.out", scanCmd.Flags().Lookup("out"))
	_ = viper.BindPFlag("export.format", scanCmd.Flags().Lookup("format"))
}
