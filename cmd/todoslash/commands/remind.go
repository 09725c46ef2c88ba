package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var remindCmd = &cobra.Command{
	Use:   "remind <pattern>",
	Short: "Message each author about their unresolved TODOs",
	Long: `Scans the pattern, drops TODOs younger than the grace period and sends one
Lark message per author listed under lark.users in the config. With
--resolve-emails, other authors are looked up in the Lark contact directory.

Example:
  todoslash remind './src/**' --grace 1w
  todoslash remind './src/**' --filter 'author_email.endsWith("@corp.com")' --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close(cmd.Context())

		res, err := eng.Remind(cmd.Context(), args[0])
		if res == nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, email := range res.Groups.Emails() {
			fmt.Fprintf(out, "%s  %s\n", pathStyle.Render(email), dimStyle.Render(fmt.Sprintf("%d TODO(s)", len(res.Groups[email]))))
		}
		fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("sent %d, skipped %d, failed %d",
			len(res.Report.Sent), len(res.Report.Skipped), len(res.Report.Failed))))
		return err
	},
}

func init() {
	remindCmd.Flags().String("grace", "0", "Skip TODOs younger than this (e.g. 1d, 1w, or milliseconds)")
	remindCmd.Flags().String("filter", "", "CEL expression selecting which TODOs to remind about")
	remindCmd.Flags().String("dest-kind", "user_id", "How lark.users ids are addressed: user_id, open_id, chat_id or email")
	remindCmd.Flags().Bool("dry-run", false, "Render reminders without sending them")
	remindCmd.Flags().Bool("resolve-emails", false, "Look authors missing from lark.users up in the Lark contact directory")

	bindFlags(remindCmd, map[string]string{
		"grace":          "remind.grace",
		"filter":         "remind.filter",
		"dest-kind":      "lark.dest_kind",
		"dry-run":        "remind.dry_run",
		"resolve-emails": "lark.resolve_emails",
	}, false)
}
