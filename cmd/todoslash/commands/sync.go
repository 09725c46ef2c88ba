package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <pattern>",
	Short: "Record new TODOs in a Bitable table or DynamoDB",
	Long: `Scans the pattern and inserts a record for every TODO whose "<file>:<line>"
key is not yet in the store. Running it again inserts nothing new.

Example:
  todoslash sync './src/**' --app-token bascn... --table-id tbl...
  todoslash sync './src/**' --store dynamodb --dynamo-table todos`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close(cmd.Context())

		res, err := eng.Sync(cmd.Context(), args[0])
		if res != nil {
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("existing %d, scanned %d, inserted %d",
				res.Existing, res.Scanned, res.Inserted)))
		}
		return err
	},
}

func init() {
	syncCmd.Flags().String("store", "bitable", "Record store: bitable or dynamodb")
	syncCmd.Flags().String("app-token", "", "Bitable app token")
	syncCmd.Flags().String("table-id", "", "Bitable table id")
	syncCmd.Flags().String("dynamo-table", "", "DynamoDB table name")

	bindFlags(syncCmd, map[string]string{
		"store":        "sync.store",
		"app-token":    "sync.app_token",
		"table-id":     "sync.table_id",
		"dynamo-table": "sync.dynamo_table",
	}, false)
}
