package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run one retention pass against the durable store",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Compact(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned: %d\nkept: %d\ndeleted: %d\n", res.Scanned, res.Kept, res.Deleted)
		return nil
	},
}
