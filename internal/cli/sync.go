package cli

import (
	"context"
	"fmt"

	"fieldsync/internal/app"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload pending fragments and download remote changes",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		full, _ := cmd.Flags().GetBool("full")
		res, err := a.Sync(ctx, full)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d, downloaded %d, anchor %d\n", res.Uploaded, res.Downloaded, res.Anchor)
		return nil
	}),
}

func init() {
	syncCmd.Flags().Bool("full", false, "download every record from the start")
	rootCmd.AddCommand(syncCmd)
}
