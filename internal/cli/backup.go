package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fieldsync/internal/app"
	"fieldsync/pkg/crypto"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a sealed archive of every local record",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		path, _ := cmd.Flags().GetString("out")
		if path == "" {
			path = filepath.Join(a.Paths().Backups, fmt.Sprintf("backup-%s.json", time.Now().UTC().Format("20060102T150405Z")))
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		n, err := a.Backup(ctx, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d records written to %s\n", n, path)
		return nil
	}),
}

var backupKeysCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a backup key pair",
	Long: `Keygen prints a new key pair. Put the public key in
profile.backup_public_key and keep the private key off the device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := crypto.GenerateBackupKeys()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "public:  %s\nprivate: %s\n", base64.StdEncoding.EncodeToString(pub[:]), base64.StdEncoding.EncodeToString(priv[:]))
		return nil
	},
}

func init() {
	backupCmd.Flags().StringP("out", "o", "", "archive path (default is a timestamped file in the backups dir)")
	backupCmd.AddCommand(backupKeysCmd)
	rootCmd.AddCommand(backupCmd)
}
