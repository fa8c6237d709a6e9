package cli

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"fieldsync/pkg/crypto"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate and wrap namespace keys",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print a random namespace key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key := make([]byte, crypto.KeySize)
		if _, err := rand.Read(key); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
		return nil
	},
}

var keysWrapCmd = &cobra.Command{
	Use:   "wrap",
	Short: "Seal a namespace key under the master key",
	Long: `Wrap reads a namespace key from stdin and prints it sealed under the
master key, ready for profile.keys as "wrapped:<value>". The master key comes
from --master-key-hex or FIELDSYNC_MASTER_KEY_HEX.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		master, _ := cmd.Flags().GetString("master-key-hex")
		if master == "" {
			master = os.Getenv("FIELDSYNC_MASTER_KEY_HEX")
		}
		if master == "" {
			return fmt.Errorf("master key is not set")
		}

		encoded, err := readSecret(cmd, "Namespace key: ")
		if err != nil {
			return err
		}
		raw, err := crypto.DecodeKey(encoded)
		if err != nil {
			return fmt.Errorf("namespace key: %w", err)
		}
		wrapped, err := crypto.WrapKey(cmd.Context(), master, raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrapped:%s\n", wrapped)
		return nil
	},
}

// readSecret reads one line, masked when stdin is a terminal.
func readSecret(cmd *cobra.Command, label string) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	keysWrapCmd.Flags().String("master-key-hex", "", "master key, 32 hex-encoded bytes")
	keysCmd.AddCommand(keysGenerateCmd, keysWrapCmd)
	rootCmd.AddCommand(keysCmd)
}
