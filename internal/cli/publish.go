package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"fieldsync/internal/app"
	"fieldsync/pkg/models"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish locally edited application files",
	Long: `Publish compares the pending application files with the published
bundle, shows the deploy actions and publishes a new bundle version.
Files named with --pull keep their published copy.`,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		pull, _ := cmd.Flags().GetStringSlice("pull")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		yes, _ := cmd.Flags().GetBool("yes")
		out := cmd.OutOrStdout()

		actions, _, err := a.Publish(ctx, pull, true)
		if err != nil {
			return err
		}
		printActions(out, actions)
		if dryRun {
			return nil
		}
		if !yes && term.IsTerminal(int(os.Stdin.Fd())) {
			ok, err := confirm(cmd.InOrStdin(), out, "Publish these changes?")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "aborted")
				return nil
			}
		}

		_, version, err := a.Publish(ctx, pull, false)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "published bundle version %d\n", version)
		return nil
	}),
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage pending application files",
}

var filesPutCmd = &cobra.Command{
	Use:   "put <path>",
	Short: "Stage a local file for publication",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = args[0]
		}
		pf, err := a.Publisher().Stage(ctx, name, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", pf.Filename, humanize.IBytes(uint64(pf.Size)), pf.SHA256)
		return nil
	}),
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending application files",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		files, err := a.PendingFiles().List(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, f := range files {
			fmt.Fprintf(w, "%s\t%s\t%s\n", f.Filename, humanize.IBytes(uint64(f.Size)), f.SHA256)
		}
		return w.Flush()
	}),
}

var filesCatCmd = &cobra.Command{
	Use:   "cat <filename>",
	Short: "Print the code the client runs for a file",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		code, err := a.Publisher().FetchCode(ctx, args[0])
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), code)
		return err
	}),
}

func printActions(out io.Writer, actions []models.DeployAction) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tFILE\tSIZE")
	for _, act := range actions {
		size := "-"
		if act.Size > 0 {
			size = humanize.IBytes(uint64(act.Size))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", act.Type, act.Filename, size)
	}
	_ = w.Flush()
}

func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func init() {
	publishCmd.Flags().StringSlice("pull", nil, "keep the published copy of these files")
	publishCmd.Flags().Bool("dry-run", false, "show the deploy actions without publishing")
	publishCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(publishCmd)

	filesPutCmd.Flags().String("name", "", "filename in the bundle (default is the path)")
	filesCmd.AddCommand(filesPutCmd, filesListCmd, filesCatCmd)
	rootCmd.AddCommand(filesCmd)
}
