package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"fieldsync/internal/app"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect local records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the records of a form",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		form, _ := cmd.Flags().GetString("form")
		parent, _ := cmd.Flags().GetString("parent")
		if a.Schema().Form(form) == nil {
			return fmt.Errorf("unknown form %q", form)
		}
		recs, err := a.Store().LoadRecords(ctx, parent, form)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ULID\tHID\tVERSION\tMODIFIED")
		for _, r := range recs {
			hid := "-"
			if r.HID != nil {
				hid = *r.HID
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.ULID, hid, r.Version, humanize.Time(r.MTime))
		}
		return w.Flush()
	}),
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <ulid>",
	Short: "Print the values of a record",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		var version *int
		if cmd.Flags().Changed("version") {
			v, _ := cmd.Flags().GetInt("version")
			version = &v
		}
		rec, err := a.Store().Load(ctx, args[0], version)
		if err != nil {
			return err
		}
		out := struct {
			ULID       string         `json:"ulid"`
			Form       string         `json:"form"`
			HID        *string        `json:"hid,omitempty"`
			Version    int            `json:"version"`
			Historical bool           `json:"historical,omitempty"`
			MTime      time.Time      `json:"mtime"`
			Tags       []string       `json:"tags,omitempty"`
			Values     map[string]any `json:"values"`
		}{rec.ULID, rec.Form.Key, rec.HID, rec.Version, rec.Historical, rec.MTime, rec.Tags, rec.Values}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}),
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <ulid>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
		outcome, err := a.Delete(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], outcome)
		return nil
	}),
}

func init() {
	recordsListCmd.Flags().String("form", "", "form key")
	recordsListCmd.Flags().String("parent", "", "only children of this record")
	_ = recordsListCmd.MarkFlagRequired("form")
	recordsShowCmd.Flags().Int("version", 0, "show a past version")

	recordsCmd.AddCommand(recordsListCmd, recordsShowCmd, recordsDeleteCmd)
	rootCmd.AddCommand(recordsCmd)
}
