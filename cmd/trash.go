package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/audiolibrelab/memocapture/internal/app"

	"github.com/spf13/cobra"
)

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Manage recently deleted recordings",
	Long: `Deleted recordings stay in the trash for the configured retention
period and can be restored until they are purged.`,
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the trash with the days left before purging",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			entries, err := a.Service.ListTrash(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Trash is empty")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tFROM\tDELETED\tDAYS LEFT")
			for _, e := range entries {
				from := ""
				if e.OriginalFolderID != nil {
					from = *e.OriginalFolderID
				}
				deleted := ""
				if e.DeletedAt != nil {
					deleted = e.DeletedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", e.ID, e.Name, from, deleted, e.DaysRemaining)
			}
			return w.Flush()
		})
	},
}

var trashDeleteCmd = &cobra.Command{
	Use:   "delete [recording-id...]",
	Short: "Move recordings to the trash",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Service.DeleteRecordings(ctx, args)
			if err != nil {
				return err
			}
			return printBulk("Moved to trash", result)
		})
	},
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore [recording-id]",
	Short: "Restore a recording to its original folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rec, err := a.Service.RestoreRecording(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Restored %q to folder %s\n", rec.Name, rec.FolderID)
			return nil
		})
	},
}

var trashPurgeCmd = &cobra.Command{
	Use:   "purge [recording-id]",
	Short: "Permanently delete a recording, trashed or not",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Service.PermanentlyDelete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Permanently deleted %s\n", args[0])
			return nil
		})
	},
}

var trashEmptyCmd = &cobra.Command{
	Use:   "empty",
	Short: "Permanently delete everything in the trash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Service.EmptyTrash(ctx)
			if err != nil {
				return err
			}
			if len(result.Items) == 0 {
				fmt.Println("Trash is already empty")
				return nil
			}
			return printBulk("Permanently deleted", result)
		})
	},
}

var trashSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge recordings whose retention period has passed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			report, err := a.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Checked %d, purged %d\n", report.Checked, len(report.Purged))
			for _, f := range report.Failures {
				fmt.Fprintf(os.Stderr, "  %s: %v\n", f.ID, f.Err)
			}
			return nil
		})
	},
}

func init() {
	trashCmd.AddCommand(trashListCmd)
	trashCmd.AddCommand(trashDeleteCmd)
	trashCmd.AddCommand(trashRestoreCmd)
	trashCmd.AddCommand(trashPurgeCmd)
	trashCmd.AddCommand(trashEmptyCmd)
	trashCmd.AddCommand(trashSweepCmd)
}
