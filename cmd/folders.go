package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/audiolibrelab/memocapture/internal/app"

	"github.com/spf13/cobra"
)

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "Manage folders",
}

var foldersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List folders with their recording counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			folders, err := a.Service.ListFolders(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tRECORDINGS")
			for _, f := range folders {
				fmt.Fprintf(w, "%s\t%s\t%d\n", f.ID, f.Name, f.RecordingCount)
			}
			return w.Flush()
		})
	},
}

var foldersCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			folder, err := a.Service.CreateFolder(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Created folder %q with id %s\n", folder.Name, folder.ID)
			return nil
		})
	},
}

var foldersReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute every folder's recording count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Service.ReconcileFolders(ctx); err != nil {
				return err
			}
			fmt.Println("Folder counts reconciled")
			return nil
		})
	},
}

func init() {
	foldersCmd.AddCommand(foldersListCmd)
	foldersCmd.AddCommand(foldersCreateCmd)
	foldersCmd.AddCommand(foldersReconcileCmd)
}
