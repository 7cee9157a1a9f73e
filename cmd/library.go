package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/audiolibrelab/memocapture/internal/app"
	"github.com/audiolibrelab/memocapture/internal/model"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings",
	Long: `List the recordings of a folder, newest first. Use --folder all_recordings
for every live recording and --folder recently_deleted for the trash.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, _ := cmd.Flags().GetString("folder")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			recs, err := a.Service.ListRecordings(ctx, model.ParseFolderRef(folder))
			if err != nil {
				return err
			}
			printRecordings(recs)
			return nil
		})
	},
}

var favoriteCmd = &cobra.Command{
	Use:   "favorite [recording-id]",
	Short: "Toggle the favorite flag of a recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rec, err := a.Service.ToggleFavorite(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s favorite: %t\n", rec.Name, rec.IsFavorite)
			return nil
		})
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag [recording-id] [tag...]",
	Short: "Replace the tags of a recording",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rec, err := a.Service.SetTags(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			fmt.Printf("%s tags: %s\n", rec.Name, strings.Join(rec.Tags, ", "))
			return nil
		})
	},
}

var moveCmd = &cobra.Command{
	Use:   "move [folder-id] [recording-id...]",
	Short: "Move recordings to another folder",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Service.MoveRecordings(ctx, args[1:], args[0])
			if err != nil {
				return err
			}
			return printBulk("Moved", result)
		})
	},
}

func init() {
	listCmd.Flags().StringP("folder", "f", model.AllFolder.ID(), "folder id to list")
}

func printRecordings(recs []*model.Recording) {
	if len(recs) == 0 {
		fmt.Println("No recordings")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDURATION\tSIZE\tCREATED\tFAV\tTAGS")
	for _, rec := range recs {
		fav := ""
		if rec.IsFavorite {
			fav = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Name, formatElapsed(rec.Duration), formatSize(rec.FileSizeBytes),
			rec.CreatedAt.Local().Format("2006-01-02 15:04"), fav, strings.Join(rec.Tags, ","))
	}
	w.Flush()
}

// printBulk reports every item of result and fails when any item failed.
func printBulk(verb string, result *model.BulkResult) error {
	ok := result.Succeeded()
	if len(ok) > 0 {
		fmt.Printf("%s: %s\n", verb, strings.Join(ok, ", "))
	}
	failed := result.Failed()
	for _, item := range failed {
		fmt.Fprintf(os.Stderr, "  %s: %v\n", item.ID, item.Err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d recordings failed", len(failed), len(result.Items))
	}
	return nil
}
