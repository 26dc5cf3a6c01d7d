package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/db"

	"github.com/spf13/cobra"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var slot string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent generation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to open history database: %w", err)
			}
			defer database.Close()
			repo := db.NewRepository(database)

			if slot != "" {
				images, err := repo.ImagesForSlot(cmd.Context(), slot)
				if err != nil {
					return err
				}
				return printImages(cmd.OutOrStdout(), images)
			}
			runs, err := repo.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			total, err := repo.CountRuns(cmd.Context())
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs, total)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().StringVar(&slot, "slot", "", "Show the images of one slot instead")
	return cmd
}

func printRuns(out io.Writer, runs []db.RunRecord, total int64) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.SlotID,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status,
			strconv.Itoa(r.ImageCount),
			runDuration(r),
			truncate(r.Prompt, 48),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Slot", "Started", "Status", "Images", "Took", "Prompt"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
	fmt.Fprintf(out, "%d of %d runs\n", len(runs), total)
	return nil
}

func printImages(out io.Writer, images []db.ImageRecord) error {
	if len(images) == 0 {
		fmt.Fprintln(out, "No images for that slot")
		return nil
	}
	rows := make([][]string, 0, len(images))
	for _, img := range images {
		kind := "initial"
		switch {
		case img.Enhanced:
			kind = "enhanced"
		case img.IsUpgrade:
			kind = "upgrade"
		}
		rows = append(rows, []string{
			img.CreatedAt.Local().Format("15:04:05"),
			img.Quality,
			img.Backend,
			kind,
			truncate(img.Location, 60),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Time", "Quality", "Backend", "Kind", "Location"},
		rows,
		nil,
	))
	return nil
}

func runDuration(r db.RunRecord) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.CreatedAt).Round(100 * time.Millisecond).String()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
