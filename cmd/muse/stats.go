package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/muse/internal/storage"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recorded predictions, plays, and feedback",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	db := mustOpenDatabase(cfg.DBPath)
	defer db.Close()

	snap, err := db.Snapshot()
	if err != nil {
		exitWithError(ExitError, "reading telemetry: %v", err)
	}

	if humanOutput {
		printStatsHuman(snap)
	} else {
		outputJSON(snap)
	}
	return nil
}

func printStatsHuman(s *storage.Snapshot) {
	fmt.Printf("Predictions: %d\n", s.TotalPredictions)
	fmt.Printf("Likes: %d  Dislikes: %d\n", s.Likes, s.Dislikes)
	if s.Ratings > 0 {
		fmt.Printf("Average rating: %.2f (%d ratings)\n", s.AverageRating, s.Ratings)
	}

	sections := []struct {
		title  string
		header string
		counts []storage.Count
	}{
		{"Predictions by label", "Label", s.ByLabel},
		{"Top plays", "Song", s.TopPlays},
		{"Top likes", "Song", s.TopLikes},
	}
	for _, sec := range sections {
		if len(sec.counts) == 0 {
			continue
		}
		rows := make([][]string, len(sec.counts))
		for i, c := range sec.counts {
			rows[i] = []string{truncateString(c.Name, TitleMaxLen), fmt.Sprint(c.Count)}
		}
		fmt.Printf("\n%s\n", sec.title)
		fmt.Println(renderTable([]string{sec.header, "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
}
