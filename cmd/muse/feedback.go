package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/muse/internal/storage"
)

var (
	feedbackLabel        string
	feedbackRating       int
	feedbackLike         bool
	feedbackDislike      bool
	feedbackLikeSongs    []string
	feedbackDislikeSongs []string
)

func init() {
	rootCmd.AddCommand(feedbackCmd)

	feedbackCmd.Flags().StringVar(&feedbackLabel, "label", "", "Predicted label the feedback refers to")
	feedbackCmd.Flags().IntVar(&feedbackRating, "rating", 0, "Rating from 1 to 5 (0 = not rated)")
	feedbackCmd.Flags().BoolVar(&feedbackLike, "like", false, "Overall thumbs up")
	feedbackCmd.Flags().BoolVar(&feedbackDislike, "dislike", false, "Overall thumbs down")
	feedbackCmd.Flags().StringSliceVar(&feedbackLikeSongs, "like-song", nil, "Recommended song to like (repeatable)")
	feedbackCmd.Flags().StringSliceVar(&feedbackDislikeSongs, "dislike-song", nil, "Recommended song to dislike (repeatable)")
	feedbackCmd.MarkFlagsMutuallyExclusive("like", "dislike")
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record feedback on a prediction",
	Long: `Record feedback on a prediction and its recommendations.

Per-song votes (--like-song, --dislike-song) take precedence: when any
are given, the overall --like/--dislike vote is not counted.`,
	RunE: runFeedback,
}

// FeedbackResult is the response for feedback command.
type FeedbackResult struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// feedbackFromFlags assembles a feedback submission.
func feedbackFromFlags(label string, rating int, like, dislike bool, likeSongs, dislikeSongs []string) storage.Feedback {
	f := storage.Feedback{Label: label, Rating: rating}
	switch {
	case like:
		v := true
		f.Liked = &v
	case dislike:
		v := false
		f.Liked = &v
	}
	for _, id := range likeSongs {
		f.Items = append(f.Items, storage.ItemVote{SongID: id, Liked: true})
	}
	for _, id := range dislikeSongs {
		f.Items = append(f.Items, storage.ItemVote{SongID: id, Liked: false})
	}
	return f
}

func runFeedback(cmd *cobra.Command, args []string) error {
	f := feedbackFromFlags(feedbackLabel, feedbackRating, feedbackLike, feedbackDislike, feedbackLikeSongs, feedbackDislikeSongs)
	if f.Liked == nil && f.Rating == 0 && len(f.Items) == 0 {
		exitWithError(ExitError, "nothing to record (use --like, --dislike, --rating, --like-song, or --dislike-song)")
	}

	db := mustOpenDatabase(cfg.DBPath)
	defer db.Close()

	sessionID, err := db.RecordFeedback(f)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidRating) {
			exitWithError(ExitError, "%v", err)
		}
		exitWithError(ExitError, "recording feedback: %v", err)
	}

	if humanOutput {
		fmt.Printf("Feedback recorded (session %s)\n", sessionID)
	} else {
		outputJSON(FeedbackResult{Status: "recorded", SessionID: sessionID})
	}
	return nil
}
