package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/muse/internal/audio"
	"github.com/matsen/muse/internal/config"
)

var (
	playLibrary  string
	playNoRecord bool
)

// errSongFileNotFound is returned when no library file matches a song id.
var errSongFileNotFound = errors.New("song file not found")

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringVar(&playLibrary, "library", "", "Song library directory (default: config library_dir)")
	playCmd.Flags().BoolVar(&playNoRecord, "no-record", false, "Do not record the play")
}

var playCmd = &cobra.Command{
	Use:   "play <song-id>",
	Short: "Resolve a song file and record a play",
	Long: `Resolve <library>/<song-id><ext> over the recognized audio extensions,
record one play of the song, and print the file path.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

// PlayResult is the response for play command.
type PlayResult struct {
	SongID string `json:"song_id"`
	Path   string `json:"path"`
}

// resolveSongPath finds the library file for songID. The id must name a
// file directly inside libraryDir.
func resolveSongPath(libraryDir, songID string) (string, error) {
	songID = strings.TrimSpace(songID)
	if songID == "" || songID != filepath.Base(songID) || songID == "." || songID == ".." {
		return "", fmt.Errorf("invalid song id %q", songID)
	}
	for _, ext := range audio.Extensions {
		for _, candidate := range []string{songID + ext, songID + strings.ToUpper(ext)} {
			path := filepath.Join(libraryDir, candidate)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s in %s", errSongFileNotFound, songID, libraryDir)
}

func runPlay(cmd *cobra.Command, args []string) error {
	dir := firstNonEmpty(playLibrary, cfg.LibraryDir)
	if dir == "" {
		fmt.Fprintln(os.Stderr, config.HelpfulConfigMessage("library_dir"))
		exitWithError(ExitInputError, "no song library given (use --library)")
	}

	path, err := resolveSongPath(dir, args[0])
	if err != nil {
		exitWithError(ExitInputError, "%v", err)
	}

	if !playNoRecord {
		if db := openDatabaseOptional(cfg.DBPath); db != nil {
			if err := db.RecordPlay(args[0]); err != nil {
				logger.Warn("recording play failed", "song_id", args[0], "error", err)
			}
			db.Close()
		}
	}

	if humanOutput {
		fmt.Println(path)
	} else {
		outputJSON(PlayResult{SongID: args[0], Path: path})
	}
	return nil
}
