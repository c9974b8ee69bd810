package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/matsen/muse/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long: `Inspect the effective configuration.

Values come from ~/.config/muse/config.yml, overridden by MUSE_*
environment variables (a .env file in the working directory is loaded
first), overridden by command flags.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if humanOutput {
			out, err := yaml.Marshal(cfg)
			if err != nil {
				exitWithError(ExitError, "encoding config: %v", err)
			}
			fmt.Print(string(out))
			return nil
		}
		return outputJSON(ConfigResponse{
			Model:         cfg.Model,
			Labels:        cfg.Labels,
			Index:         cfg.Index,
			LibraryDir:    cfg.LibraryDir,
			DBPath:        cfg.DBPath,
			TopK:          cfg.TopK,
			SelfThreshold: cfg.Threshold(),
			FilterGenre:   cfg.FilterGenre,
			LogLevel:      cfg.Log.Level,
			LogFormat:     cfg.Log.Format,
			Exclude:       cfg.Build.Exclude,
		})
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GlobalConfigPath()
		if humanOutput {
			fmt.Println(path)
			return nil
		}
		return outputJSON(StatusResponse{Status: "ok", Path: path})
	},
}

// ConfigResponse is the response for config show command.
type ConfigResponse struct {
	Model         string   `json:"model,omitempty"`
	Labels        string   `json:"labels,omitempty"`
	Index         string   `json:"index,omitempty"`
	LibraryDir    string   `json:"library_dir,omitempty"`
	DBPath        string   `json:"db_path"`
	TopK          int      `json:"top_k"`
	SelfThreshold float64  `json:"self_threshold"`
	FilterGenre   bool     `json:"filter_genre"`
	LogLevel      string   `json:"log_level"`
	LogFormat     string   `json:"log_format"`
	Exclude       []string `json:"exclude,omitempty"`
}
