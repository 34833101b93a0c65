package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nightjarhq/nightjar/client/internal/updater"
	"github.com/nightjarhq/nightjar/version"
)

const (
	logLevelFlag  = "log-level"
	logFileFlag   = "log-file"
	configDirFlag = "config-dir"
	feedURLFlag   = "feed-url"
	channelFlag   = "channel"
	telemetryFlag = "telemetry-endpoint"

	defaultFeedURL = "https://updates.nightjar.app/manifest.json"

	// a feed-url of the form github://owner/repo reads GitHub releases
	// instead of a hosted manifest
	githubFeedScheme = "github://"
)

var (
	logLevel          string
	logFile           string
	configDir         string
	feedURL           string
	channel           string
	telemetryEndpoint string

	rootCmd = &cobra.Command{
		Use:          "nightjar",
		Short:        "Nightjar desktop client",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultConfigDir := "."
	if dir, err := os.UserConfigDir(); err == nil {
		defaultConfigDir = filepath.Join(dir, "nightjar")
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, logLevelFlag, "info", "sets Nightjar log level")
	rootCmd.PersistentFlags().StringVar(&logFile, logFileFlag, "console", "sets Nightjar log path. If console is specified the log will be output to stdout")
	rootCmd.PersistentFlags().StringVar(&configDir, configDirFlag, defaultConfigDir, "Nightjar config directory location")
	rootCmd.PersistentFlags().StringVar(&feedURL, feedURLFlag, defaultFeedURL, "Update feed location, a manifest URL or github://owner/repo")
	rootCmd.PersistentFlags().StringVar(&channel, channelFlag, "", "Additional release channel to subscribe to, e.g. beta")
	rootCmd.PersistentFlags().StringVar(&telemetryEndpoint, telemetryFlag, "", "Telemetry collector URL, telemetry is disabled when empty")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func newSource() updater.Source {
	if strings.HasPrefix(feedURL, githubFeedScheme) {
		return updater.NewGitHubSource(strings.TrimPrefix(feedURL, githubFeedScheme))
	}
	return updater.NewManifestSource(feedURL, channel, version.NightjarVersion())
}

func ensureConfigDir() error {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("create config directory %s: %w", configDir, err)
	}
	return nil
}
