package util

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetFlagsFromEnvVars(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	var logLevel, feedURL string
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "")
	cmd.PersistentFlags().StringVar(&feedURL, "feed-url", "default", "")

	t.Setenv("NJ_LOG_LEVEL", "debug")

	SetFlagsFromEnvVars(cmd)

	assert.Equal(t, "debug", logLevel)
	assert.Equal(t, "default", feedURL, "unset variables leave the default")
}

func TestSetFlagsFromEnvVarsDoesNotOverrideExplicit(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	var logLevel string
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "")
	require.NoError(t, cmd.PersistentFlags().Set("log-level", "trace"))

	t.Setenv("NJ_LOG_LEVEL", "debug")

	SetFlagsFromEnvVars(cmd)

	assert.Equal(t, "trace", logLevel)
}

func TestFlagNameToUpper(t *testing.T) {
	assert.Equal(t, "LOG_LEVEL", flagNameToUpper("log-level"))
	assert.Equal(t, "FEED_URL", flagNameToUpper("feed-url"))
}
