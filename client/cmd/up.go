package cmd

import (
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nightjarhq/nightjar/client/internal/dispatch"
	"github.com/nightjarhq/nightjar/client/internal/lifecycle"
	"github.com/nightjarhq/nightjar/client/internal/settings"
	"github.com/nightjarhq/nightjar/client/internal/telemetry"
	"github.com/nightjarhq/nightjar/client/internal/updatemanager"
	"github.com/nightjarhq/nightjar/client/ui"
	"github.com/nightjarhq/nightjar/util"
	"github.com/nightjarhq/nightjar/version"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "run the Nightjar tray application",
	RunE:  upFunc,
}

func upFunc(cmd *cobra.Command, args []string) error {
	util.SetFlagsFromEnvVars(rootCmd)

	if err := util.InitLog(logLevel, logFile); err != nil {
		return fmt.Errorf("failed initializing log %v", err)
	}
	if err := ensureConfigDir(); err != nil {
		return err
	}

	store, err := settings.NewStore(configDir)
	if err != nil {
		return fmt.Errorf("failed loading settings: %w", err)
	}

	metrics := telemetry.NewClient(telemetryEndpoint, version.NightjarVersion())
	defer func() {
		if err := metrics.Close(); err != nil {
			log.Errorf("failed to close telemetry client: %v", err)
		}
	}()

	guard := lifecycle.NewGuard()
	queue := dispatch.NewQueue()

	manager, err := updatemanager.New(updatemanager.Config{
		Settings:       store,
		Telemetry:      metrics,
		Guard:          guard,
		Queue:          queue,
		Source:         newSource(),
		CurrentVersion: version.Semver().String(),
		StateFile:      filepath.Join(configDir, "updater-state.json"),
	})
	if err != nil {
		return fmt.Errorf("failed creating update manager: %w", err)
	}

	app := ui.New(manager, guard, queue)
	manager.SetInteractiveDriver(app)

	log.Infof("starting Nightjar %s", version.NightjarVersion())
	app.Run()
	<-app.Done()

	return nil
}
