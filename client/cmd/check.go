package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nightjarhq/nightjar/client/internal/updater"
	"github.com/nightjarhq/nightjar/util"
	"github.com/nightjarhq/nightjar/version"
)

const installFlag = "install"

var installUpdate bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "check the update feed once and exit",
	RunE:  checkFunc,
}

func init() {
	checkCmd.PersistentFlags().BoolVar(&installUpdate, installFlag, false, "Install the update when one is available")
}

func checkFunc(cmd *cobra.Command, args []string) error {
	util.SetFlagsFromEnvVars(rootCmd)

	if err := util.InitLog(logLevel, logFile); err != nil {
		return fmt.Errorf("failed initializing log %v", err)
	}

	u, err := updater.New(updater.Config{
		Source:         newSource(),
		CurrentVersion: version.Semver().String(),
		Driver:         &consoleDriver{cmd: cmd, install: installUpdate},
	})
	if err != nil {
		return fmt.Errorf("failed creating updater: %w", err)
	}

	return u.CheckNow(cmd.Context())
}

// consoleDriver renders engine prompts on the command's output and never
// blocks on a user.
type consoleDriver struct {
	cmd     *cobra.Command
	install bool
}

func (d *consoleDriver) RequestPermission() updater.PermissionResponse {
	return updater.PermissionResponse{}
}

func (d *consoleDriver) ShowUserInitiatedCheck(func()) {
	d.cmd.Println("Checking for updates…")
}

func (d *consoleDriver) ShowUpdateFound(item *updater.Item) updater.UserChoice {
	d.cmd.Printf("Version %s is available (current %s)\n", item.UserVersion(), version.NightjarVersion())
	if d.install {
		return updater.ChoiceInstall
	}
	d.cmd.Printf("Run with --%s to install it, or download from %s\n", installFlag, version.DownloadURL())
	return updater.ChoiceDismiss
}

func (d *consoleDriver) ShowReleaseNotes(notes string) {
	d.cmd.Println(notes)
}

func (d *consoleDriver) ShowReleaseNotesFailed(err error) {
	d.cmd.Printf("Release notes unavailable: %v\n", err)
}

func (d *consoleDriver) ShowUpdateNotFound(ack func()) {
	d.cmd.Println("You're up to date")
	ack()
}

func (d *consoleDriver) ShowUpdaterError(err error, ack func()) {
	d.cmd.PrintErrf("Update check failed: %v\n", err)
	ack()
}

func (d *consoleDriver) ShowDownloadStarted(item *updater.Item) {
	d.cmd.Printf("Downloading %s…\n", item.AssetURL)
}

func (d *consoleDriver) ShowDownloadTotalBytes(int64)    {}
func (d *consoleDriver) ShowDownloadReceivedBytes(int64) {}

func (d *consoleDriver) ShowExtractionStarted(*updater.Item) {
	d.cmd.Println("Preparing update…")
}

func (d *consoleDriver) ShowExtractionProgress(float64) {}

func (d *consoleDriver) ShowReadyToInstallAndRelaunch(install func()) {
	install()
}

func (d *consoleDriver) ShowInstallingUpdate(bool, func()) {
	d.cmd.Println("Installing update…")
}

func (d *consoleDriver) ShowUpdateInstalledAndRelaunched(relaunched bool, ack func()) {
	if relaunched {
		d.cmd.Println("Update installed, restarting")
	} else {
		d.cmd.Println("Update installed, please start Nightjar again")
	}
	ack()
}

func (d *consoleDriver) Focus()   {}
func (d *consoleDriver) Dismiss() {}
