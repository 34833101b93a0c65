package updatemanager

import (
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/nightjarhq/nightjar/client/internal/dispatch"
	"github.com/nightjarhq/nightjar/client/internal/lifecycle"
	"github.com/nightjarhq/nightjar/client/internal/settings"
	"github.com/nightjarhq/nightjar/client/internal/telemetry"
	"github.com/nightjarhq/nightjar/client/internal/updater"
)

// silentDriver answers every engine prompt without drawing UI. It does
// the least interactive thing possible, deferring to the stored
// preference for the single optional choice it has: background
// downloads. Its only side effects are logging, telemetry and one guard
// mutation, always performed on the dispatch queue.
type silentDriver struct {
	store   *settings.Store
	metrics telemetry.Recorder
	guard   *lifecycle.Guard
	queue   *dispatch.Queue
}

func newSilentDriver(store *settings.Store, metrics telemetry.Recorder, guard *lifecycle.Guard, queue *dispatch.Queue) *silentDriver {
	return &silentDriver{
		store:   store,
		metrics: metrics,
		guard:   guard,
		queue:   queue,
	}
}

func (d *silentDriver) RequestPermission() updater.PermissionResponse {
	enabled := d.store.AutomaticUpdates()
	d.metrics.Record("update_permission_request", map[string]string{
		"automatic_checks":    strconv.FormatBool(enabled),
		"automatic_downloads": strconv.FormatBool(enabled),
	})
	return updater.PermissionResponse{
		AutomaticChecks:    enabled,
		AutomaticDownloads: enabled,
		SendSystemProfile:  false,
	}
}

// no cancel affordance without UI
func (d *silentDriver) ShowUserInitiatedCheck(func()) {}

func (d *silentDriver) ShowUpdateFound(item *updater.Item) updater.UserChoice {
	log.Infof("silently installing update %s", item.UserVersion())
	return updater.ChoiceInstall
}

func (d *silentDriver) ShowReleaseNotes(string) {}

func (d *silentDriver) ShowReleaseNotesFailed(err error) {
	log.Debugf("release notes unavailable: %v", err)
}

func (d *silentDriver) ShowUpdateNotFound(ack func()) {
	ack()
}

func (d *silentDriver) ShowUpdaterError(err error, ack func()) {
	domain, code, _ := updater.DomainCode(err)
	d.metrics.Record("updater_error", map[string]string{
		"domain": domain,
		"code":   strconv.Itoa(code),
	})
	ack()
}

func (d *silentDriver) ShowDownloadStarted(*updater.Item)   {}
func (d *silentDriver) ShowDownloadTotalBytes(int64)        {}
func (d *silentDriver) ShowDownloadReceivedBytes(int64)     {}
func (d *silentDriver) ShowExtractionStarted(*updater.Item) {}
func (d *silentDriver) ShowExtractionProgress(float64)      {}

func (d *silentDriver) ShowReadyToInstallAndRelaunch(install func()) {
	d.queue.Sync(func() {
		d.guard.SetAllowed(true)
		d.metrics.Record("update_ready_to_relaunch", nil)
	})
	install()
}

// the installer is already past the point of needing the host, never ask
// for another termination attempt from here
func (d *silentDriver) ShowInstallingUpdate(bool, func()) {}

func (d *silentDriver) ShowUpdateInstalledAndRelaunched(relaunched bool, ack func()) {
	d.metrics.Record("update_installed", map[string]string{
		"relaunched": strconv.FormatBool(relaunched),
	})
	ack()
}

func (d *silentDriver) Focus()   {}
func (d *silentDriver) Dismiss() {}
