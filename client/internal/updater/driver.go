package updater

// UserChoice is the reply to an update-found prompt.
type UserChoice int

const (
	ChoiceInstall UserChoice = iota
	ChoiceDismiss
	ChoiceSkip
)

func (c UserChoice) String() string {
	switch c {
	case ChoiceInstall:
		return "install"
	case ChoiceDismiss:
		return "dismiss"
	case ChoiceSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// PermissionResponse answers the one-time permission request raised on
// first run.
type PermissionResponse struct {
	AutomaticChecks    bool
	AutomaticDownloads bool
	SendSystemProfile  bool
}

// Driver is the user-facing half of the engine contract. Every prompt the
// engine would direct at a human arrives here; a driver may render real
// UI or answer programmatically. Callbacks are invoked from engine
// goroutines — drivers that touch UI state must marshal onto their own
// affinity thread.
type Driver interface {
	// RequestPermission is raised once, before the first scheduled
	// check, when the user never chose an update policy.
	RequestPermission() PermissionResponse

	// ShowUserInitiatedCheck announces a manual check. cancel aborts the
	// in-flight cycle when invoked.
	ShowUserInitiatedCheck(cancel func())

	// ShowUpdateFound asks what to do with a discovered release.
	ShowUpdateFound(item *Item) UserChoice

	ShowReleaseNotes(notes string)
	ShowReleaseNotesFailed(err error)

	// ShowUpdateNotFound reports an up-to-date installation. ack
	// completes the cycle.
	ShowUpdateNotFound(ack func())

	// ShowUpdaterError reports a failed cycle. ack completes it.
	ShowUpdaterError(err error, ack func())

	ShowDownloadStarted(item *Item)
	ShowDownloadTotalBytes(total int64)
	ShowDownloadReceivedBytes(n int64)
	ShowExtractionStarted(item *Item)
	ShowExtractionProgress(fraction float64)

	// ShowReadyToInstallAndRelaunch is raised once the update is staged.
	// Invoking install commits to installation and relaunch.
	ShowReadyToInstallAndRelaunch(install func())

	// ShowInstallingUpdate is raised while the staged update is applied.
	// When hostTerminated is false the installer is waiting on the host
	// process; retryTermination asks it to try shutting down again.
	ShowInstallingUpdate(hostTerminated bool, retryTermination func())

	// ShowUpdateInstalledAndRelaunched reports the outcome of the final
	// install step. ack completes the cycle.
	ShowUpdateInstalledAndRelaunched(relaunched bool, ack func())

	Focus()
	Dismiss()
}
