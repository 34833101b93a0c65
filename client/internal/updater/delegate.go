package updater

import "time"

// Delegate observes the engine lifecycle: scheduling decisions, cycle
// outcomes and install timing. Callbacks arrive on engine goroutines.
type Delegate interface {
	// WillScheduleCheck announces the delay until the next background
	// check.
	WillScheduleCheck(delay time.Duration)

	// WillNotScheduleCheck announces that background checking is off.
	WillNotScheduleCheck()

	FoundValidUpdate(item *Item)
	NoUpdateFound()

	// UserMadeChoice reports the reply given to an update-found prompt,
	// whichever driver produced it.
	UserMadeChoice(item *Item, choice UserChoice)

	WillInstallUpdate(item *Item)

	// WillInstallUpdateOnQuit is raised when the host is about to quit
	// with a staged update. Invoking immediateInstall installs right
	// away; returning true tells the engine the deferred-install path is
	// handled and no reminder is needed.
	WillInstallUpdateOnQuit(item *Item, immediateInstall func()) bool

	WillRelaunchApplication()

	// AbortedWithError reports a cycle that ended in failure.
	AbortedWithError(err error)

	// UpdateCycleFinished closes every cycle, err carrying the failure
	// when there was one.
	UpdateCycleFinished(err error)
}
