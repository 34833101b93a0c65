// Package ui renders the tray presence of the client: a status item, the
// update actions and the quit path. The tray is also the interactive
// update driver, so engine prompts surface as menu items and desktop
// notifications.
package ui

import (
	"time"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"fyne.io/systray"
	log "github.com/sirupsen/logrus"

	"github.com/nightjarhq/nightjar/client/internal/dispatch"
	"github.com/nightjarhq/nightjar/client/internal/lifecycle"
	"github.com/nightjarhq/nightjar/client/internal/updatemanager"
	"github.com/nightjarhq/nightjar/version"
)

const (
	appID     = "app.nightjar.client"
	trayTitle = "Nightjar"

	quitGracePeriod = 30 * time.Second
)

// App is the tray application. Run blocks until the user quits.
type App struct {
	manager *updatemanager.Manager
	guard   *lifecycle.Guard
	queue   *dispatch.Queue

	fyneApp fyne.App

	mStatus  *systray.MenuItem
	mCheck   *systray.MenuItem
	mAuto    *systray.MenuItem
	mNotes   *systray.MenuItem
	mInstall *systray.MenuItem
	mLater   *systray.MenuItem
	mRestart *systray.MenuItem
	mQuit    *systray.MenuItem

	prompt *promptState

	// owned by the dispatch queue
	notesPath        string
	downloadTotal    int64
	downloadReceived int64

	done chan struct{}
}

func New(manager *updatemanager.Manager, guard *lifecycle.Guard, queue *dispatch.Queue) *App {
	return &App{
		manager: manager,
		guard:   guard,
		queue:   queue,
		fyneApp: fyneapp.NewWithID(appID),
		prompt:  newPromptState(),
		done:    make(chan struct{}),
	}
}

// Run starts the tray loop and blocks until quit.
func (a *App) Run() {
	systray.Run(a.onReady, a.onExit)
}

func (a *App) onReady() {
	systray.SetTitle(trayTitle)
	systray.SetTooltip(trayTitle)

	a.mStatus = systray.AddMenuItem("Nightjar "+version.NightjarVersion(), "")
	a.mStatus.Disable()
	systray.AddSeparator()

	a.mCheck = systray.AddMenuItem("Check for Updates…", "")
	a.mAuto = systray.AddMenuItemCheckbox("Automatically Check for Updates", "", a.manager.AutomaticUpdates())

	a.mNotes = systray.AddMenuItem("Release Notes", "")
	a.mNotes.Hide()
	a.mInstall = systray.AddMenuItem("Install Update", "")
	a.mInstall.Hide()
	a.mLater = systray.AddMenuItem("Remind Me Later", "")
	a.mLater.Hide()
	a.mRestart = systray.AddMenuItem("Restart to Update", "")
	a.mRestart.Hide()

	systray.AddSeparator()
	a.mQuit = systray.AddMenuItem("Quit Nightjar", "")

	go a.queue.Run()
	go a.menuLoop()

	a.manager.OnStateChange(a.renderState)
	a.manager.Start()
}

func (a *App) onExit() {
	if err := a.manager.Stop(); err != nil {
		log.Errorf("failed to stop update manager: %v", err)
	}
	a.queue.Stop()
	close(a.done)
}

// Done is closed once the tray loop has fully torn down.
func (a *App) Done() <-chan struct{} {
	return a.done
}

func (a *App) menuLoop() {
	for {
		select {
		case <-a.mCheck.ClickedCh:
			a.manager.CheckForUpdates(true)
		case <-a.mAuto.ClickedCh:
			a.toggleAutomaticUpdates()
		case <-a.mNotes.ClickedCh:
			a.openReleaseNotes()
		case <-a.mInstall.ClickedCh:
			a.prompt.resolve(choiceInstall)
		case <-a.mLater.ClickedCh:
			a.prompt.resolve(choiceDismiss)
		case <-a.mRestart.ClickedCh:
			a.prompt.resolveInstallNow()
		case <-a.mQuit.ClickedCh:
			a.quit()
			return
		}
	}
}

func (a *App) toggleAutomaticUpdates() {
	enabled := !a.manager.AutomaticUpdates()
	if err := a.manager.SetAutomaticUpdates(enabled); err != nil {
		log.Errorf("failed to change automatic updates: %v", err)
		a.notify("Nightjar", "Could not save the automatic updates preference.")
		return
	}
	if enabled {
		a.mAuto.Check()
	} else {
		a.mAuto.Uncheck()
	}
}

// quit asks the update layer to finish first. A staged update installs on
// the way out, so the guard may stay blocked for a short while.
func (a *App) quit() {
	log.Info("quit requested")
	a.manager.PrepareQuit()

	deadline := time.Now().Add(quitGracePeriod)
	for !a.guard.Allowed() {
		if time.Now().After(deadline) {
			log.Warn("termination still blocked after grace period, quitting anyway")
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	systray.Quit()
}

// renderState runs on the dispatch queue.
func (a *App) renderState(state updatemanager.State) {
	a.mStatus.SetTitle(state.StatusText)
	if state.Checking {
		a.mCheck.Disable()
	} else {
		a.mCheck.Enable()
	}
}

func (a *App) notify(title, body string) {
	a.fyneApp.SendNotification(fyne.NewNotification(title, body))
}
