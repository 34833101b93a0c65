package ui

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"

	"github.com/nightjarhq/nightjar/client/internal/updater"
)

type promptChoice int

const (
	choiceInstall promptChoice = iota
	choiceDismiss
)

// promptState carries the pending answer of an update prompt from the
// menu loop back to the blocked engine goroutine.
type promptState struct {
	mu      sync.Mutex
	choices chan promptChoice
	install func()
}

func newPromptState() *promptState {
	return &promptState{
		choices: make(chan promptChoice, 1),
	}
}

func (p *promptState) resolve(choice promptChoice) {
	select {
	case p.choices <- choice:
	default:
	}
}

func (p *promptState) setInstall(install func()) {
	p.mu.Lock()
	p.install = install
	p.mu.Unlock()
}

func (p *promptState) resolveInstallNow() {
	p.mu.Lock()
	install := p.install
	p.install = nil
	p.mu.Unlock()

	if install != nil {
		install()
	}
}

// The tray app is the interactive update driver. Engine prompts arrive
// on engine goroutines; rendering goes through the dispatch queue, and
// blocking prompts wait on the menu loop.

func (a *App) RequestPermission() updater.PermissionResponse {
	// the interactive updater never runs first, the stored choice stands
	enabled := a.manager.AutomaticUpdates()
	return updater.PermissionResponse{
		AutomaticChecks:    enabled,
		AutomaticDownloads: enabled,
	}
}

func (a *App) ShowUserInitiatedCheck(func()) {
	log.Debug("user initiated update check")
}

func (a *App) ShowUpdateFound(item *updater.Item) updater.UserChoice {
	a.notify("Nightjar Update", fmt.Sprintf("Version %s is available.", item.UserVersion()))
	a.queue.Async(func() {
		a.mInstall.Show()
		a.mLater.Show()
	})

	choice := <-a.prompt.choices

	a.queue.Async(func() {
		a.mInstall.Hide()
		a.mLater.Hide()
	})

	if choice == choiceInstall {
		return updater.ChoiceInstall
	}
	return updater.ChoiceDismiss
}

func (a *App) ShowReleaseNotes(notes string) {
	path, err := writeReleaseNotes(notes)
	if err != nil {
		log.Warnf("failed to write release notes: %v", err)
		return
	}
	a.queue.Async(func() {
		a.notesPath = path
		a.mNotes.Show()
	})
}

func (a *App) ShowReleaseNotesFailed(err error) {
	log.Warnf("failed to load release notes: %v", err)
}

func (a *App) ShowUpdateNotFound(ack func()) {
	a.notify("Nightjar", "You're up to date.")
	ack()
}

func (a *App) ShowUpdaterError(err error, ack func()) {
	log.Errorf("update check failed: %v", err)
	a.notify("Nightjar", "The update check failed. Please try again later.")
	ack()
}

func (a *App) ShowDownloadStarted(item *updater.Item) {
	a.queue.Async(func() {
		a.downloadTotal = 0
		a.downloadReceived = 0
		a.mStatus.SetTitle(fmt.Sprintf("Downloading %s…", item.UserVersion()))
	})
}

func (a *App) ShowDownloadTotalBytes(total int64) {
	a.queue.Async(func() {
		a.downloadTotal = total
	})
}

func (a *App) ShowDownloadReceivedBytes(n int64) {
	a.queue.Async(func() {
		a.downloadReceived += n
		if a.downloadTotal > 0 {
			percent := a.downloadReceived * 100 / a.downloadTotal
			a.mStatus.SetTitle(fmt.Sprintf("Downloading update… %d%%", percent))
		}
	})
}

func (a *App) ShowExtractionStarted(*updater.Item) {
	a.queue.Async(func() {
		a.mStatus.SetTitle("Preparing update…")
	})
}

func (a *App) ShowExtractionProgress(float64) {}

func (a *App) ShowReadyToInstallAndRelaunch(install func()) {
	a.prompt.setInstall(install)
	a.queue.Async(func() {
		a.mStatus.SetTitle("Update ready")
		a.mRestart.Show()
	})
	a.notify("Nightjar Update", "The update is ready. Restart to finish installing.")
}

func (a *App) ShowInstallingUpdate(bool, func()) {
	a.queue.Async(func() {
		a.mStatus.SetTitle("Installing update…")
	})
}

func (a *App) ShowUpdateInstalledAndRelaunched(relaunched bool, ack func()) {
	if !relaunched {
		a.notify("Nightjar", "The update was installed. Please start Nightjar again.")
	}
	ack()
}

func (a *App) Focus() {}

func (a *App) Dismiss() {
	a.prompt.resolve(choiceDismiss)
	a.queue.Async(func() {
		a.mInstall.Hide()
		a.mLater.Hide()
		a.mRestart.Hide()
	})
}

func (a *App) openReleaseNotes() {
	a.queue.Async(func() {
		path := a.notesPath
		if path == "" {
			return
		}
		if err := open.Run(path); err != nil {
			log.Errorf("failed to open release notes: %v", err)
		}
	})
}

func writeReleaseNotes(notes string) (string, error) {
	f, err := os.CreateTemp("", "nightjar-release-notes-*.html")
	if err != nil {
		return "", fmt.Errorf("create release notes file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.Warnf("error closing file %q: %v", f.Name(), cerr)
		}
	}()

	if _, err := f.WriteString(notes); err != nil {
		return "", fmt.Errorf("write release notes: %w", err)
	}
	return f.Name(), nil
}
