// Package updatemanager coordinates the application's auto update
// lifecycle. It owns two updater instances: a background one wired to a
// headless driver, and an on demand interactive one that is only built
// when a check needs the user. The manager translates engine delegate
// callbacks into UI state, telemetry and the quit guard.
package updatemanager

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/nightjarhq/nightjar/client/internal/dispatch"
	"github.com/nightjarhq/nightjar/client/internal/lifecycle"
	"github.com/nightjarhq/nightjar/client/internal/settings"
	"github.com/nightjarhq/nightjar/client/internal/telemetry"
	"github.com/nightjarhq/nightjar/client/internal/updater"
	"github.com/nightjarhq/nightjar/util"
)

const (
	statusChecking    = "Checking…"
	statusUpToDate    = "Latest version"
	statusNeedsAuth   = "Update needs authorization"
	statusCheckFailed = "Update check failed"
)

// State is the UI facing snapshot of the update machinery.
type State struct {
	Checking        bool
	StatusText      string
	UpdateAvailable bool
	LatestVersion   string
}

// updaterHandle is the slice of *updater.Updater the manager uses.
type updaterHandle interface {
	Start() error
	Stop() error
	SetAutomaticChecks(enabled bool)
	CheckInBackground()
	CheckNow(ctx context.Context) error
	NotifyQuitting()
}

type Config struct {
	Settings  *settings.Store
	Telemetry telemetry.Recorder
	Guard     *lifecycle.Guard
	Queue     *dispatch.Queue

	Source         updater.Source
	CurrentVersion string
	CheckInterval  time.Duration

	// InteractiveDriver, when set, is used for user initiated checks so
	// errors and prompts reach the screen. Without it every check runs
	// through the silent driver.
	InteractiveDriver updater.Driver

	// StateFile, when set, remembers the last check outcome across
	// restarts.
	StateFile string
}

type persistedState struct {
	LastCheck     time.Time `json:"last_check"`
	LatestVersion string    `json:"latest_version,omitempty"`
}

type Manager struct {
	cfg Config

	buildUpdater func(updater.Config) (updaterHandle, error)

	mu          sync.Mutex
	automatic   updaterHandle
	interactive updaterHandle
	handlers    []func(State)

	escalating atomic.Bool

	// pendingInstall is set while a cycle the user (or the silent
	// driver) committed to install is still running, so the quit path
	// knows the engine has work to finish.
	pendingInstall atomic.Bool

	// state is owned by the dispatch queue
	state State
}

func New(cfg Config) (*Manager, error) {
	if cfg.Settings == nil {
		return nil, errors.New("settings store is required")
	}
	if cfg.Telemetry == nil {
		return nil, errors.New("telemetry recorder is required")
	}
	if cfg.Guard == nil {
		return nil, errors.New("lifecycle guard is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("dispatch queue is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("update source is required")
	}

	m := &Manager{
		cfg:   cfg,
		state: State{StatusText: statusUpToDate},
	}
	m.buildUpdater = func(uc updater.Config) (updaterHandle, error) {
		return updater.New(uc)
	}
	return m, nil
}

// Start brings up the background updater. A failure here is logged and
// reported but does not prevent the application from running; the user
// just loses automatic checks until restart.
func (m *Manager) Start() {
	m.restoreState()

	enabled := m.cfg.Settings.AutomaticUpdates()
	firstRun := !m.cfg.Settings.AutomaticUpdatesChosen()

	u, err := m.buildUpdater(updater.Config{
		Source:          m.cfg.Source,
		CurrentVersion:  m.cfg.CurrentVersion,
		CheckInterval:   m.cfg.CheckInterval,
		AutomaticChecks: enabled,
		FirstRun:        firstRun,
		Driver:          newSilentDriver(m.cfg.Settings, m.cfg.Telemetry, m.cfg.Guard, m.cfg.Queue),
		Delegate:        m,
	})
	if err == nil {
		err = u.Start()
	}
	if err != nil {
		log.Errorf("failed to start automatic updater, continuing without update checks: %v", err)
		m.cfg.Telemetry.Record("updater_start_failed", map[string]string{
			"error": err.Error(),
		})
		return
	}

	m.mu.Lock()
	m.automatic = u
	m.mu.Unlock()

	// the stored preference is authoritative, even on first run where
	// the permission prompt echoes the same value back
	u.SetAutomaticChecks(enabled)

	m.cfg.Settings.Watch(func() {
		current := m.cfg.Settings.AutomaticUpdates()
		log.Infof("automatic updates preference changed externally to %t", current)
		u.SetAutomaticChecks(current)
	})
}

func (m *Manager) Stop() error {
	m.mu.Lock()
	auto, inter := m.automatic, m.interactive
	m.automatic, m.interactive = nil, nil
	m.mu.Unlock()

	var result *multierror.Error
	if auto != nil {
		if err := auto.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if inter != nil {
		if err := inter.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m *Manager) AutomaticUpdates() bool {
	return m.cfg.Settings.AutomaticUpdates()
}

// SetAutomaticUpdates persists the preference and forwards it to the
// running updater. The preference is written first so a crash between
// the two steps favors the durable copy.
func (m *Manager) SetAutomaticUpdates(enabled bool) error {
	if err := m.cfg.Settings.SetAutomaticUpdates(enabled); err != nil {
		return fmt.Errorf("persist automatic updates preference: %w", err)
	}

	m.mu.Lock()
	auto := m.automatic
	m.mu.Unlock()
	if auto != nil {
		auto.SetAutomaticChecks(enabled)
	}

	log.Infof("automatic updates set to %t", enabled)
	m.cfg.Telemetry.Record("automatic_updates_changed", map[string]string{
		"enabled": strconv.FormatBool(enabled),
	})
	return nil
}

// CheckForUpdates starts an update check. Interactive checks run on
// their own updater so the UI driver gets the callbacks; background
// checks are handed to the automatic updater.
func (m *Manager) CheckForUpdates(interactive bool) {
	trigger := "background"
	if interactive {
		trigger = "manual"
	}
	m.cfg.Telemetry.Record("update_check_started", map[string]string{
		"trigger": trigger,
	})

	m.applyState(func(s *State) {
		s.Checking = true
		s.StatusText = statusChecking
	})

	if interactive {
		u, err := m.ensureInteractive()
		if err != nil {
			log.Errorf("interactive update check unavailable: %v", err)
			m.applyState(func(s *State) {
				s.Checking = false
				s.StatusText = statusCheckFailed
			})
			return
		}
		go func() {
			if err := u.CheckNow(context.Background()); err != nil {
				log.Debugf("interactive update check: %v", err)
			}
		}()
		return
	}

	m.mu.Lock()
	auto := m.automatic
	m.mu.Unlock()
	if auto == nil {
		log.Warn("automatic updater not running, skipping background check")
		m.applyState(func(s *State) {
			s.Checking = false
			s.StatusText = statusCheckFailed
		})
		return
	}
	auto.CheckInBackground()
}

// PrepareQuit tells the updaters the application is about to exit so a
// staged update can be installed on the way out. When no install is
// pending the termination guard is released here, the quit path has
// nothing left to wait for after a clean or up to date check.
func (m *Manager) PrepareQuit() {
	m.mu.Lock()
	auto, inter := m.automatic, m.interactive
	m.mu.Unlock()

	if auto != nil {
		auto.NotifyQuitting()
	}
	if inter != nil {
		inter.NotifyQuitting()
	}

	if !m.pendingInstall.Load() {
		m.cfg.Queue.Sync(func() {
			m.cfg.Guard.SetAllowed(true)
		})
	}
}

// State returns a snapshot taken on the dispatch queue.
func (m *Manager) State() State {
	var snapshot State
	m.cfg.Queue.Sync(func() {
		snapshot = m.state
	})
	return snapshot
}

// OnStateChange registers a handler invoked on the dispatch queue after
// every state mutation.
func (m *Manager) OnStateChange(handler func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// SetInteractiveDriver registers the driver used for user initiated
// checks. The tray registers itself here after construction, before any
// interactive check can run.
func (m *Manager) SetInteractiveDriver(driver updater.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.InteractiveDriver = driver
}

func (m *Manager) ensureInteractive() (updaterHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interactive != nil {
		return m.interactive, nil
	}
	if m.cfg.InteractiveDriver == nil {
		return nil, errors.New("no interactive driver configured")
	}

	u, err := m.buildUpdater(updater.Config{
		Source:          m.cfg.Source,
		CurrentVersion:  m.cfg.CurrentVersion,
		AutomaticChecks: false,
		Driver:          m.cfg.InteractiveDriver,
		Delegate:        m,
	})
	if err == nil {
		err = u.Start()
	}
	if err != nil {
		return nil, err
	}
	m.interactive = u
	return u, nil
}

// escalateToInteractive retries a failed silent check through the
// interactive updater so the user can respond to the prompt that
// blocked it. The flag keeps a failing interactive check from
// escalating into itself.
func (m *Manager) escalateToInteractive() {
	if !m.escalating.CompareAndSwap(false, true) {
		return
	}

	u, err := m.ensureInteractive()
	if err != nil {
		m.escalating.Store(false)
		log.Warnf("cannot escalate update check to interactive: %v", err)
		return
	}

	log.Info("retrying update check interactively")
	go func() {
		defer m.escalating.Store(false)
		if err := u.CheckNow(context.Background()); err != nil {
			log.Debugf("interactive retry: %v", err)
		}
	}()
}

// restoreState brings back the last check outcome so an update found
// before a restart is offered again without waiting for the next check.
func (m *Manager) restoreState() {
	if m.cfg.StateFile == "" {
		return
	}

	var saved persistedState
	if err := util.ReadJson(m.cfg.StateFile, &saved); err != nil {
		log.Debugf("no previous updater state: %v", err)
		return
	}
	if saved.LatestVersion == "" {
		return
	}

	log.Infof("update %s was found before restart", saved.LatestVersion)
	m.applyState(func(s *State) {
		s.UpdateAvailable = true
		s.LatestVersion = saved.LatestVersion
		s.StatusText = fmt.Sprintf("Version %s available", saved.LatestVersion)
	})
}

func (m *Manager) saveState(latestVersion string) {
	if m.cfg.StateFile == "" {
		return
	}
	if latestVersion == "" {
		if err := util.RemoveJson(m.cfg.StateFile); err != nil {
			log.Warnf("failed to clear updater state: %v", err)
		}
		return
	}
	saved := persistedState{
		LastCheck:     time.Now().UTC(),
		LatestVersion: latestVersion,
	}
	if err := util.WriteJson(m.cfg.StateFile, saved); err != nil {
		log.Warnf("failed to persist updater state: %v", err)
	}
}

func (m *Manager) applyState(mutate func(*State)) {
	m.cfg.Queue.Async(func() {
		mutate(&m.state)
		snapshot := m.state

		m.mu.Lock()
		handlers := make([]func(State), len(m.handlers))
		copy(handlers, m.handlers)
		m.mu.Unlock()

		for _, h := range handlers {
			h(snapshot)
		}
	})
}

func itemProperties(item *updater.Item) map[string]string {
	return map[string]string{
		"version": item.Version,
		"build":   item.Build,
		"channel": item.Channel(),
	}
}

// Delegate callbacks. The engine invokes these from its own goroutine,
// all state mutation is funneled through the dispatch queue.

func (m *Manager) WillScheduleCheck(interval time.Duration) {
	log.Debugf("next update check in %s", interval)
}

func (m *Manager) WillNotScheduleCheck() {
	log.Debug("automatic update checks disabled, not scheduling")
}

func (m *Manager) FoundValidUpdate(item *updater.Item) {
	version := item.UserVersion()
	m.applyState(func(s *State) {
		s.Checking = false
		s.UpdateAvailable = true
		s.LatestVersion = version
		s.StatusText = fmt.Sprintf("Version %s available", version)
		m.cfg.Guard.SetAllowed(false)
		m.cfg.Telemetry.Record("update_found", itemProperties(item))
		m.saveState(version)
	})
}

func (m *Manager) NoUpdateFound() {
	m.applyState(func(s *State) {
		s.Checking = false
		s.UpdateAvailable = false
		s.LatestVersion = ""
		s.StatusText = statusUpToDate
		m.cfg.Guard.SetAllowed(false)
		m.cfg.Telemetry.Record("update_not_found", nil)
		m.saveState("")
	})
}

func (m *Manager) UserMadeChoice(item *updater.Item, choice updater.UserChoice) {
	m.pendingInstall.Store(choice == updater.ChoiceInstall)
	m.cfg.Queue.Async(func() {
		if choice != updater.ChoiceInstall {
			m.cfg.Guard.SetAllowed(false)
		}
		props := itemProperties(item)
		props["choice"] = choice.String()
		m.cfg.Telemetry.Record("update_user_choice", props)
	})
}

func (m *Manager) WillInstallUpdate(item *updater.Item) {
	m.cfg.Queue.Sync(func() {
		m.cfg.Guard.SetAllowed(true)
		m.cfg.Telemetry.Record("update_will_install", itemProperties(item))
	})
}

// WillInstallUpdateOnQuit always takes the immediate install path so the
// staged update lands during this termination instead of the next one.
func (m *Manager) WillInstallUpdateOnQuit(item *updater.Item, immediateInstall func()) bool {
	m.cfg.Queue.Sync(func() {
		m.cfg.Guard.SetAllowed(true)
		m.cfg.Telemetry.Record("update_install_on_quit", itemProperties(item))
	})
	immediateInstall()
	return true
}

func (m *Manager) WillRelaunchApplication() {
	m.cfg.Queue.Sync(func() {
		m.cfg.Guard.SetAllowed(true)
		m.cfg.Telemetry.Record("application_will_relaunch", nil)
	})
}

func (m *Manager) AbortedWithError(err error) {
	domain, code, _ := updater.DomainCode(err)
	needsUser := updater.RequiresUserInteraction(err)

	log.Warnf("update check aborted: %v", err)
	m.applyState(func(s *State) {
		s.Checking = false
		if needsUser {
			s.StatusText = statusNeedsAuth
			m.cfg.Guard.SetAllowed(true)
		} else {
			s.StatusText = statusCheckFailed
			m.cfg.Guard.SetAllowed(false)
		}
		m.cfg.Telemetry.Record("update_aborted", map[string]string{
			"domain":               domain,
			"code":                 strconv.Itoa(code),
			"requires_interaction": strconv.FormatBool(needsUser),
		})
	})

	if needsUser {
		m.escalateToInteractive()
	}
}

func (m *Manager) UpdateCycleFinished(err error) {
	m.pendingInstall.Store(false)
	if err != nil {
		log.Debugf("update cycle finished with error: %v", err)
	} else {
		log.Debug("update cycle finished")
	}
	m.cfg.Telemetry.Record("update_cycle_finished", map[string]string{
		"had_error": strconv.FormatBool(err != nil),
	})
}
