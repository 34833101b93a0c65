// Package updater implements the update engine the rest of the client
// conforms to: it schedules checks, resolves release feeds, stages and
// applies binaries, and reports every user-facing decision point to a
// Driver and every lifecycle event to a Delegate.
package updater

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/creativeprojects/go-selfupdate"
	goversion "github.com/hashicorp/go-version"
	"github.com/inconshreveable/go-update"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultCheckInterval is the background check cadence when the
	// config does not override it.
	DefaultCheckInterval = 6 * time.Hour

	ackTimeout = 2 * time.Minute
)

// Config describes one updater instance.
type Config struct {
	Source         Source
	CurrentVersion string
	// CheckInterval is the delay between scheduled background checks,
	// DefaultCheckInterval when zero.
	CheckInterval time.Duration
	// AutomaticChecks enables the background schedule.
	AutomaticChecks bool
	// FirstRun raises the driver permission request before the first
	// scheduled check.
	FirstRun bool
	Driver   Driver
	Delegate Delegate
}

// Updater runs the check/download/install lifecycle for one feed.
type Updater struct {
	cfg        Config
	current    *goversion.Version
	httpClient *http.Client

	trigger    chan struct{}
	reschedule chan struct{}
	quitting   chan struct{}
	quitOnce   sync.Once

	mu         sync.Mutex
	autoChecks bool
	autoDowns  bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	inFlight atomic.Bool

	// seams for tests
	newBackOff func(ctx context.Context) backoff.BackOff
	applyFn    func(staged, target string) error
	relaunchFn func(target string) error
	exePathFn  func() (string, error)
	exitFn     func(code int)
}

// New validates the config. The returned updater is idle until Start or
// CheckNow.
func New(cfg Config) (*Updater, error) {
	if cfg.Source == nil {
		return nil, errors.New("updater requires a feed source")
	}
	if cfg.Driver == nil {
		return nil, errors.New("updater requires a driver")
	}
	if cfg.Delegate == nil {
		cfg.Delegate = noopDelegate{}
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}

	current, err := goversion.NewVersion(cfg.CurrentVersion)
	if err != nil {
		return nil, fmt.Errorf("parse current version %q: %w", cfg.CurrentVersion, err)
	}

	u := &Updater{
		cfg:        cfg,
		current:    current,
		httpClient: &http.Client{},
		trigger:    make(chan struct{}, 1),
		reschedule: make(chan struct{}, 1),
		quitting:   make(chan struct{}),
		autoChecks: cfg.AutomaticChecks,
	}
	u.newBackOff = defaultBackOff
	u.applyFn = applyStaged
	u.relaunchFn = relaunch
	u.exePathFn = selfupdate.ExecutablePath
	u.exitFn = os.Exit

	return u, nil
}

// Start launches the schedule loop.
func (u *Updater) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		return errors.New("updater already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel

	u.wg.Add(1)
	go u.loop(ctx)

	return nil
}

// Stop terminates the schedule loop and waits for it.
func (u *Updater) Stop() error {
	u.mu.Lock()
	cancel := u.cancel
	u.cancel = nil
	u.mu.Unlock()

	if cancel == nil {
		return errors.New("updater not started")
	}

	cancel()
	u.wg.Wait()
	return nil
}

// SetAutomaticChecks toggles the background schedule of a running
// updater.
func (u *Updater) SetAutomaticChecks(enabled bool) {
	u.mu.Lock()
	changed := u.autoChecks != enabled
	u.autoChecks = enabled
	u.mu.Unlock()

	if !changed {
		return
	}
	select {
	case u.reschedule <- struct{}{}:
	default:
	}
}

// AutomaticChecks reports whether background checks are scheduled.
func (u *Updater) AutomaticChecks() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.autoChecks
}

// AutomaticDownloads reports the download consent given on first run.
func (u *Updater) AutomaticDownloads() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.autoDowns
}

// CheckInBackground triggers a check cycle without waiting for it. The
// recurring schedule continues independently.
func (u *Updater) CheckInBackground() {
	select {
	case u.trigger <- struct{}{}:
	default:
	}
}

// CheckNow runs a user-initiated check cycle and blocks until it ends.
func (u *Updater) CheckNow(ctx context.Context) error {
	return u.runCycle(ctx, true)
}

// NotifyQuitting tells the updater the host process is about to exit, so
// a staged update can be offered for immediate installation.
func (u *Updater) NotifyQuitting() {
	u.quitOnce.Do(func() {
		close(u.quitting)
	})
}

func (u *Updater) loop(ctx context.Context) {
	defer u.wg.Done()

	if u.cfg.FirstRun {
		resp := u.cfg.Driver.RequestPermission()
		log.Infof("update permission granted: checks=%t downloads=%t", resp.AutomaticChecks, resp.AutomaticDownloads)
		u.mu.Lock()
		u.autoChecks = resp.AutomaticChecks
		u.autoDowns = resp.AutomaticDownloads
		u.mu.Unlock()
	}

	timer := time.NewTimer(u.cfg.CheckInterval)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		var fire <-chan time.Time
		if u.AutomaticChecks() {
			u.cfg.Delegate.WillScheduleCheck(u.cfg.CheckInterval)
			timer.Reset(u.cfg.CheckInterval)
			fire = timer.C
		} else {
			u.cfg.Delegate.WillNotScheduleCheck()
		}

		select {
		case <-ctx.Done():
			return
		case <-u.reschedule:
			stopTimer(timer, fire)
		case <-fire:
			if err := u.runCycle(ctx, false); err != nil {
				log.Errorf("scheduled update check failed: %v", err)
			}
		case <-u.trigger:
			stopTimer(timer, fire)
			if err := u.runCycle(ctx, false); err != nil {
				log.Errorf("background update check failed: %v", err)
			}
		}
	}
}

func stopTimer(timer *time.Timer, fire <-chan time.Time) {
	if fire == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func (u *Updater) runCycle(ctx context.Context, userInitiated bool) error {
	if !u.inFlight.CompareAndSwap(false, true) {
		log.Debugf("update check already in flight, skipping")
		return nil
	}
	defer u.inFlight.Store(false)

	driver, delegate := u.cfg.Driver, u.cfg.Delegate

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if userInitiated {
		driver.ShowUserInitiatedCheck(cancel)
	}

	item, found, err := u.detectLatest(cycleCtx)
	if err != nil {
		return u.abort(cycleCtx, fmt.Errorf("detect latest release: %w", err))
	}

	newer := false
	if found {
		candidate, perr := goversion.NewVersion(item.Version)
		if perr != nil {
			return u.abort(cycleCtx, newError(CodeInvalidFeed, fmt.Errorf("parse feed version %q: %w", item.Version, perr)))
		}
		newer = candidate.GreaterThan(u.current)
	}

	if !newer {
		log.Debugf("no update available, current version %s", u.current)
		delegate.NoUpdateFound()
		u.awaitAck(cycleCtx, driver.ShowUpdateNotFound)
		delegate.UpdateCycleFinished(nil)
		return nil
	}

	log.Infof("found update %s, current version %s", item.Version, u.current)
	delegate.FoundValidUpdate(item)
	u.loadReleaseNotes(cycleCtx, item, driver)

	choice := driver.ShowUpdateFound(item)
	delegate.UserMadeChoice(item, choice)
	if choice != ChoiceInstall {
		log.Infof("update %s not installed, user chose %s", item.Version, choice)
		delegate.UpdateCycleFinished(nil)
		return nil
	}

	staged, err := u.stage(cycleCtx, item, driver)
	if err != nil {
		return u.abort(cycleCtx, newError(CodeDownloadFailure, err))
	}

	installCh := make(chan struct{}, 1)
	driver.ShowReadyToInstallAndRelaunch(func() {
		select {
		case installCh <- struct{}{}:
		default:
		}
	})

	select {
	case <-installCh:
	case <-u.quitting:
		immediate := make(chan struct{}, 1)
		handled := delegate.WillInstallUpdateOnQuit(item, func() {
			select {
			case immediate <- struct{}{}:
			default:
			}
		})
		select {
		case <-immediate:
		default:
			if !handled {
				log.Infof("update %s stays staged at %s", item.Version, staged)
			}
			delegate.UpdateCycleFinished(nil)
			return nil
		}
	case <-cycleCtx.Done():
		delegate.UpdateCycleFinished(cycleCtx.Err())
		return cycleCtx.Err()
	}

	return u.install(cycleCtx, item, staged, driver, delegate)
}

func (u *Updater) detectLatest(ctx context.Context) (*Item, bool, error) {
	var (
		item  *Item
		found bool
	)

	operation := func() error {
		i, f, err := u.cfg.Source.Latest(ctx)
		if err != nil {
			// coded feed errors are not transient, retrying cannot help
			if _, _, coded := DomainCode(err); coded {
				return backoff.Permanent(err)
			}
			log.Debugf("feed fetch failed, will retry: %v", err)
			return err
		}
		item, found = i, f
		return nil
	}

	if err := backoff.Retry(operation, u.newBackOff(ctx)); err != nil {
		return nil, false, err
	}
	return item, found, nil
}

func (u *Updater) stage(ctx context.Context, item *Item, driver Driver) (string, error) {
	driver.ShowDownloadStarted(item)

	dir, err := os.MkdirTemp("", "nightjar-update-*")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}

	name := item.AssetName
	if name == "" {
		name = filepath.Base(strings.SplitN(item.AssetURL, "?", 2)[0])
	}
	staged := filepath.Join(dir, name)

	if err := u.downloadToFile(ctx, item, staged, driver); err != nil {
		return "", err
	}

	return u.extractStaged(item, staged, driver)
}

func (u *Updater) install(ctx context.Context, item *Item, staged string, driver Driver, delegate Delegate) error {
	delegate.WillInstallUpdate(item)
	driver.ShowInstallingUpdate(true, func() {})

	target, err := u.exePathFn()
	if err != nil {
		return u.abort(ctx, fmt.Errorf("locate executable: %w", err))
	}

	if err := u.applyFn(staged, target); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return u.abort(ctx, newError(CodeInstallNoWritePermission, err))
		}
		return u.abort(ctx, fmt.Errorf("apply update %s: %w", item.Version, err))
	}

	log.Infof("installed update %s to %s", item.Version, target)
	delegate.WillRelaunchApplication()

	relaunched := true
	if err := u.relaunchFn(target); err != nil {
		relaunched = false
		log.Errorf("failed to relaunch %s: %v", target, err)
	}

	u.awaitAck(ctx, func(ack func()) {
		driver.ShowUpdateInstalledAndRelaunched(relaunched, ack)
	})
	delegate.UpdateCycleFinished(nil)

	if relaunched {
		u.exitFn(0)
	}
	return nil
}

func (u *Updater) abort(ctx context.Context, err error) error {
	log.Errorf("update cycle aborted: %v", err)
	u.cfg.Delegate.AbortedWithError(err)
	u.awaitAck(ctx, func(ack func()) {
		u.cfg.Driver.ShowUpdaterError(err, ack)
	})
	u.cfg.Delegate.UpdateCycleFinished(err)
	return err
}

// awaitAck runs a driver prompt carrying an acknowledgement callback and
// waits for it, bounded so a misbehaving driver cannot wedge the cycle.
func (u *Updater) awaitAck(ctx context.Context, show func(ack func())) {
	acked := make(chan struct{}, 1)
	show(func() {
		select {
		case acked <- struct{}{}:
		default:
		}
	})

	select {
	case <-acked:
	case <-ctx.Done():
	case <-time.After(ackTimeout):
		log.Warnf("driver did not acknowledge within %s", ackTimeout)
	}
}

func defaultBackOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         30 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)
}

func applyStaged(staged, target string) error {
	f, err := os.Open(staged)
	if err != nil {
		return fmt.Errorf("open staged update: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.Warnf("error closing file %q: %v", staged, cerr)
		}
	}()

	return update.Apply(f, update.Options{TargetPath: target})
}

func relaunch(target string) error {
	cmd := exec.Command(target, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	return cmd.Start()
}

type noopDelegate struct{}

func (noopDelegate) WillScheduleCheck(time.Duration)            {}
func (noopDelegate) WillNotScheduleCheck()                      {}
func (noopDelegate) FoundValidUpdate(*Item)                     {}
func (noopDelegate) NoUpdateFound()                             {}
func (noopDelegate) UserMadeChoice(*Item, UserChoice)           {}
func (noopDelegate) WillInstallUpdate(*Item)                    {}
func (noopDelegate) WillInstallUpdateOnQuit(*Item, func()) bool { return false }
func (noopDelegate) WillRelaunchApplication()                   {}
func (noopDelegate) AbortedWithError(error)                     {}
func (noopDelegate) UpdateCycleFinished(error)                  {}
