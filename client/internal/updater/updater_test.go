package updater

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type stubSource struct {
	mu    sync.Mutex
	calls int
	fn    func(calls int) (*Item, bool, error)
}

func (s *stubSource) Latest(context.Context) (*Item, bool, error) {
	s.mu.Lock()
	s.calls++
	calls := s.calls
	s.mu.Unlock()
	return s.fn(calls)
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubDriver answers every prompt immediately. Individual tests override
// the hooks they care about.
type stubDriver struct {
	choice UserChoice

	onPermission func() PermissionResponse
	onReady      func(install func())

	mu     sync.Mutex
	errors []error
}

func (d *stubDriver) RequestPermission() PermissionResponse {
	if d.onPermission != nil {
		return d.onPermission()
	}
	return PermissionResponse{}
}

func (d *stubDriver) ShowUserInitiatedCheck(func())    {}
func (d *stubDriver) ShowReleaseNotes(string)          {}
func (d *stubDriver) ShowReleaseNotesFailed(error)     {}
func (d *stubDriver) ShowDownloadStarted(*Item)        {}
func (d *stubDriver) ShowDownloadTotalBytes(int64)     {}
func (d *stubDriver) ShowDownloadReceivedBytes(int64)  {}
func (d *stubDriver) ShowExtractionStarted(*Item)      {}
func (d *stubDriver) ShowExtractionProgress(float64)   {}
func (d *stubDriver) ShowInstallingUpdate(bool, func()) {}
func (d *stubDriver) Focus()                           {}
func (d *stubDriver) Dismiss()                         {}

func (d *stubDriver) ShowUpdateFound(*Item) UserChoice {
	return d.choice
}

func (d *stubDriver) ShowUpdateNotFound(ack func()) {
	ack()
}

func (d *stubDriver) ShowUpdaterError(err error, ack func()) {
	d.mu.Lock()
	d.errors = append(d.errors, err)
	d.mu.Unlock()
	ack()
}

func (d *stubDriver) ShowReadyToInstallAndRelaunch(install func()) {
	if d.onReady != nil {
		d.onReady(install)
	}
}

func (d *stubDriver) ShowUpdateInstalledAndRelaunched(_ bool, ack func()) {
	ack()
}

func (d *stubDriver) shownErrors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errors...)
}

// recordingDelegate captures the callback sequence of a cycle.
type recordingDelegate struct {
	mu     sync.Mutex
	events []string

	onInstallOnQuit func(item *Item, immediateInstall func()) bool
}

func (d *recordingDelegate) record(event string) {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
}

func (d *recordingDelegate) WillScheduleCheck(time.Duration) { d.record("willScheduleCheck") }
func (d *recordingDelegate) WillNotScheduleCheck()           { d.record("willNotScheduleCheck") }
func (d *recordingDelegate) FoundValidUpdate(*Item)          { d.record("foundValidUpdate") }
func (d *recordingDelegate) NoUpdateFound()                  { d.record("noUpdateFound") }
func (d *recordingDelegate) WillInstallUpdate(*Item)         { d.record("willInstallUpdate") }
func (d *recordingDelegate) WillRelaunchApplication()        { d.record("willRelaunchApplication") }
func (d *recordingDelegate) AbortedWithError(error)          { d.record("abortedWithError") }
func (d *recordingDelegate) UpdateCycleFinished(error)       { d.record("updateCycleFinished") }

func (d *recordingDelegate) UserMadeChoice(_ *Item, choice UserChoice) {
	d.record("userMadeChoice:" + choice.String())
}

func (d *recordingDelegate) WillInstallUpdateOnQuit(item *Item, immediateInstall func()) bool {
	d.record("willInstallUpdateOnQuit")
	if d.onInstallOnQuit != nil {
		return d.onInstallOnQuit(item, immediateInstall)
	}
	return false
}

func (d *recordingDelegate) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *recordingDelegate) contains(event string) bool {
	for _, e := range d.recorded() {
		if e == event {
			return true
		}
	}
	return false
}

func fastBackOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2), ctx)
}

func newTestUpdater(t *testing.T, cfg Config) *Updater {
	t.Helper()
	u, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create updater: %v", err)
	}
	u.newBackOff = fastBackOff
	return u
}

func TestCheckNowNoUpdate(t *testing.T) {
	source := &stubSource{fn: func(int) (*Item, bool, error) {
		return &Item{Version: "1.0.0"}, true, nil
	}}
	driver := &stubDriver{}
	delegate := &recordingDelegate{}

	u := newTestUpdater(t, Config{
		Source:         source,
		CurrentVersion: "1.0.0",
		Driver:         driver,
		Delegate:       delegate,
	})

	if err := u.CheckNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := delegate.recorded()
	expected := []string{"noUpdateFound", "updateCycleFinished"}
	if len(events) != len(expected) {
		t.Fatalf("expected events %v, got %v", expected, events)
	}
	for i, e := range expected {
		if events[i] != e {
			t.Errorf("expected event %d to be %s, got %s", i, e, events[i])
		}
	}
}

func TestCheckNowEmptyFeed(t *testing.T) {
	source := &stubSource{fn: func(int) (*Item, bool, error) {
		return nil, false, nil
	}}
	delegate := &recordingDelegate{}

	u := newTestUpdater(t, Config{
		Source:         source,
		CurrentVersion: "1.0.0",
		Driver:         &stubDriver{},
		Delegate:       delegate,
	})

	if err := u.CheckNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !delegate.contains("noUpdateFound") {
		t.Errorf("expected noUpdateFound, got %v", delegate.recorded())
	}
}

func TestCheckNowUserDismisses(t *testing.T) {
	source := &stubSource{fn: func(int) (*Item, bool, error) {
		return &Item{Version: "2.0.0", AssetURL: "https://example.com/asset"}, true, nil
	}}
	driver := &stubDriver{choice: ChoiceDismiss}
	delegate := &recordingDelegate{}

	u := newTestUpdater(t, Config{
		Source:         source,
		CurrentVersion: "1.0.0",
		Driver:         driver,
		Delegate:       delegate,
	})

	if err := u.CheckNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := delegate.recorded()
	expected := []string{"foundValidUpdate", "userMadeChoice:dismiss", "updateCycleFinished"}
	if len(events) != len(expected) {
		t.Fatalf("expected events %v, got %v", expected, events)
	}
	for i, e := range expected {
		if events[i] != e {
			t.Errorf("expected event %d to be %s, got %s", i, e, events[i])
		}
	}
}

func TestCheckNowRetriesTransientFeedErrors(t *testing.T) {
	source := &stubSource{fn: func(calls int) (*Item, bool, error) {
		if calls == 1 {
			return nil, false, errors.New("connection reset")
		}
		return &Item{Version: "1.0.0"}, true, nil
	}}
	delegate := &recordingDelegate{}

	u := newTestUpdater(t, Config{
		Source:         source,
		CurrentVersion: "1.0.0",
		Driver:         &stubDriver{},
		Delegate:       delegate,
	})

	if err := u.CheckNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := source.callCount(); got != 2 {
		t.Errorf("expected 2 feed fetches, got %d", got)
	}
	if !delegate.contains("noUpdateFound") {
		t.Errorf("expected the retried cycle to complete, got %v", delegate.recorded())
	}
}

func TestCheckNowCodedFeedErrorIsNotRetried(t *testing.T) {
	source := &stubSource{fn: func(int) (*Item, bool, error) {
		return nil, false, newError(CodeInvalidFeed, errors.New("not json"))
	}}
	driver := &stubDriver{}
	delegate := &recordingDelegate{}

	u := newTestUpdater(t, Config{
		Source:         source,
		CurrentVersion: "1.0.0",
		Driver:         driver,
		Delegate:       delegate,
	})

	err := u.CheckNow(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := source.callCount(); got != 1 {
		t.Errorf("expected a single feed fetch, got %d", got)
	}
	if _, code, ok := DomainCode(err); !ok || code != CodeInvalidFeed {
		t.Errorf("expected invalid feed code, got %v", err)
	}
	if !delegate.contains("abortedWithError") {
		t.Errorf("expected abortedWithError, got %v", delegate.recorded())
	}
	if shown := driver.shownErrors(); len(shown) != 1 {
		t.Errorf("expected one error prompt, got %d", len(shown))
	}
}

func TestCheckNowInstallsAndRelaunches(t *testing.T) {
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("new binary"))
	}))
	defer assets.Close()

	source := &stubSource{fn: func(int) (*Item, bool, error) {
		return &Item{Version: "2.0.0", AssetURL: assets.URL, AssetName: "nightjar"}, true, nil
	}}
	driver := &stubDriver{
		choice: ChoiceInstall,
		onReady: func(install func()) {
			install()
		},
	}
	delegate := &recordingDelegate{}

	u := newTestUpdater(t, Config{
		Source:         source,
		CurrentVersion: "1.0.0",
		Driver:         driver,
		Delegate:       delegate,
	})

	var (
		applied    string
		target     = "/opt/nightjar/nightjar"
		relaunched bool
		exitCode   = -1
	)
	u.exePathFn = func() (string, error) { return target, nil }
	u.applyFn = func(staged, tgt string) error {
		data, err := os.ReadFile(staged)
		if err != nil {
			return err
		}
		applied = string(data)
		if tgt != target {
			t.Errorf("expected target %s, got %s", target, tgt)
		}
		return nil
	}
	u.relaunchFn = func(string) error {
		relaunched = true
		return nil
	}
	u.exitFn = func(code int) { exitCode = code }

	if err := u.CheckNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if applied != "new binary" {
		t.Errorf("expected staged asset to be applied, got %q", applied)
	}
	if !relaunched {
		t.Error("expected a relaunch")
	}
	if exitCode != 0 {
		t.Errorf("expected exit code 0 after relaunch, got %d", exitCode)
	}

	for _, event := range []string{"foundValidUpdate", "userMadeChoice:install", "willInstallUpdate", "willRelaunchApplication", "updateCycleFinished"} {
		if !delegate.contains(event) {
			t.Errorf("expected event %s, got %v", event, delegate.recorded())
		}
	}
}

func TestCheckNowInstallOnQuit(t *testing.T) {
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("new binary"))
	}))
	defer assets.Close()

	source := &stubSource{fn: func(int) (*Item, bool, error) {
		return &Item{Version: "2.0.0", AssetURL: assets.URL, AssetName: "nightjar"}, true, nil
	}}
	// the ready prompt is never answered, the quit path has to take over
	driver := &stubDriver{choice: ChoiceInstall}
	delegate := &recordingDelegate{
		onInstallOnQuit: func(_ *Item, immediateInstall func()) bool {
			immediateInstall()
			return true
		},
	}

	u := newTestUpdater(t, Config{
		Source:         source,
		CurrentVersion: "1.0.0",
		Driver:         driver,
		Delegate:       delegate,
	})

	installed := false
	u.exePathFn = func() (string, error) { return "/opt/nightjar/nightjar", nil }
	u.applyFn = func(string, string) error {
		installed = true
		return nil
	}
	u.relaunchFn = func(string) error { return nil }
	u.exitFn = func(int) {}

	u.NotifyQuitting()
	if err := u.CheckNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !installed {
		t.Error("expected the staged update to be installed on quit")
	}
	if !delegate.contains("willInstallUpdateOnQuit") {
		t.Errorf("expected willInstallUpdateOnQuit, got %v", delegate.recorded())
	}
}

func TestCheckNowStagedUpdateLeftWhenQuitDeclines(t *testing.T) {
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("new binary"))
	}))
	defer assets.Close()

	source := &stubSource{fn: func(int) (*Item, bool, error) {
		return &Item{Version: "2.0.0", AssetURL: assets.URL, AssetName: "nightjar"}, true, nil
	}}
	driver := &stubDriver{choice: ChoiceInstall}
	delegate := &recordingDelegate{}

	u := newTestUpdater(t, Config{
		Source:         source,
		CurrentVersion: "1.0.0",
		Driver:         driver,
		Delegate:       delegate,
	})

	installed := false
	u.applyFn = func(string, string) error {
		installed = true
		return nil
	}

	u.NotifyQuitting()
	if err := u.CheckNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if installed {
		t.Error("expected no install when the quit handler declines")
	}
	if !delegate.contains("updateCycleFinished") {
		t.Errorf("expected the cycle to finish, got %v", delegate.recorded())
	}
}

func TestCheckNowNoWritePermission(t *testing.T) {
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("new binary"))
	}))
	defer assets.Close()

	source := &stubSource{fn: func(int) (*Item, bool, error) {
		return &Item{Version: "2.0.0", AssetURL: assets.URL, AssetName: "nightjar"}, true, nil
	}}
	driver := &stubDriver{
		choice:  ChoiceInstall,
		onReady: func(install func()) { install() },
	}
	delegate := &recordingDelegate{}

	u := newTestUpdater(t, Config{
		Source:         source,
		CurrentVersion: "1.0.0",
		Driver:         driver,
		Delegate:       delegate,
	})

	u.exePathFn = func() (string, error) { return "/opt/nightjar/nightjar", nil }
	u.applyFn = func(string, string) error {
		return &fs.PathError{Op: "open", Path: "/opt/nightjar/nightjar", Err: fs.ErrPermission}
	}

	err := u.CheckNow(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, code, ok := DomainCode(err); !ok || code != CodeInstallNoWritePermission {
		t.Errorf("expected no-write-permission code, got %v", err)
	}
	if !RequiresUserInteraction(err) {
		t.Error("expected the error to require user interaction")
	}
}

func TestOnlyOneCheckInFlight(t *testing.T) {
	release := make(chan struct{})
	source := &stubSource{fn: func(int) (*Item, bool, error) {
		<-release
		return &Item{Version: "1.0.0"}, true, nil
	}}

	u := newTestUpdater(t, Config{
		Source:         source,
		CurrentVersion: "1.0.0",
		Driver:         &stubDriver{},
	})

	first := make(chan error, 1)
	go func() {
		first <- u.CheckNow(context.Background())
	}()

	// wait for the first cycle to own the in-flight flag
	for i := 0; i < 100 && !u.inFlight.Load(); i++ {
		time.Sleep(time.Millisecond)
	}

	if err := u.CheckNow(context.Background()); err != nil {
		t.Fatalf("expected the overlapping check to be skipped, got %v", err)
	}
	if got := source.callCount(); got != 1 {
		t.Errorf("expected a single feed fetch, got %d", got)
	}

	close(release)
	select {
	case err := <-first:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first check")
	}
}

func TestFirstRunPermission(t *testing.T) {
	granted := make(chan struct{})
	driver := &stubDriver{
		onPermission: func() PermissionResponse {
			defer close(granted)
			return PermissionResponse{AutomaticChecks: true, AutomaticDownloads: true}
		},
	}

	u := newTestUpdater(t, Config{
		Source:         &stubSource{fn: func(int) (*Item, bool, error) { return nil, false, nil }},
		CurrentVersion: "1.0.0",
		CheckInterval:  time.Hour,
		FirstRun:       true,
		Driver:         driver,
	})

	if err := u.Start(); err != nil {
		t.Fatalf("failed to start updater: %v", err)
	}
	defer func() {
		if err := u.Stop(); err != nil {
			t.Errorf("failed to stop updater: %v", err)
		}
	}()

	select {
	case <-granted:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the permission request")
	}

	// poll, the loop stores the response just after the request returns
	for i := 0; i < 100 && !u.AutomaticChecks(); i++ {
		time.Sleep(time.Millisecond)
	}
	if !u.AutomaticChecks() {
		t.Error("expected automatic checks to follow the granted permission")
	}
	if !u.AutomaticDownloads() {
		t.Error("expected automatic downloads to follow the granted permission")
	}
}

func TestSetAutomaticChecksReschedules(t *testing.T) {
	scheduled := make(chan struct{}, 4)
	notScheduled := make(chan struct{}, 4)
	delegate := &recordingDelegate{}

	u := newTestUpdater(t, Config{
		Source:          &stubSource{fn: func(int) (*Item, bool, error) { return nil, false, nil }},
		CurrentVersion:  "1.0.0",
		CheckInterval:   time.Hour,
		AutomaticChecks: false,
		Driver:          &stubDriver{},
		Delegate: &signalDelegate{
			recordingDelegate: delegate,
			scheduled:         scheduled,
			notScheduled:      notScheduled,
		},
	})

	if err := u.Start(); err != nil {
		t.Fatalf("failed to start updater: %v", err)
	}
	defer func() {
		if err := u.Stop(); err != nil {
			t.Errorf("failed to stop updater: %v", err)
		}
	}()

	select {
	case <-notScheduled:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the initial scheduling decision")
	}

	u.SetAutomaticChecks(true)
	select {
	case <-scheduled:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the check to be scheduled")
	}
	if !u.AutomaticChecks() {
		t.Error("expected automatic checks to be enabled")
	}
}

// signalDelegate forwards to a recordingDelegate and signals scheduling
// decisions over channels.
type signalDelegate struct {
	*recordingDelegate
	scheduled    chan struct{}
	notScheduled chan struct{}
}

func (d *signalDelegate) WillScheduleCheck(delay time.Duration) {
	d.recordingDelegate.WillScheduleCheck(delay)
	select {
	case d.scheduled <- struct{}{}:
	default:
	}
}

func (d *signalDelegate) WillNotScheduleCheck() {
	d.recordingDelegate.WillNotScheduleCheck()
	select {
	case d.notScheduled <- struct{}{}:
	default:
	}
}

func TestNewValidation(t *testing.T) {
	source := &stubSource{fn: func(int) (*Item, bool, error) { return nil, false, nil }}

	if _, err := New(Config{CurrentVersion: "1.0.0", Driver: &stubDriver{}}); err == nil {
		t.Error("expected an error without a source")
	}
	if _, err := New(Config{Source: source, CurrentVersion: "1.0.0"}); err == nil {
		t.Error("expected an error without a driver")
	}
	if _, err := New(Config{Source: source, CurrentVersion: "not a version", Driver: &stubDriver{}}); err == nil {
		t.Error("expected an error for an unparseable current version")
	}
	u, err := New(Config{Source: source, CurrentVersion: "1.0.0", Driver: &stubDriver{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.cfg.CheckInterval != DefaultCheckInterval {
		t.Errorf("expected the default check interval, got %s", u.cfg.CheckInterval)
	}
}
