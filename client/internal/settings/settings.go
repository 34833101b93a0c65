// Package settings persists the small set of user preferences the update
// layer is gated on.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// KeyAutomaticUpdates gates both background check scheduling and silent
// downloads. Absent from the settings file until the user makes a choice.
const KeyAutomaticUpdates = "automatic-updates"

const settingsFileName = "settings.yaml"

// Store wraps a single settings file. All writes go through the store;
// external edits to the file are picked up via Watch.
type Store struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// NewStore loads (or prepares) the settings file inside dir. A missing
// file is not an error: defaults apply until the first write.
func NewStore(dir string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, settingsFileName))
	v.SetConfigType("yaml")
	v.SetDefault(KeyAutomaticUpdates, false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
		log.Debugf("no settings file at %s, using defaults", dir)
	}

	return &Store{
		v:    v,
		path: filepath.Join(dir, settingsFileName),
	}, nil
}

// AutomaticUpdates returns the stored preference, false when unset.
func (s *Store) AutomaticUpdates() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetBool(KeyAutomaticUpdates)
}

// AutomaticUpdatesChosen reports whether the user ever made a choice,
// distinguishing a stored false from the default false.
func (s *Store) AutomaticUpdatesChosen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.InConfig(KeyAutomaticUpdates)
}

// SetAutomaticUpdates persists the preference. The value is on disk when
// the call returns.
func (s *Store) SetAutomaticUpdates(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(KeyAutomaticUpdates, enabled)
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Watch invokes onChange whenever the settings file is modified outside
// the store, so the live updater flag can be kept in lockstep with edits
// made by other processes.
func (s *Store) Watch(onChange func()) {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		log.Debugf("settings file changed: %s", e.Name)
		onChange()
	})
	s.v.WatchConfig()
}

// Path returns the absolute settings file location.
func (s *Store) Path() string {
	return s.path
}
