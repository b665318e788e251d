// Package tracker maintains the per-event checkpoint schedules: which drift
// offsets are still pending, which are written, and the JSON state file that
// survives transient hiccups within a single process lifetime.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"whalewatch/logger"
	"whalewatch/models"
)

// Store persists the live tracker set as a flat JSON file. Every mutation
// rewrites the whole file; the file is wiped at process start so trackers
// deliberately do not survive a restart.
type Store struct {
	path string
	log  *logger.Log
}

type state struct {
	Items []models.Tracker `json:"items"`
}

func NewStore(path string) *Store {
	return &Store{path: path, log: logger.GetLogger()}
}

// Reset removes any state left over from a previous run.
func (s *Store) Reset() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove tracker state: %w", err)
	}
	if err == nil {
		s.log.WithComponent("tracker").WithFields(logger.Fields{"path": s.path}).Info("deleted stale tracker state")
	}
	return nil
}

// Load reads the persisted tracker set. A missing file is an empty set.
func (s *Store) Load() ([]models.Tracker, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tracker state: %w", err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode tracker state: %w", err)
	}
	return st.Items, nil
}

// Save rewrites the full tracker set. All-or-nothing per call.
func (s *Store) Save(trackers []models.Tracker) error {
	data, err := json.Marshal(state{Items: trackers})
	if err != nil {
		return fmt.Errorf("encode tracker state: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create tracker state dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write tracker state: %w", err)
	}
	return nil
}
