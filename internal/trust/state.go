package trust

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

// State is the on-disk checkpoint. It carries everything needed to
// resume scoring after a restart without re-earning trust from zero.
type State struct {
	Step            int64     `json:"step"`
	Scores          []float64 `json:"scores"`
	Hotkeys         []string  `json:"hotkeys"`
	LastCommitBlock int64     `json:"lastCommitBlock"`
}

// LoadState reads a checkpoint from disk. A missing file is not an
// error: a fresh default file is written and an empty state returned,
// so first boot and restart share one code path.
func LoadState(path string) (State, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Info().Str("path", path).Msg("no state file found, initializing fresh state")
		state := State{Scores: []float64{}, Hotkeys: []string{}}
		if err := SaveState(path, state); err != nil {
			return State{}, fmt.Errorf("initialize state file: %w", err)
		}
		return state, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state file %s: %w", path, err)
	}

	var state State
	if err := sonic.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("unmarshal state file %s: %w", path, err)
	}
	return state, nil
}

// SaveState writes a checkpoint atomically via a temp file rename, so a
// crash mid-write never leaves a truncated checkpoint behind.
func SaveState(path string, state State) error {
	raw, err := sonic.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp state file: %w", err)
	}
	return nil
}
