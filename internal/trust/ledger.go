// Package trust maintains the registry-indexed moving average of rewards
// that backs the validator's weight commits.
package trust

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Ledger holds one trust score per registry position. Updates scatter a
// round's reward vector by peer uid and decay every other position, so a
// peer that is never queried drifts back toward zero instead of holding
// its score indefinitely.
type Ledger struct {
	mu              sync.Mutex
	alpha           float64
	scores          []float64
	hotkeys         []string
	step            int64
	lastCommitBlock int64
}

// NewLedger creates an empty ledger with the given decay constant.
func NewLedger(alpha float64) (*Ledger, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("moving average alpha must be in (0,1], got %f", alpha)
	}
	return &Ledger{alpha: alpha}, nil
}

// Update folds a round's rewards into the trust scores. uids index the
// current registry snapshot; every position not in uids decays by
// (1-alpha). The swap is all-or-nothing: a partially built vector is
// never observable.
func (l *Ledger) Update(uids []int64, rewards []float64) ([]float64, error) {
	if len(uids) != len(rewards) {
		return nil, fmt.Errorf("uids and rewards must have the same length, got %d and %d", len(uids), len(rewards))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updateLocked(uids, rewards)
}

// UpdateByHotkey folds a round's rewards keyed by hotkey identity
// instead of position. Hotkeys no longer in the registry are dropped
// rather than scattered to a stale index, so a resync between sampling
// and settlement cannot land a reward on the wrong peer. Returns the
// positions and rewards that survived, in input order.
func (l *Ledger) UpdateByHotkey(hotkeys []string, rewards []float64) ([]int64, []float64, error) {
	if len(hotkeys) != len(rewards) {
		return nil, nil, fmt.Errorf("hotkeys and rewards must have the same length, got %d and %d", len(hotkeys), len(rewards))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	index := make(map[string]int64, len(l.hotkeys))
	for i, hk := range l.hotkeys {
		index[hk] = int64(i)
	}

	uids := make([]int64, 0, len(hotkeys))
	kept := make([]float64, 0, len(rewards))
	for i, hk := range hotkeys {
		uid, ok := index[hk]
		if !ok {
			continue
		}
		uids = append(uids, uid)
		kept = append(kept, rewards[i])
	}

	if _, err := l.updateLocked(uids, kept); err != nil {
		return nil, nil, err
	}
	return uids, kept, nil
}

func (l *Ledger) updateLocked(uids []int64, rewards []float64) ([]float64, error) {
	n := len(l.scores)
	sparse := make([]float64, n)
	for i, uid := range uids {
		if uid < 0 || uid >= int64(n) {
			return nil, fmt.Errorf("uid %d out of range for registry size %d", uid, n)
		}
		sparse[uid] = rewards[i]
	}

	next := make([]float64, n)
	copy(next, l.scores)
	floats.Scale(1-l.alpha, next)
	floats.AddScaled(next, l.alpha, sparse)

	l.scores = next

	out := make([]float64, n)
	copy(out, next)
	return out, nil
}

// Remap rebuilds the score vector against a new registry snapshot,
// carrying values over by hotkey identity. Retained peers keep their
// accumulated score, new peers start at zero, dropped peers are
// discarded. Must run before the first Update against the new snapshot.
func (l *Ledger) Remap(newHotkeys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldIndex := make(map[string]int, len(l.hotkeys))
	for i, hk := range l.hotkeys {
		oldIndex[hk] = i
	}

	next := make([]float64, len(newHotkeys))
	for i, hk := range newHotkeys {
		if oldIdx, ok := oldIndex[hk]; ok && oldIdx < len(l.scores) {
			next[i] = l.scores[oldIdx]
		}
	}

	l.scores = next
	l.hotkeys = append([]string(nil), newHotkeys...)
}

// Scores returns a copy of the current trust vector.
func (l *Ledger) Scores() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]float64, len(l.scores))
	copy(out, l.scores)
	return out
}

// Hotkeys returns a copy of the hotkeys the scores are indexed by.
func (l *Ledger) Hotkeys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.hotkeys...)
}

// Len returns the registry size the ledger is currently tracking.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.scores)
}

// Alpha returns the configured decay constant.
func (l *Ledger) Alpha() float64 {
	return l.alpha
}

// Step returns the current round counter.
func (l *Ledger) Step() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.step
}

// AdvanceStep increments and returns the round counter.
func (l *Ledger) AdvanceStep() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.step++
	return l.step
}

// LastCommitBlock returns the block height recorded at the last epoch
// boundary.
func (l *Ledger) LastCommitBlock() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCommitBlock
}

// MarkCommitted records the epoch boundary height. Recorded whether or
// not the weight commit itself executed, so a skipped commit does not
// cause a tight retry loop.
func (l *Ledger) MarkCommitted(block int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastCommitBlock = block
}

// Snapshot captures the ledger for checkpointing.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		Step:            l.step,
		Scores:          append([]float64(nil), l.scores...),
		Hotkeys:         append([]string(nil), l.hotkeys...),
		LastCommitBlock: l.lastCommitBlock,
	}
}

// Restore replaces the ledger contents with a previously saved state.
func (l *Ledger) Restore(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.step = s.Step
	l.scores = append([]float64(nil), s.Scores...)
	l.hotkeys = append([]string(nil), s.Hotkeys...)
	l.lastCommitBlock = s.LastCommitBlock
}
