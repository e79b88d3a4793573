package trust

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestLedger(t *testing.T, alpha float64, hotkeys []string) *Ledger {
	t.Helper()
	ledger, err := NewLedger(alpha)
	require.NoError(t, err)
	ledger.Remap(hotkeys)
	return ledger
}

func TestNewLedgerRejectsBadAlpha(t *testing.T) {
	for _, alpha := range []float64{-0.5, 0, 1.1} {
		_, err := NewLedger(alpha)
		assert.Error(t, err, "alpha %f should be rejected", alpha)
	}

	_, err := NewLedger(1.0)
	assert.NoError(t, err)
}

func TestUpdateScattersAndDecays(t *testing.T) {
	ledger := newTestLedger(t, 0.5, []string{"hk0", "hk1", "hk2", "hk3", "hk4"})

	scores, err := ledger.Update([]int64{0, 1, 2}, []float64{0.2, 0.4, 0.6})
	require.NoError(t, err)

	assert.InDelta(t, 0.1, scores[0], 1e-9)
	assert.InDelta(t, 0.2, scores[1], 1e-9)
	assert.InDelta(t, 0.3, scores[2], 1e-9)
	assert.Zero(t, scores[3])
	assert.Zero(t, scores[4])
}

func TestUpdateDecaysUnqueriedPeers(t *testing.T) {
	alpha := 0.3
	ledger := newTestLedger(t, alpha, []string{"hk0", "hk1"})

	_, err := ledger.Update([]int64{0}, []float64{1.0})
	require.NoError(t, err)

	const rounds = 7
	for i := 0; i < rounds; i++ {
		_, err := ledger.Update([]int64{1}, []float64{0.5})
		require.NoError(t, err)
	}

	scores := ledger.Scores()
	want := alpha * math.Pow(1-alpha, rounds)
	assert.InDelta(t, want, scores[0], 1e-9)
}

func TestUpdateRejectsBadInput(t *testing.T) {
	ledger := newTestLedger(t, 0.5, []string{"hk0", "hk1"})

	_, err := ledger.Update([]int64{0}, []float64{0.1, 0.2})
	assert.Error(t, err)

	_, err = ledger.Update([]int64{5}, []float64{0.1})
	assert.Error(t, err)

	_, err = ledger.Update([]int64{-1}, []float64{0.1})
	assert.Error(t, err)

	// A failed update must leave the vector untouched.
	assert.Equal(t, []float64{0, 0}, ledger.Scores())
}

func TestUpdateByHotkeyScattersByIdentity(t *testing.T) {
	ledger := newTestLedger(t, 0.5, []string{"alice", "bob", "carol"})

	uids, kept, err := ledger.UpdateByHotkey([]string{"carol", "alice"}, []float64{0.6, 0.2})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 0}, uids)
	assert.Equal(t, []float64{0.6, 0.2}, kept)

	scores := ledger.Scores()
	assert.InDelta(t, 0.1, scores[0], 1e-9)
	assert.Zero(t, scores[1])
	assert.InDelta(t, 0.3, scores[2], 1e-9)
}

func TestUpdateByHotkeyDropsDepartedPeers(t *testing.T) {
	ledger := newTestLedger(t, 0.5, []string{"hk0", "hk1", "hk2", "hk3", "hk4"})

	// Rewards were earned against a 5-peer registry; the registry
	// shrinks and reorders before they settle.
	ledger.Remap([]string{"hk2", "hk0"})

	uids, kept, err := ledger.UpdateByHotkey([]string{"hk0", "hk1", "hk2"}, []float64{0.2, 0.4, 0.6})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, uids, "hk1 left and is dropped")
	assert.Equal(t, []float64{0.2, 0.6}, kept)

	scores := ledger.Scores()
	require.Len(t, scores, 2)
	assert.InDelta(t, 0.3, scores[0], 1e-9, "hk2's reward follows it to its new position")
	assert.InDelta(t, 0.1, scores[1], 1e-9)
}

func TestUpdateByHotkeyRejectsBadInput(t *testing.T) {
	ledger := newTestLedger(t, 0.5, []string{"hk0"})
	_, _, err := ledger.UpdateByHotkey([]string{"hk0"}, []float64{0.1, 0.2})
	assert.Error(t, err)
	assert.Equal(t, []float64{0}, ledger.Scores())
}

func TestRemapCarriesScoresByHotkey(t *testing.T) {
	ledger := newTestLedger(t, 0.5, []string{"alice", "bob", "carol"})

	_, err := ledger.Update([]int64{0, 1, 2}, []float64{0.2, 0.4, 0.6})
	require.NoError(t, err)

	// bob deregisters, dave joins, alice and carol swap positions.
	ledger.Remap([]string{"carol", "dave", "alice"})

	scores := ledger.Scores()
	require.Len(t, scores, 3)
	assert.InDelta(t, 0.3, scores[0], 1e-9, "carol keeps her score at her new position")
	assert.Zero(t, scores[1], "dave starts at zero")
	assert.InDelta(t, 0.1, scores[2], 1e-9, "alice keeps her score at her new position")
}

func TestRemapGrowsAndShrinks(t *testing.T) {
	ledger := newTestLedger(t, 0.5, []string{"hk0"})
	_, err := ledger.Update([]int64{0}, []float64{1.0})
	require.NoError(t, err)

	ledger.Remap([]string{"hk0", "hk1", "hk2"})
	assert.Equal(t, 3, ledger.Len())
	assert.InDelta(t, 0.5, ledger.Scores()[0], 1e-9)

	ledger.Remap([]string{"hk2"})
	assert.Equal(t, 1, ledger.Len())
	assert.Zero(t, ledger.Scores()[0])
}

func TestStepAndCommitBookkeeping(t *testing.T) {
	ledger := newTestLedger(t, 0.5, nil)

	assert.EqualValues(t, 0, ledger.Step())
	assert.EqualValues(t, 1, ledger.AdvanceStep())
	assert.EqualValues(t, 2, ledger.AdvanceStep())

	assert.EqualValues(t, 0, ledger.LastCommitBlock())
	ledger.MarkCommitted(1234)
	assert.EqualValues(t, 1234, ledger.LastCommitBlock())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ledger := newTestLedger(t, 0.5, []string{"hk0", "hk1"})
	_, err := ledger.Update([]int64{0, 1}, []float64{0.8, 0.6})
	require.NoError(t, err)
	ledger.AdvanceStep()
	ledger.MarkCommitted(777)

	snap := ledger.Snapshot()

	restored, err := NewLedger(0.5)
	require.NoError(t, err)
	restored.Restore(snap)

	assert.Equal(t, ledger.Scores(), restored.Scores())
	assert.Equal(t, ledger.Hotkeys(), restored.Hotkeys())
	assert.Equal(t, ledger.Step(), restored.Step())
	assert.Equal(t, ledger.LastCommitBlock(), restored.LastCommitBlock())
}

func TestStatePersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	state := State{
		Step:            42,
		Scores:          []float64{0.25, 0, 0.75},
		Hotkeys:         []string{"hk0", "hk1", "hk2"},
		LastCommitBlock: 900,
	}
	require.NoError(t, SaveState(path, state))

	loaded, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, state, loaded)
}

func TestLoadStateInitializesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	state, err := LoadState(path)
	require.NoError(t, err)
	assert.EqualValues(t, 0, state.Step)
	assert.Empty(t, state.Scores)

	// The default file must now exist and load cleanly.
	again, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, state, again)
}

func TestUnqueriedDecayProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		alpha := rapid.Float64Range(0.01, 1).Draw(t, "alpha")
		initial := rapid.Float64Range(0, 1).Draw(t, "initial")
		rounds := rapid.IntRange(1, 20).Draw(t, "rounds")

		ledger, err := NewLedger(alpha)
		if err != nil {
			t.Fatalf("new ledger: %v", err)
		}
		ledger.Remap([]string{"watched", "other"})
		ledger.Restore(State{Scores: []float64{initial, 0}, Hotkeys: []string{"watched", "other"}})

		for i := 0; i < rounds; i++ {
			if _, err := ledger.Update([]int64{1}, []float64{0.5}); err != nil {
				t.Fatalf("update: %v", err)
			}
		}

		got := ledger.Scores()[0]
		want := initial * math.Pow(1-alpha, float64(rounds))
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("after %d rounds got %f, want %f", rounds, got, want)
		}
	})
}
