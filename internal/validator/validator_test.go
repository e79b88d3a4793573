package validator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorplex-labs/sensei/internal/config"
	"github.com/tensorplex-labs/sensei/internal/dendrite"
	"github.com/tensorplex-labs/sensei/internal/gating"
	"github.com/tensorplex-labs/sensei/internal/kami"
	"github.com/tensorplex-labs/sensei/internal/reward"
	"github.com/tensorplex-labs/sensei/internal/taskgen"
	"github.com/tensorplex-labs/sensei/internal/telemetry"
	"github.com/tensorplex-labs/sensei/internal/trust"
)

func okResponse[T any](data T) kami.KamiResponse[T] {
	return kami.KamiResponse[T]{StatusCode: 200, Success: true, Data: data}
}

type stubChain struct {
	mu        sync.Mutex
	hotkey    string
	valid     bool
	metagraph kami.SubnetMetagraph
	hyper     kami.SubnetHyperparams
	block     int64
	setCalls  []kami.SetWeightsParams
	setErr    error
}

func (s *stubChain) GetKeyringPair() (kami.KeyringPairInfoResponse, error) {
	return okResponse(kami.KeyringPairInfo{KeyringPair: kami.KeyringPair{Address: s.hotkey}}), nil
}

func (s *stubChain) CheckHotkey(int, string) (kami.CheckHotkeyResponse, error) {
	return okResponse(kami.CheckHotkey{IsHotkeyValid: s.valid}), nil
}

func (s *stubChain) GetMetagraph(int) (kami.SubnetMetagraphResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return okResponse(s.metagraph), nil
}

func (s *stubChain) GetSubnetHyperparams(int) (kami.SubnetHyperparamsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return okResponse(s.hyper), nil
}

func (s *stubChain) GetLatestBlock() (kami.LatestBlockResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return okResponse(kami.LatestBlock{BlockNumber: s.block}), nil
}

func (s *stubChain) SetWeights(params kami.SetWeightsParams) (kami.ExtrinsicHashResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls = append(s.setCalls, params)
	if s.setErr != nil {
		return kami.ExtrinsicHashResponse{}, s.setErr
	}
	return okResponse("0xfeed"), nil
}

func (s *stubChain) advanceBlock(to int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = to
}

func (s *stubChain) swapMetagraph(m kami.SubnetMetagraph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metagraph = m
}

func (s *stubChain) failWeightCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErr = err
}

func (s *stubChain) weightCommits() []kami.SetWeightsParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]kami.SetWeightsParams(nil), s.setCalls...)
}

type stubDispatcher struct {
	mu         sync.Mutex
	synapses   []dendrite.Prompting
	complete   func(task string, slot int, uid int64) string
	onDispatch func()
}

func (s *stubDispatcher) Dispatch(_ context.Context, endpoints []dendrite.Endpoint, synapse dendrite.Prompting, _ time.Duration) []dendrite.Response {
	s.mu.Lock()
	s.synapses = append(s.synapses, synapse)
	complete := s.complete
	hook := s.onDispatch
	s.mu.Unlock()

	if hook != nil {
		hook()
	}

	responses := make([]dendrite.Response, len(endpoints))
	for i, ep := range endpoints {
		completion := fmt.Sprintf("completion %d from uid %d", i, ep.UID)
		if complete != nil {
			completion = complete(synapse.TaskType, i, ep.UID)
		}
		responses[i] = dendrite.Response{
			UID:         ep.UID,
			Hotkey:      ep.Hotkey,
			Completion:  completion,
			StatusCode:  200,
			ProcessTime: 0.01,
		}
	}
	return responses
}

func (s *stubDispatcher) sent() []dendrite.Prompting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dendrite.Prompting(nil), s.synapses...)
}

// fixedScorer rewards slots by position so sample order fully determines
// the reward vector.
type fixedScorer struct{ scores []float64 }

func (fixedScorer) Name() string      { return "fixed" }
func (fixedScorer) Role() reward.Role { return reward.RoleWeighted }

func (f fixedScorer) Apply(_ context.Context, _ string, responses []dendrite.Response, _ string) (reward.Result, error) {
	scores := make([]float64, len(responses))
	for i := range scores {
		if i < len(f.scores) {
			scores[i] = f.scores[i]
		}
	}
	return reward.Result{Scores: scores}, nil
}

type stubRecorder struct {
	mu     sync.Mutex
	events []telemetry.RoundEvent
}

func (s *stubRecorder) Record(event telemetry.RoundEvent, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *stubRecorder) recorded() []telemetry.RoundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.RoundEvent(nil), s.events...)
}

type stubRounds struct {
	mu    sync.Mutex
	round int64
	bests []string
}

func (s *stubRounds) NextRound(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round++
	return s.round, nil
}

func (s *stubRounds) CacheLatestBlock(context.Context, int64, time.Duration) error {
	return nil
}

func (s *stubRounds) PushBestCompletion(_ context.Context, completion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bests = append(s.bests, completion)
	return nil
}

func (s *stubRounds) pushed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bests...)
}

type stubAdvertiser struct {
	mu    sync.Mutex
	count int
}

func (s *stubAdvertiser) Advertise() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return nil
}

func (s *stubAdvertiser) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

type failingSource struct{ err error }

func (f failingSource) Next(context.Context) (string, error) { return "", f.err }

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{}
	cfg.Netuid = 42
	cfg.EpochLength = 100
	cfg.WeightsRateLimit = 100
	cfg.VPermitTaoLimit = 4096
	cfg.MovingAverageAlpha = 0.5
	cfg.StatePath = filepath.Join(t.TempDir(), "state.json")
	cfg.Environment = "test"
	cfg.TaskFlow = config.TaskFlowSummary
	cfg.SampleSize = 3
	cfg.QueryTimeout = 2 * time.Second
	cfg.NumConcurrentForwards = 1
	cfg.NumFollowupSteps = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func testDeps(t *testing.T, chain *stubChain, dispatcher *stubDispatcher, recorder *stubRecorder, rounds RoundCache) Dependencies {
	t.Helper()

	pipeline, err := reward.NewPipeline(reward.WithWeightedFunctions(
		[]reward.ScoringFunction{fixedScorer{scores: []float64{0.2, 0.4, 0.6}}},
		[]float64{1},
	))
	require.NoError(t, err)

	model, err := gating.NewModel(0, gating.DefaultFeatureDim, gating.DefaultLearningRate)
	require.NoError(t, err)

	return Dependencies{
		Chain:      chain,
		Dispatcher: dispatcher,
		Source:     taskgen.NewLocalCorpus("The quick brown fox. Jumps over the lazy dog. Again and again."),
		Pipeline:   pipeline,
		Gating:     model,
		Recorder:   recorder,
		Rounds:     rounds,
	}
}

func newTestValidator(t *testing.T, cfg *config.AppConfig, chain *stubChain, dispatcher *stubDispatcher, recorder *stubRecorder, rounds RoundCache) *Validator {
	t.Helper()
	v, err := NewValidator(cfg, testDeps(t, chain, dispatcher, recorder, rounds))
	require.NoError(t, err)
	t.Cleanup(v.Cancel)
	return v
}

func expireBlockCache(v *Validator) {
	v.mu.Lock()
	v.blockAt = time.Time{}
	v.mu.Unlock()
}

func TestNewValidatorRequiresDeps(t *testing.T) {
	_, err := NewValidator(testConfig(t), Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing chain client")
}

func TestNewValidatorRejectsUnregisteredHotkey(t *testing.T) {
	chain := &stubChain{hotkey: "hk9", valid: false, metagraph: *servingMetagraph(3)}
	_, err := NewValidator(testConfig(t), testDeps(t, chain, &stubDispatcher{}, &stubRecorder{}, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestRunStepSettlesTrust(t *testing.T) {
	cfg := testConfig(t)
	m := servingMetagraph(5)
	m.Axons[3] = kami.AxonInfo{}
	m.Axons[4] = kami.AxonInfo{}
	m.Block = 1000

	chain := &stubChain{hotkey: "hk4", valid: true, metagraph: *m, block: 1000}
	recorder := &stubRecorder{}
	rounds := &stubRounds{}
	v := newTestValidator(t, cfg, chain, &stubDispatcher{}, recorder, rounds)

	exclude := map[int64]struct{}{}
	best, err := v.runStep(v.Ctx, taskgen.NewAugmentTask("Some context."), exclude)
	require.NoError(t, err)

	// Three eligible peers and k=3 means sample order is the registry
	// order, so rewards land deterministically.
	scores := v.trust.Scores()
	require.Len(t, scores, 5)
	assert.InDelta(t, 0.1, scores[0], 1e-9)
	assert.InDelta(t, 0.2, scores[1], 1e-9)
	assert.InDelta(t, 0.3, scores[2], 1e-9)
	assert.Zero(t, scores[3])
	assert.Zero(t, scores[4])

	assert.Equal(t, "completion 2 from uid 2", best)
	assert.Equal(t, map[int64]struct{}{0: {}, 1: {}, 2: {}}, exclude)

	events := recorder.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, taskgen.AugmentTaskName, events[0].TaskType)
	assert.Equal(t, []int64{0, 1, 2}, events[0].UIDs)
	assert.Equal(t, []float64{0.2, 0.4, 0.6}, events[0].Rewards)
	assert.Equal(t, best, events[0].BestCompletion)
	assert.Len(t, events[0].Completions, 3)

	assert.Equal(t, []string{best}, rounds.pushed())
}

func TestRunStepSettlesByHotkeyAfterMidRoundResync(t *testing.T) {
	cfg := testConfig(t)
	m := servingMetagraph(5)
	m.Axons[3] = kami.AxonInfo{}
	m.Axons[4] = kami.AxonInfo{}
	m.Block = 1000

	chain := &stubChain{hotkey: "hk4", valid: true, metagraph: *m, block: 1000}
	dispatcher := &stubDispatcher{}
	v := newTestValidator(t, cfg, chain, dispatcher, &stubRecorder{}, nil)

	// While the query is in flight the registry shrinks to two peers and
	// reorders: hk2 is now uid 0, hk0 is uid 1, hk1 is gone.
	shrunk := servingMetagraph(2)
	shrunk.Hotkeys = []string{"hk2", "hk0"}
	shrunk.Block = 1010
	dispatcher.onDispatch = func() {
		chain.swapMetagraph(*shrunk)
		require.NoError(t, v.resync())
	}

	_, err := v.runStep(v.Ctx, taskgen.NewAugmentTask("Some context."), map[int64]struct{}{})
	require.NoError(t, err, "a mid-round resync must not abort the step")

	// Rewards [0.2 0.4 0.6] were earned by hk0/hk1/hk2; they settle on
	// the survivors' new positions and hk1's reward is discarded.
	scores := v.trust.Scores()
	require.Len(t, scores, 2)
	assert.InDelta(t, 0.3, scores[0], 1e-9)
	assert.InDelta(t, 0.1, scores[1], 1e-9)
	assert.Equal(t, 2, v.gating.Size())
}

func TestRoleplayForwardSendsCharacterSynapse(t *testing.T) {
	cfg := testConfig(t)
	cfg.TaskFlow = config.TaskFlowRoleplay

	m := servingMetagraph(5)
	m.Axons[3] = kami.AxonInfo{}
	m.Axons[4] = kami.AxonInfo{}
	m.Block = 1000

	chain := &stubChain{hotkey: "hk4", valid: true, metagraph: *m, block: 1000}
	dispatcher := &stubDispatcher{}
	recorder := &stubRecorder{}
	v := newTestValidator(t, cfg, chain, dispatcher, recorder, nil)

	require.NoError(t, v.forward(v.Ctx))

	sent := dispatcher.sent()
	require.Len(t, sent, 1)
	synapse := sent[0]
	assert.Equal(t, taskgen.MessageTaskName, synapse.TaskType)
	assert.Equal(t, []string{"system"}, synapse.Roles)
	require.NotEmpty(t, synapse.CharacterName)
	assert.NotEmpty(t, synapse.CharacterInfo)
	assert.Equal(t, []string{synapse.CharacterName}, synapse.CharNames)
	assert.Equal(t, []string{"user"}, synapse.UserNames)
	assert.NotEmpty(t, synapse.Criteria)
	require.NotEmpty(t, synapse.Messages)
	assert.Contains(t, synapse.Messages[0], synapse.CharacterName)

	events := recorder.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, taskgen.MessageTaskName, events[0].TaskType)

	scores := v.trust.Scores()
	require.Len(t, scores, 5)
	assert.InDelta(t, 0.1, scores[0], 1e-9)
	assert.InDelta(t, 0.2, scores[1], 1e-9)
	assert.InDelta(t, 0.3, scores[2], 1e-9)
}

func TestRunTickerFinishesCallbackBeforeStop(t *testing.T) {
	v := &Validator{}
	ctx, cancel := context.WithCancel(context.Background())

	var started, finished atomic.Int32
	v.Wg.Add(1)
	go v.runTicker(ctx, 5*time.Millisecond, func() {
		started.Add(1)
		time.Sleep(20 * time.Millisecond)
		finished.Add(1)
	})

	time.Sleep(12 * time.Millisecond)
	cancel()
	v.Wg.Wait()

	require.GreaterOrEqual(t, started.Load(), int32(1))
	assert.Equal(t, started.Load(), finished.Load(), "a maintenance callback must not outlive the wait group")
}

func TestForwardChainsTasksAcrossDisjointSamples(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumFollowupSteps = 1

	m := servingMetagraph(10)
	m.ValidatorPermit[9] = true
	m.AlphaStake[9] = 10000
	m.Block = 1000

	dispatcher := &stubDispatcher{complete: func(task string, _ int, uid int64) string {
		if strings.HasPrefix(task, taskgen.FollowupNamePrefix) {
			return fmt.Sprintf("Noted. Peer %d wonders: what drives the plot?extra", uid)
		}
		return fmt.Sprintf("%s answer from uid %d", task, uid)
	}}
	chain := &stubChain{hotkey: "hk9", valid: true, metagraph: *m, block: 1000}
	recorder := &stubRecorder{}
	v := newTestValidator(t, cfg, chain, dispatcher, recorder, nil)

	require.NoError(t, v.forward(v.Ctx))

	events := recorder.recorded()
	require.Len(t, events, 3)
	assert.Equal(t, taskgen.AugmentTaskName, events[0].TaskType)
	assert.Equal(t, "followup0", events[1].TaskType)
	assert.Equal(t, "answer0", events[2].TaskType)

	// Steps within one round never re-query a peer.
	seen := map[int64]struct{}{}
	for _, event := range events {
		for _, uid := range event.UIDs {
			_, dup := seen[uid]
			assert.False(t, dup, "uid %d queried twice in one round", uid)
			seen[uid] = struct{}{}
		}
	}
	assert.Len(t, seen, 9)

	// The best completion of each step feeds the next step's prompt.
	sent := dispatcher.sent()
	require.Len(t, sent, 3)
	assert.Contains(t, sent[1].Messages[0], events[0].BestCompletion)
	assert.Contains(t, sent[2].Messages[0], events[1].BestCompletion)

	// Follow-up completions were normalized before scoring.
	assert.True(t, strings.HasSuffix(events[1].BestCompletion, "?"))
	for _, completion := range events[1].Completions {
		assert.True(t, strings.HasSuffix(completion, "?"), "completion %q not normalized", completion)
	}
}

func TestForwardPropagatesSourceFailure(t *testing.T) {
	cfg := testConfig(t)
	m := servingMetagraph(5)
	m.Axons[4] = kami.AxonInfo{}
	chain := &stubChain{hotkey: "hk4", valid: true, metagraph: *m, block: 1000}
	v := newTestValidator(t, cfg, chain, &stubDispatcher{}, &stubRecorder{}, nil)

	v.source = failingSource{err: errors.New("corpus offline")}

	err := v.forward(v.Ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task source")
}

func TestEpochBoundaryCommitsWeights(t *testing.T) {
	cfg := testConfig(t)
	m := servingMetagraph(5)
	m.Axons[3] = kami.AxonInfo{}
	m.Axons[4] = kami.AxonInfo{}
	m.Block = 1000
	m.WeightsVersion = 7
	m.LastUpdate = []int64{0, 0, 0, 0, 800}

	chain := &stubChain{hotkey: "hk4", valid: true, metagraph: *m, block: 1000}
	v := newTestValidator(t, cfg, chain, &stubDispatcher{}, &stubRecorder{}, nil)

	chain.advanceBlock(1050)
	expireBlockCache(v)
	require.NoError(t, v.runIteration(v.Ctx))
	assert.Empty(t, chain.weightCommits(), "mid-epoch iteration must not commit")

	chain.advanceBlock(1100)
	expireBlockCache(v)
	require.NoError(t, v.runIteration(v.Ctx))
	assert.Empty(t, chain.weightCommits(), "exactly EpochLength blocks is not yet a boundary")

	chain.advanceBlock(1101)
	expireBlockCache(v)
	require.NoError(t, v.runIteration(v.Ctx))
	commits := chain.weightCommits()
	require.Len(t, commits, 1)
	assert.Equal(t, 42, commits[0].Netuid)
	assert.Equal(t, 7, commits[0].VersionKey)
	assert.Equal(t, []int{0, 1, 2}, commits[0].Dests, "zero-score peers are not emitted")
	require.Len(t, commits[0].Weights, 3)
	assert.Equal(t, 65535, commits[0].Weights[2], "top peer normalizes to the u16 ceiling")
	assert.Equal(t, int64(1101), v.trust.LastCommitBlock())

	// A failing commit still advances the boundary anchor so the next
	// attempt waits a full epoch instead of retrying every round.
	chain.failWeightCommits(errors.New("subtensor unavailable"))
	chain.advanceBlock(1202)
	expireBlockCache(v)
	require.NoError(t, v.runIteration(v.Ctx))
	require.Len(t, chain.weightCommits(), 2)
	assert.Equal(t, int64(1202), v.trust.LastCommitBlock())
	assert.Equal(t, int64(1202), v.epoch.LastTriggerAtBlock)
}

func TestIterationStopsWhenDeregistered(t *testing.T) {
	cfg := testConfig(t)
	m := servingMetagraph(5)
	m.Axons[4] = kami.AxonInfo{}
	chain := &stubChain{hotkey: "hk4", valid: true, metagraph: *m, block: 1000}
	v := newTestValidator(t, cfg, chain, &stubDispatcher{}, &stubRecorder{}, nil)

	chain.swapMetagraph(*servingMetagraph(3))
	require.NoError(t, v.resync())

	err := v.runIteration(v.Ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no longer registered")
}

func TestNewValidatorRestoresCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	saved := trust.State{
		Step:            12,
		Scores:          []float64{0.9, 0.4},
		Hotkeys:         []string{"hkB", "hkA"},
		LastCommitBlock: 950,
	}
	require.NoError(t, trust.SaveState(cfg.StatePath, saved))

	m := servingMetagraph(3)
	m.Hotkeys = []string{"hkA", "hkB", "hkC"}
	m.Block = 1000
	chain := &stubChain{hotkey: "hkA", valid: true, metagraph: *m, block: 1000}
	v := newTestValidator(t, cfg, chain, &stubDispatcher{}, &stubRecorder{}, nil)

	assert.Equal(t, int64(12), v.trust.Step())
	assert.Equal(t, int64(950), v.epoch.LastTriggerAtBlock)

	// Scores follow hotkeys through the registry reorder.
	scores := v.trust.Scores()
	require.Len(t, scores, 3)
	assert.Equal(t, 0.4, scores[0])
	assert.Equal(t, 0.9, scores[1])
	assert.Zero(t, scores[2])
}

func TestShouldSetWeights(t *testing.T) {
	cfg := testConfig(t)
	m := servingMetagraph(3)
	m.LastUpdate = []int64{0, 500, 0}

	v := &Validator{cfg: cfg, hotkey: "hk1", metagraph: m}

	assert.False(t, v.shouldSetWeights(599), "rate limit not yet elapsed")
	assert.True(t, v.shouldSetWeights(600))

	v.hyperparams = &kami.SubnetHyperparams{WeightsRateLimit: 200}
	assert.False(t, v.shouldSetWeights(600), "chain hyperparams override the configured limit")
	assert.True(t, v.shouldSetWeights(700))

	v.hotkey = "unknown"
	assert.False(t, v.shouldSetWeights(700))

	v.hotkey = "hk1"
	cfg.DontSetWeights = true
	assert.False(t, v.shouldSetWeights(10_000))
}

func TestRunForwardsGathersConcurrently(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumConcurrentForwards = 2

	m := servingMetagraph(5)
	m.Axons[4] = kami.AxonInfo{}
	chain := &stubChain{hotkey: "hk4", valid: true, metagraph: *m, block: 1000}
	recorder := &stubRecorder{}
	v := newTestValidator(t, cfg, chain, &stubDispatcher{}, recorder, nil)

	require.NoError(t, v.runForwards(v.Ctx))
	assert.Len(t, recorder.recorded(), 2)
}

func TestStartStopLeavesCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	m := servingMetagraph(5)
	m.Axons[3] = kami.AxonInfo{}
	m.Axons[4] = kami.AxonInfo{}
	m.Block = 1000

	chain := &stubChain{hotkey: "hk4", valid: true, metagraph: *m, block: 1000}
	adv := &stubAdvertiser{}
	v := newTestValidator(t, cfg, chain, &stubDispatcher{}, &stubRecorder{}, &stubRounds{})
	v.advertiser = adv

	v.Start()
	time.Sleep(50 * time.Millisecond)
	v.Stop()

	assert.GreaterOrEqual(t, adv.calls(), 1, "axon advertised at startup")

	state, err := trust.LoadState(cfg.StatePath)
	require.NoError(t, err)
	assert.Len(t, state.Scores, 5)
}
