// Package validator runs the scoring loop: sample peers, dispatch
// prompt tasks, settle rewards into the trust ledger, and commit the
// ledger to chain as weights on epoch boundaries.
package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/config"
	"github.com/tensorplex-labs/sensei/internal/gating"
	"github.com/tensorplex-labs/sensei/internal/kami"
	"github.com/tensorplex-labs/sensei/internal/reward"
	"github.com/tensorplex-labs/sensei/internal/scheduler"
	"github.com/tensorplex-labs/sensei/internal/taskgen"
	"github.com/tensorplex-labs/sensei/internal/trust"
	chainutils "github.com/tensorplex-labs/sensei/internal/utils/chain_utils"
)

// Validator coordinates validation rounds and on-chain state for a
// subnet.
type Validator struct {
	chain      Chain
	dispatcher Dispatcher
	source     taskgen.Source
	characters *taskgen.CharacterSet
	pipeline   *reward.Pipeline
	gating     *gating.Model
	trust      *trust.Ledger
	recorder   Recorder
	rounds     RoundCache
	advertiser AxonAdvertiser

	cfg       *config.AppConfig
	intervals *config.IntervalConfig
	hotkey    string

	epoch *scheduler.BlockCadence

	mu          sync.RWMutex // guards the chain snapshot below
	metagraph   *kami.SubnetMetagraph
	hyperparams *kami.SubnetHyperparams
	blockNum    int64
	blockAt     time.Time

	// settleMu orders gating and trust updates so concurrent forwards
	// settle one at a time and weight commits read a stable ledger.
	settleMu sync.Mutex

	Ctx    context.Context
	Cancel context.CancelFunc
	Wg     sync.WaitGroup
}

// Dependencies collects everything a Validator talks to. Rounds and
// Advertiser may be nil; the rest are required.
type Dependencies struct {
	Chain      Chain
	Dispatcher Dispatcher
	Source     taskgen.Source
	Pipeline   *reward.Pipeline
	Gating     *gating.Model
	Recorder   Recorder
	Rounds     RoundCache
	Advertiser AxonAdvertiser
}

func depsComplete(deps Dependencies) error {
	switch {
	case deps.Chain == nil:
		return errors.New("missing chain client")
	case deps.Dispatcher == nil:
		return errors.New("missing dispatcher")
	case deps.Source == nil:
		return errors.New("missing task source")
	case deps.Pipeline == nil:
		return errors.New("missing reward pipeline")
	case deps.Gating == nil:
		return errors.New("missing gating model")
	case deps.Recorder == nil:
		return errors.New("missing event recorder")
	}
	return nil
}

// NewValidator wires the scoring engine together, restores the trust
// checkpoint, and verifies the local hotkey's registration. An
// unregistered hotkey is a hard error; running unregistered would waste
// every round.
func NewValidator(cfg *config.AppConfig, deps Dependencies) (*Validator, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := depsComplete(deps); err != nil {
		return nil, err
	}

	keyring, err := deps.Chain.GetKeyringPair()
	if err != nil {
		return nil, fmt.Errorf("keyring pair: %w", err)
	}
	hotkey := keyring.Data.KeyringPair.Address

	check, err := deps.Chain.CheckHotkey(cfg.Netuid, hotkey)
	if err != nil {
		return nil, fmt.Errorf("check hotkey: %w", err)
	}
	if !check.Data.IsHotkeyValid {
		return nil, fmt.Errorf("hotkey %s is not registered on netuid %d, register it and restart", hotkey, cfg.Netuid)
	}

	ledger, err := trust.NewLedger(cfg.MovingAverageAlpha)
	if err != nil {
		return nil, err
	}
	state, err := trust.LoadState(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	ledger.Restore(state)
	log.Info().
		Int64("step", state.Step).
		Int("peers", len(state.Scores)).
		Msg("trust state loaded")

	ctx, cancel := context.WithCancel(context.Background())

	v := &Validator{
		chain:      deps.Chain,
		dispatcher: deps.Dispatcher,
		source:     deps.Source,
		characters: taskgen.NewCharacterSet(),
		pipeline:   deps.Pipeline,
		gating:     deps.Gating,
		trust:      ledger,
		recorder:   deps.Recorder,
		rounds:     deps.Rounds,
		advertiser: deps.Advertiser,

		cfg:       cfg,
		intervals: config.NewIntervalConfig(cfg.Environment),
		hotkey:    hotkey,

		Ctx:    ctx,
		Cancel: cancel,
	}

	if err := v.resync(); err != nil {
		cancel()
		return nil, err
	}

	m := v.metagraphSnapshot()
	v.mu.Lock()
	v.blockNum = m.Block
	v.blockAt = time.Now()
	v.mu.Unlock()

	// A restored checkpoint anchors the epoch at the last committed
	// height so restarts do not reset the weight cadence.
	start := ledger.LastCommitBlock()
	if start == 0 {
		start = m.Block
	}
	v.epoch = scheduler.NewBlockCadence(cfg.EpochLength, start)

	log.Info().
		Str("hotkey", hotkey).
		Int("netuid", cfg.Netuid).
		Int64("block", m.Block).
		Msg("validator ready")
	return v, nil
}

// runTicker runs fn periodically until the context is canceled. fn runs
// inline so Stop's WaitGroup wait covers an in-flight call and a slow
// call cannot overlap the next tick's.
func (v *Validator) runTicker(ctx context.Context, d time.Duration, fn func()) {
	defer v.Wg.Done()
	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// Start kicks off the validation loop and the periodic maintenance
// routines.
func (v *Validator) Start() {
	v.Wg.Add(1)
	go v.runLoop()

	v.Wg.Add(1)
	go v.runTicker(v.Ctx, v.intervals.MetagraphInterval, func() {
		if err := v.resync(); err != nil {
			log.Warn().Err(err).Msg("periodic metagraph sync failed")
		}
	})

	if v.advertiser != nil {
		if err := v.advertiser.Advertise(); err != nil {
			log.Warn().Err(err).Msg("initial axon advertisement failed")
		}
		v.Wg.Add(1)
		go v.runTicker(v.Ctx, v.intervals.AdvertiseInterval, func() {
			if err := v.advertiser.Advertise(); err != nil {
				log.Warn().Err(err).Msg("axon advertisement failed")
			}
		})
	}
}

// Stop cancels background routines, waits for them to finish, and
// leaves a final checkpoint behind.
func (v *Validator) Stop() {
	if v.Cancel != nil {
		v.Cancel()
	}
	v.Wg.Wait()
	v.saveState()
}

// runLoop drives validation rounds until the context is canceled or an
// iteration fails in a way that cannot be retried.
func (v *Validator) runLoop() {
	defer v.Wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("validator loop panicked")
			v.Cancel()
		}
	}()

	for {
		select {
		case <-v.Ctx.Done():
			return
		default:
		}

		if err := v.runIteration(v.Ctx); err != nil {
			log.Error().Err(err).Msg("validator loop stopped")
			v.Cancel()
			return
		}

		if pause := v.intervals.RoundPause; pause > 0 {
			select {
			case <-v.Ctx.Done():
				return
			case <-time.After(pause):
			}
		}
	}
}

// runIteration performs one loop pass: verify registration, run the
// configured forwards, then handle the epoch boundary if one elapsed.
func (v *Validator) runIteration(ctx context.Context) error {
	m := v.metagraphSnapshot()
	if m == nil {
		return errors.New("no metagraph snapshot")
	}
	if _, ok := chainutils.UIDForHotkey(m, v.hotkey); !ok {
		return fmt.Errorf("hotkey %s is no longer registered on netuid %d", v.hotkey, v.cfg.Netuid)
	}

	if v.rounds != nil {
		if round, err := v.rounds.NextRound(ctx); err != nil {
			log.Debug().Err(err).Msg("round counter unavailable")
		} else {
			log.Info().
				Int64("round", round).
				Int64("step", v.trust.Step()).
				Msg("starting validation round")
		}
	}

	if err := v.runForwards(ctx); err != nil {
		return err
	}

	block, err := v.currentBlock(ctx)
	if err != nil {
		return err
	}

	if v.epoch.Due(block) {
		if err := v.resync(); err != nil {
			return err
		}
		committed := false
		if v.shouldSetWeights(block) {
			if err := v.setWeights(); err != nil {
				log.Error().Err(err).Msg("weight commit failed, retrying next epoch")
			} else {
				committed = true
			}
		}
		// The boundary height advances whether or not the commit
		// landed, so a failing chain is retried next epoch instead of
		// every round.
		v.epoch.Mark(block)
		v.trust.MarkCommitted(block)
		if committed {
			v.saveState()
		}
	}

	v.trust.AdvanceStep()
	return nil
}

// runForwards gathers the configured number of concurrent rounds; any
// failure aborts the iteration.
func (v *Validator) runForwards(ctx context.Context) error {
	n := v.cfg.NumConcurrentForwards
	if n <= 1 {
		return v.forward(ctx)
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(slot int) {
			defer wg.Done()
			errs[slot] = v.forward(ctx)
		}(i)
	}
	wg.Wait()

	return errors.Join(errs...)
}
