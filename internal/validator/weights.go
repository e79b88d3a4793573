package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/kami"
	"github.com/tensorplex-labs/sensei/internal/trust"
	chainutils "github.com/tensorplex-labs/sensei/internal/utils/chain_utils"
)

// resync refreshes the metagraph snapshot and realigns every uid-indexed
// structure with the new peer set. Hyperparams ride along but are not
// required; the previous values stay in effect when the call fails.
func (v *Validator) resync() error {
	res, err := v.chain.GetMetagraph(v.cfg.Netuid)
	if err != nil {
		return fmt.Errorf("metagraph: %w", err)
	}
	m := res.Data

	if hres, err := v.chain.GetSubnetHyperparams(v.cfg.Netuid); err != nil {
		log.Warn().Err(err).Msg("hyperparams refresh failed, keeping previous values")
	} else {
		hp := hres.Data
		v.mu.Lock()
		v.hyperparams = &hp
		v.mu.Unlock()
	}

	v.mu.Lock()
	v.metagraph = &m
	v.mu.Unlock()

	v.settleMu.Lock()
	v.trust.Remap(m.Hotkeys)
	v.gating.Resize(len(m.Hotkeys))
	v.settleMu.Unlock()

	log.Info().
		Int("peers", len(m.Hotkeys)).
		Int64("block", m.Block).
		Msg("metagraph synced")
	return nil
}

func (v *Validator) metagraphSnapshot() *kami.SubnetMetagraph {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.metagraph
}

// currentBlock returns the chain height, no older than the configured
// TTL. On RPC failure it falls back to the last known height so one
// flaky call does not abort an iteration.
func (v *Validator) currentBlock(ctx context.Context) (int64, error) {
	v.mu.RLock()
	block, at := v.blockNum, v.blockAt
	v.mu.RUnlock()
	if block > 0 && time.Since(at) < v.intervals.BlockTTL {
		return block, nil
	}

	res, err := v.chain.GetLatestBlock()
	if err != nil {
		if block > 0 {
			log.Warn().Err(err).Int64("block", block).Msg("latest block fetch failed, using last known height")
			return block, nil
		}
		return 0, fmt.Errorf("latest block: %w", err)
	}

	fresh := res.Data.BlockNumber
	v.mu.Lock()
	v.blockNum = fresh
	v.blockAt = time.Now()
	v.mu.Unlock()

	if v.rounds != nil {
		if cerr := v.rounds.CacheLatestBlock(ctx, fresh, v.intervals.BlockTTL); cerr != nil {
			log.Debug().Err(cerr).Msg("block height not cached")
		}
	}
	return fresh, nil
}

func (v *Validator) cachedBlock() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.blockNum
}

func (v *Validator) weightsRateLimit() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.hyperparams != nil && v.hyperparams.WeightsRateLimit > 0 {
		return v.hyperparams.WeightsRateLimit
	}
	return v.cfg.WeightsRateLimit
}

// shouldSetWeights applies the on-chain rate limit: a commit is allowed
// once at least weightsRateLimit blocks have passed since this
// validator's last recorded update.
func (v *Validator) shouldSetWeights(block int64) bool {
	if v.cfg.DontSetWeights {
		return false
	}
	m := v.metagraphSnapshot()
	if m == nil {
		return false
	}
	uid, ok := chainutils.UIDForHotkey(m, v.hotkey)
	if !ok {
		return false
	}
	var last int64
	if uid < len(m.LastUpdate) {
		last = m.LastUpdate[uid]
	}
	return block-last >= v.weightsRateLimit()
}

// setWeights commits the trust ledger to chain as u16-normalized
// weights over every uid.
func (v *Validator) setWeights() error {
	m := v.metagraphSnapshot()
	if m == nil {
		return errors.New("no metagraph snapshot")
	}

	v.settleMu.Lock()
	scores := v.trust.Scores()
	v.settleMu.Unlock()

	weights := chainutils.ClampNegativeWeights(scores)
	uids := make([]int64, len(weights))
	for i := range uids {
		uids[i] = int64(i)
	}

	dests, emit, err := chainutils.ConvertWeightsAndUidsForEmit(uids, weights)
	if err != nil {
		return fmt.Errorf("convert weights: %w", err)
	}
	if len(dests) == 0 {
		log.Info().Msg("all weights zero, nothing to commit")
		return nil
	}

	res, err := v.chain.SetWeights(kami.SetWeightsParams{
		Netuid:     v.cfg.Netuid,
		Dests:      dests,
		Weights:    emit,
		VersionKey: m.WeightsVersion,
	})
	if err != nil {
		return fmt.Errorf("set weights: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("set weights rejected: %v", res.Error)
	}

	log.Info().
		Str("extrinsic", res.Data).
		Int("uids", len(dests)).
		Msg("weights committed")
	return nil
}

// saveState checkpoints the trust ledger so a restart resumes scoring
// instead of starting from zero.
func (v *Validator) saveState() {
	v.settleMu.Lock()
	state := v.trust.Snapshot()
	v.settleMu.Unlock()

	if err := trust.SaveState(v.cfg.StatePath, state); err != nil {
		log.Error().Err(err).Str("path", v.cfg.StatePath).Msg("state checkpoint failed")
		return
	}
	log.Info().
		Int64("step", state.Step).
		Int64("block", state.LastCommitBlock).
		Str("path", v.cfg.StatePath).
		Msg("state saved")
}
