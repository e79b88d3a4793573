// Operator tool for manual chain actions: inspect registration and
// cadence, commit checkpointed scores as weights outside the validator
// loop, or burn all weight to a single uid.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/tensorplex-labs/sensei/internal/config"
	"github.com/tensorplex-labs/sensei/internal/kami"
	"github.com/tensorplex-labs/sensei/internal/trust"
	chainutils "github.com/tensorplex-labs/sensei/internal/utils/chain_utils"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(context.Background())
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	k, err := kami.NewKami(&cfg.KamiEnvConfig)
	if err != nil {
		fmt.Printf("Error initializing kami: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		err = status(cfg, k)
	case "commit":
		err = commit(cfg, k)
	case "burn":
		if len(os.Args) < 3 {
			fmt.Println("usage: cli burn <uid>")
			os.Exit(2)
		}
		uid, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			fmt.Printf("invalid uid %q\n", os.Args[2])
			os.Exit(2)
		}
		err = burn(cfg, k, uid)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: cli <command>")
	fmt.Println()
	fmt.Println("  status       show registration, block height and checkpoint state")
	fmt.Println("  commit       set weights from the local checkpoint")
	fmt.Println("  burn <uid>   send all weight to a single uid")
}

func status(cfg *config.AppConfig, k *kami.Kami) error {
	keyring, err := k.GetKeyringPair()
	if err != nil {
		return fmt.Errorf("keyring: %w", err)
	}
	hotkey := keyring.Data.KeyringPair.Address

	blockRes, err := k.GetLatestBlock()
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	block := blockRes.Data.BlockNumber

	metaRes, err := k.GetMetagraph(cfg.Netuid)
	if err != nil {
		return fmt.Errorf("metagraph: %w", err)
	}
	m := metaRes.Data

	fmt.Printf("netuid:      %d\n", cfg.Netuid)
	fmt.Printf("block:       %d\n", block)
	fmt.Printf("hotkey:      %s\n", hotkey)

	uid, ok := chainutils.UIDForHotkey(&m, hotkey)
	if !ok {
		fmt.Println("registered:  no")
		return nil
	}
	fmt.Printf("registered:  yes (uid %d of %d)\n", uid, len(m.Hotkeys))
	if uid < len(m.LastUpdate) {
		last := m.LastUpdate[uid]
		fmt.Printf("last update: block %d (%d blocks ago)\n", last, block-last)
	}

	state, err := trust.LoadState(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	fmt.Printf("checkpoint:  step %d, %d scores, last commit at block %d\n",
		state.Step, len(state.Scores), state.LastCommitBlock)
	return nil
}

// commit pushes the checkpointed scores on chain without waiting for
// the validator loop. Recovery path after a string of failed commits.
func commit(cfg *config.AppConfig, k *kami.Kami) error {
	state, err := trust.LoadState(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if len(state.Scores) == 0 {
		return fmt.Errorf("checkpoint %s holds no scores", cfg.StatePath)
	}

	metaRes, err := k.GetMetagraph(cfg.Netuid)
	if err != nil {
		return fmt.Errorf("metagraph: %w", err)
	}

	uids := make([]int64, len(state.Scores))
	for i := range uids {
		uids[i] = int64(i)
	}
	weights := chainutils.ClampNegativeWeights(state.Scores)

	dests, converted, err := chainutils.ConvertWeightsAndUidsForEmit(uids, weights)
	if err != nil {
		return fmt.Errorf("convert weights: %w", err)
	}
	if len(dests) == 0 {
		return fmt.Errorf("all checkpointed scores are zero, nothing to commit")
	}

	res, err := k.SetWeights(kami.SetWeightsParams{
		Netuid:     cfg.Netuid,
		Dests:      dests,
		Weights:    converted,
		VersionKey: metaRes.Data.WeightsVersion,
	})
	if err != nil {
		return fmt.Errorf("set weights: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("set weights rejected: %v", res.Error)
	}

	fmt.Printf("weights committed, extrinsic %s\n", res.Data)
	return nil
}

// burn routes every weight unit to one uid. Subnet owners park
// emissions this way while the incentive mechanism is offline.
func burn(cfg *config.AppConfig, k *kami.Kami, uid int) error {
	metaRes, err := k.GetMetagraph(cfg.Netuid)
	if err != nil {
		return fmt.Errorf("metagraph: %w", err)
	}
	m := metaRes.Data
	if uid < 0 || uid >= len(m.Hotkeys) {
		return fmt.Errorf("uid %d is outside the metagraph (%d uids)", uid, len(m.Hotkeys))
	}

	dests, weights, err := chainutils.ConvertWeightsAndUidsForEmit([]int64{int64(uid)}, []float64{1})
	if err != nil {
		return fmt.Errorf("convert weights: %w", err)
	}

	res, err := k.SetWeights(kami.SetWeightsParams{
		Netuid:     cfg.Netuid,
		Dests:      dests,
		Weights:    weights,
		VersionKey: m.WeightsVersion,
	})
	if err != nil {
		return fmt.Errorf("set weights: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("set weights rejected: %v", res.Error)
	}

	fmt.Printf("burn weight committed to uid %d, extrinsic %s\n", uid, res.Data)
	return nil
}
