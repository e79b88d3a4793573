package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/axon"
	"github.com/tensorplex-labs/sensei/internal/config"
	"github.com/tensorplex-labs/sensei/internal/dendrite"
	"github.com/tensorplex-labs/sensei/internal/gating"
	"github.com/tensorplex-labs/sensei/internal/kami"
	"github.com/tensorplex-labs/sensei/internal/reward"
	"github.com/tensorplex-labs/sensei/internal/taskgen"
	"github.com/tensorplex-labs/sensei/internal/telemetry"
	"github.com/tensorplex-labs/sensei/internal/utils/logger"
	"github.com/tensorplex-labs/sensei/internal/utils/redis"
	"github.com/tensorplex-labs/sensei/internal/validator"
	"github.com/tensorplex-labs/sensei/pkg/signature"
)

func main() {
	logger.Init()
	log.Info().Msg("Starting validator...")

	cfg, err := config.LoadConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}

	k, err := kami.NewKami(&cfg.KamiEnvConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init kami client")
	}

	keyring, err := k.GetKeyringPair()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load validator keyring")
	}
	hotkey := keyring.Data.KeyringPair.Address

	var provider *signature.Provider
	if keypair, err := signature.LoadKeypairFromHotkey(cfg.WalletColdkey, cfg.WalletHotkey); err != nil {
		log.Warn().Err(err).Msg("wallet keypair unavailable, miner queries go out unsigned")
	} else if provider, err = signature.NewProvider(keypair); err != nil {
		log.Fatal().Err(err).Msg("failed to init signature provider")
	}

	client, err := dendrite.NewClient(&dendrite.ClientConfig{
		Timeout:     cfg.ClientTimeout,
		Compression: true,
	}, provider, hotkey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init dendrite client")
	}
	defer client.Close()

	pipeline, err := reward.NewPipelineFromConfig(&cfg.RewardEnvConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble reward pipeline")
	}

	model, err := gating.NewModel(0, gating.DefaultFeatureDim, gating.DefaultLearningRate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init gating model")
	}

	var source taskgen.Source
	if cfg.SyntheticAPIUrl == "" {
		log.Warn().Msg("no synthetic API configured, generating tasks from the local corpus")
		source = taskgen.NewLocalCorpus()
	} else {
		synthetic, err := taskgen.NewSyntheticSource(&cfg.TaskGenEnvConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init synthetic task source")
		}
		source = synthetic
	}

	exporter, err := telemetry.NewExporter(&cfg.TelemetryEnvConfig, k, hotkey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init telemetry exporter")
	}

	var rounds validator.RoundCache
	if cache, err := redis.NewRoundsCache(&cfg.RedisEnvConfig); err != nil {
		log.Error().Err(err).Msg("failed to init redis client, continuing without the rounds cache")
	} else {
		rounds = cache
		defer cache.Close()
	}

	server := axon.NewServer(&cfg.AxonEnvConfig, signature.NewVerifier(), axon.Identity{
		Hotkey:  hotkey,
		Netuid:  cfg.Netuid,
		Version: 1,
	})
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("axon server stopped")
		}
	}()

	v, err := validator.NewValidator(cfg, validator.Dependencies{
		Chain:      k,
		Dispatcher: client,
		Source:     source,
		Pipeline:   pipeline,
		Gating:     model,
		Recorder:   exporter,
		Rounds:     rounds,
		Advertiser: axon.NewAdvertiser(k, &cfg.AxonEnvConfig, cfg.Netuid),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init validator")
	}

	// One shutdown path: signals cancel the context, and the loop
	// cancels it on unrecoverable errors; either way Stop drains the
	// workers and checkpoints.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received, stopping validator")
		v.Cancel()
	}()

	v.Start()

	<-v.Ctx.Done()
	v.Stop()
	if err := server.Shutdown(); err != nil {
		log.Error().Err(err).Msg("axon server shutdown failed")
	}
	log.Info().Msg("validator stopped")
}
