package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/config"
	"github.com/tensorplex-labs/sensei/internal/kami"
	"github.com/tensorplex-labs/sensei/internal/miner"
	"github.com/tensorplex-labs/sensei/internal/utils/logger"
)

func main() {
	logger.Init()
	log.Info().Msg("Starting miner...")

	cfg, err := config.LoadConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}

	k, err := kami.NewKami(&cfg.KamiEnvConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init kami client")
	}

	m, err := miner.NewMiner(cfg, k)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build miner")
	}
	m.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutdown signal received")
	m.Stop()
}
