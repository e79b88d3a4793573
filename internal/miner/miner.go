// Package miner runs a reference peer for local subnets: it answers
// prompt synapses with canned completions and advertises its endpoint
// on chain, so a validator can be exercised end to end without a
// model-backed miner.
package miner

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/axon"
	"github.com/tensorplex-labs/sensei/internal/config"
	"github.com/tensorplex-labs/sensei/internal/dendrite"
	"github.com/tensorplex-labs/sensei/internal/kami"
	"github.com/tensorplex-labs/sensei/internal/taskgen"
	"github.com/tensorplex-labs/sensei/pkg/signature"
)

// echoSentences bounds how much of the prompt the canned completion
// echoes back.
const echoSentences = 3

type Miner struct {
	cfg        *config.AppConfig
	srv        *axon.Server
	advertiser *axon.Advertiser
	hotkey     string
}

func NewMiner(cfg *config.AppConfig, k *kami.Kami) (*Miner, error) {
	hotkey, err := kami.GetHotkey(k)
	if err != nil {
		return nil, fmt.Errorf("load keyring hotkey: %w", err)
	}

	srv := axon.NewServer(&cfg.AxonEnvConfig, signature.NewVerifier(), axon.Identity{
		Hotkey:  hotkey,
		Netuid:  cfg.Netuid,
		Version: 1,
	})
	axon.ServeSynapse(srv, func(_ *fiber.Ctx, req dendrite.Prompting) (dendrite.Prompting, error) {
		req.Completion = completionFor(req)
		return req, nil
	})

	return &Miner{
		cfg:        cfg,
		srv:        srv,
		advertiser: axon.NewAdvertiser(k, &cfg.AxonEnvConfig, cfg.Netuid),
		hotkey:     hotkey,
	}, nil
}

// completionFor fabricates a reply in the shape each task family
// expects: follow-up tasks get a question, roleplay tasks get an
// in-character line, everything else gets a clipped echo of the prompt
// so downstream scoring sees plausible text.
func completionFor(req dendrite.Prompting) string {
	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1]
	}

	if taskgen.IsFollowup(req.TaskType) {
		return "What happens next?"
	}
	if req.CharacterName != "" {
		return fmt.Sprintf("Good day. I am %s. %s", req.CharacterName,
			taskgen.TrimSentences(req.CharacterInfo, echoSentences))
	}
	return taskgen.TrimSentences(prompt, echoSentences)
}

// Run starts the axon listener and advertises it once. Advertisement
// failure is not fatal: an unregistered hotkey can still answer
// direct queries.
func (m *Miner) Run() {
	go func() {
		if err := m.srv.Start(); err != nil {
			log.Error().Err(err).Msg("miner axon stopped")
		}
	}()

	if err := m.advertiser.Advertise(); err != nil {
		log.Warn().Err(err).Msg("axon advertisement failed, validators will not discover this peer")
	}

	log.Info().
		Str("hotkey", m.hotkey).
		Int("port", m.cfg.AxonPort).
		Msg("miner serving")
}

func (m *Miner) Stop() {
	if err := m.srv.Shutdown(); err != nil {
		log.Error().Err(err).Msg("miner axon shutdown failed")
	}
	log.Info().Msg("miner stopped")
}
