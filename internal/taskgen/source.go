package taskgen

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/config"
)

// Source yields the raw passages rounds are built from.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// SyntheticSource pulls passages from the synthetic text API.
type SyntheticSource struct {
	cfg    *config.TaskGenEnvConfig
	client *resty.Client
}

type generateContextResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
}

func NewSyntheticSource(cfg *config.TaskGenEnvConfig) (*SyntheticSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	client := resty.New().
		SetBaseURL(cfg.SyntheticAPIUrl).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	if cfg.OpenrouterAPIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.OpenrouterAPIKey)
	}

	return &SyntheticSource{
		cfg:    cfg,
		client: client,
	}, nil
}

func (s *SyntheticSource) Next(ctx context.Context) (string, error) {
	var out generateContextResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/generate-context")
	if err != nil {
		log.Error().Err(err).Msg("generate-context request failed")
		return "", fmt.Errorf("generate context: %w", err)
	}
	if resp.IsError() {
		log.Error().Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("generate-context non-2xx")
		return "", fmt.Errorf("generate-context status %d: %s", resp.StatusCode(), resp.String())
	}
	if !out.Success {
		return "", fmt.Errorf("generate-context api returned success=false")
	}
	if out.Text == "" {
		return "", fmt.Errorf("generate-context api returned empty text")
	}
	return out.Text, nil
}

// LocalCorpus serves passages from a fixed in-process list. It backs
// mock configurations and tests where the synthetic API is unwanted.
type LocalCorpus struct {
	passages []string
}

var defaultPassages = []string{
	"The harbor town of Vestmark grew around a natural deep-water inlet on the northern coast. Fishing fleets " +
		"operated from its quays for over three centuries, and the cod trade financed most of the stone buildings " +
		"that still line the old market square. When refrigerated shipping arrived, the town's salting houses " +
		"closed within a decade. Tourism gradually replaced fishing as the main source of income, though a small " +
		"fleet still lands its catch every morning.",
	"Glacial meltwater feeds the river systems of the eastern plateau, and the timing of the spring melt shapes " +
		"the entire agricultural calendar. Farmers plant barley within two weeks of the first sustained flow. In " +
		"years when the melt comes early, a second planting of root vegetables becomes possible. Hydrologists " +
		"have recorded the melt date since 1911, producing one of the longest continuous climate records in the " +
		"region.",
	"The municipal library began as a single reading room above a pharmacy, funded by a bequest from a retired " +
		"sea captain. Its collection grew through donations until the city assumed responsibility in 1923. The " +
		"present building, completed in 1967, was designed to hold four hundred thousand volumes. An annex added " +
		"in 2004 houses the map archive and a conservation workshop that serves libraries across the county.",
}

func NewLocalCorpus(passages ...string) *LocalCorpus {
	if len(passages) == 0 {
		passages = defaultPassages
	}
	return &LocalCorpus{passages: passages}
}

func (l *LocalCorpus) Next(_ context.Context) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(l.passages))))
	if err != nil {
		return "", fmt.Errorf("pick passage: %w", err)
	}
	return l.passages[n.Int64()], nil
}
