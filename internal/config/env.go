// Package config defines environment configuration structs and loaders.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type AppConfig struct {
	ChainEnvConfig
	WalletEnvConfig
	KamiEnvConfig
	AxonEnvConfig
	RedisEnvConfig
	TaskGenEnvConfig
	RewardEnvConfig
	TrustEnvConfig
	TelemetryEnvConfig
	ValidatorEnvConfig
}

func LoadConfig(ctx context.Context) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the validator cannot safely run with. Scoring
// weight checks live in the reward pipeline constructor, not here.
func (c *AppConfig) Validate() error {
	if c.MovingAverageAlpha <= 0 || c.MovingAverageAlpha > 1 {
		return fmt.Errorf("MOVING_AVERAGE_ALPHA must be in (0,1], got %f", c.MovingAverageAlpha)
	}
	if c.EpochLength <= 0 {
		return fmt.Errorf("EPOCH_LENGTH must be positive, got %d", c.EpochLength)
	}
	if c.SampleSize <= 0 {
		return fmt.Errorf("SAMPLE_SIZE must be positive, got %d", c.SampleSize)
	}
	if c.NumConcurrentForwards <= 0 {
		return fmt.Errorf("NUM_CONCURRENT_FORWARDS must be positive, got %d", c.NumConcurrentForwards)
	}
	if c.TaskFlow != TaskFlowRoleplay && c.TaskFlow != TaskFlowSummary {
		return fmt.Errorf("TASK_FLOW must be %q or %q, got %q", TaskFlowRoleplay, TaskFlowSummary, c.TaskFlow)
	}
	return nil
}

// ChainEnvConfig holds chain-specific environment values.
type ChainEnvConfig struct {
	Netuid           int     `env:"NETUID, default=1"`
	EpochLength      int64   `env:"EPOCH_LENGTH, default=100"`
	WeightsRateLimit int64   `env:"WEIGHTS_RATE_LIMIT, default=100"`
	DontSetWeights   bool    `env:"DONT_SET_WEIGHTS, default=false"`
	VPermitTaoLimit  float64 `env:"VPERMIT_TAO_LIMIT, default=4096"`
}

// WalletEnvConfig holds wallet key configuration.
type WalletEnvConfig struct {
	WalletHotkey  string `env:"WALLET_HOTKEY, default=default"`
	WalletColdkey string `env:"WALLET_COLDKEY, default=default"`
	BittensorDir  string `env:"BITTENSOR_DIR, default=~/.bittensor"`
}

// KamiEnvConfig contains Kami service target and network selection.
type KamiEnvConfig struct {
	SubtensorNetwork string `env:"SUBTENSOR_NETWORK, default=test"`
	KamiHost         string `env:"KAMI_HOST, default=127.0.0.1"`
	KamiPort         string `env:"KAMI_PORT, default=3000"`
}

// AxonEnvConfig configures the locally served axon endpoint.
type AxonEnvConfig struct {
	AxonIP        string `env:"AXON_IP"`
	AxonPort      int    `env:"AXON_PORT, default=8091"`
	BodySizeLimit int    `env:"SERVER_BODY_LIMIT, default=1048576"`
}

// RedisEnvConfig configures Redis connection.
type RedisEnvConfig struct {
	RedisHost     string `env:"REDIS_HOST, default=127.0.0.1"`
	RedisPort     int    `env:"REDIS_PORT, default=6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB, default=0"`
	RedisUsername string `env:"REDIS_USERNAME"`
}

// TaskGenEnvConfig configures synthetic task generation.
type TaskGenEnvConfig struct {
	SyntheticAPIUrl  string `env:"SYNTHETIC_API_URL, default=http://localhost:5003"`
	OpenrouterAPIKey string `env:"OPENROUTER_API_KEY"`
}

// RewardEnvConfig enumerates the active scoring functions and their
// weights and ceilings.
type RewardEnvConfig struct {
	MistralWeight         float64 `env:"MISTRAL_WEIGHT, default=1.0"`
	MistralScorerURL      string  `env:"MISTRAL_SCORER_URL, default=http://localhost:5001"`
	BlacklistOff          bool    `env:"BLACKLIST_OFF, default=false"`
	NsfwOff               bool    `env:"NSFW_OFF, default=false"`
	RelevanceOff          bool    `env:"RELEVANCE_OFF, default=true"`
	DiversityOff          bool    `env:"DIVERSITY_OFF, default=true"`
	MockRewardModels      bool    `env:"MOCK_REWARD_MODELS, default=false"`
	TaskValidationPenalty float64 `env:"TASK_VALIDATION_PENALTY, default=0.6"`
	ContentMatchPenalty   float64 `env:"CONTENT_MATCH_PENALTY, default=0.2"`
	KeywordMatchPenalty   float64 `env:"KEYWORD_MATCH_PENALTY, default=1.0"`
	DisableLogRewards     bool    `env:"DISABLE_LOG_REWARDS, default=false"`
}

// TrustEnvConfig configures the trust ledger and its checkpoint.
type TrustEnvConfig struct {
	MovingAverageAlpha float64 `env:"MOVING_AVERAGE_ALPHA, default=0.05"`
	StatePath          string  `env:"STATE_PATH, default=validator_state.json"`
}

// TelemetryEnvConfig configures the optional experiment-tracking export.
type TelemetryEnvConfig struct {
	TelemetryOff  bool   `env:"TELEMETRY_OFF, default=false"`
	TelemetryURL  string `env:"TELEMETRY_URL"`
	RunStepLength int    `env:"RUN_STEP_LENGTH, default=100"`
}

// Task flows the validator can run. Roleplay sends one in-character
// message task per forward; summary chains summarize/follow-up/answer
// tasks over a source passage.
const (
	TaskFlowRoleplay = "roleplay"
	TaskFlowSummary  = "summary"
)

// ValidatorEnvConfig configures validator runtime.
type ValidatorEnvConfig struct {
	Environment           string        `env:"ENVIRONMENT, default=prod"`
	TaskFlow              string        `env:"TASK_FLOW, default=roleplay"`
	SampleSize            int           `env:"SAMPLE_SIZE, default=25"`
	QueryTimeout          time.Duration `env:"QUERY_TIMEOUT, default=10s"`
	NumConcurrentForwards int           `env:"NUM_CONCURRENT_FORWARDS, default=1"`
	NumFollowupSteps      int           `env:"NUM_FOLLOWUP_STEPS, default=1"`
	ClientTimeout         time.Duration `env:"CLIENT_TIMEOUT, default=30s"`
}

type IntervalConfig struct {
	BlockTTL          time.Duration
	MetagraphInterval time.Duration
	AdvertiseInterval time.Duration
	RoundPause        time.Duration
}

var (
	DevIntervalConfig = &IntervalConfig{
		BlockTTL:          2 * time.Second,
		MetagraphInterval: 5 * time.Second,
		AdvertiseInterval: 1 * time.Minute,
		RoundPause:        2 * time.Second,
	}
	TestIntervalConfig = &IntervalConfig{
		BlockTTL:          12 * time.Second,
		MetagraphInterval: 30 * time.Second,
		AdvertiseInterval: 30 * time.Minute,
		RoundPause:        5 * time.Second,
	}

	ProdIntervalConfig = &IntervalConfig{
		BlockTTL:          12 * time.Second,
		MetagraphInterval: 30 * time.Second,
		AdvertiseInterval: 30 * time.Minute,
		RoundPause:        0,
	}
)

func NewIntervalConfig(environment string) *IntervalConfig {
	switch strings.ToLower(environment) {
	case "dev":
		return DevIntervalConfig
	case "test":
		return TestIntervalConfig
	case "prod":
		return ProdIntervalConfig
	}

	return DevIntervalConfig
}
