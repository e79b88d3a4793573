// Package reward turns a batch of miner completions into a single
// reward vector. Scoring functions come in three roles: weighted
// functions are scaled and summed, masking functions multiply in hard
// exclusions, penalty functions multiply in bounded deductions. The
// pipeline applies them in that fixed order.
package reward

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/tensorplex-labs/sensei/internal/config"
	"github.com/tensorplex-labs/sensei/internal/dendrite"
	"github.com/tensorplex-labs/sensei/internal/utils/logger"
)

type Role string

const (
	RoleWeighted Role = "weighted"
	RoleMasking  Role = "masking"
	RolePenalty  Role = "penalty"
)

// weightSumTolerance absorbs float drift when checking that configured
// weights sum to 1.
const weightSumTolerance = 1e-6

// Result is one scoring function's output for a batch: one score per
// response in batch order, plus named event fields for the round log.
type Result struct {
	Scores []float64
	Events map[string]any
}

// ScoringFunction scores a completion batch against a reference text.
// Implementations must return a score per response, pre-normalized to
// [0,1], and must tolerate an empty batch.
type ScoringFunction interface {
	Name() string
	Role() Role
	Apply(ctx context.Context, reference string, responses []dendrite.Response, taskType string) (Result, error)
}

type Pipeline struct {
	weighted          []ScoringFunction
	weights           []float64
	masking           []ScoringFunction
	penalties         []ScoringFunction
	disableLogRewards bool

	// trace emits the per-function score vectors; debug-level so prod
	// logs carry only the merged round event.
	trace *zap.SugaredLogger
}

type PipelineOption func(*Pipeline)

func WithWeightedFunctions(fns []ScoringFunction, weights []float64) PipelineOption {
	return func(p *Pipeline) {
		p.weighted = fns
		p.weights = weights
	}
}

func WithMaskingFunctions(fns ...ScoringFunction) PipelineOption {
	return func(p *Pipeline) {
		p.masking = append(p.masking, fns...)
	}
}

func WithPenaltyFunctions(fns ...ScoringFunction) PipelineOption {
	return func(p *Pipeline) {
		p.penalties = append(p.penalties, fns...)
	}
}

func WithoutEventLogging() PipelineOption {
	return func(p *Pipeline) {
		p.disableLogRewards = true
	}
}

// NewPipeline assembles a scoring pipeline. Construction fails when the
// weighted function and weight counts differ or the weights do not sum
// to 1; running with a malformed scoring configuration would corrupt
// every round after it.
func NewPipeline(opts ...PipelineOption) (*Pipeline, error) {
	p := &Pipeline{trace: logger.Sugar()}
	for _, opt := range opts {
		opt(p)
	}

	if len(p.weighted) != len(p.weights) {
		return nil, fmt.Errorf("got %d weighted scoring functions but %d weights", len(p.weighted), len(p.weights))
	}
	if len(p.weights) > 0 {
		sum := floats.Sum(p.weights)
		if math.Abs(sum-1) > weightSumTolerance {
			return nil, fmt.Errorf("scoring function weights must sum to 1, got %f", sum)
		}
	}

	return p, nil
}

// NewPipelineFromConfig assembles the standard scoring stack. Optional
// masks ship disabled and are switched on per deployment; the mock
// stack swaps in constant models for environments without a judge.
func NewPipelineFromConfig(cfg *config.RewardEnvConfig) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	var opts []PipelineOption
	if cfg.DisableLogRewards {
		opts = append(opts, WithoutEventLogging())
	}

	if cfg.MockRewardModels {
		opts = append(opts,
			WithMaskingFunctions(
				NewMockScorer("mock_blacklist_filter", RoleMasking, 1),
				NewMockScorer("mock_nsfw_filter", RoleMasking, 1),
			),
			WithPenaltyFunctions(
				NewPenaltyFunction(NewTaskValidationPenalty(MockTaskValidationPenalty)),
				NewPenaltyFunction(NewContentMatchPenalty(cfg.ContentMatchPenalty)),
				NewPenaltyFunction(NewKeywordMatchPenalty(cfg.KeywordMatchPenalty)),
			),
		)
		return NewPipeline(opts...)
	}

	opts = append(opts, WithWeightedFunctions(
		[]ScoringFunction{NewMistralScorer(cfg.MistralScorerURL)},
		[]float64{cfg.MistralWeight},
	))

	var masks []ScoringFunction
	if !cfg.BlacklistOff {
		masks = append(masks, NewBlacklistFilter())
	}
	if !cfg.RelevanceOff {
		masks = append(masks, NewRelevanceFilter())
	}
	if !cfg.DiversityOff {
		masks = append(masks, NewDiversityFilter())
	}
	if !cfg.NsfwOff {
		masks = append(masks, NewNSFWFilter())
	}
	opts = append(opts, WithMaskingFunctions(masks...))

	opts = append(opts, WithPenaltyFunctions(
		NewPenaltyFunction(NewTaskValidationPenalty(cfg.TaskValidationPenalty)),
		NewPenaltyFunction(NewContentMatchPenalty(cfg.ContentMatchPenalty)),
		NewPenaltyFunction(NewKeywordMatchPenalty(cfg.KeywordMatchPenalty)),
	))

	return NewPipeline(opts...)
}

// Score produces the round's reward vector, indexed in response order.
// A single scoring function failing is recovered here with a neutral
// substitute so one bad judge call never aborts the round.
func (p *Pipeline) Score(ctx context.Context, reference string, responses []dendrite.Response, taskType string) ([]float64, map[string]any) {
	rewards := make([]float64, len(responses))
	events := make(map[string]any)

	for i, fn := range p.weighted {
		result, err := fn.Apply(ctx, reference, responses, taskType)
		scores := p.checked(fn, result, err, len(responses), 0)
		floats.AddScaled(rewards, p.weights[i], scores)
		p.mergeEvents(events, result, err)
		p.trace.Debugw("weighted scores", "function", fn.Name(), "scores", scores)
	}

	for _, fn := range p.masking {
		result, err := fn.Apply(ctx, reference, responses, taskType)
		mask := p.checked(fn, result, err, len(responses), 1)
		floats.Mul(rewards, mask)
		p.mergeEvents(events, result, err)
		p.trace.Debugw("mask", "function", fn.Name(), "mask", mask)
	}

	for _, fn := range p.penalties {
		result, err := fn.Apply(ctx, reference, responses, taskType)
		applied := p.checked(fn, result, err, len(responses), 1)
		floats.Mul(rewards, applied)
		p.mergeEvents(events, result, err)
		p.trace.Debugw("applied penalty", "function", fn.Name(), "applied", applied)
	}

	return rewards, events
}

// checked validates one function's output and substitutes a neutral
// vector on failure: zeros for weighted contributions, ones for masks
// and penalties.
func (p *Pipeline) checked(fn ScoringFunction, result Result, err error, n int, neutral float64) []float64 {
	if err != nil {
		log.Error().
			Err(err).
			Str("function", fn.Name()).
			Str("role", string(fn.Role())).
			Msg("scoring function failed, substituting neutral scores")
		return uniform(n, neutral)
	}
	if len(result.Scores) != n {
		log.Error().
			Str("function", fn.Name()).
			Int("expected", n).
			Int("got", len(result.Scores)).
			Msg("scoring function returned wrong batch size, substituting neutral scores")
		return uniform(n, neutral)
	}
	return result.Scores
}

func (p *Pipeline) mergeEvents(events map[string]any, result Result, err error) {
	if p.disableLogRewards || err != nil {
		return
	}
	for k, v := range result.Events {
		events[k] = v
	}
}

func uniform(n int, value float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}
