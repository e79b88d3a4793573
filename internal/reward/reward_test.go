package reward

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/tensorplex-labs/sensei/internal/config"
	"github.com/tensorplex-labs/sensei/internal/dendrite"
)

// stubFn returns canned scores, or an error, for pipeline tests.
type stubFn struct {
	name   string
	role   Role
	scores []float64
	err    error
}

func (s *stubFn) Name() string { return s.name }
func (s *stubFn) Role() Role   { return s.role }

func (s *stubFn) Apply(_ context.Context, _ string, _ []dendrite.Response, _ string) (Result, error) {
	if s.err != nil {
		return Result{}, s.err
	}
	return Result{
		Scores: s.scores,
		Events: map[string]any{s.name: s.scores},
	}, nil
}

func okResponses(n int) []dendrite.Response {
	out := make([]dendrite.Response, n)
	for i := range out {
		out[i] = dendrite.Response{
			UID:        int64(i),
			Hotkey:     fmt.Sprintf("hk%d", i),
			Completion: fmt.Sprintf("completion %d", i),
			StatusCode: http.StatusOK,
		}
	}
	return out
}

func TestNewPipelineWiresTraceLogger(t *testing.T) {
	p, err := NewPipeline()
	require.NoError(t, err)
	require.NotNil(t, p.trace, "per-function score tracing must be wired at construction")
}

func TestNewPipelineRejectsCountMismatch(t *testing.T) {
	_, err := NewPipeline(WithWeightedFunctions(
		[]ScoringFunction{NewMockScorer("a", RoleWeighted, 1)},
		[]float64{0.5, 0.5},
	))
	assert.Error(t, err)
}

func TestWeightSumProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 6).Draw(t, "count")
		weights := make([]float64, count)
		fns := make([]ScoringFunction, count)
		sum := 0.0
		for i := 0; i < count; i++ {
			weights[i] = rapid.Float64Range(0, 2).Draw(t, "weight")
			sum += weights[i]
			fns[i] = NewMockScorer(fmt.Sprintf("fn%d", i), RoleWeighted, 0.5)
		}

		_, err := NewPipeline(WithWeightedFunctions(fns, weights))
		if sum > 1-weightSumTolerance && sum < 1+weightSumTolerance {
			if err != nil {
				t.Fatalf("weights summing to %f should construct, got %v", sum, err)
			}
		} else if err == nil {
			t.Fatalf("weights summing to %f should fail construction", sum)
		}
	})
}

func TestScoreAppliesBlacklistMask(t *testing.T) {
	pipeline, err := NewPipeline(
		WithWeightedFunctions(
			[]ScoringFunction{NewMockScorer("judge", RoleWeighted, 0.5)},
			[]float64{1.0},
		),
		WithMaskingFunctions(&stubFn{name: "blacklist", role: RoleMasking, scores: []float64{1, 0, 1}}),
	)
	require.NoError(t, err)

	rewards, _ := pipeline.Score(context.Background(), "ref", okResponses(3), "augment")
	assert.Equal(t, []float64{0.5, 0, 0.5}, rewards)
}

func TestMaskZeroIsIrrecoverable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		masked := rapid.IntRange(0, n-1).Draw(t, "masked")

		weightedScores := make([]float64, n)
		mask := make([]float64, n)
		for i := 0; i < n; i++ {
			weightedScores[i] = rapid.Float64Range(0, 1).Draw(t, "score")
			mask[i] = 1
		}
		mask[masked] = 0

		pipeline, err := NewPipeline(
			WithWeightedFunctions(
				[]ScoringFunction{&stubFn{name: "judge", role: RoleWeighted, scores: weightedScores}},
				[]float64{1.0},
			),
			WithMaskingFunctions(&stubFn{name: "mask", role: RoleMasking, scores: mask}),
			WithPenaltyFunctions(NewPenaltyFunction(NewKeywordMatchPenalty(1.0))),
		)
		if err != nil {
			t.Fatalf("pipeline: %v", err)
		}

		rewards, _ := pipeline.Score(context.Background(), "ref", okResponses(n), "augment")
		if rewards[masked] != 0 {
			t.Fatalf("masked peer %d kept reward %f", masked, rewards[masked])
		}
	})
}

func TestScoreEmptyBatch(t *testing.T) {
	pipeline, err := NewPipeline(
		WithWeightedFunctions([]ScoringFunction{NewMockScorer("judge", RoleWeighted, 1)}, []float64{1.0}),
		WithMaskingFunctions(NewBlacklistFilter(), NewNSFWFilter()),
		WithPenaltyFunctions(NewPenaltyFunction(NewTaskValidationPenalty(0.6))),
	)
	require.NoError(t, err)

	rewards, events := pipeline.Score(context.Background(), "ref", nil, "augment")
	assert.Empty(t, rewards)
	assert.NotNil(t, events)
}

func TestScorePenaltyCeiling(t *testing.T) {
	// Full violation with ceiling 0.2 still leaves 80% of the reward.
	pipeline, err := NewPipeline(
		WithWeightedFunctions([]ScoringFunction{NewMockScorer("judge", RoleWeighted, 1)}, []float64{1.0}),
		WithPenaltyFunctions(NewPenaltyFunction(NewContentMatchPenalty(0.2))),
	)
	require.NoError(t, err)

	responses := []dendrite.Response{{
		UID:        0,
		Completion: "the quick brown fox jumps over the lazy dog",
		StatusCode: http.StatusOK,
	}}
	rewards, _ := pipeline.Score(context.Background(), "the quick brown fox jumps over the lazy dog", responses, "augment")
	assert.InDelta(t, 0.8, rewards[0], 1e-9)
}

func TestScoreMergesEvents(t *testing.T) {
	pipeline, err := NewPipeline(
		WithWeightedFunctions([]ScoringFunction{NewMockScorer("judge", RoleWeighted, 1)}, []float64{1.0}),
		WithPenaltyFunctions(NewPenaltyFunction(NewKeywordMatchPenalty(1.0))),
	)
	require.NoError(t, err)

	_, events := pipeline.Score(context.Background(), "ref", okResponses(2), "augment")
	assert.Contains(t, events, "judge")
	assert.Contains(t, events, KeywordMatchPenaltyName+"_raw")
	assert.Contains(t, events, KeywordMatchPenaltyName+"_applied")
}

func TestScoreEventLoggingDisabled(t *testing.T) {
	pipeline, err := NewPipeline(
		WithWeightedFunctions([]ScoringFunction{NewMockScorer("judge", RoleWeighted, 1)}, []float64{1.0}),
		WithoutEventLogging(),
	)
	require.NoError(t, err)

	_, events := pipeline.Score(context.Background(), "ref", okResponses(2), "augment")
	assert.Empty(t, events)
}

func TestScoreRecoversFromFunctionFailure(t *testing.T) {
	pipeline, err := NewPipeline(
		WithWeightedFunctions(
			[]ScoringFunction{&stubFn{name: "broken_judge", role: RoleWeighted, err: fmt.Errorf("judge unreachable")}},
			[]float64{1.0},
		),
		WithMaskingFunctions(&stubFn{name: "broken_mask", role: RoleMasking, err: fmt.Errorf("mask exploded")}),
	)
	require.NoError(t, err)

	rewards, _ := pipeline.Score(context.Background(), "ref", okResponses(3), "augment")
	assert.Equal(t, []float64{0, 0, 0}, rewards, "failed judge contributes zero, failed mask is neutral")
}

func TestScoreWrongLengthSubstituted(t *testing.T) {
	pipeline, err := NewPipeline(
		WithWeightedFunctions(
			[]ScoringFunction{&stubFn{name: "short_judge", role: RoleWeighted, scores: []float64{1}}},
			[]float64{1.0},
		),
	)
	require.NoError(t, err)

	rewards, _ := pipeline.Score(context.Background(), "ref", okResponses(3), "augment")
	assert.Equal(t, []float64{0, 0, 0}, rewards)
}

func TestNewPipelineFromConfigDefaults(t *testing.T) {
	cfg := &config.RewardEnvConfig{
		MistralWeight:         1.0,
		MistralScorerURL:      "http://localhost:9000",
		RelevanceOff:          true,
		DiversityOff:          true,
		TaskValidationPenalty: 0.6,
		ContentMatchPenalty:   0.2,
		KeywordMatchPenalty:   1.0,
	}
	pipeline, err := NewPipelineFromConfig(cfg)
	require.NoError(t, err)
	assert.Len(t, pipeline.weighted, 1)
	assert.Len(t, pipeline.masking, 2, "blacklist and nsfw on by default")
	assert.Len(t, pipeline.penalties, 3)
}

func TestNewPipelineFromConfigRejectsBadWeight(t *testing.T) {
	cfg := &config.RewardEnvConfig{
		MistralWeight:    0.5,
		MistralScorerURL: "http://localhost:9000",
	}
	_, err := NewPipelineFromConfig(cfg)
	assert.Error(t, err)
}

func TestNewPipelineFromConfigMockModels(t *testing.T) {
	cfg := &config.RewardEnvConfig{
		MockRewardModels:    true,
		ContentMatchPenalty: 0.2,
		KeywordMatchPenalty: 1.0,
	}
	pipeline, err := NewPipelineFromConfig(cfg)
	require.NoError(t, err)
	assert.Empty(t, pipeline.weighted, "mock stack runs without a judge")
	assert.Len(t, pipeline.penalties, 3)

	rewards, _ := pipeline.Score(context.Background(), "ref", okResponses(2), "followup0")
	require.Len(t, rewards, 2)
}
