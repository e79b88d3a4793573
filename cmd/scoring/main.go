// Offline harness for the scoring pipeline: runs a canned completion
// batch through each pipeline layer and logs the per-slot rewards, so
// scoring changes can be eyeballed without a live subnet.
package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/dendrite"
	"github.com/tensorplex-labs/sensei/internal/reward"
	"github.com/tensorplex-labs/sensei/internal/taskgen"
	"github.com/tensorplex-labs/sensei/internal/utils/logger"
)

const reference = "The expedition reached the ridge before dawn. Cloud cover broke as the " +
	"survey team mapped the eastern valley. Supplies were cached at the second camp."

func main() {
	logger.Init()

	runWeightedOnly()
	runWithMasking()
	runWithPenalties()
}

func sampleResponses() []dendrite.Response {
	completions := []string{
		"The survey team crossed the ridge at dawn and charted the valley to the east.",
		"The survey team crossed the ridge at dawn and charted the valley to the east.",
		"Nothing to report.",
		"",
	}

	responses := make([]dendrite.Response, len(completions))
	for i, c := range completions {
		responses[i] = dendrite.Response{
			UID:         int64(i),
			Hotkey:      fmt.Sprintf("hk%d", i),
			Completion:  c,
			StatusCode:  http.StatusOK,
			ProcessTime: 0.5,
		}
	}
	// A timed-out slot keeps its position so indices stay aligned.
	responses[3].StatusCode = http.StatusRequestTimeout
	return responses
}

func logRewards(rewards []float64) {
	for i, r := range rewards {
		log.Info().Int("uid", i).Float64("reward", r).Msg("scored")
	}
}

func runWeightedOnly() {
	log.Info().Msg("--- weighted scorers only ---")

	pipeline, err := reward.NewPipeline(
		reward.WithWeightedFunctions(
			[]reward.ScoringFunction{reward.NewMockScorer("mock", reward.RoleWeighted, 0.8)},
			[]float64{1},
		),
		reward.WithoutEventLogging(),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}

	rewards, _ := pipeline.Score(context.Background(), reference, sampleResponses(), taskgen.AugmentTaskName)
	logRewards(rewards)
}

func runWithMasking() {
	log.Info().Msg("--- with masking filters ---")

	pipeline, err := reward.NewPipeline(
		reward.WithWeightedFunctions(
			[]reward.ScoringFunction{reward.NewMockScorer("mock", reward.RoleWeighted, 0.8)},
			[]float64{1},
		),
		reward.WithMaskingFunctions(reward.NewBlacklistFilter(), reward.NewNSFWFilter()),
		reward.WithoutEventLogging(),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}

	rewards, _ := pipeline.Score(context.Background(), reference, sampleResponses(), taskgen.AugmentTaskName)
	logRewards(rewards)
}

func runWithPenalties() {
	log.Info().Msg("--- with penalties ---")

	pipeline, err := reward.NewPipeline(
		reward.WithWeightedFunctions(
			[]reward.ScoringFunction{reward.NewMockScorer("mock", reward.RoleWeighted, 0.8)},
			[]float64{1},
		),
		reward.WithPenaltyFunctions(
			reward.NewPenaltyFunction(reward.NewTaskValidationPenalty(0.6)),
			reward.NewPenaltyFunction(reward.NewContentMatchPenalty(0.2)),
			reward.NewPenaltyFunction(reward.NewKeywordMatchPenalty(1)),
		),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}

	rewards, events := pipeline.Score(context.Background(), reference, sampleResponses(), taskgen.AugmentTaskName)
	logRewards(rewards)

	for name, value := range events {
		log.Info().Str("event", name).Any("value", value).Msg("pipeline event")
	}
}
