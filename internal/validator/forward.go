package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"

	"github.com/tensorplex-labs/sensei/internal/config"
	"github.com/tensorplex-labs/sensei/internal/dendrite"
	"github.com/tensorplex-labs/sensei/internal/kami"
	"github.com/tensorplex-labs/sensei/internal/taskgen"
	"github.com/tensorplex-labs/sensei/internal/telemetry"
)

// Source passages and character descriptions are cut to a random
// sentence count in these ranges so rounds do not converge on identical
// context lengths.
const (
	sentenceCutoffMin = 15
	sentenceCutoffMax = 30

	characterCutoffMin = 20
	characterCutoffMax = 30
)

// forward runs one full validation round in the configured flow.
func (v *Validator) forward(ctx context.Context) error {
	if v.cfg.TaskFlow == config.TaskFlowRoleplay {
		return v.roleplayForward(ctx)
	}
	return v.summaryForward(ctx)
}

// roleplayForward draws a character and has miners write one
// in-character message from its description.
func (v *Validator) roleplayForward(ctx context.Context) error {
	character, err := v.characters.Next()
	if err != nil {
		return fmt.Errorf("character set: %w", err)
	}
	cutoff := characterCutoffMin + randomBelow(characterCutoffMax-characterCutoffMin+1)
	task := taskgen.NewMessageTask(character, cutoff)
	_, err = v.runStep(ctx, task, make(map[int64]struct{}))
	return err
}

// summaryForward fetches a fresh passage, has miners summarize it, then
// chains follow-up questions and answers over the evolving context.
// Every step scores a disjoint sample of peers.
func (v *Validator) summaryForward(ctx context.Context) error {
	passage, err := v.source.Next(ctx)
	if err != nil {
		return fmt.Errorf("task source: %w", err)
	}
	cutoff := sentenceCutoffMin + randomBelow(sentenceCutoffMax-sentenceCutoffMin+1)
	baseText := taskgen.TrimSentences(passage, cutoff)

	exclude := make(map[int64]struct{})

	augment := taskgen.NewAugmentTask(baseText)
	summary, err := v.runStep(ctx, augment, exclude)
	if err != nil {
		return err
	}
	if summary != "" {
		baseText = summary
	} else {
		log.Warn().Str("task", augment.Name).Msg("no usable summary, keeping the source passage as context")
	}

	for round := 0; round < v.cfg.NumFollowupSteps; round++ {
		followup := taskgen.NewFollowupTask(baseText, round)
		question, err := v.runStep(ctx, followup, exclude)
		if err != nil {
			return err
		}

		answer := taskgen.NewAnswerTask(baseText, question, round)
		reply, err := v.runStep(ctx, answer, exclude)
		if err != nil {
			return err
		}

		baseText += "\nPrevious Question\nQuestion: " + question + "\nAnswer: " + reply
	}

	return nil
}

// runStep dispatches one task to a fresh sample of peers, scores the
// completions, settles trust and gating under the settle lock, and
// records the step event. Sampled uids are added to exclude so later
// steps in the same round query different peers.
func (v *Validator) runStep(ctx context.Context, task taskgen.Task, exclude map[int64]struct{}) (string, error) {
	start := time.Now()

	m := v.metagraphSnapshot()
	if m == nil {
		return "", errors.New("no metagraph snapshot")
	}

	uids := SampleUIDs(m, v.cfg.SampleSize, exclude, v.cfg.VPermitTaoLimit)
	if len(uids) == 0 {
		return "", errors.New("no eligible peers to query")
	}
	hotkeys := make([]string, len(uids))
	for i, uid := range uids {
		exclude[uid] = struct{}{}
		hotkeys[i] = m.Hotkeys[uid]
	}

	synapse := dendrite.Prompting{
		TaskType: task.Name,
		Roles:    []string{"user"},
		Messages: []string{task.Instruction},
		Criteria: task.Criteria,
	}
	if c := task.Character; c != nil {
		synapse.Roles = []string{"system"}
		synapse.CharacterName = c.Name
		synapse.CharacterInfo = c.Description
		synapse.CharNames = []string{c.Name}
		synapse.UserNames = []string{"user"}
	}
	responses := v.dispatcher.Dispatch(ctx, endpointsFor(m, uids), synapse, v.cfg.QueryTimeout)

	NormalizeResponses(responses, task.Name)

	rewards, scoringFields := v.pipeline.Score(ctx, task.Prompt, responses, task.Name)

	// Settlement scatters by hotkey identity, not sampled position: a
	// resync between dispatch and here may have reordered or shrunk the
	// registry, and a vanished peer's reward is discarded rather than
	// landing on whoever now holds its old uid.
	v.settleMu.Lock()
	settledUIDs, settledRewards, err := v.trust.UpdateByHotkey(hotkeys, rewards)
	if err != nil {
		v.settleMu.Unlock()
		return "", fmt.Errorf("trust update: %w", err)
	}
	if dropped := len(uids) - len(settledUIDs); dropped > 0 {
		log.Warn().Int("dropped", dropped).Str("task", task.Name).Msg("peers left the registry mid-round, their rewards were discarded")
	}
	loss, lossErr := v.gating.Adapt(task.Prompt, settledUIDs, settledRewards)
	if lossErr != nil {
		log.Warn().Err(lossErr).Str("task", task.Name).Msg("gating update skipped")
	}
	step := v.trust.Step()
	v.settleMu.Unlock()

	best := bestCompletion(responses, rewards)

	completions := make([]string, len(responses))
	times := make([]float64, len(responses))
	messages := make([]string, len(responses))
	codes := make([]int, len(responses))
	for i, r := range responses {
		completions[i] = r.Completion
		times[i] = r.ProcessTime
		messages[i] = r.StatusMessage
		codes[i] = r.StatusCode
	}

	v.recorder.Record(telemetry.RoundEvent{
		Step:               step,
		Block:              v.cachedBlock(),
		TaskType:           task.Name,
		Prompt:             task.Prompt,
		ElapsedSeconds:     time.Since(start).Seconds(),
		UIDs:               uids,
		Completions:        completions,
		CompletionTimes:    times,
		CompletionMessages: messages,
		CompletionCodes:    codes,
		Rewards:            rewards,
		GatingLoss:         loss,
		BestCompletion:     best,
	}, scoringFields)

	if v.rounds != nil && best != "" {
		if err := v.rounds.PushBestCompletion(ctx, best); err != nil {
			log.Debug().Err(err).Msg("best completion not cached")
		}
	}

	return best, nil
}

func endpointsFor(m *kami.SubnetMetagraph, uids []int64) []dendrite.Endpoint {
	endpoints := make([]dendrite.Endpoint, 0, len(uids))
	for _, uid := range uids {
		axon := m.Axons[uid]
		endpoints = append(endpoints, dendrite.Endpoint{
			UID:    uid,
			Hotkey: m.Hotkeys[uid],
			URL:    fmt.Sprintf("http://%s:%d", axon.IP, axon.Port),
		})
	}
	return endpoints
}

// bestCompletion picks the highest rewarded completion; ties go to the
// earliest slot, matching sample order.
func bestCompletion(responses []dendrite.Response, rewards []float64) string {
	if len(rewards) == 0 || len(rewards) != len(responses) {
		return ""
	}
	return strings.TrimSpace(responses[floats.MaxIdx(rewards)].Completion)
}
