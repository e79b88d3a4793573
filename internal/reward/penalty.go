package reward

import (
	"context"
	"strings"

	"github.com/tensorplex-labs/sensei/internal/dendrite"
)

const (
	TaskValidationPenaltyName = "task_validation_penalty"
	ContentMatchPenaltyName   = "content_match_penalty"
	KeywordMatchPenaltyName   = "keyword_match_penalty"

	// MockTaskValidationPenalty is the ceiling used when reward models
	// run mocked.
	MockTaskValidationPenalty = 0.75
)

// PenaltyCalculator measures a raw violation per response, 0 meaning
// clean and 1 meaning maximal violation. The ceiling bounds how much of
// a response's reward the penalty may deduct.
type PenaltyCalculator interface {
	Name() string
	MaxPenalty() float64
	Raw(reference string, responses []dendrite.Response, taskType string) []float64
}

// penaltyFunction adapts a PenaltyCalculator to the scoring contract.
// Raw violations get clipped to [0,1] and inverted against the ceiling:
// applied = 1 - adjusted*maxPenalty, so even a maximal violation only
// removes the ceiling's share of the reward.
type penaltyFunction struct {
	calc PenaltyCalculator
}

func NewPenaltyFunction(calc PenaltyCalculator) ScoringFunction {
	return &penaltyFunction{calc: calc}
}

func (p *penaltyFunction) Name() string { return p.calc.Name() }
func (p *penaltyFunction) Role() Role   { return RolePenalty }

func (p *penaltyFunction) Apply(_ context.Context, reference string, responses []dendrite.Response, taskType string) (Result, error) {
	raw := p.calc.Raw(reference, responses, taskType)

	adjusted := make([]float64, len(raw))
	applied := make([]float64, len(raw))
	for i, r := range raw {
		adjusted[i] = clamp01(r)
		applied[i] = 1 - adjusted[i]*p.calc.MaxPenalty()
	}

	name := p.calc.Name()
	return Result{
		Scores: applied,
		Events: map[string]any{
			name + "_raw":      raw,
			name + "_adjusted": adjusted,
			name + "_applied":  applied,
		},
	}, nil
}

// TaskValidationPenalty checks that a completion has the shape its task
// demands: summaries must not be questions, follow-ups must be
// questions, answers must not be.
type TaskValidationPenalty struct {
	maxPenalty float64
}

func NewTaskValidationPenalty(maxPenalty float64) *TaskValidationPenalty {
	return &TaskValidationPenalty{maxPenalty: maxPenalty}
}

func (t *TaskValidationPenalty) Name() string        { return TaskValidationPenaltyName }
func (t *TaskValidationPenalty) MaxPenalty() float64 { return t.maxPenalty }

func (t *TaskValidationPenalty) Raw(_ string, responses []dendrite.Response, taskType string) []float64 {
	raw := make([]float64, len(responses))
	for i, resp := range responses {
		if !resp.Success() {
			continue
		}
		completion := strings.TrimSpace(resp.Completion)
		isQuestion := strings.HasSuffix(completion, "?")

		switch {
		case completion == "":
			raw[i] = 1
		case strings.Contains(taskType, "augment") && isQuestion:
			raw[i] = 1
		case strings.Contains(taskType, "followup") && !isQuestion:
			raw[i] = 1
		case strings.Contains(taskType, "answer") && isQuestion:
			raw[i] = 1
		}
	}
	return raw
}

// ContentMatchPenalty measures how much of a completion is lifted
// verbatim from the reference text.
type ContentMatchPenalty struct {
	maxPenalty float64
	ngram      int
}

func NewContentMatchPenalty(maxPenalty float64) *ContentMatchPenalty {
	return &ContentMatchPenalty{maxPenalty: maxPenalty, ngram: 3}
}

func (c *ContentMatchPenalty) Name() string        { return ContentMatchPenaltyName }
func (c *ContentMatchPenalty) MaxPenalty() float64 { return c.maxPenalty }

func (c *ContentMatchPenalty) Raw(reference string, responses []dendrite.Response, _ string) []float64 {
	raw := make([]float64, len(responses))

	refGrams := make(map[string]bool)
	for _, g := range ngrams(tokenize(reference), c.ngram) {
		refGrams[g] = true
	}
	if len(refGrams) == 0 {
		return raw
	}

	for i, resp := range responses {
		if !resp.Success() || resp.Completion == "" {
			continue
		}
		grams := ngrams(tokenize(resp.Completion), c.ngram)
		if len(grams) == 0 {
			continue
		}
		matched := 0
		for _, g := range grams {
			if refGrams[g] {
				matched++
			}
		}
		raw[i] = float64(matched) / float64(len(grams))
	}
	return raw
}

// KeywordMatchPenalty catches canned assistant boilerplate that answers
// nothing.
type KeywordMatchPenalty struct {
	maxPenalty float64
	keywords   []string
}

var defaultPenaltyKeywords = []string{
	"as an ai",
	"as a language model",
	"i'm sorry, but",
	"i cannot fulfill",
	"i apologize, but",
}

func NewKeywordMatchPenalty(maxPenalty float64) *KeywordMatchPenalty {
	return &KeywordMatchPenalty{maxPenalty: maxPenalty, keywords: defaultPenaltyKeywords}
}

func (k *KeywordMatchPenalty) Name() string        { return KeywordMatchPenaltyName }
func (k *KeywordMatchPenalty) MaxPenalty() float64 { return k.maxPenalty }

func (k *KeywordMatchPenalty) Raw(_ string, responses []dendrite.Response, _ string) []float64 {
	raw := make([]float64, len(responses))
	for i, resp := range responses {
		if !resp.Success() || resp.Completion == "" {
			continue
		}
		lowered := strings.ToLower(resp.Completion)
		for _, kw := range k.keywords {
			if strings.Contains(lowered, kw) {
				raw[i] = 1
				break
			}
		}
	}
	return raw
}
