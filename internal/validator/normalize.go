package validator

import (
	"strings"

	"github.com/tensorplex-labs/sensei/internal/dendrite"
	"github.com/tensorplex-labs/sensei/internal/taskgen"
)

const maxFollowupWords = 40

// NormalizeResponses rewrites follow-up completions into one bounded
// question: everything before the first question mark, reduced to its
// final sentence fragment, capped to the last 40 words. Completions
// without a question mark keep their final fragment with no forced
// suffix. Other task types pass through untouched. The rewrite is
// idempotent, so re-normalizing a normalized completion is a no-op.
func NormalizeResponses(responses []dendrite.Response, taskName string) {
	if !taskgen.IsFollowup(taskName) {
		return
	}
	for i := range responses {
		responses[i].Completion = normalizeFollowup(responses[i].Completion)
	}
}

func normalizeFollowup(completion string) string {
	stripped := strings.Trim(completion, ".")
	if stripped == "" {
		return completion
	}

	if before, _, found := strings.Cut(stripped, "?"); found {
		return lastWords(lastFragment(before), maxFollowupWords) + "?"
	}
	return lastWords(lastFragment(stripped), maxFollowupWords)
}

func lastFragment(s string) string {
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

func lastWords(s string, n int) string {
	words := strings.Split(s, " ")
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}
