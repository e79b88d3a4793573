// Package taskgen builds the prompt tasks a validation round sends to
// miners. The roleplay flow asks for an in-character message built from
// a character description; the summary flow chains three task shapes
// over one piece of source text: summarize it, ask a follow-up question
// about it, answer that question.
package taskgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	AugmentTaskName    = "augment"
	FollowupNamePrefix = "followup"
	AnswerNamePrefix   = "answer"
	MessageTaskName    = "message_from_description"
)

// Task is one unit of work dispatched to miners. Name carries the task
// shape plus, for chained tasks, its position in the round ("followup0",
// "answer1"). Instruction is the sent system message; Prompt is the
// full text the gating model and round log see. Character and Criteria
// are set on roleplay tasks only.
type Task struct {
	ID          string
	Name        string
	BaseText    string
	Instruction string
	Prompt      string
	Character   *Character
	Criteria    []string
}

// IsFollowup reports whether a task name belongs to the follow-up
// family, which gets its completions normalized into well-formed
// questions.
func IsFollowup(name string) bool {
	return strings.Contains(name, FollowupNamePrefix)
}

// IsAnswer reports whether a task name belongs to the answer family.
func IsAnswer(name string) bool {
	return strings.Contains(name, AnswerNamePrefix)
}

// NewAugmentTask asks miners to summarize the base text.
func NewAugmentTask(baseText string) Task {
	prompt := baseText + "\n\nSummarize the preceding context in a single short paragraph."
	return Task{
		ID:          uuid.NewString(),
		Name:        AugmentTaskName,
		BaseText:    baseText,
		Instruction: prompt,
		Prompt:      prompt,
	}
}

// NewFollowupTask asks miners for a question about the base text.
func NewFollowupTask(baseText string, round int) Task {
	prompt := baseText + "\n\nAsk one insightful question about the preceding context."
	return Task{
		ID:          uuid.NewString(),
		Name:        fmt.Sprintf("%s%d", FollowupNamePrefix, round),
		BaseText:    baseText,
		Instruction: prompt,
		Prompt:      prompt,
	}
}

// NewAnswerTask asks miners to answer a previously generated question
// against the base text.
func NewAnswerTask(baseText, question string, round int) Task {
	prompt := baseText + "\n\nUsing the preceding context, answer the following question in detail.\n\nQuestion: " +
		question
	return Task{
		ID:          uuid.NewString(),
		Name:        fmt.Sprintf("%s%d", AnswerNamePrefix, round),
		BaseText:    baseText,
		Instruction: prompt,
		Prompt:      prompt,
	}
}

// TrimSentences caps text to its first n period-delimited sentences.
// Source passages can run to thousands of words; miners only need a
// bounded excerpt.
func TrimSentences(text string, n int) string {
	if n <= 0 {
		return ""
	}
	parts := strings.Split(text, ".")
	if len(parts) <= n {
		return text
	}
	return strings.Join(parts[:n], ".") + "."
}
