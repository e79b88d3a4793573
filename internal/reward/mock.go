package reward

import (
	"context"

	"github.com/tensorplex-labs/sensei/internal/dendrite"
)

// MockScorer returns a constant score for every successful response.
// Used by the mock pipeline and in tests where judge calls are
// unwanted.
type MockScorer struct {
	name  string
	role  Role
	value float64
}

func NewMockScorer(name string, role Role, value float64) *MockScorer {
	return &MockScorer{name: name, role: role, value: value}
}

func (m *MockScorer) Name() string { return m.name }
func (m *MockScorer) Role() Role   { return m.role }

func (m *MockScorer) Apply(_ context.Context, _ string, responses []dendrite.Response, _ string) (Result, error) {
	scores := make([]float64, len(responses))
	for i, resp := range responses {
		if resp.Success() {
			scores[i] = m.value
		}
	}
	return Result{
		Scores: scores,
		Events: map[string]any{m.name: scores},
	}, nil
}
