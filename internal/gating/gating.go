// Package gating scores how promising each registered peer is for a
// given prompt before any of them are queried. The model is a linear
// layer over hashed bag-of-words features, nudged toward observed
// rewards after every round. Its loss is reported for observability and
// never feeds back into reward calculation.
package gating

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultFeatureDim is the hashed vocabulary size.
	DefaultFeatureDim = 512
	// DefaultLearningRate is the SGD step size used by Adapt.
	DefaultLearningRate = 0.01
)

// Model is a per-peer linear scorer. Row i of the weight matrix scores
// peer i, so the prediction vector always matches the registry size the
// model was last sized to.
type Model struct {
	mu       sync.Mutex
	numPeers int
	dim      int
	lr       float64
	weights  *mat.Dense
	bias     []float64
}

// NewModel creates a zero-initialized model sized for numPeers.
func NewModel(numPeers, featureDim int, learningRate float64) (*Model, error) {
	if numPeers < 0 {
		return nil, fmt.Errorf("numPeers must be non-negative, got %d", numPeers)
	}
	if featureDim <= 0 {
		return nil, fmt.Errorf("featureDim must be positive, got %d", featureDim)
	}
	if learningRate <= 0 {
		return nil, fmt.Errorf("learningRate must be positive, got %f", learningRate)
	}
	m := &Model{
		numPeers: numPeers,
		dim:      featureDim,
		lr:       learningRate,
		bias:     make([]float64, numPeers),
	}
	if numPeers > 0 {
		m.weights = mat.NewDense(numPeers, featureDim, nil)
	}
	return m, nil
}

// Predict returns one score per registered peer for the given prompt.
func (m *Model) Predict(prompt string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	scores := make([]float64, m.numPeers)
	if m.numPeers == 0 {
		return scores
	}

	x := m.features(prompt)
	out := mat.NewVecDense(m.numPeers, nil)
	out.MulVec(m.weights, x)
	for i := 0; i < m.numPeers; i++ {
		scores[i] = out.AtVec(i) + m.bias[i]
	}
	return scores
}

// Adapt performs one SGD step on the queried peers only, pushing their
// predicted scores toward the rewards they actually earned. Returns the
// mean squared error before the step.
func (m *Model) Adapt(prompt string, uids []int64, rewards []float64) (float64, error) {
	if len(uids) != len(rewards) {
		return 0, fmt.Errorf("uids and rewards must have the same length, got %d and %d", len(uids), len(rewards))
	}
	if len(uids) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, uid := range uids {
		if uid < 0 || uid >= int64(m.numPeers) {
			return 0, fmt.Errorf("uid %d out of range for model size %d", uid, m.numPeers)
		}
	}

	x := m.features(prompt)

	var loss float64
	for i, uid := range uids {
		row := m.weights.RawRowView(int(uid))
		pred := m.bias[uid]
		for j, w := range row {
			pred += w * x.AtVec(j)
		}

		diff := pred - rewards[i]
		loss += diff * diff

		grad := 2 * diff
		for j := range row {
			row[j] -= m.lr * grad * x.AtVec(j)
		}
		m.bias[uid] -= m.lr * grad
	}

	return loss / float64(len(uids)), nil
}

// Resize adjusts the model to a new registry size. Retained positions
// keep their learned parameters, new positions start at zero.
func (m *Model) Resize(numPeers int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if numPeers == m.numPeers {
		return
	}

	bias := make([]float64, numPeers)
	copy(bias, m.bias)

	var weights *mat.Dense
	if numPeers > 0 {
		weights = mat.NewDense(numPeers, m.dim, nil)
		keep := numPeers
		if m.numPeers < keep {
			keep = m.numPeers
		}
		for i := 0; i < keep; i++ {
			weights.SetRow(i, m.weights.RawRowView(i))
		}
	}

	m.numPeers = numPeers
	m.weights = weights
	m.bias = bias
}

// Size returns the number of peers the model currently scores.
func (m *Model) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numPeers
}

// features hashes the prompt into a fixed-length L2-normalized count
// vector. Hash collisions are acceptable noise at this dimensionality.
func (m *Model) features(prompt string) *mat.VecDense {
	x := mat.NewVecDense(m.dim, nil)
	fields := strings.Fields(strings.ToLower(prompt))
	if len(fields) == 0 {
		return x
	}

	for _, field := range fields {
		h := fnv.New32a()
		h.Write([]byte(field))
		idx := int(h.Sum32()) % m.dim
		if idx < 0 {
			idx += m.dim
		}
		x.SetVec(idx, x.AtVec(idx)+1)
	}

	norm := mat.Norm(x, 2)
	if norm > 0 {
		x.ScaleVec(1/norm, x)
	}

	return x
}
