package reward

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/dendrite"
)

const (
	BlacklistFilterName = "blacklist_filter"
	NSFWFilterName      = "nsfw_filter"
	RelevanceFilterName = "relevance_filter"
	DiversityFilterName = "diversity_filter"
)

// BlacklistFilter masks completions built from phrases it has seen too
// often. Every scored completion feeds the corpus, so spammy boilerplate
// answers stop earning once enough peers repeat them.
type BlacklistFilter struct {
	mu       sync.Mutex
	counts   map[string]float64
	total    float64
	ngram    int
	decay    float64
	support  float64
	minCount float64
}

func NewBlacklistFilter() *BlacklistFilter {
	return &BlacklistFilter{
		counts:   make(map[string]float64),
		ngram:    6,
		decay:    0.9998,
		support:  0.01,
		minCount: 5,
	}
}

func (b *BlacklistFilter) Name() string { return BlacklistFilterName }
func (b *BlacklistFilter) Role() Role   { return RoleMasking }

func (b *BlacklistFilter) Apply(_ context.Context, _ string, responses []dendrite.Response, _ string) (Result, error) {
	mask := make([]float64, len(responses))

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, resp := range responses {
		if !resp.Success() || resp.Completion == "" {
			continue
		}
		grams := ngrams(tokenize(resp.Completion), b.ngram)
		b.observe(grams)
		if b.flagged(grams) {
			log.Debug().
				Int64("uid", resp.UID).
				Msg("completion blacklisted for repeated phrasing")
			continue
		}
		mask[i] = 1
	}

	return Result{
		Scores: mask,
		Events: map[string]any{BlacklistFilterName: mask},
	}, nil
}

// observe decays the corpus then folds the completion's n-grams in.
// Decay keeps the corpus tracking recent phrasing instead of punishing
// wording that was popular months ago.
func (b *BlacklistFilter) observe(grams []string) {
	if len(grams) == 0 {
		return
	}

	b.total *= b.decay
	for g, c := range b.counts {
		decayed := c * b.decay
		if decayed < 0.01 {
			delete(b.counts, g)
			continue
		}
		b.counts[g] = decayed
	}

	for _, g := range grams {
		b.counts[g]++
		b.total++
	}
}

func (b *BlacklistFilter) flagged(grams []string) bool {
	if b.total == 0 {
		return false
	}
	for _, g := range grams {
		count := b.counts[g]
		if count >= b.minCount && count/b.total >= b.support {
			return true
		}
	}
	return false
}

// NSFWFilter masks completions containing terms from a fixed lexicon.
type NSFWFilter struct {
	terms []string
}

var defaultNSFWTerms = []string{
	"porn",
	"xxx",
	"child abuse",
	"rape",
	"kill yourself",
	"how to make a bomb",
	"beheading",
}

func NewNSFWFilter() *NSFWFilter {
	return &NSFWFilter{terms: defaultNSFWTerms}
}

// NewNSFWFilterWithTerms builds a filter over a custom lexicon.
func NewNSFWFilterWithTerms(terms []string) *NSFWFilter {
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}
	return &NSFWFilter{terms: lowered}
}

func (n *NSFWFilter) Name() string { return NSFWFilterName }
func (n *NSFWFilter) Role() Role   { return RoleMasking }

func (n *NSFWFilter) Apply(_ context.Context, _ string, responses []dendrite.Response, _ string) (Result, error) {
	mask := make([]float64, len(responses))
	for i, resp := range responses {
		if !resp.Success() || resp.Completion == "" {
			continue
		}
		lowered := strings.ToLower(resp.Completion)
		hit := false
		for _, term := range n.terms {
			if strings.Contains(lowered, term) {
				hit = true
				break
			}
		}
		if hit {
			log.Debug().Int64("uid", resp.UID).Msg("completion masked by nsfw filter")
			continue
		}
		mask[i] = 1
	}

	return Result{
		Scores: mask,
		Events: map[string]any{NSFWFilterName: mask},
	}, nil
}

// RelevanceFilter masks completions that share almost no vocabulary
// with the reference text. It is a cheap lexical check, not a semantic
// one, so the threshold stays permissive.
type RelevanceFilter struct {
	threshold float64
}

func NewRelevanceFilter() *RelevanceFilter {
	return &RelevanceFilter{threshold: 0.05}
}

func (r *RelevanceFilter) Name() string { return RelevanceFilterName }
func (r *RelevanceFilter) Role() Role   { return RoleMasking }

func (r *RelevanceFilter) Apply(_ context.Context, reference string, responses []dendrite.Response, _ string) (Result, error) {
	mask := make([]float64, len(responses))
	refVec := hashedVector(tokenize(reference), relevanceVectorDim)

	for i, resp := range responses {
		if !resp.Success() || resp.Completion == "" {
			continue
		}
		completionVec := hashedVector(tokenize(resp.Completion), relevanceVectorDim)
		if cosineSimilarity(refVec, completionVec) < r.threshold {
			log.Debug().Int64("uid", resp.UID).Msg("completion masked as off-topic")
			continue
		}
		mask[i] = 1
	}

	return Result{
		Scores: mask,
		Events: map[string]any{RelevanceFilterName: mask},
	}, nil
}

// DiversityFilter masks near-duplicate completions within a batch. The
// first occurrence keeps its reward, later copies are zeroed.
type DiversityFilter struct {
	threshold float64
}

func NewDiversityFilter() *DiversityFilter {
	return &DiversityFilter{threshold: 0.95}
}

func (d *DiversityFilter) Name() string { return DiversityFilterName }
func (d *DiversityFilter) Role() Role   { return RoleMasking }

func (d *DiversityFilter) Apply(_ context.Context, _ string, responses []dendrite.Response, _ string) (Result, error) {
	mask := make([]float64, len(responses))
	vectors := make([][]float64, len(responses))
	for i, resp := range responses {
		if resp.Success() && resp.Completion != "" {
			vectors[i] = hashedVector(tokenize(resp.Completion), relevanceVectorDim)
		}
	}

	for i := range responses {
		if vectors[i] == nil {
			continue
		}
		duplicate := false
		for j := 0; j < i; j++ {
			if vectors[j] == nil {
				continue
			}
			if cosineSimilarity(vectors[i], vectors[j]) >= d.threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			log.Debug().
				Int64("uid", responses[i].UID).
				Msg("completion masked as duplicate of an earlier response")
			continue
		}
		mask[i] = 1
	}

	return Result{
		Scores: mask,
		Events: map[string]any{DiversityFilterName: mask},
	}, nil
}
