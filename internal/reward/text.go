package reward

import (
	"hash/fnv"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"
)

// relevanceVectorDim is the hashed vocabulary size shared by the
// relevance and diversity filters.
const relevanceVectorDim = 256

// tokenize lowercases text and splits it into words, dropping
// punctuation so "Paris." and "paris" count as the same token.
func tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)
	return strings.Fields(cleaned)
}

// ngrams returns the word n-grams of size n joined by single spaces.
func ngrams(tokens []string, n int) []string {
	if n <= 0 || len(tokens) < n {
		return nil
	}
	out := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+n], " "))
	}
	return out
}

// hashedVector folds tokens into a fixed-length count vector.
func hashedVector(tokens []string, dim int) []float64 {
	v := make([]float64, dim)
	for _, token := range tokens {
		h := fnv.New32a()
		h.Write([]byte(token))
		idx := int(h.Sum32()) % dim
		if idx < 0 {
			idx += dim
		}
		v[idx]++
	}
	return v
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	dotProduct := floats.Dot(a, b)
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (normA * normB)
}
