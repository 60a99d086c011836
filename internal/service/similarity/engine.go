package similarity

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/gradehub/submission-service/internal/models"
)

// ComputationError reports an internal fault while building the
// vector-space model. The engine is otherwise total on its domain:
// empty or degenerate texts score 0, they do not error.
type ComputationError struct {
	Err error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("similarity computation failed: %v", e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// Score compares the target text against each peer text and returns the
// overall score together with one comparison per peer, in the order the
// peers were given.
//
// The TF-IDF model is built fresh over {target} ∪ corpus on every call,
// so results depend only on the arguments and concurrent calls share no
// state. Similarity is cosine in [0,1] scaled to [0,100]; the overall
// score is the maximum pairwise similarity, i.e. the worst-case
// single-source overlap.
func Score(target string, corpus []models.PeerText) (float64, []models.Comparison, error) {
	if len(corpus) == 0 {
		return 0.0, nil, nil
	}

	docs := make([][]string, 0, len(corpus)+1)
	docs = append(docs, tokenize(target))
	for _, peer := range corpus {
		docs = append(docs, tokenize(peer.Text))
	}

	vectors, err := buildModel(docs)
	if err != nil {
		return 0, nil, &ComputationError{Err: err}
	}

	overall := 0.0
	comparisons := make([]models.Comparison, 0, len(corpus))
	for i, peer := range corpus {
		score := cosine(vectors[0], vectors[i+1]) * 100
		if score > overall {
			overall = score
		}
		comparisons = append(comparisons, models.Comparison{
			SubmissionID:    peer.SubmissionID,
			SimilarityScore: score,
		})
	}

	return overall, comparisons, nil
}

// buildModel converts tokenized documents into L2-normalized TF-IDF
// vectors. IDF is smoothed (ln((1+n)/(1+df))+1) so a term present in
// every document still carries weight and identical documents compare
// at exactly 1.
func buildModel(docs [][]string) ([]map[string]float64, error) {
	df := make(map[string]int)
	counts := make([]map[string]int, len(docs))

	for i, tokens := range docs {
		counts[i] = make(map[string]int, len(tokens))
		for _, tok := range tokens {
			counts[i][tok]++
		}
		for term := range counts[i] {
			df[term]++
		}
	}

	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for term, freq := range df {
		idf[term] = math.Log((1+n)/(1+float64(freq))) + 1
	}

	vectors := make([]map[string]float64, len(docs))
	for i, tf := range counts {
		vec := make(map[string]float64, len(tf))
		var norm float64
		for term, count := range tf {
			w := float64(count) * idf[term]
			vec[term] = w
			norm += w * w
		}
		norm = math.Sqrt(norm)
		if math.IsNaN(norm) || math.IsInf(norm, 0) {
			return nil, fmt.Errorf("non-finite vector norm for document %d", i)
		}
		if norm > 0 {
			for term := range vec {
				vec[term] /= norm
			}
		}
		vectors[i] = vec
	}

	return vectors, nil
}

func cosine(a, b map[string]float64) float64 {
	// Both vectors are unit length, the dot product is the cosine.
	if len(b) < len(a) {
		a, b = b, a
	}

	var dot float64
	for term, wa := range a {
		if wb, ok := b[term]; ok {
			dot += wa * wb
		}
	}

	// Защита от накопленной ошибки округления.
	if dot > 1 {
		dot = 1
	}
	if dot < 0 {
		dot = 0
	}
	return dot
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping
// single-rune tokens the way the weighting model's token pattern does.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
