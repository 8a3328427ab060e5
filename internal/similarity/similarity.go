// Package similarity provides the pure scoring functions used by entity
// resolution, deduplication, and opportunity clustering.
//
// Everything here is deterministic and side-effect free: given the same
// inputs the same scores come back, which is what makes the fuzzy-matching
// layers above it testable at their threshold boundaries.
package similarity

import (
	"math"
	"strings"
	"unicode"
)

// Composite score weights. Fixed constants, no learning.
const (
	weightString    = 0.35
	weightEmbedding = 0.5
	weightTypeMatch = 0.15

	// substringFloor is the minimum string similarity when one normalized
	// name contains the other.
	substringFloor = 0.9

	// jaroWinklerPrefixMax caps the common-prefix bonus length
	jaroWinklerPrefixMax = 4
	jaroWinklerScaling   = 0.1
)

// Breakdown is the result of scoring one candidate pair
type Breakdown struct {
	StringSimilarity    float64 `json:"string_similarity"`
	EmbeddingSimilarity float64 `json:"embedding_similarity"`
	TypeMatch           bool    `json:"type_match"`
	CompositeScore      float64 `json:"composite_score"`
}

// Options carries the optional inputs to Score
type Options struct {
	// EmbeddingSimilarity is the precomputed cosine similarity between the
	// two names' embeddings. Nil when no embeddings exist; the embedding
	// term then contributes 0 to the composite.
	EmbeddingSimilarity *float64

	// TypeMatch is true when both candidates carry the same entity type
	TypeMatch bool
}

// Score computes string similarity and the weighted composite score for a
// candidate pair. Both names are normalized before comparison.
func Score(nameA, nameB string, opts Options) Breakdown {
	str := StringSimilarity(nameA, nameB)

	var emb float64
	if opts.EmbeddingSimilarity != nil {
		emb = *opts.EmbeddingSimilarity
	}

	var typeTerm float64
	if opts.TypeMatch {
		typeTerm = 1
	}

	return Breakdown{
		StringSimilarity:    str,
		EmbeddingSimilarity: emb,
		TypeMatch:           opts.TypeMatch,
		CompositeScore:      weightString*str + weightEmbedding*emb + weightTypeMatch*typeTerm,
	}
}

// StringSimilarity computes the blended string similarity of two names:
// the average of normalized Levenshtein and Jaro-Winkler similarity,
// floored at 0.9 when either normalized name is a substring of the other.
func StringSimilarity(a, b string) float64 {
	na := Normalize(a)
	nb := Normalize(b)

	if na == "" || nb == "" {
		if na == nb {
			return 1
		}
		return 0
	}
	if na == nb {
		return 1
	}

	sim := (levenshteinSimilarity(na, nb) + JaroWinkler(na, nb)) / 2

	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		if sim < substringFloor {
			sim = substringFloor
		}
	}
	return sim
}

// Normalize lowercases, strips non-alphanumeric runes, and collapses
// whitespace so that "Contoso  Corp." and "contoso corp" compare equal.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// Punctuation separates tokens rather than concatenating them
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// levenshteinSimilarity is 1 - editDistance/maxLen over runes
func levenshteinSimilarity(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(ra, rb))/float64(maxLen)
}

// Levenshtein computes the edit distance between two rune slices using a
// two-row dynamic program.
func Levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// JaroWinkler computes Jaro-Winkler similarity with the standard prefix
// bonus for up to the first 4 matching characters.
func JaroWinkler(a, b string) float64 {
	jaro := Jaro(a, b)
	if jaro == 0 {
		return 0
	}

	prefix := 0
	ra := []rune(a)
	rb := []rune(b)
	for i := 0; i < len(ra) && i < len(rb) && i < jaroWinklerPrefixMax; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*jaroWinklerScaling*(1-jaro)
}

// Jaro computes the Jaro similarity of two strings
func Jaro(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	matchWindow := max2(len(ra), len(rb))/2 - 1
	if matchWindow < 0 {
		matchWindow = 0
	}

	aMatched := make([]bool, len(ra))
	bMatched := make([]bool, len(rb))

	matches := 0
	for i := range ra {
		lo := i - matchWindow
		if lo < 0 {
			lo = 0
		}
		hi := i + matchWindow + 1
		if hi > len(rb) {
			hi = len(rb)
		}
		for j := lo; j < hi; j++ {
			if bMatched[j] || ra[i] != rb[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	// Count transpositions among matched characters
	transpositions := 0
	j := 0
	for i := range ra {
		if !aMatched[i] {
			continue
		}
		for !bMatched[j] {
			j++
		}
		if ra[i] != rb[j] {
			transpositions++
		}
		j++
	}

	m := float64(matches)
	return (m/float64(len(ra)) + m/float64(len(rb)) + (m-float64(transpositions)/2)/m) / 3
}

// Dice computes the Sørensen–Dice bigram coefficient of two strings.
// Inputs are normalized first; single-rune strings only match exactly.
func Dice(a, b string) float64 {
	na := Normalize(a)
	nb := Normalize(b)
	if na == nb {
		return 1
	}

	ba := bigrams(na)
	bb := bigrams(nb)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}

	counts := make(map[string]int, len(ba))
	for _, g := range ba {
		counts[g]++
	}
	overlap := 0
	for _, g := range bb {
		if counts[g] > 0 {
			counts[g]--
			overlap++
		}
	}
	return 2 * float64(overlap) / float64(len(ba)+len(bb))
}

func bigrams(s string) []string {
	runes := []rune(s)
	if len(runes) < 2 {
		return nil
	}
	grams := make([]string, 0, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		grams = append(grams, string(runes[i:i+2]))
	}
	return grams
}

// Cosine computes cosine similarity of two vectors. Mismatched lengths or
// zero vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func max2(a, b int) int {
	if b > a {
		return b
	}
	return a
}
