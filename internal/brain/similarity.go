package brain

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// shortTextWords is the token count at or below which word overlap becomes
// too coarse (a one-word typo flips Jaccard from 1.0 to ~0.33). For such
// texts a Jaro-Winkler near-equality check supplements the overlap score.
const shortTextWords = 3

// jaroWinklerDuplicate is the Jaro-Winkler score treated as near-equality
// for short texts.
const jaroWinklerDuplicate = 0.93

// Similarity scores how alike two normalised comment texts are, in [0,1].
//
// The primary metric is word-set Jaccard over whitespace tokens: equal
// strings short-circuit to 1.0, otherwise |A∩B| / |A∪B|. For texts of at
// most [shortTextWords] tokens each, a Jaro-Winkler score at or above
// [jaroWinklerDuplicate] also counts as 1.0, catching single-character
// variants of short stock phrases that token overlap misses.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0.0
	}

	jac := jaccard(wordsA, wordsB)

	if len(wordsA) <= shortTextWords && len(wordsB) <= shortTextWords {
		if matchr.JaroWinkler(a, b, false) >= jaroWinklerDuplicate {
			return 1.0
		}
	}

	return jac
}

// jaccard computes |A∩B| / |A∪B| over the two token lists as sets.
func jaccard(wordsA, wordsB []string) float64 {
	setA := make(map[string]struct{}, len(wordsA))
	for _, w := range wordsA {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(wordsB))
	for _, w := range wordsB {
		setB[w] = struct{}{}
	}

	overlap := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			overlap++
		}
	}

	union := len(setA) + len(setB) - overlap
	if union == 0 {
		return 0.0
	}
	return float64(overlap) / float64(union)
}
