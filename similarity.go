package intake

import (
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// unitCosts weighs insertion, deletion and substitution equally, so the
// distance is the plain edit count.
var unitCosts = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// Similarity scores two strings in [0, 1] as
// 1 - levenshtein(a, b) / max(len(a), len(b)), counting runes.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}

	distance := levenshtein.DistanceForStrings(ra, rb, unitCosts)
	return 1 - float64(distance)/float64(longest)
}
