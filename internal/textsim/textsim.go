package textsim

import (
	"strings"
	"unicode"

	"github.com/go-dedup/simhash"
)

// prefilterMaxDistance is the simhash hamming distance beyond which two texts
// cannot plausibly reach even the flag-only similarity threshold. The cutoff
// is deliberately loose: a skipped comparison keeps both sentences, and a
// wrongly kept near-duplicate is recoverable in review while a wrongly
// dropped sentence is not.
const prefilterMaxDistance = 32

// Tokens returns the comparison tokens for a transcript: lowercased, with
// punctuation stripped and whitespace collapsed. Token order is preserved.
func Tokens(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return ' '
		}
	}, text)
	return strings.Fields(cleaned)
}

// Score returns the token-overlap (Sørensen–Dice) similarity of two
// transcripts in [0, 1]. Comparison is case and whitespace insensitive.
func Score(a, b string) float64 {
	return scoreTokens(Tokens(a), Tokens(b))
}

func scoreTokens(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	counts := make(map[string]int, len(a))
	for _, tok := range a {
		counts[tok]++
	}
	shared := 0
	for _, tok := range b {
		if counts[tok] > 0 {
			counts[tok]--
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

// Fingerprint computes a 64-bit simhash over the normalized tokens, used as a
// cheap prefilter before the exact overlap score.
func Fingerprint(text string) uint64 {
	sh := simhash.NewSimhash()
	return sh.GetSimhash(tokenFeatureSet{tokens: Tokens(text)})
}

// HammingDistance counts the differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		count++
		x &= x - 1
	}
	return count
}

// ScoreFiltered returns the overlap score of the two texts, short-circuiting
// to 0 when their fingerprints are too far apart to matter. Fingerprints must
// have been produced by Fingerprint for the corresponding text.
func ScoreFiltered(aText string, aFingerprint uint64, bText string, bFingerprint uint64) float64 {
	if HammingDistance(aFingerprint, bFingerprint) > prefilterMaxDistance {
		return 0
	}
	return Score(aText, bText)
}

// tokenFeatureSet feeds normalized tokens plus token bigrams to the simhash
// so short utterances still produce distinguishable fingerprints.
type tokenFeatureSet struct {
	tokens []string
}

func (t tokenFeatureSet) GetFeatures() []simhash.Feature {
	features := make([]simhash.Feature, 0, len(t.tokens)*2)
	for _, tok := range t.tokens {
		features = append(features, simhash.NewFeature([]byte(tok)))
	}
	for i := 0; i+1 < len(t.tokens); i++ {
		features = append(features, simhash.NewFeature([]byte(t.tokens[i]+" "+t.tokens[i+1])))
	}
	return features
}
