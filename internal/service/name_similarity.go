package service

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Tokens that only say what kind of entity a company is.
var legalSuffixes = map[string]struct{}{
	"ltd": {}, "limited": {}, "llc": {}, "llp": {}, "lp": {}, "inc": {}, "incorporated": {},
	"corp": {}, "corporation": {}, "co": {}, "company": {}, "plc": {}, "pty": {}, "gmbh": {},
	"ag": {}, "kg": {}, "sa": {}, "sarl": {}, "srl": {}, "spa": {}, "bv": {}, "nv": {}, "oy": {}, "ab": {},
	"ооо": {}, "оао": {}, "зао": {}, "пао": {}, "ао": {}, "ип": {},
}

func normalizeName(s string) []string {
	// accents are stripped so "Café" and "Cafe" compare equal
	stripAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripAccents, s)
	if err != nil {
		folded = s
	}
	folded = cases.Fold().String(folded)

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if _, ok := legalSuffixes[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// NameSimilarity scores two company names in [0, 1]. Names that normalize
// to the same tokens score 1; otherwise the score averages token overlap
// and character trigram overlap (both Dice coefficients).
func NameSimilarity(a, b string) float64 {
	ta, tb := normalizeName(a), normalizeName(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	ja, jb := strings.Join(ta, " "), strings.Join(tb, " ")
	if ja == jb {
		return 1
	}
	return (dice(toSet(ta), toSet(tb)) + dice(trigrams(ja), trigrams(jb))) / 2
}

// BestSimilarity is the highest NameSimilarity between name and any of
// candidates.
func BestSimilarity(name string, candidates []string) float64 {
	best := 0.0
	for _, c := range candidates {
		if s := NameSimilarity(name, c); s > best {
			best = s
		}
	}
	return best
}

// CleanName collapses whitespace; it is used to name auto-created tenants.
func CleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func trigrams(s string) map[string]struct{} {
	r := []rune(" " + s + " ")
	set := make(map[string]struct{})
	for i := 0; i+3 <= len(r); i++ {
		set[string(r[i:i+3])] = struct{}{}
	}
	return set
}

func dice(a, b map[string]struct{}) float64 {
	if len(a)+len(b) == 0 {
		return 0
	}
	shared := 0
	for k := range a {
		if _, ok := b[k]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}
