package kws

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
)

// MatchOption is a functional option for configuring a [Matcher].
type MatchOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a keyword
// whose Double Metaphone codes overlap the heard words. Default: 0.80.
func WithPhoneticThreshold(threshold float64) MatchOption {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when there is no
// phonetic overlap (always the case for CJK text). Default: 0.90.
func WithFuzzyThreshold(threshold float64) MatchOption {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher finds keyword phrases in recognised text. It is read-only after
// construction and safe for concurrent use.
//
// Matching runs in three stages and the first hit wins:
//
//  1. Exact containment after normalisation (case folded, punctuation and
//     whitespace removed), score 1.
//  2. Phonetic: word n-grams of the transcript with the keyword's word count
//     are compared by Double Metaphone code overlap, then ranked by
//     Jaro-Winkler on the original strings.
//  3. Fuzzy: rune windows of the normalised transcript with the keyword's
//     length are ranked by Jaro-Winkler alone. This is the path for
//     unsegmented scripts such as Chinese.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a [Matcher] configured with opts.
func NewMatcher(opts ...MatchOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the keyword found in transcript with its score. When
// several keywords qualify the highest score wins; ties keep list order.
func (m *Matcher) Match(transcript string, keywords []string) (keyword string, score float64, ok bool) {
	flat := normalize(transcript)
	if flat == "" || len(keywords) == 0 {
		return "", 0, false
	}

	for _, kw := range keywords {
		if nk := normalize(kw); nk != "" && strings.Contains(flat, nk) {
			return kw, 1, true
		}
	}

	words := strings.Fields(strings.ToLower(stripPunct(transcript)))
	var best struct {
		keyword  string
		score    float64
		phonetic bool
	}
	for _, kw := range keywords {
		kwWords := strings.Fields(strings.ToLower(stripPunct(kw)))
		if len(kwWords) == 0 {
			continue
		}
		kwCodes := codesForTokens(kwWords)

		for _, gram := range ngrams(words, len(kwWords)) {
			if len(kwCodes) == 0 || !codesOverlap(codesForTokens(gram), kwCodes) {
				continue
			}
			s := bestJWScore(gram, kwWords)
			if s >= m.phoneticThreshold && (!best.phonetic || s > best.score) {
				best.keyword, best.score, best.phonetic = kw, s, true
			}
		}
		if best.phonetic {
			continue
		}

		nk := normalize(kw)
		for _, win := range runeWindows(flat, utf8.RuneCountInString(nk)) {
			s := matchr.JaroWinkler(win, nk, false)
			if s >= m.fuzzyThreshold && s > best.score {
				best.keyword, best.score = kw, s
			}
		}
	}

	if best.keyword == "" {
		return "", 0, false
	}
	return best.keyword, best.score, true
}

// normalize folds case and drops everything that is not a letter or digit.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// stripPunct replaces punctuation and symbols with spaces so that word
// boundaries survive.
func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
}

// ngrams returns every run of n consecutive words. When there are fewer
// than n words the whole slice is the only gram.
func ngrams(words []string, n int) [][]string {
	if len(words) == 0 {
		return nil
	}
	if len(words) <= n {
		return [][]string{words}
	}
	out := make([][]string, 0, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		out = append(out, words[i:i+n])
	}
	return out
}

// runeWindows returns every substring of s that is n runes long, or s itself
// when it is shorter.
func runeWindows(s string, n int) []string {
	rs := []rune(s)
	if n <= 0 {
		return nil
	}
	if len(rs) <= n {
		return []string{s}
	}
	out := make([]string, 0, len(rs)-n+1)
	for i := 0; i+n <= len(rs); i++ {
		out = append(out, string(rs[i:i+n]))
	}
	return out
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore returns the better of the Jaro-Winkler similarity of the full
// phrases and of their space-stripped forms.
func bestJWScore(heard, keyword []string) float64 {
	score := matchr.JaroWinkler(strings.Join(heard, " "), strings.Join(keyword, " "), false)
	if len(heard) > 1 || len(keyword) > 1 {
		if s := matchr.JaroWinkler(strings.Join(heard, ""), strings.Join(keyword, ""), false); s > score {
			score = s
		}
	}
	return score
}
