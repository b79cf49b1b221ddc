package resolver

import (
	"strings"
	"unicode"
)

// Normalize folds s into a comparison key: lower case, only letters, digits
// and combining marks, words separated by a single space, no leading or
// trailing space. Punctuation is dropped without splitting the word it sits
// in, so "AC/DC" becomes "acdc". Normalize is idempotent.
func Normalize(s string) string {
	return fold(s, false)
}

// comparisonKey is Normalize with punctuation treated as a word break, so
// "Song-Live" and "Song (Live)" both expose "live" as a word.
func comparisonKey(s string) string {
	return fold(s, true)
}

func fold(s string, punctBreaks bool) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSpace = true
		default:
			if punctBreaks {
				pendingSpace = true
			}
		}
	}
	return b.String()
}

// containsPhrase reports whether phrase occurs anywhere in key, so "remix"
// also matches "remixed" and "lyric" matches "lyrics". Both arguments must
// already be folded.
func containsPhrase(key, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(key, phrase)
}

// matchesLoosely is the album track test: either key contains the other.
func matchesLoosely(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}
