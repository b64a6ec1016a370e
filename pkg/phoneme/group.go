package phoneme

import (
	"strings"
	"unicode/utf8"
)

// vowelRunes are the leading characters of vowel-like tokens in both IPA and
// ARPAbet output.
const vowelRunes = "aeiouyæɑɒɔəɚɛɜɝɪɨʊʌɐøœɯɤ"

// IsVowelLike reports whether tok starts with a vowel symbol.
func IsVowelLike(tok string) bool {
	r, _ := utf8.DecodeRuneInString(strings.ToLower(tok))
	return r != utf8.RuneError && strings.ContainsRune(vowelRunes, r)
}

// GroupWords splits a flat token stream into approximate words. Tokens are
// accumulated into the current word; a vowel-like token closes the word when
// the word already holds at least two tokens. Blank tokens and model
// delimiters such as "<pad>" or "|" are skipped. The result is a best-effort
// segmentation and may not match the true word count.
func GroupWords(tokens []string) [][]string {
	words := [][]string{}
	var cur []string
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if skipToken(tok) {
			continue
		}
		if IsVowelLike(tok) && len(cur) >= 2 {
			cur = append(cur, tok)
			words = append(words, cur)
			cur = nil
			continue
		}
		cur = append(cur, tok)
	}
	if len(cur) > 0 {
		words = append(words, cur)
	}
	return words
}

func skipToken(tok string) bool {
	if tok == "" || tok == "|" {
		return true
	}
	return strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">")
}
