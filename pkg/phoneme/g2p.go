package phoneme

import (
	"strings"
	"unicode"
)

// digraphs are matched before single letters, longest first.
var digraphs = []struct{ spell, ipa string }{
	{"tch", "tʃ"},
	{"igh", "aɪ"},
	{"th", "θ"},
	{"sh", "ʃ"},
	{"ch", "tʃ"},
	{"ng", "ŋ"},
	{"ph", "f"},
	{"ck", "k"},
	{"wh", "w"},
	{"qu", "kw"},
	{"ee", "i"},
	{"ea", "i"},
	{"oo", "u"},
	{"ou", "aʊ"},
	{"ow", "aʊ"},
	{"ai", "eɪ"},
	{"ay", "eɪ"},
	{"oa", "oʊ"},
	{"oi", "ɔɪ"},
	{"oy", "ɔɪ"},
	{"ar", "ɑr"},
	{"er", "ɚ"},
	{"ir", "ɚ"},
	{"ur", "ɚ"},
}

var letters = map[rune]string{
	'a': "æ", 'e': "ɛ", 'i': "ɪ", 'o': "ɑ", 'u': "ʌ",
	'c': "k", 'q': "k", 'j': "dʒ", 'y': "j",
	'b': "b", 'd': "d", 'f': "f", 'g': "g", 'h': "h", 'k': "k", 'l': "l",
	'm': "m", 'n': "n", 'p': "p", 'r': "r", 's': "s", 't': "t", 'v': "v",
	'w': "w", 'z': "z",
}

// ToPhonemes converts English text into an approximate flat IPA token stream
// using spelling rules. It is a rough letter-to-sound pass for models that
// emit text rather than phonemes; word boundaries are not marked.
func ToPhonemes(text string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}) {
		out = append(out, wordPhonemes(w)...)
	}
	return out
}

func wordPhonemes(w string) []string {
	w = strings.ReplaceAll(w, "'", "")
	// Silent final e ("make", "ride").
	if len(w) > 2 && strings.HasSuffix(w, "e") && !isVowelLetter(rune(w[len(w)-2])) {
		w = w[:len(w)-1]
	}

	var toks []string
	rs := []rune(w)
	for i := 0; i < len(rs); {
		if d, n := matchDigraph(rs[i:]); n > 0 {
			toks = append(toks, d)
			i += n
			continue
		}
		r := rs[i]
		// Doubled consonants sound once.
		if i > 0 && rs[i-1] == r && !isVowelLetter(r) {
			i++
			continue
		}
		switch {
		case r == 'x':
			toks = append(toks, "k", "s")
		case r == 'y' && i == len(rs)-1 && i > 0:
			toks = append(toks, "i")
		default:
			if p, ok := letters[r]; ok {
				toks = append(toks, p)
			}
		}
		i++
	}
	return toks
}

func matchDigraph(rs []rune) (string, int) {
	for _, d := range digraphs {
		n := len([]rune(d.spell))
		if len(rs) >= n && string(rs[:n]) == d.spell {
			return d.ipa, n
		}
	}
	return "", 0
}

func isVowelLetter(r rune) bool {
	return strings.ContainsRune("aeiou", r)
}
