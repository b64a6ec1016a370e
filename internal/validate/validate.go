// Package validate sanity-checks locally extracted phonemes and words before
// they are sent, and the branching story options received back. Failures are
// never fatal to a practice turn: callers drop the offending data and carry
// on.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/MrWong99/readalong/pkg/transport"
)

// Bounds.
const (
	MaxWordLen    = 50
	MinCharsRatio = 0.3
	MaxCharsRatio = 3.0
	NoisyAvg      = 1.5
)

var (
	ErrNoPhonemes = errors.New("validate: no phonemes")
	ErrNoWords    = errors.New("validate: no words")
	ErrMisaligned = errors.New("validate: words and phonemes are misaligned")
)

var (
	vOnce sync.Once
	v     *validator.Validate
)

func instance() *validator.Validate {
	vOnce.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
	})
	return v
}

type phonemeSet struct {
	Words [][]string `validate:"required,min=1,dive,required,min=1,dive,required"`
}

type wordSet struct {
	Words []string `validate:"required,min=1,dive,required,max=50"`
}

type optionSet struct {
	Options []transport.StoryOption `validate:"dive"`
}

// Phonemes checks that there is at least one word and that no word or token
// is empty.
func Phonemes(phonemes [][]string) error {
	if len(phonemes) == 0 {
		return ErrNoPhonemes
	}
	return explain("phonemes", instance().Struct(phonemeSet{Words: phonemes}))
}

// Words checks that there is at least one word and that every word is
// non-empty and at most [MaxWordLen] characters.
func Words(words []string) error {
	if len(words) == 0 {
		return ErrNoWords
	}
	return explain("words", instance().Struct(wordSet{Words: words}))
}

// StoryOptions checks branching options received from the backend.
func StoryOptions(opts []transport.StoryOption) error {
	return explain("options", instance().Struct(optionSet{Options: opts}))
}

// Alignment checks that words and phonemes pair up one-to-one and that the
// letters-per-phoneme ratio is within [MinCharsRatio, MaxCharsRatio].
func Alignment(words []string, phonemes [][]string) error {
	if len(words) != len(phonemes) {
		return fmt.Errorf("%w: %d words, %d phoneme groups", ErrMisaligned, len(words), len(phonemes))
	}
	var chars, tokens int
	for i, w := range words {
		chars += utf8.RuneCountInString(w)
		tokens += len(phonemes[i])
	}
	if tokens == 0 {
		return fmt.Errorf("%w: no phoneme tokens", ErrMisaligned)
	}
	ratio := float64(chars) / float64(tokens)
	if ratio < MinCharsRatio || ratio > MaxCharsRatio {
		return fmt.Errorf("%w: %.2f characters per phoneme", ErrMisaligned, ratio)
	}
	return nil
}

// Extraction runs [Phonemes], [Words] and [Alignment] and joins their errors.
func Extraction(words []string, phonemes [][]string) error {
	errs := []error{Phonemes(phonemes), Words(words)}
	if errs[0] == nil && errs[1] == nil {
		errs = append(errs, Alignment(words, phonemes))
	}
	return errors.Join(errs...)
}

// Warning is an advisory classification of an extraction.
type Warning string

const (
	WarningNone   Warning = ""
	WarningSilent Warning = "silent"
	WarningNoisy  Warning = "noisy"
)

// Problematic flags extractions that look like silence (no words) or noise
// (fewer than [NoisyAvg] phonemes per word). It never rejects.
func Problematic(words []string, phonemes [][]string) Warning {
	if len(words) == 0 {
		return WarningSilent
	}
	var tokens int
	for _, p := range phonemes {
		tokens += len(p)
	}
	if float64(tokens)/float64(len(words)) < NoisyAvg {
		return WarningNoisy
	}
	return WarningNone
}

// Tokenize splits a sentence into lowercase words, dropping punctuation
// except inner apostrophes and hyphens.
func Tokenize(sentence string) []string {
	fields := strings.FieldsFunc(strings.ToLower(sentence), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '’' || r == '-')
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'’-")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// explain flattens validator errors into one joined error naming each bad
// element.
func explain(what string, err error) error {
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return fmt.Errorf("validate: %s: %w", what, err)
	}
	errs := make([]error, 0, len(ves))
	for _, fe := range ves {
		errs = append(errs, fmt.Errorf("validate: %s: %s failed %q", what, fe.Namespace(), fe.Tag()))
	}
	return errors.Join(errs...)
}
