// Package report condenses a backend [transport.AnalysisReport] into
// per-word verdicts for display.
//
// Each ground-truth word gets a [Status] from its PER score. Mispronounced
// words whose predicted form sounds like the target (a shared Double Metaphone
// code and a Jaro-Winkler similarity of at least [NearMissThreshold]) are
// tagged [NearMiss] so the UI can be gentler about them.
package report

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/readalong/pkg/transport"
)

// Status is the verdict for one word.
type Status string

const (
	Correct       Status = "correct"
	NearMiss      Status = "near_miss"
	Mispronounced Status = "mispronounced"
	Missed        Status = "missed"
)

// PER bounds.
const (
	CorrectMaxPER = 0.2
	MissedMinPER  = 0.9
)

// NearMissThreshold is the minimum Jaro-Winkler score for a phonetic match.
const NearMissThreshold = 0.70

// Word is the verdict for one ground-truth word.
type Word struct {
	Text      string
	Predicted string
	PER       float64
	Status    Status
	ErrorType string
}

// Summary is the condensed report.
type Summary struct {
	Words []Word

	// Score is the share of words read correctly or as a near miss, in
	// [0, 1].
	Score float64
}

// Count returns how many words have status s.
func (s Summary) Count(st Status) int {
	n := 0
	for _, w := range s.Words {
		if w.Status == st {
			n++
		}
	}
	return n
}

// Summarize classifies every ground-truth word of r. Missing PER entries
// count as missed.
func Summarize(r transport.AnalysisReport) Summary {
	out := Summary{Words: make([]Word, 0, len(r.GroundTruthWords))}
	good := 0
	for i, gt := range r.GroundTruthWords {
		w := Word{Text: gt, PER: 1}
		if i < len(r.PER) {
			w.PER = r.PER[i]
		}
		if i < len(r.PredictedWords) {
			w.Predicted = r.PredictedWords[i]
		}
		if i < len(r.ErrorTypes) {
			w.ErrorType = r.ErrorTypes[i]
		}
		w.Status = classify(w)
		if w.Status == Correct || w.Status == NearMiss {
			good++
		}
		out.Words = append(out.Words, w)
	}
	if len(out.Words) > 0 {
		out.Score = float64(good) / float64(len(out.Words))
	}
	return out
}

func classify(w Word) Status {
	switch {
	case w.PER <= CorrectMaxPER:
		return Correct
	case w.PER >= MissedMinPER || strings.TrimSpace(w.Predicted) == "":
		return Missed
	case SoundsAlike(w.Text, w.Predicted):
		return NearMiss
	default:
		return Mispronounced
	}
}

// SoundsAlike reports whether a and b share a Double Metaphone code and are
// similar enough by Jaro-Winkler.
func SoundsAlike(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if !overlap(codes(a), codes(b)) {
		return false
	}
	return matchr.JaroWinkler(a, b, false) >= NearMissThreshold
}

func codes(s string) map[string]struct{} {
	set := make(map[string]struct{}, 2)
	p, alt := matchr.DoubleMetaphone(s)
	if p != "" {
		set[p] = struct{}{}
	}
	if alt != "" {
		set[alt] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) bool {
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
