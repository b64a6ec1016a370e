package report

import (
	"testing"

	"github.com/MrWong99/readalong/pkg/transport"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	r := transport.AnalysisReport{
		GroundTruthWords: []string{"the", "cat", "sat", "there", "elephant"},
		PredictedWords:   []string{"the", "cap", "", "their", "dog"},
		PER:              []float64{0, 0.5, 0.4, 0.5, 0.6},
	}
	s := Summarize(r)
	want := []Status{Correct, Mispronounced, Missed, NearMiss, Mispronounced}
	if len(s.Words) != len(want) {
		t.Fatalf("got %d words, want %d", len(s.Words), len(want))
	}
	for i, w := range s.Words {
		if w.Status != want[i] {
			t.Errorf("word %q status = %s, want %s", w.Text, w.Status, want[i])
		}
	}
	if s.Score != 0.4 {
		t.Errorf("Score = %v, want 0.4", s.Score)
	}
	if s.Count(Mispronounced) != 2 {
		t.Errorf("Count(mispronounced) = %d", s.Count(Mispronounced))
	}
}

func TestSummarize_AllCorrect(t *testing.T) {
	t.Parallel()

	s := Summarize(transport.AnalysisReport{
		GroundTruthWords: []string{"the", "cat", "sat"},
		PER:              []float64{0, 0, 0},
	})
	if s.Score != 1 || s.Count(Correct) != 3 {
		t.Errorf("summary = %+v", s)
	}
}

func TestSummarize_ShortPERIsMissed(t *testing.T) {
	t.Parallel()

	s := Summarize(transport.AnalysisReport{GroundTruthWords: []string{"a", "b"}, PER: []float64{0}})
	if s.Words[1].Status != Missed {
		t.Errorf("word without PER = %s, want missed", s.Words[1].Status)
	}
	if Summarize(transport.AnalysisReport{}).Score != 0 {
		t.Error("empty report should score 0")
	}
}

func TestSoundsAlike(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want bool
	}{
		{"there", "their", true},
		{"Knight", "night", true},
		{"cat", "dog", false},
		{"", "cat", false},
	}
	for _, tc := range tests {
		if got := SoundsAlike(tc.a, tc.b); got != tc.want {
			t.Errorf("SoundsAlike(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
