// Package ui renders practice sessions, reading reports and performance
// metrics for the terminal.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/readalong/internal/apperr"
	"github.com/MrWong99/readalong/internal/ledger"
	"github.com/MrWong99/readalong/internal/orchestrator"
	"github.com/MrWong99/readalong/internal/report"
	"github.com/MrWong99/readalong/internal/validate"
)

// Theme is the colour scheme.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
	Good    lipgloss.Color
	Warn    lipgloss.Color
	Bad     lipgloss.Color
}

// DefaultTheme is a calm blue theme with traffic-light word colours.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#5fafff"),
	Dim:     lipgloss.Color("#6e7681"),
	Good:    lipgloss.Color("#3fb950"),
	Warn:    lipgloss.Color("#d29922"),
	Bad:     lipgloss.Color("#f85149"),
}

// Styles holds the styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Help   lipgloss.Style
	Box    lipgloss.Style
	Words  map[report.Status]lipgloss.Style
	Error  lipgloss.Style
	Notice lipgloss.Style
}

// Renderer formats values for one output. Colour support is detected from
// the writer, so rendering to a buffer yields plain text.
type Renderer struct {
	s Styles
}

// New returns a Renderer for w using theme.
func New(w io.Writer, theme Theme) *Renderer {
	r := lipgloss.NewRenderer(w)
	word := func(c lipgloss.Color) lipgloss.Style { return r.NewStyle().Foreground(c) }
	return &Renderer{s: Styles{
		Title:  r.NewStyle().Bold(true).Foreground(theme.Primary),
		Label:  r.NewStyle().Bold(true),
		Help:   r.NewStyle().Foreground(theme.Dim),
		Box:    r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(theme.Primary).Padding(0, 1),
		Error:  r.NewStyle().Bold(true).Foreground(theme.Bad),
		Notice: r.NewStyle().Foreground(theme.Warn),
		Words: map[report.Status]lipgloss.Style{
			report.Correct:       word(theme.Good),
			report.NearMiss:      word(theme.Warn),
			report.Mispronounced: word(theme.Bad),
			report.Missed:        word(theme.Dim).Strikethrough(true),
		},
	}}
}

// Sentence renders the sentence to read, colouring words by the report when
// one is available.
func (r *Renderer) Sentence(sentence string, sum *report.Summary) string {
	if sum == nil || len(sum.Words) == 0 {
		return r.s.Title.Render(sentence)
	}
	parts := make([]string, 0, len(sum.Words))
	for _, w := range sum.Words {
		parts = append(parts, r.s.Words[w.Status].Render(w.Text))
	}
	return strings.Join(parts, " ")
}

// Summary renders the per-word verdicts and the score.
func (r *Renderer) Summary(sum report.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %.0f%%\n", r.s.Label.Render("Score:"), sum.Score*100)
	for _, w := range sum.Words {
		line := fmt.Sprintf("  %-14s %-13s", w.Text, w.Status)
		if w.Predicted != "" && w.Status != report.Correct {
			line += r.s.Help.Render(" heard " + w.Predicted)
		}
		b.WriteString(r.s.Words[w.Status].Render(line))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Session renders the whole turn inside a box.
func (r *Renderer) Session(s orchestrator.Session) string {
	var lines []string
	status := string(s.Phase)
	if s.Local {
		status += ", local phonemes"
	}
	lines = append(lines, r.s.Title.Render("Read aloud")+" "+r.s.Help.Render("["+status+"]"), "")

	var sum *report.Summary
	if s.Highlight && s.Report != nil {
		v := report.Summarize(*s.Report)
		sum = &v
	}
	lines = append(lines, r.Sentence(s.Sentence, sum))
	if sum != nil {
		lines = append(lines, "", r.Summary(*sum))
	}
	if s.FeedbackText != "" {
		lines = append(lines, "", r.s.Label.Render("Feedback: ")+s.FeedbackText)
	}
	if s.NextSentence != "" {
		lines = append(lines, r.s.Label.Render("Next: ")+s.NextSentence)
	}
	for i, o := range s.Options {
		label := o.Text
		if o.Icon != "" {
			label = o.Icon + " " + label
		}
		lines = append(lines, fmt.Sprintf("  %d) %s", i+1, label))
	}
	if s.Err != nil {
		lines = append(lines, "", r.Error(s.Err))
	}
	return r.s.Box.Render(strings.Join(lines, "\n"))
}

// Error renders a classified error with its suggested action.
func (r *Renderer) Error(e *apperr.Error) string {
	if e == nil {
		return ""
	}
	out := r.s.Error.Render(e.Title)
	if e.Action != "" {
		out += "\n" + r.s.Help.Render(e.Action)
	}
	if e.Fatal {
		out += "\n" + r.s.Error.Render("Please restart the session.")
	}
	return out
}

// Warning renders an advisory audio-quality warning, or "" for none.
func (r *Renderer) Warning(w validate.Warning) string {
	switch w {
	case validate.WarningSilent:
		return r.s.Notice.Render("We could not hear any words. Try speaking closer to the microphone.")
	case validate.WarningNoisy:
		return r.s.Notice.Render("The recording sounds noisy. Try a quieter spot.")
	}
	return ""
}

// Progress renders a model download/load progress bar of the given width.
func (r *Renderer) Progress(percent float64, width int) string {
	percent = max(0, min(100, percent))
	filled := int(percent / 100 * float64(width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("%s %s %3.0f%%", r.s.Label.Render("Model"), bar, percent)
}

// Metrics renders the performance ledger.
func (r *Renderer) Metrics(m ledger.Metrics) string {
	rows := [][2]string{
		{"Local extractions", fmt.Sprintf("%d (%d ok, %d failed)", m.ClientExtractionsAttempted, m.ClientExtractionsSucceeded, m.ClientExtractionsFailed)},
		{"Avg local", fmt.Sprintf("%.0f ms", m.AvgClientMs)},
		{"Server extractions", fmt.Sprintf("%d", m.ServerExtractions)},
		{"Avg server", fmt.Sprintf("%.0f ms", m.AvgServerMs)},
		{"Time saved", fmt.Sprintf("%.1f s", m.TimeSavedMs/1000)},
		{"Last model load", fmt.Sprintf("%.0f ms", m.LastModelLoadMs)},
		{"Audio processed", fmt.Sprintf("%.1f s", m.TotalAudioSeconds)},
	}
	lines := []string{r.s.Title.Render("Performance")}
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("%s %s", r.s.Label.Render(fmt.Sprintf("%-19s", row[0]+":")), row[1]))
	}
	return r.s.Box.Render(strings.Join(lines, "\n"))
}
