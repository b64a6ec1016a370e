package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/MrWong99/readalong/internal/apperr"
	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/orchestrator"
	"github.com/MrWong99/readalong/internal/recorder"
	"github.com/MrWong99/readalong/internal/ui"
	"github.com/MrWong99/readalong/internal/validate"
	"github.com/MrWong99/readalong/pkg/phoneme"
	"github.com/MrWong99/readalong/pkg/provider/vad"
)

const defaultSentence = "The cat sat on the mat."

func newPracticeCmd(a *app) *cobra.Command {
	var sentence string
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Interactive read-aloud practice on the default microphone",
		Long: `Shows a sentence, records you reading it and displays per-word feedback.

Press Enter to start recording. Recording stops on its own after a pause,
or press Enter again. Type q to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.practice(cmd.Context(), sentence, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&sentence, "sentence", "s", defaultSentence, "first sentence to read")
	return cmd
}

// console serialises writes from callback goroutines.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) println(s string) {
	if s == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, s)
}

func (a *app) practice(ctx context.Context, sentence string, in io.Reader, w io.Writer) error {
	out := &console{w: w}
	r := ui.New(w, ui.DefaultTheme)

	turnDone := make(chan struct{}, 1)
	fatal := make(chan *apperr.Error, 1)
	cb := orchestrator.Callbacks{
		OnStateChange: func(s orchestrator.Session) {
			if s.Phase != orchestrator.PhaseProcessing {
				out.println(r.Session(s))
			}
		},
		OnProcessingStart: func() { out.println("Checking your reading…") },
		OnProcessingEnd: func() {
			select {
			case turnDone <- struct{}{}:
			default:
			}
		},
		OnWarning:       func(wn validate.Warning) { out.println(r.Warning(wn)) },
		OnModelProgress: func(p float64) { out.println(r.Progress(p, 30)) },
		OnError: func(e *apperr.Error) {
			out.println(r.Error(e))
			if e.Fatal {
				select {
				case fatal <- e:
				default:
				}
			}
		},
	}

	c, err := a.newClient(ctx, cb)
	if err != nil {
		return err
	}
	if c.device == nil {
		return errors.New("practice needs a microphone")
	}
	engine, err := a.reg.CreateVAD(a.cfg.Recorder)
	if err != nil {
		return fmt.Errorf("create vad: %w", err)
	}

	if watcher, err := config.NewWatcher(a.configPath, a.applyConfig(c.orch)); err != nil {
		slog.Debug("config hot reload disabled", "err", err)
	} else {
		a.onClose(func() error { watcher.Stop(); return nil })
	}

	files := make(chan recorder.File, 1)
	rec := recorder.New(c.device, engine, func(f recorder.File) { files <- f },
		recorder.WithConfig(recorderConfig(a.cfg.Recorder)),
	)

	lines := readLines(ctx, in)
	a.offerLocalProcessing(ctx, c, out, lines)

	for {
		out.println(r.Sentence(sentence, nil))
		out.println("Press Enter to read, q to quit.")
		if l, ok := next(ctx, lines); !ok || l == "q" {
			return nil
		}

		if !rec.Start(ctx) {
			return errors.New("could not start recording")
		}
		out.println("Listening… press Enter when you are done.")

		var file recorder.File
		select {
		case file = <-files:
		case <-lines:
			rec.Stop()
			file = <-files
		case <-ctx.Done():
			rec.Stop()
			return nil
		}

		if err := c.orch.ProcessAudio(ctx, file.Upload(), sentence); err != nil {
			slog.Debug("turn not started", "err", err)
			continue
		}

		select {
		case <-turnDone:
		case e := <-fatal:
			return e
		case <-ctx.Done():
			return nil
		}

		if snap := c.orch.Snapshot(); len(snap.Options) > 0 {
			if !a.chooseOption(ctx, c.orch, out, lines, len(snap.Options)) {
				return nil
			}
		}
		if nextSentence := c.orch.DisplayNextSentence(); nextSentence != "" {
			sentence = nextSentence
		}
	}
}

// chooseOption asks for a story branch until a valid number is entered.
func (a *app) chooseOption(ctx context.Context, orch *orchestrator.Orchestrator, out *console, lines <-chan string, n int) bool {
	for {
		out.println(fmt.Sprintf("Choose 1-%d:", n))
		l, ok := next(ctx, lines)
		if !ok || l == "q" {
			return false
		}
		i, err := strconv.Atoi(l)
		if err == nil {
			if _, err = orch.ChooseOption(i - 1); err == nil {
				return true
			}
		}
		out.println("That is not one of the choices.")
	}
}

// offerLocalProcessing asks once whether to extract phonemes on this device,
// unless the user opted in already or asked not to be asked again.
func (a *app) offerLocalProcessing(ctx context.Context, c *client, out *console, lines <-chan string) {
	if c.extractor == nil || c.orch.LocalEnabled() || c.ledger.PromptDismissed(ctx) {
		return
	}
	if !phoneme.CheckRuntimeSupport() || !phoneme.CheckDeviceResources() {
		return
	}
	out.println("This computer can check your reading itself, which is often faster. Try it? [y/N/never]")
	l, ok := next(ctx, lines)
	if !ok {
		return
	}
	switch strings.ToLower(l) {
	case "y", "yes":
		c.orch.SetLocalEnabled(true)
	case "never":
		if err := c.ledger.SetPromptDismissed(ctx, true); err != nil {
			slog.Warn("could not save preference", "err", err)
		}
	}
}

// applyConfig returns the hot-reload callback. Log level and the local
// processing opt-in apply immediately; other changes are only logged.
func (a *app) applyConfig(orch *orchestrator.Orchestrator) func(config.ConfigDiff, *config.Config) {
	return func(d config.ConfigDiff, _ *config.Config) {
		if d.LogLevelChanged {
			a.level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.LocalChanged {
			orch.SetLocalEnabled(d.LocalEnabled)
			slog.Info("local processing changed", "enabled", d.LocalEnabled)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config change needs a restart", "sections", d.RestartRequired)
		}
	}
}

func recorderConfig(rc config.RecorderConfig) recorder.Config {
	threshold := rc.EnergyThreshold
	if rc.VAD == config.VADSilero {
		threshold = rc.SileroThreshold
	}
	return recorder.Config{
		SilenceTimeout: rc.SilenceTimeout,
		PollInterval:   rc.PollInterval,
		VAD:            vad.Config{SpeechThreshold: threshold},
	}
}

// readLines delivers trimmed input lines until in is exhausted or ctx ends.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func next(ctx context.Context, lines <-chan string) (string, bool) {
	select {
	case l, ok := <-lines:
		return l, ok
	case <-ctx.Done():
		return "", false
	}
}
