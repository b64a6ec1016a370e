package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/readalong/internal/apperr"
	"github.com/MrWong99/readalong/internal/orchestrator"
	"github.com/MrWong99/readalong/internal/recorder"
	"github.com/MrWong99/readalong/internal/ui"
	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/transport"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		sentence string
		local    bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Analyse one WAV recording of a sentence",
		Example: `  readalong analyze reading.wav -s "The cat sat on the mat."
  readalong analyze reading.wav -s "The cat sat." --local`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("local") {
				a.cfg.Phoneme.Enabled = local
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return a.analyze(ctx, args[0], sentence, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&sentence, "sentence", "s", "", "the sentence that was read (required)")
	cmd.Flags().BoolVar(&local, "local", false, "extract phonemes on this device")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "give up after this long")
	_ = cmd.MarkFlagRequired("sentence")
	return cmd
}

func (a *app) analyze(ctx context.Context, path, sentence string, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := audio.WAVDuration(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	r := ui.New(w, ui.DefaultTheme)
	done := make(chan struct{}, 1)
	var turnErr *apperr.Error
	cb := orchestrator.Callbacks{
		OnProcessingEnd: func() {
			select {
			case done <- struct{}{}:
			default:
			}
		},
		OnError: func(e *apperr.Error) { turnErr = e },
	}

	c, err := a.newClient(ctx, cb)
	if err != nil {
		return err
	}
	file := transport.File{Name: filepath.Base(path), ContentType: recorder.ContentTypeWAV, Data: data}
	if err := c.orch.ProcessAudio(ctx, file, sentence); err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	snap := c.orch.Snapshot()
	fmt.Fprintln(w, r.Session(snap))
	if turnErr != nil {
		return errors.New(turnErr.Title)
	}
	return nil
}
