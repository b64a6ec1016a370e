// Command readalong is the terminal client of the reading tutor. It records
// the child reading a sentence aloud, sends the utterance for analysis and
// shows per-word feedback.
//
// Usage:
//
//	readalong [--config path] <command>
//
// Commands:
//
//	practice        interactive practice loop on the default microphone
//	analyze <file>  analyse one WAV recording
//	metrics         print the local-vs-server performance ledger
//	model download  fetch the on-device phoneme model
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// version is set at link time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = errors.Join(err, a.close(shutdownCtx))
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "readalong:", err)
		os.Exit(1)
	}
}
