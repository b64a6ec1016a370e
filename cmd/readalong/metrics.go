package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/readalong/internal/ui"
)

func newMetricsCmd(a *app) *cobra.Command {
	var (
		events bool
		reset  bool
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show how local phoneme extraction compares to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			led, _, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			if reset {
				if err := led.Reset(ctx); err != nil {
					return err
				}
				fmt.Println("Performance history cleared.")
				return nil
			}

			fmt.Println(ui.New(os.Stdout, ui.DefaultTheme).Metrics(led.Metrics()))
			if events {
				for _, ev := range led.Events() {
					status := "ok"
					if !ev.Success {
						status = "failed"
					}
					fmt.Printf("%s  %-10s %8.0f ms  %s\n", ev.At.Format(time.DateTime), ev.Kind, ev.DurationMs, status)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&events, "events", false, "also list the recent events")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear all recorded metrics")
	return cmd
}
