package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/readalong/internal/ui"
	"github.com/MrWong99/readalong/pkg/phoneme/whisper"
)

func newModelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the on-device phoneme model",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "download",
		Short: "Download the phoneme model into the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pc := a.cfg.Phoneme
			if pc.ModelPath != "" {
				fmt.Println("phoneme.model_path is set; nothing to download:", pc.ModelPath)
				return nil
			}
			loader, err := whisper.NewLoader(
				whisper.WithModelURL(pc.ModelURL),
				whisper.WithCacheDir(pc.CacheDir),
			)
			if err != nil {
				return err
			}
			r := ui.New(os.Stdout, ui.DefaultTheme)
			last := -1
			path, err := loader.Fetch(cmd.Context(), func(p float64) {
				if int(p)/10 != last {
					last = int(p) / 10
					fmt.Println(r.Progress(p, 30))
				}
			})
			if err != nil {
				return err
			}
			fmt.Println("Model ready:", path)
			return nil
		},
	})
	return cmd
}
