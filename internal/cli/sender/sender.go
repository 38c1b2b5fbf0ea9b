// Package sender wires the send subcommand to the sender engine.
package sender

import (
	"context"
	"fmt"
	"os"

	"github.com/meshdrop/meshdrop/internal/config"
	"github.com/meshdrop/meshdrop/internal/logging"
	"github.com/meshdrop/meshdrop/internal/overlay"
	"github.com/meshdrop/meshdrop/internal/progress"
	"github.com/meshdrop/meshdrop/internal/transfer"
	"github.com/meshdrop/meshdrop/internal/warnlog"
)

// Run executes `meshdrop send`. Returns a process exit code.
func Run(args []string) int {
	cfg, err := config.ParseSend(args)
	if err != nil {
		return 2
	}
	if len(cfg.Paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: meshdrop send [flags] <path>...")
		return 2
	}
	for _, p := range cfg.Paths {
		if _, err := os.Stat(p); err != nil {
			fmt.Fprintf(os.Stderr, "error: cannot access %s: %v\n", p, err)
			return 1
		}
	}

	log := logging.New("meshdrop-send", cfg.LogLevel)
	s := transfer.NewSender(transfer.SenderOptions{
		Paths:      cfg.Paths,
		Excludes:   cfg.Excludes,
		SkipJunk:   !cfg.IncludeJunk,
		Pod:        cfg.Pod,
		Compress:   cfg.Compress,
		ListenAddr: cfg.ListenAddr,
		Logger:     log,
		Warnings:   warnlog.New("."),
		Overlay:    overlay.New(),
		Announce: func(endpoint, token string) {
			fmt.Printf("type into receiver: meshdrop receive %s:%s\n", endpoint, token)
			fmt.Print("Waiting for receiver to connect... ")
		},
		Progress: printProgress,
	})

	if err := s.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
		return 1
	}
	fmt.Println("\nTransfer complete!")
	return 0
}

func printProgress(s progress.Stats) {
	fmt.Printf("\rProgress: %.1f%% | Speed: %s | ETA: %s\033[K",
		s.Percent, progress.FormatSpeed(s.RateBps), progress.FormatETA(s.ETA))
}
