// Package receiver wires the receive subcommand to the receiver engine.
package receiver

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

// Run executes `meshdrop receive`. Returns a process exit code.
func Run(args []string) int {
	cfg, err := config.ParseReceive(args)
	if err != nil {
		return 2
	}
	if cfg.ConnString == "" {
		fmt.Fprintln(os.Stderr, "usage: meshdrop receive [flags] <ip:token>")
		return 2
	}

	log := logging.New("meshdrop-receive", cfg.LogLevel)
	r := transfer.NewReceiver(transfer.ReceiverOptions{
		ConnString: cfg.ConnString,
		Pod:        cfg.Pod,
		Overwrite:  cfg.Overwrite,
		Resume:     cfg.Resume,
		Port:       cfg.Port,
		Logger:     log,
		Warnings:   warnlog.New("."),
		Overlay:    overlay.New(),
		Progress:   printProgress,
	})

	if err := r.Run(context.Background()); err != nil {
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
