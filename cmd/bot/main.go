package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"versebot/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background())
		os.Exit(1)
	}
	// No-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	// SIGUSR1 runs the daily push now.
	push := make(chan os.Signal, 1)
	signal.Notify(push, syscall.SIGUSR1)
	defer signal.Stop(push)

wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-a.Done():
			break wait
		case <-push:
			go func() { _ = a.TriggerDaily() }()
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
