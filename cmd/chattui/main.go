package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/albumchat/internal/bus"
	"github.com/matheus3301/albumchat/internal/chat"
	"github.com/matheus3301/albumchat/internal/daemon"
	"github.com/matheus3301/albumchat/internal/lock"
	"github.com/matheus3301/albumchat/internal/profile"
	"github.com/matheus3301/albumchat/internal/tui"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var (
		sess   *chat.Session
		b      *bus.Bus
		logger *zap.Logger
	)
	app := fx.New(
		fx.NopLogger,
		daemon.Module(daemon.Params{Profile: name, Quiet: true}),
		fx.Populate(&sess, &b, &logger),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		var held *lock.LockHeldError
		if errors.As(err, &held) {
			fmt.Fprintf(os.Stderr, "profile %q is in use by PID %d (is chatd running?)\n", name, held.PID)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}

	runErr := tui.NewApp(sess, b, name, logger).Run()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
