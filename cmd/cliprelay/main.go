package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"cliprelay/internal/app"
	"cliprelay/internal/capture"
	logx "cliprelay/pkg/logx"
)

func main() {
	var cfgPath, mode, dest string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.StringVar(&mode, "capture", "", "capture surface: console or stdin (default: console on a terminal)")
	flag.StringVar(&dest, "dest", "", "destination name or number for -capture=stdin (default: first)")
	flag.Parse()

	if err := run(cfgPath, mode, dest); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(cfgPath, mode, dest string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mode == "" {
		mode = "stdin"
		if fd := os.Stdin.Fd(); isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
			mode = "console"
		}
	}

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	log := a.Logger().With(logx.String("capture", mode))

	var (
		clip    capture.Clipboard
		destIdx int
	)
	switch mode {
	case "console":
		if clip, err = capture.NewSystemClipboard(); err != nil {
			return err
		}
	case "stdin":
		if destIdx, err = capture.ResolveDestination(a.Destinations(), dest); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown capture surface %q (want console or stdin)", mode)
	}

	if err := a.Start(ctx); err != nil {
		return err
	}

	// the surface also closes when the app hits a fatal error
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-sctx.Done():
		}
	}()

	reason := app.StopOperator
	var surfaceErr error
	switch mode {
	case "console":
		a.LogService().MuteConsole(true)
		surfaceErr = capture.RunConsole(sctx, capture.ConsoleConfig{
			Destinations: a.Destinations(),
			Clipboard:    clip,
			Producer:     a.Producer(),
			Status:       a.Status,
			LastWarning:  a.LogService().Tail().Last,
		}, log)
		a.LogService().MuteConsole(false)
	case "stdin":
		_, surfaceErr = capture.RunStdin(sctx, os.Stdin, a.Producer(), destIdx, log)
		reason = app.StopInputEOF
	}

	switch {
	case a.Err() != nil:
		reason = app.StopFatalError
	case ctx.Err() != nil:
		reason = app.StopSignal
		// a second signal kills the process
		stop()
	}

	finishErr := capture.Finish(ctx, a.Producer(), a.Loop().Done(), a.Settings().ShutdownTimeout, log)
	if finishErr != nil {
		log.Warn("shutdown flush incomplete", logx.Err(finishErr))
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	return errors.Join(surfaceErr, finishErr, a.Err())
}
