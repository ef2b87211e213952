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

	"tagdesk/internal/alert"
	"tagdesk/internal/app"
	"tagdesk/internal/config"
)

const usage = `usage: tagdesk [flags] <command> [args]

commands:
  run                                   poll task status until interrupted
  status                                poll once and print tasks with status
  tasks list
  tasks add -tag T -type TYPE -time HH:MM|CRON -message TEXT
  tasks update -id ID [-tag T] [-type TYPE] [-time HH:MM|CRON] [-message TEXT]
  tasks delete -id ID
  types                                 list schedule types
  broadcast [-tag T] -message TEXT
  tags list | add TAG | remove TAG
  friends merge|set -tag T NAME... | remove -tag T
  replies list | set TAG=REPLY...
  settings show | set [-enable] [-prefix P] [-allow-add] [-allow-remove]
                      [-allow-view] [-allow-list] [-admins A,B]
  config export [-o FILE] | import FILE
  audit [-n N]

flags:
`

func main() {
	var (
		cfgPath string
		envPath string
		actor   string
	)
	flag.StringVar(&cfgPath, "config", "./tagdesk.yaml", "path to config (json or yaml)")
	flag.StringVar(&envPath, "env", ".env", "dotenv file with TAGDESK_* overrides")
	flag.StringVar(&actor, "actor", os.Getenv("USER"), "name recorded in the audit log")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadDotenv(envPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, app.WithAlertSink(alert.WriterSink{W: os.Stdout}), app.WithActor(actor))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	err = dispatch(ctx, a, flag.Args())
	reason := app.StopCommand
	if errors.Is(err, context.Canceled) {
		reason, err = app.StopSignal, nil
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if serr := a.Stop(stopCtx, reason); serr != nil {
		fmt.Fprintln(os.Stderr, "stop:", serr)
	}

	var ue usageError
	switch {
	case errors.As(err, &ue):
		fmt.Fprintln(os.Stderr, ue)
		flag.Usage()
		os.Exit(2)
	case err != nil:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run starts the background loops and blocks until ctx ends or the
// supervisor fails.
func run(ctx context.Context, a *app.App) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-a.Done()
	if err := a.Err(); err != nil {
		return err
	}
	return ctx.Err()
}
