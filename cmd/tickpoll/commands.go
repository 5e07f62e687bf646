package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"tickpoll/internal/app"
	"tickpoll/internal/config"
	"tickpoll/internal/storage"
	"tickpoll/pkg/clock"
	logx "tickpoll/pkg/logx"
)

const stopTimeout = 10 * time.Second

var version = "dev"

func newCLI() *cli.App {
	a := cli.NewApp()
	a.Name = "tickpoll"
	a.Usage = "fire named periodic events from one cooperative poll loop"
	a.UsageText = "tickpoll [--config FILE] <command> [arguments...]"
	a.Version = version
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  "./tickpoll.yaml",
			Usage:  "path to the JSON or YAML config file",
			EnvVar: "TICKPOLL_CONFIG",
		},
	}
	a.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the poll loop until SIGINT/SIGTERM",
			Action: runCmd,
		},
		{
			Name:   "plan",
			Usage:  "print the derived minimum, polling interval and windows",
			Action: planCmd,
		},
		{
			Name:    "history",
			Aliases: []string{"h"},
			Usage:   "show recorded fires (needs storage)",
			Action:  historyCmd,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "period, p", Usage: "only this period"},
				cli.IntFlag{Name: "limit, n", Value: 20, Usage: "number of entries"},
			},
		},
	}
	return a
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.NewConfigManager(c.GlobalString("config")).Load()
}

func runCmd(c *cli.Context) error {
	a, err := app.NewApp(c.GlobalString("config"))
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func planCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	p, err := app.Plan(cfg, clock.Real(), logx.Nop())
	if err != nil {
		return err
	}
	snap := p.Snapshot()
	derivation := "exact"
	if !snap.Exact {
		derivation = "fallback"
	}
	w := c.App.Writer
	fmt.Fprint(w, p.String())
	fmt.Fprintf(w, "derivation: %s\n", derivation)
	return nil
}

func historyCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := app.OpenHistory(cfg, logx.Nop())
	if errors.Is(err, storage.ErrDisabled) {
		return errors.New("storage is not configured; add a storage section to the config")
	}
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.LastFires(context.Background(), c.String("period"), c.Int("limit"))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.App.Writer, "tickpoll: no fires recorded")
		return nil
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tPERIOD\tEVERY\tDELAY\tACTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.At.Format(time.RFC3339Nano), e.Name, e.Period, e.Delay, e.Action)
	}
	return tw.Flush()
}
