// Command harvestctl drives a running harvester through its control API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.Command {
	control := func(action string) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			resp, err := clientFrom(cmd).control(ctx, action)
			if err != nil {
				return err
			}
			return printControl(out, resp)
		}
	}

	return &cli.Command{
		Name:  "harvestctl",
		Usage: "control a running harvester",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   "http://localhost:9000",
				Usage:   "base URL of the harvester control API",
				Sources: cli.EnvVars("HARVEST_ADDR"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 10 * time.Second,
				Usage: "request timeout",
			},
		},
		Commands: []*cli.Command{
			{Name: "start", Usage: "start a new harvest run", Action: control("start")},
			{Name: "pause", Usage: "pause the active run before its next item", Action: control("pause")},
			{Name: "resume", Usage: "resume a paused run", Action: control("resume")},
			{Name: "stop", Usage: "stop the active run after the item in flight", Action: control("stop")},
			{
				Name:  "status",
				Usage: "show run state and progress",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print the raw JSON response"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					st, raw, err := clientFrom(cmd).status(ctx)
					if err != nil {
						return err
					}
					if cmd.Bool("json") {
						_, err := fmt.Fprintln(out, string(raw))
						return err
					}
					return printStatus(out, st)
				},
			},
		},
	}
}

func clientFrom(cmd *cli.Command) *client {
	return newClient(cmd.String("addr"), cmd.Duration("timeout"))
}
