package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/blizzcasc/casc/telemetry"
)

var gitCommitSHA = ""

func main() {
	// set up a context that is canceled when a command is interrupted
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// set up a signal handler to cancel the context
	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		// Allow any further SIGTERM or SIGINT to kill process
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "casc",
		Version:     gitCommitSHA,
		Description: "CLI to open, verify and inspect Blizzard CASC archives.",
		Before: func(c *cli.Context) error {
			if !c.Bool("telemetry") {
				return nil
			}
			shutdown, err := telemetry.InitTelemetry(ctx, "casc")
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			go func() {
				<-ctx.Done()
				shutdown()
			}()
			return nil
		},
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "name of the archive's data subdirectory, relative to the archive root",
				EnvVars: []string{"CASC_DATA_DIR"},
				Value:   "Data",
			},
			&cli.BoolFlag{
				Name:    "telemetry",
				Usage:   "enable OpenTelemetry tracing around Container construction and opens",
				EnvVars: []string{"CASC_TELEMETRY"},
			},
		}, NewKlogFlagSet()...),
		Commands: []*cli.Command{
			newCmd_Open(),
			newCmd_Verify(),
			newCmd_Info(),
			newCmd_ServeMetrics(),
			newCmd_Version(),
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Fatal(err)
	}
}
