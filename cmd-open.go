package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/blizzcasc/casc/container"
	"github.com/blizzcasc/casc/hexid"
	"github.com/blizzcasc/casc/telemetry"
)

var openTracer = telemetry.GetTracer("casc/cmd-open")

func newCmd_Open() *cli.Command {
	var outPath string
	var verbose bool
	return &cli.Command{
		Name:        "open",
		Usage:       "Open one file from an archive and write its decoded content to stdout or --out.",
		Description: "Open one file from an archive and write its decoded content to stdout or --out.",
		ArgsUsage:   "<archive-root> <key|hash|name>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write decoded content to this path instead of stdout",
				Destination: &outPath,
			},
			&cli.StringFlag{
				Name:  "by",
				Usage: "how to interpret the second argument: key, hash, or name",
				Value: "hash",
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Usage:       "dump the opened stream before writing content",
				Destination: &verbose,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("expected <archive-root> <key|hash|name>")
			}
			archiveRoot := c.Args().Get(0)
			ident := c.Args().Get(1)

			ctx, span := openTracer.Start(c.Context, "Container.New")
			cnt, err := container.New(archiveRoot, c.String("data-dir"))
			span.End()
			if err != nil {
				metrics_openErrorsByKind.WithLabelValues(c.String("by"), classifyErrorKind(err)).Inc()
				return fmt.Errorf("open container: %w", err)
			}
			defer cnt.Close()

			_, span = openTracer.Start(ctx, "openBy")
			start := time.Now()
			stream, err := openBy(cnt, c.String("by"), ident)
			span.End()
			metrics_openLatencySeconds.WithLabelValues(c.String("by")).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics_openErrorsByKind.WithLabelValues(c.String("by"), classifyErrorKind(err)).Inc()
				return err
			}
			metrics_opensByKind.WithLabelValues(c.String("by")).Inc()
			defer stream.Close()

			if verbose {
				klog.Infof("resolved stream: %s", spew.Sdump(stream))
			}
			klog.Infof("opened %s: %s", ident, humanize.Bytes(uint64(stream.Len())))

			out := io.Writer(os.Stdout)
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer f.Close()
				out = f
			}

			buf := make([]byte, stream.Len())
			if _, err := stream.ReadAt(buf, 0); err != nil {
				return fmt.Errorf("read content: %w", err)
			}
			_, err = out.Write(buf)
			return err
		},
	}
}

func classifyErrorKind(err error) string {
	return container.Classify(err).String()
}

func openBy(cnt *container.Container, by, ident string) (*container.Stream, error) {
	switch by {
	case "key":
		id, err := hexid.FromHex(ident)
		if err != nil {
			return nil, fmt.Errorf("parse key: %w", err)
		}
		return cnt.OpenByKey(id)
	case "hash":
		id, err := hexid.FromHex(ident)
		if err != nil {
			return nil, fmt.Errorf("parse hash: %w", err)
		}
		return cnt.OpenByHash(id)
	case "name":
		return cnt.OpenByName(ident)
	default:
		return nil, fmt.Errorf("unknown --by value %q: want key, hash, or name", by)
	}
}
