package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/blizzcasc/casc/container"
	"github.com/blizzcasc/casc/telemetry"
)

func newCmd_Info() *cli.Command {
	return &cli.Command{
		Name:        "info",
		Usage:       "Print a summary of an archive's build config, CDN config, index, and free space.",
		Description: "Print a summary of an archive's build config, CDN config, index, and free space.",
		ArgsUsage:   "<archive-root>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("expected <archive-root>")
			}
			var cnt *container.Container
			err := telemetry.TraceExecutionTime(c.Context, "Container.New", func() error {
				var err error
				cnt, err = container.New(c.Args().Get(0), c.String("data-dir"))
				return err
			})
			if err != nil {
				return fmt.Errorf("open container: %w", err)
			}
			defer cnt.Close()

			if uid, ok := cnt.BuildConfig().Get("build-uid"); ok {
				fmt.Printf("build-uid: %s\n", uid)
			}
			if ver, ok := cnt.BuildConfig().Get("build-product"); ok {
				fmt.Printf("build-product: %s\n", ver)
			}
			if archives, ok := cnt.CDNConfig().Values("archives"); ok {
				fmt.Printf("CDN archives: %d\n", len(archives))
			}

			fmt.Printf("index records: %d\n", cnt.Index().Len())

			var freeTotal uint64
			for _, ext := range cnt.FreeSpace() {
				freeTotal += uint64(ext.Size)
			}
			fmt.Printf("free space extents: %d (%s)\n", len(cnt.FreeSpace()), humanize.Bytes(freeTotal))

			return nil
		},
	}
}
