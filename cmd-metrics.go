package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/blizzcasc/casc/container"
	"github.com/blizzcasc/casc/index"
	"github.com/blizzcasc/casc/metrics"
	"github.com/blizzcasc/casc/telemetry"
)

// newCmd_ServeMetrics opens an archive, registers its disc-usage and
// index-bucket gauges alongside the process-wide counters from metrics.go,
// and serves them on listenOn until interrupted.
func newCmd_ServeMetrics() *cli.Command {
	var listenOn string
	return &cli.Command{
		Name:        "serve-metrics",
		Usage:       "Serve Prometheus metrics for an archive: /metrics on --listen.",
		Description: "Serve Prometheus metrics for an archive: /metrics on --listen.",
		ArgsUsage:   "<archive-root>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "listen",
				Usage:       "address to serve /metrics on",
				Value:       ":9195",
				Destination: &listenOn,
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("expected <archive-root>")
			}
			archiveRoot := c.Args().Get(0)

			cnt, err := container.New(archiveRoot, c.String("data-dir"))
			if err != nil {
				return fmt.Errorf("open container: %w", err)
			}
			defer cnt.Close()

			disc := metrics.NewDiscCollector(filepath.Join(archiveRoot, c.String("data-dir")), func() int64 {
				var total int64
				for _, ext := range cnt.FreeSpace() {
					total += ext.Size
				}
				return total
			})
			if err := prometheus.Register(disc); err != nil {
				return fmt.Errorf("register disc collector: %w", err)
			}

			refreshIndexGauge(c.Context, cnt)
			go func() {
				ticker := time.NewTicker(30 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-c.Context.Done():
						return
					case <-ticker.C:
						refreshIndexGauge(c.Context, cnt)
					}
				}
			}()

			http.Handle("/metrics", promhttp.Handler())
			klog.Infof("serving metrics on %s", listenOn)

			srv := &http.Server{Addr: listenOn}
			go func() {
				<-c.Context.Done()
				srv.Close()
			}()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func refreshIndexGauge(ctx context.Context, cnt *container.Container) {
	_, _, done := telemetry.TraceFunctionExecution(ctx, "refreshIndexGauge")
	defer done()

	for bucket := 0; bucket < index.NumBuckets; bucket++ {
		n := cnt.Index().BucketLen(bucket)
		metrics_indexRecordsLoaded.WithLabelValues(strconv.Itoa(bucket)).Set(float64(n))
	}
}
