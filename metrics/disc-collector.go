// Package metrics implements the free-disk-space collector the CLI exposes
// next to the archive-wide counters/histograms defined in the root
// package's metrics.go.
package metrics

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/disk"
)

// DiscCollector reports the free, used, and total byte counts of the
// filesystem holding an archive's data directory, alongside §4.H's shmem
// free-space-extent total, so a dashboard can compare what CASC's own
// bookkeeping believes is free against what the OS actually reports for the
// same volume.
type DiscCollector struct {
	mu   sync.Mutex
	path string

	shmemFreeBytes func() int64

	totalDesc     *prometheus.Desc
	freeDesc      *prometheus.Desc
	usedDesc      *prometheus.Desc
	shmemFreeDesc *prometheus.Desc
	errorDesc     *prometheus.Desc
}

// NewDiscCollector returns a collector reporting filesystem usage for the
// volume holding dataDir. shmemFree, if non-nil, is called on every scrape
// to additionally report the archive's own free-space-extent total (see
// Container.FreeSpace); pass nil to omit that series.
func NewDiscCollector(dataDir string, shmemFree func() int64) *DiscCollector {
	return &DiscCollector{
		path:           dataDir,
		shmemFreeBytes: shmemFree,
		totalDesc: prometheus.NewDesc("casc_disc_total_bytes",
			"Total size of the filesystem holding the archive's data directory.",
			[]string{"path"}, nil),
		freeDesc: prometheus.NewDesc("casc_disc_free_bytes",
			"Free space on the filesystem holding the archive's data directory.",
			[]string{"path"}, nil),
		usedDesc: prometheus.NewDesc("casc_disc_used_bytes",
			"Used space on the filesystem holding the archive's data directory.",
			[]string{"path"}, nil),
		shmemFreeDesc: prometheus.NewDesc("casc_shmem_free_bytes",
			"Sum of free-space extents recorded in the archive's shmem snapshot.",
			[]string{"path"}, nil),
		errorDesc: prometheus.NewDesc("casc_disc_collector_error",
			"Indicates an error occurred while collecting disc usage.",
			nil, nil),
	}
}

func (c *DiscCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalDesc
	ch <- c.freeDesc
	ch <- c.usedDesc
	ch <- c.shmemFreeDesc
	ch <- c.errorDesc
}

func (c *DiscCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	abs, err := filepath.Abs(c.path)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.errorDesc, fmt.Errorf("disc collector: %w", err))
		return
	}

	usage, err := disk.Usage(abs)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.errorDesc, fmt.Errorf("disc collector: %w", err))
		return
	}

	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(usage.Total), c.path)
	ch <- prometheus.MustNewConstMetric(c.freeDesc, prometheus.GaugeValue, float64(usage.Free), c.path)
	ch <- prometheus.MustNewConstMetric(c.usedDesc, prometheus.GaugeValue, float64(usage.Used), c.path)

	if c.shmemFreeBytes != nil {
		ch <- prometheus.MustNewConstMetric(c.shmemFreeDesc, prometheus.GaugeValue, float64(c.shmemFreeBytes()), c.path)
	}
}
