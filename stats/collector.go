package stats

import "github.com/prometheus/client_golang/prometheus"

// Source is anything that can report a Snapshot, typically the cache facade.
type Source interface {
	Stats() Snapshot
}

const namespace = "querycache"

// Collector exports a Source as Prometheus metrics. Values are read at
// scrape time, so the collector never drifts from Snapshot.
type Collector struct {
	src Source

	l1Hits             *prometheus.Desc
	l1Misses           *prometheus.Desc
	l2Hits             *prometheus.Desc
	l2Misses           *prometheus.Desc
	sets               *prometheus.Desc
	evictions          *prometheus.Desc
	invalidations      *prometheus.Desc
	remoteErrors       *prometheus.Desc
	broadcastsReceived *prometheus.Desc
	l1Entries          *prometheus.Desc
	remoteUp           *prometheus.Desc
}

// NewCollector creates a Collector reading from src.
func NewCollector(src Source) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		src:                src,
		l1Hits:             desc("l1_hits_total", "Lookups served from the in-process tier."),
		l1Misses:           desc("l1_misses_total", "Lookups not found in the in-process tier."),
		l2Hits:             desc("l2_hits_total", "Lookups served from the remote tier."),
		l2Misses:           desc("l2_misses_total", "Lookups not found in the remote tier."),
		sets:               desc("sets_total", "Values written to the cache."),
		evictions:          desc("evictions_total", "In-process entries evicted to stay within capacity."),
		invalidations:      desc("invalidations_total", "Invalidation calls."),
		remoteErrors:       desc("remote_errors_total", "Remote tier operations that failed."),
		broadcastsReceived: desc("broadcasts_received_total", "Invalidation broadcasts received from other instances."),
		l1Entries:          desc("l1_entries", "Entries currently held by the in-process tier."),
		remoteUp:           desc("remote_up", "Whether the remote tier is connected (1) or not (0)."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.l1Hits, c.l1Misses, c.l2Hits, c.l2Misses, c.sets, c.evictions,
		c.invalidations, c.remoteErrors, c.broadcastsReceived, c.l1Entries, c.remoteUp,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.l1Hits, s.L1Hits)
	counter(c.l1Misses, s.L1Misses)
	counter(c.l2Hits, s.L2Hits)
	counter(c.l2Misses, s.L2Misses)
	counter(c.sets, s.Sets)
	counter(c.evictions, s.Evictions)
	counter(c.invalidations, s.Invalidations)
	counter(c.remoteErrors, s.RemoteErrors)
	counter(c.broadcastsReceived, s.BroadcastsReceived)

	ch <- prometheus.MustNewConstMetric(c.l1Entries, prometheus.GaugeValue, float64(s.L1Size))
	up := 0.0
	if s.HasRemote {
		up = 1
	}
	ch <- prometheus.MustNewConstMetric(c.remoteUp, prometheus.GaugeValue, up)
}
