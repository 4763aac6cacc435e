package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// JobStats provides the collector access to job store state.
type JobStats interface {
	Counts() map[string]int
}

// SubscriberStats reports live SSE subscribers.
type SubscriberStats interface {
	SubscriberCount() int
}

// ModelStats reports which capabilities are loaded.
type ModelStats interface {
	LoadedCapabilities() map[string]bool
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	jobs   JobStats
	subs   SubscriberStats
	models ModelStats

	jobsByStatus   *prometheus.Desc
	sseSubscribers *prometheus.Desc
	modelLoaded    *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Any source may be nil; its gauges are then omitted.
func NewCollector(jobs JobStats, subs SubscriberStats, models ModelStats) *Collector {
	return &Collector{
		jobs:   jobs,
		subs:   subs,
		models: models,
		jobsByStatus: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "jobs"),
			"Jobs currently retained, by status.",
			[]string{"status"}, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
		modelLoaded: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "model_loaded"),
			"Whether a capability is loaded (1) or not (0).",
			[]string{"capability"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsByStatus
	ch <- c.sseSubscribers
	ch <- c.modelLoaded
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.jobs != nil {
		for status, n := range c.jobs.Counts() {
			ch <- prometheus.MustNewConstMetric(c.jobsByStatus, prometheus.GaugeValue, float64(n), status)
		}
	}
	if c.subs != nil {
		ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, float64(c.subs.SubscriberCount()))
	}
	if c.models != nil {
		for capName, loaded := range c.models.LoadedCapabilities() {
			v := 0.0
			if loaded {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.modelLoaded, prometheus.GaugeValue, v, capName)
		}
	}
}
