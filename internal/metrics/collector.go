// Package metrics exposes the core's protocol counters through a
// Prometheus registry, the way every non-teacher repo in the example
// pack (aistore, tcp-info, conniver, sockstats) surfaces its stats.
// The underlying storage is still the teacher's atomic-counter style
// (metrics.go's Metrics struct); this package just rehomes it onto
// prometheus.Collector instead of a bespoke Snapshot-only API.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/catnipstack/catnip/internal/interfaces"
)

// Collector implements interfaces.Observer and prometheus.Collector at
// once: every ObserveX call updates an atomic counter, and Describe/
// Collect project those counters as Prometheus metric families on
// demand. This mirrors the teacher's Metrics (atomics) + Observer
// (call-site hooks) + MetricsSnapshot (point-in-time read) triad,
// merged into one type since Prometheus's pull model makes a separate
// snapshot step redundant.
type Collector struct {
	segmentsSent        atomic.Uint64
	segmentsRetransmit  atomic.Uint64
	segmentsDropped     atomic.Uint64
	bytesSent           atomic.Uint64
	arpResolveOK        atomic.Uint64
	arpResolveFail      atomic.Uint64
	arpLatencyNsTotal   atomic.Uint64
	qtokensCompletedOK  atomic.Uint64
	qtokensCompletedErr atomic.Uint64

	segmentsSentDesc       *prometheus.Desc
	segmentsRetransmitDesc *prometheus.Desc
	segmentsDroppedDesc    *prometheus.Desc
	bytesSentDesc          *prometheus.Desc
	arpResolveDesc         *prometheus.Desc
	qtokensCompletedDesc   *prometheus.Desc
}

// NewCollector creates a Collector. namespace is the Prometheus metric
// namespace prefix (e.g. "catnip").
func NewCollector(namespace string) *Collector {
	c := &Collector{
		segmentsSentDesc: prometheus.NewDesc(
			namespace+"_tcp_segments_sent_total", "TCP segments transmitted.", nil, nil),
		segmentsRetransmitDesc: prometheus.NewDesc(
			namespace+"_tcp_segments_retransmitted_total", "TCP segments retransmitted.", nil, nil),
		segmentsDroppedDesc: prometheus.NewDesc(
			namespace+"_segments_dropped_total", "Segments dropped on ingress, by reason.", []string{"reason"}, nil),
		bytesSentDesc: prometheus.NewDesc(
			namespace+"_tcp_bytes_sent_total", "TCP payload bytes transmitted.", nil, nil),
		arpResolveDesc: prometheus.NewDesc(
			namespace+"_arp_resolutions_total", "ARP resolutions, by outcome.", []string{"outcome"}, nil),
		qtokensCompletedDesc: prometheus.NewDesc(
			namespace+"_qtokens_completed_total", "Qtokens completed, by outcome.", []string{"outcome"}, nil),
	}
	return c
}

// --- interfaces.Observer ---

func (c *Collector) ObserveSegmentSent(bytes int, retransmit bool) {
	c.segmentsSent.Add(1)
	c.bytesSent.Add(uint64(bytes))
	if retransmit {
		c.segmentsRetransmit.Add(1)
	}
}

func (c *Collector) ObserveSegmentDropped(reason string) {
	c.segmentsDropped.Add(1)
	_ = reason // not recorded: Collect reports only the aggregate count, under the "aggregate" label
}

func (c *Collector) ObserveARPResolution(success bool, latencyNs int64) {
	if success {
		c.arpResolveOK.Add(1)
	} else {
		c.arpResolveFail.Add(1)
	}
	c.arpLatencyNsTotal.Add(uint64(latencyNs))
}

func (c *Collector) ObserveQtokenCompleted(op string, ok bool) {
	if ok {
		c.qtokensCompletedOK.Add(1)
	} else {
		c.qtokensCompletedErr.Add(1)
	}
	_ = op
}

// --- prometheus.Collector ---

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.segmentsSentDesc
	ch <- c.segmentsRetransmitDesc
	ch <- c.segmentsDroppedDesc
	ch <- c.bytesSentDesc
	ch <- c.arpResolveDesc
	ch <- c.qtokensCompletedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.segmentsSentDesc, prometheus.CounterValue, float64(c.segmentsSent.Load()))
	ch <- prometheus.MustNewConstMetric(c.segmentsRetransmitDesc, prometheus.CounterValue, float64(c.segmentsRetransmit.Load()))
	ch <- prometheus.MustNewConstMetric(c.segmentsDroppedDesc, prometheus.CounterValue, float64(c.segmentsDropped.Load()), "aggregate")
	ch <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, float64(c.bytesSent.Load()))
	ch <- prometheus.MustNewConstMetric(c.arpResolveDesc, prometheus.CounterValue, float64(c.arpResolveOK.Load()), "success")
	ch <- prometheus.MustNewConstMetric(c.arpResolveDesc, prometheus.CounterValue, float64(c.arpResolveFail.Load()), "failure")
	ch <- prometheus.MustNewConstMetric(c.qtokensCompletedDesc, prometheus.CounterValue, float64(c.qtokensCompletedOK.Load()), "ok")
	ch <- prometheus.MustNewConstMetric(c.qtokensCompletedDesc, prometheus.CounterValue, float64(c.qtokensCompletedErr.Load()), "error")
}

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ interfaces.Observer  = (*Collector)(nil)
)
