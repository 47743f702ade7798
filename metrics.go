package catnip

import "github.com/catnipstack/catnip/internal/metrics"

// Collector is the Prometheus-backed observer every LibOS instance
// feeds segment, ARP, and qtoken events to. Re-exported so callers
// never need to import internal/metrics directly, the same role the
// teacher's own Metrics/Observer/MetricsSnapshot triad played for a
// block device — rehomed here onto a real prometheus.Collector instead
// of a bespoke snapshot struct, since every non-teacher repo consulted
// for this stack exposes metrics that way.
type Collector = metrics.Collector

// Stats returns the collector backing this instance. Registering it
// with a prometheus.Registerer is the embedding application's job,
// mirroring the teacher's Device.Metrics(), which likewise handed back
// a snapshot rather than self-registering.
func (l *LibOS) Stats() *Collector { return l.metrics }
