// Package stats tracks rfm network statistics.
//
// A Collector keeps the per-server NetworkStat totals (response, download and
// upload time and volume) answered by the STATS command, and mirrors them
// into Prometheus collectors registered on a private registry. Handler
// exposes that registry over HTTP at /metrics.
//
//	c := stats.NewCollector()
//	c.ObserveUpload(n, elapsed)
//	snapshot := c.Snapshot() // protocol.Stats for a STATS response
package stats
