// Package metrics provides Prometheus metrics collection for conduit.
//
// The Collector walks a context's stat list on every scrape and exports
// the standard per-channel counters. Counters accumulate in lock-free
// stat pages; a scrape that races a writer skips the busy block rather
// than blocking the hot path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/artpar/conduit/core/stat"
)

// Collector exports every stat block of a List as Prometheus counters.
type Collector struct {
	list *stat.List

	rx  *prometheus.Desc
	rxb *prometheus.Desc
	tx  *prometheus.Desc
	txb *prometheus.Desc
}

// New creates a collector over the given stat list.
func New(list *stat.List) *Collector {
	labels := []string{"channel"}
	return &Collector{
		list: list,
		rx: prometheus.NewDesc(
			"conduit_channel_rx_messages_total",
			"Messages received by the channel",
			labels, nil,
		),
		rxb: prometheus.NewDesc(
			"conduit_channel_rx_bytes_total",
			"Bytes received by the channel",
			labels, nil,
		),
		tx: prometheus.NewDesc(
			"conduit_channel_tx_messages_total",
			"Messages posted to the channel",
			labels, nil,
		),
		txb: prometheus.NewDesc(
			"conduit_channel_tx_bytes_total",
			"Bytes posted to the channel",
			labels, nil,
		),
	}
}

// Register attaches the collector to a Prometheus registerer.
func (c *Collector) Register(reg prometheus.Registerer) error {
	return reg.Register(c)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rx
	ch <- c.rxb
	ch <- c.tx
	ch <- c.txb
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.list.Each(func(b *stat.Block) {
		p := b.Acquire()
		if p == nil {
			// A writer holds the page; skip this block for this scrape.
			return
		}
		rx, rxb := p.RX, p.RXBytes
		tx, txb := p.TX, p.TXBytes
		b.Release(p)

		name := b.Name()
		ch <- prometheus.MustNewConstMetric(c.rx, prometheus.CounterValue, float64(rx), name)
		ch <- prometheus.MustNewConstMetric(c.rxb, prometheus.CounterValue, float64(rxb), name)
		ch <- prometheus.MustNewConstMetric(c.tx, prometheus.CounterValue, float64(tx), name)
		ch <- prometheus.MustNewConstMetric(c.txb, prometheus.CounterValue, float64(txb), name)
	})
}
