// Package metrics exposes pipeline counters to Prometheus scrapes on the
// daemon's loopback HTTP server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline provides the live readings the collector reports. Every
// function must be safe to call from the scrape goroutine.
type Pipeline struct {
	PacketsCaptured func() uint64
	CaptureDrops    func() uint64
	RingDrops       func() uint64
	RingFill        func() float32
	Clients         func() int
	FramesSent      func() uint64
}

// Collector owns a private registry so test daemons do not collide on the
// default one. ActiveFlows is pushed by the frame callback; everything
// else is sampled at scrape time.
type Collector struct {
	registry *prometheus.Registry

	ActiveFlows prometheus.Gauge
}

// New registers the instrument set for one daemon instance.
func New(p Pipeline) *Collector {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "abyss_packets_captured_total",
			Help: "Packets read from the capture source.",
		}, func() float64 { return float64(p.PacketsCaptured()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "abyss_capture_drops_total",
			Help: "Packets the kernel dropped before the daemon saw them.",
		}, func() float64 { return float64(p.CaptureDrops()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "abyss_ring_drops_total",
			Help: "Records overwritten in the packet ring before consumption.",
		}, func() float64 { return float64(p.RingDrops()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "abyss_ring_fill_ratio",
			Help: "Packet ring occupancy between 0 and 1.",
		}, func() float64 { return float64(p.RingFill()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "abyss_websocket_clients",
			Help: "Connected telemetry subscribers.",
		}, func() float64 { return float64(p.Clients()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "abyss_frames_sent_total",
			Help: "Telemetry frames broadcast to subscribers.",
		}, func() float64 { return float64(p.FramesSent()) }),
	)

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "abyss_active_flows",
		Help: "Flows currently tracked by the aggregator.",
	})
	registry.MustRegister(active)

	return &Collector{registry: registry, ActiveFlows: active}
}

// Handler returns the scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
