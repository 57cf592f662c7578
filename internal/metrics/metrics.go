//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes inventory statistics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edgexfoundry/app-rfid-gen2-reader/internal/inventory"
	"edgexfoundry/app-rfid-gen2-reader/internal/pipeline"
	"edgexfoundry/app-rfid-gen2-reader/internal/reader"
)

const namespace = "gen2"

// Metrics holds the reader's collectors.
// Counters follow the observers; gauges follow the pipeline's Stats.
type Metrics struct {
	registry *prometheus.Registry

	Rounds    prometheus.Counter
	Slots     *prometheus.CounterVec
	EPCReads  prometheus.Counter
	EPCFails  prometheus.Counter
	TagEvents *prometheus.CounterVec
	Strength  prometheus.Histogram

	Q          prometheus.Gauge
	Running    prometheus.Gauge
	UniqueTags prometheus.Gauge
	Position   prometheus.Gauge
	NoiseFloor prometheus.Gauge
	Bursts     *prometheus.GaugeVec
	Commands   *prometheus.GaugeVec

	Published *prometheus.CounterVec
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a new registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "rounds_total",
			Help:      "Completed inventory rounds",
		}),
		Slots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "slots_total",
			Help:      "Inventory slots by outcome",
		}, []string{"outcome"}),
		EPCReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "epc_reads_total",
			Help:      "EPC replies received with a valid CRC",
		}),
		EPCFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "epc_failures_total",
			Help:      "Acknowledged slots without a valid EPC reply",
		}),
		TagEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "tag_events_total",
			Help:      "Inventory events by type",
		}, []string{"type"}),
		Strength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "reply_strength",
			Help:      "Amplitude of valid EPC replies",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 8),
		}),

		Q: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "q",
			Help:      "Q of the current inventory round",
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "running",
			Help:      "1 while the reader is conducting inventory",
		}),
		UniqueTags: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "unique_tags",
			Help:      "Tags in the inventory",
		}),
		Position: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "samples",
			Help:      "Samples received",
		}),
		NoiseFloor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "noise_floor",
			Help:      "Idle magnitude estimate of the gate",
		}),
		Bursts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "bursts",
			Help:      "Bursts seen by the gate and decoder, by result",
		}, []string{"result"}),
		Commands: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "commands",
			Help:      "Commands sent, by kind",
		}, []string{"command"}),

		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "messages_total",
			Help:      "Messages published, by subject and status",
		}, []string{"subject", "status"}),
	}

	for _, c := range []prometheus.Collector{
		m.Rounds, m.Slots, m.EPCReads, m.EPCFails, m.TagEvents, m.Strength,
		m.Q, m.Running, m.UniqueTags, m.Position, m.NoiseFloor, m.Bursts, m.Commands,
		m.Published,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register metric")
		}
	}

	return m, nil
}

// ObserveRound counts a completed round's slots.
func (m *Metrics) ObserveRound(rs reader.RoundSummary) {
	m.Rounds.Inc()
	m.Slots.WithLabelValues(reader.SlotEmpty.String()).Add(float64(rs.Empty))
	m.Slots.WithLabelValues(reader.SlotCollision.String()).Add(float64(rs.Collisions))
	m.Slots.WithLabelValues(reader.SlotSuccess.String()).Add(float64(rs.Successes))
	m.EPCReads.Add(float64(rs.EPCReads))
	m.EPCFails.Add(float64(rs.EPCFailures))
	m.Q.Set(float64(rs.NextQ))
}

// ObserveRead counts an inventory event.
func (m *Metrics) ObserveRead(e inventory.Event) {
	m.TagEvents.WithLabelValues(string(e.OfType())).Inc()
	m.Strength.Observe(e.Base().Strength)
}

// ObservePublish counts a publish attempt.
func (m *Metrics) ObservePublish(subject string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Published.WithLabelValues(subject, status).Inc()
}

// Update sets the gauges from a pipeline snapshot.
func (m *Metrics) Update(s pipeline.Stats) {
	m.Q.Set(float64(s.Reader.Q))
	m.Running.Set(boolGauge(s.Reader.Running))
	m.UniqueTags.Set(float64(s.Reader.UniqueTags))
	m.Position.Set(float64(s.Position))
	m.NoiseFloor.Set(s.Gate.NoiseFloor)

	m.Bursts.WithLabelValues("gated").Set(float64(s.Gate.Bursts))
	m.Bursts.WithLabelValues("rejected").Set(float64(s.Gate.Rejected))
	m.Bursts.WithLabelValues("oversize").Set(float64(s.Gate.Oversize))
	m.Bursts.WithLabelValues("no_preamble").Set(float64(s.Decoder.NoPreamble))
	m.Bursts.WithLabelValues("rn16_valid").Set(float64(s.Decoder.RN16Valid))
	m.Bursts.WithLabelValues("rn16_invalid").Set(float64(s.Decoder.RN16Invalid))
	m.Bursts.WithLabelValues("epc_valid").Set(float64(s.Decoder.EPCValid))
	m.Bursts.WithLabelValues("epc_invalid").Set(float64(s.Decoder.EPCInvalid))

	m.Commands.WithLabelValues("query").Set(float64(s.Reader.Queries))
	m.Commands.WithLabelValues("query_rep").Set(float64(s.Reader.QueryReps))
	m.Commands.WithLabelValues("query_adjust").Set(float64(s.Reader.QueryAdjusts))
	m.Commands.WithLabelValues("ack").Set(float64(s.Reader.Acks))
	m.Commands.WithLabelValues("nak").Set(float64(s.Reader.Naks))
	m.Commands.WithLabelValues("select").Set(float64(s.Reader.Selects))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Registry is where the collectors are registered.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
