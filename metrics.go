// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the Library's collectors. They exist whether or not a
// registerer was configured, so recording never branches.
type metrics struct {
	open     *prometheus.GaugeVec
	created  *prometheus.CounterVec
	issued   *prometheus.CounterVec
	resolved *prometheus.CounterVec
	bytes    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qio",
			Name:      "queues_open",
			Help:      "Open queue descriptors by variant.",
		}, []string{"kind"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qio",
			Name:      "queues_created_total",
			Help:      "Queue descriptors created by variant.",
		}, []string{"kind"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qio",
			Name:      "tokens_issued_total",
			Help:      "Completion tokens issued by operation.",
		}, []string{"op"}),
		resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qio",
			Name:      "tokens_resolved_total",
			Help:      "Completion tokens resolved by operation and result.",
		}, []string{"op", "result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qio",
			Name:      "bytes_total",
			Help:      "Payload bytes moved by successful operations.",
		}, []string{"op"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.open, m.created, m.issued, m.resolved, m.bytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) queueOpened(k Kind) {
	m.created.WithLabelValues(k.String()).Inc()
	m.open.WithLabelValues(k.String()).Inc()
}

func (m *metrics) queueClosed(k Kind) {
	m.open.WithLabelValues(k.String()).Dec()
}

func (m *metrics) tokenIssued(op OpKind) {
	m.issued.WithLabelValues(op.String()).Inc()
}

func (m *metrics) tokenResolved(o Outcome) {
	m.resolved.WithLabelValues(o.Op.String(), resultLabel(o.Err)).Inc()
	if o.Err == nil && o.Bytes > 0 {
		m.bytes.WithLabelValues(o.Op.String()).Add(float64(o.Bytes))
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "failed"
	}
}
