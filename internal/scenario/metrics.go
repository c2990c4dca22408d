// Copyright 2025 The Tessera Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package scenario

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what a run did. The CLI registers these on the default
// registry; tests use a private one.
type Metrics struct {
	Commands    prometheus.Counter
	Blocks      prometheus.Counter
	Divergences prometheus.Counter
	Retries     prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera", Subsystem: "scenario", Name: "commands_total",
			Help: "Commands executed against nodes.",
		}),
		Blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera", Subsystem: "scenario", Name: "blocks_total",
			Help: "Blocks applied.",
		}),
		Divergences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera", Subsystem: "scenario", Name: "divergences_total",
			Help: "Divergences between model and node.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera", Subsystem: "scenario", Name: "retries_total",
			Help: "Whole-scenario reruns after infrastructure failures.",
		}),
	}
}

func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Commands, m.Blocks, m.Divergences, m.Retries} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
