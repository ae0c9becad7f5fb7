// Package promexport bridges the rcrowley/go-metrics gauges the indexer
// driver already maintains (internal/indexer's committedHeightGauge,
// retryCountGauge) onto a Prometheus registry served over --listen,
// following the teacher's cmd/kcn/main.go pattern of exporting its
// metrics.DefaultRegistry through prometheus/client_golang and promhttp,
// minus the klaytn-internal bridging package that pattern depended on.
package promexport

import (
	rcrowley "github.com/rcrowley/go-metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry builds a prometheus.Registry exposing every gauge currently
// registered in reg as a prometheus gauge with the same name, read live on
// each scrape. New gauges registered in reg after this call are not picked
// up; call Registry again if the gauge set changes.
func Registry(reg rcrowley.Registry) *prometheus.Registry {
	pr := prometheus.NewRegistry()
	reg.Each(func(name string, v interface{}) {
		g, ok := v.(rcrowley.Gauge)
		if !ok {
			return
		}
		pr.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: sanitizeName(name), Help: "ccdindexer " + name},
			func() float64 { return float64(g.Value()) },
		))
	})
	return pr
}

// sanitizeName replaces the "/" rcrowley/go-metrics names use with "_",
// since Prometheus metric names may not contain "/".
func sanitizeName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == '.' || name[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}
