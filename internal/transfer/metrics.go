package transfer

import "github.com/prometheus/client_golang/prometheus"

var (
	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llavad",
			Subsystem: "transfer",
			Name:      "downloads_total",
			Help:      "Completed model downloads by outcome",
		},
		[]string{"outcome"},
	)

	downloadBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "llavad",
			Subsystem: "transfer",
			Name:      "bytes",
			Help:      "Bytes written by the running download",
		},
	)
)

func init() {
	prometheus.MustRegister(downloadsTotal, downloadBytes)
}
