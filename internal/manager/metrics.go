package manager

import "github.com/prometheus/client_golang/prometheus"

var loadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "llavad",
		Subsystem: "manager",
		Name:      "loads_total",
		Help:      "Engine loads by result",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(loadsTotal)
}
