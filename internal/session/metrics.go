package session

import "github.com/prometheus/client_golang/prometheus"

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llavad",
			Subsystem: "session",
			Name:      "turns_total",
			Help:      "Finished turns by outcome",
		},
		[]string{"outcome"},
	)

	reloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "llavad",
			Subsystem: "session",
			Name:      "reloads_total",
			Help:      "Engine reloads requested by the session",
		},
	)

	phaseGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "llavad",
			Subsystem: "session",
			Name:      "phase",
			Help:      "1 for the current session phase, 0 otherwise",
		},
		[]string{"phase"},
	)
)

func init() {
	prometheus.MustRegister(turnsTotal, reloadsTotal, phaseGauge)
}

func observePhase(p Phase) {
	for i := range phaseNames {
		v := 0.0
		if Phase(i) == p {
			v = 1
		}
		phaseGauge.WithLabelValues(phaseNames[i]).Set(v)
	}
}
