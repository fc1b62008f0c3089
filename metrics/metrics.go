package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_attempts_total",
			Help: "Total matchmaking attempts by terminal outcome",
		},
		[]string{"result"}, // Connected|<failure reason>
	)

	AttemptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matchmaker_attempt_duration_seconds",
			Help:    "Duration from join request to a terminal state",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_reservations_total",
			Help: "Player session reservations by result",
		},
		[]string{"result"}, // success|full|gone|error
	)

	AuthTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_auth_total",
			Help: "Server-side authentication handshakes by result",
		},
		[]string{"result"}, // accepted|rejected|timeout
	)

	AdmittedPlayers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "matchmaker_admitted_players",
			Help: "Players currently admitted on this game server",
		},
	)
)

func init() {
	prometheus.MustRegister(AttemptsTotal)
	prometheus.MustRegister(AttemptDuration)
	prometheus.MustRegister(ReservationsTotal)
	prometheus.MustRegister(AuthTotal)
	prometheus.MustRegister(AdmittedPlayers)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
