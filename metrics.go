package debate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	debatesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "debate_debates_started_total",
			Help: "Total number of debates started",
		},
	)

	debatesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debate_debates_finished_total",
			Help: "Total number of finished debates by outcome",
		},
		[]string{"outcome"},
	)

	activeDebates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "debate_active_debates",
			Help: "Number of debates currently running",
		},
	)

	advisorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debate_advisor_requests_total",
			Help: "Total number of LLM advisor requests",
		},
		[]string{"advisor", "status"},
	)

	advisorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "debate_advisor_request_duration_seconds",
			Help:    "LLM advisor request duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 90},
		},
		[]string{"advisor"},
	)
)

func observeAdvisorCall(advisor string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	advisorRequests.WithLabelValues(advisor, status).Inc()
	advisorDuration.WithLabelValues(advisor).Observe(d.Seconds())
}
