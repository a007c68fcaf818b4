package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adroom_sweep_runs_total",
			Help: "Total number of background sweep passes",
		},
		[]string{"sweep", "result"},
	)

	sweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adroom_sweep_duration_seconds",
			Help:    "Background sweep pass latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"sweep"},
	)

	optimizationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adroom_optimization_actions_total",
			Help: "Optimization actions taken, by action name",
		},
		[]string{"action"},
	)

	adPlatformCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adroom_ad_platform_calls_total",
			Help: "Outbound ad platform calls, by operation and outcome",
		},
		[]string{"operation", "result"},
	)

	textGenCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adroom_textgen_calls_total",
			Help: "Generative text completions, by outcome",
		},
		[]string{"result"},
	)
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveSweep records one sweep pass.
func ObserveSweep(name string, started time.Time, err error) {
	sweepRuns.WithLabelValues(name, result(err)).Inc()
	sweepDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
}

func IncOptimizationAction(action string) {
	optimizationActions.WithLabelValues(action).Inc()
}

func ObserveAdPlatformCall(operation string, err error) {
	adPlatformCalls.WithLabelValues(operation, result(err)).Inc()
}

func ObserveTextGen(err error) {
	textGenCalls.WithLabelValues(result(err)).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
