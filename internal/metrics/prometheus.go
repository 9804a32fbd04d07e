package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tc-validator/backend/pkg/circuitbreaker"
)

var (
	ValidationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tcv_validation_duration_seconds",
			Help:    "Validation pass duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	ValidationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcv_validation_total",
			Help: "Total number of validation passes",
		},
		[]string{"status"},
	)

	Completeness = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcv_completeness_percent",
			Help: "Completeness of the last validation pass",
		},
	)

	Accuracy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcv_accuracy_percent",
			Help: "Accuracy of the last validation pass",
		},
	)

	RequirementsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcv_requirements_classified_total",
			Help: "Requirements classified per outcome",
		},
		[]string{"outcome"},
	)

	EntailmentCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tcv_entailment_candidates",
			Help:    "Candidate pairs passed to the entailment stage per pass",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
	)

	EntailmentScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tcv_entailment_score",
			Help:    "Entailment probability of candidate pairs",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ModelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcv_model_calls_total",
			Help: "Calls to embedding, entailment and generation models",
		},
		[]string{"model", "kind", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcv_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcv_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcv_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	FeedbackAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tcv_feedback_attempts",
			Help:    "Validation passes per feedback run",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	FeedbackRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcv_feedback_runs_total",
			Help: "Feedback runs per outcome",
		},
		[]string{"outcome"},
	)

	TestCasesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcv_testcases_generated_total",
			Help: "Generated test cases per mode and group",
		},
		[]string{"mode", "group"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tcv_circuit_breaker_state",
			Help: "Provider circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

func Init() {
	prometheus.MustRegister(ValidationDuration)
	prometheus.MustRegister(ValidationTotal)
	prometheus.MustRegister(Completeness)
	prometheus.MustRegister(Accuracy)
	prometheus.MustRegister(RequirementsClassified)
	prometheus.MustRegister(EntailmentCandidates)
	prometheus.MustRegister(EntailmentScore)
	prometheus.MustRegister(ModelCalls)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(FeedbackAttempts)
	prometheus.MustRegister(FeedbackRuns)
	prometheus.MustRegister(TestCasesGenerated)
	prometheus.MustRegister(BreakerState)
}

// ObserveModelCall counts one provider call.
func ObserveModelCall(model, kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ModelCalls.WithLabelValues(model, kind, status).Inc()
}

// BreakerStateChanged is meant for circuitbreaker.Config.OnStateChange.
func BreakerStateChanged(name string, _ circuitbreaker.State, to circuitbreaker.State) {
	BreakerState.WithLabelValues(name).Set(float64(to))
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
