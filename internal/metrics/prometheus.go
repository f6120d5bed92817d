package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prefopt_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"query_type"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefopt_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	ModelSelections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefopt_model_selections_total",
			Help: "Total times each model was selected for a query",
		},
		[]string{"model"},
	)

	ModelWeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prefopt_model_weight",
			Help: "Current routing weight per model",
		},
		[]string{"model"},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefopt_feedback_total",
			Help: "Total feedback events collected",
		},
		[]string{"scored"},
	)

	FeedbackScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prefopt_feedback_score",
			Help:    "Distribution of feedback scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prefopt_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefopt_llm_tokens_used_total",
			Help: "Total LLM tokens used",
		},
		[]string{"model"},
	)

	LLMCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prefopt_llm_cache_hits_total",
			Help: "Total generation calls served from cache",
		},
	)

	DiscussionRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prefopt_discussion_rounds_total",
			Help: "Total discussion rounds executed",
		},
	)

	DiscussionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefopt_discussion_total",
			Help: "Total group discussions conducted",
		},
		[]string{"status"},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(ModelSelections)
	prometheus.MustRegister(ModelWeight)
	prometheus.MustRegister(FeedbackTotal)
	prometheus.MustRegister(FeedbackScore)
	prometheus.MustRegister(LLMRequestDuration)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(LLMCacheHits)
	prometheus.MustRegister(DiscussionRounds)
	prometheus.MustRegister(DiscussionTotal)
}

func ObserveLLMRequest(model string, elapsed time.Duration, tokens int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	LLMRequestDuration.WithLabelValues(model, status).Observe(elapsed.Seconds())
	if tokens > 0 {
		LLMTokensUsed.WithLabelValues(model).Add(float64(tokens))
	}
}

func RecordLLMCacheHit() {
	LLMCacheHits.Inc()
}

func RecordDiscussionRound() {
	DiscussionRounds.Inc()
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
