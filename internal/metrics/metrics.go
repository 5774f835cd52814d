// Package metrics holds the Prometheus collectors for one process. Collectors live on
// their own registry so tests and embedded uses never touch the global default.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mondai"

// Metrics is a registry plus the collectors the pipeline records into.
// All methods are safe on a nil *Metrics and do nothing.
type Metrics struct {
	Registry *prometheus.Registry

	chunksIngested     *prometheus.CounterVec
	generationAttempts *prometheus.CounterVec
	questionsGenerated *prometheus.CounterVec
	triage             *prometheus.CounterVec
	qualityScore       prometheus.Histogram
	llmCalls           *prometheus.CounterVec
	llmTokens          *prometheus.CounterVec
	retrievalDuration  *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New creates a registry with Go and process collectors and the pipeline metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		chunksIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_ingested_total",
			Help:      "Chunks written to a vector store collection.",
		}, []string{"collection"}),
		generationAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Generator calls by mode and result (accepted, failed).",
		}, []string{"mode", "result"}),
		questionsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_generated_total",
			Help:      "Questions accepted into generation output.",
		}, []string{"mode", "difficulty"}),
		triage: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_triage_total",
			Help:      "Validated questions by triage action.",
		}, []string{"action"}),
		qualityScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_quality_score",
			Help:      "Quality score of validated questions.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		llmCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Chat model calls by operation and status.",
		}, []string{"operation", "status"}),
		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by the chat model.",
		}, []string{"kind"}),
		retrievalDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval latency by backend (index, store).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ChunksIngested(collection string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunksIngested.WithLabelValues(collection).Add(float64(n))
}

func (m *Metrics) GenerationAttempt(mode string, ok bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !ok {
		result = "failed"
	}
	m.generationAttempts.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) QuestionsGenerated(mode, difficulty string, n int) {
	if m == nil || n <= 0 {
		return
	}
	if difficulty == "" {
		difficulty = "any"
	}
	m.questionsGenerated.WithLabelValues(mode, difficulty).Add(float64(n))
}

// Validated records one validated question.
func (m *Metrics) Validated(action string, quality float64) {
	if m == nil {
		return
	}
	m.triage.WithLabelValues(action).Inc()
	m.qualityScore.Observe(quality)
}

func (m *Metrics) LLMCall(operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.llmCalls.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) LLMTokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.llmTokens.WithLabelValues("prompt").Add(float64(prompt))
	m.llmTokens.WithLabelValues("completion").Add(float64(completion))
}

func (m *Metrics) ObserveRetrieval(backend string, since time.Time) {
	if m == nil {
		return
	}
	m.retrievalDuration.WithLabelValues(backend).Observe(time.Since(since).Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int, since time.Time) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, httpStatus(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(time.Since(since).Seconds())
}

func httpStatus(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	return strconv.Itoa(code)
}
