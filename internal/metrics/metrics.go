// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package metrics defines the Prometheus instruments of the companion
// worker. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "companion"

// Metrics groups every instrument
type Metrics struct {
	memoriesStored   *prometheus.CounterVec
	emotionsRecorded *prometheus.CounterVec
	embedFailures    prometheus.Counter
	storeLatency     *prometheus.HistogramVec
	llmRequests      *prometheus.CounterVec
	llmLatency       prometheus.Histogram
	promptChars      prometheus.Histogram
	semanticHits     prometheus.Histogram
	messagesHandled  *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the instruments with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		memoriesStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_stored_total",
			Help:      "Memory records persisted, by type",
		}, []string{"memory_type"}),
		emotionsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emotions_recorded_total",
			Help:      "Emotion records persisted, by label",
		}, []string{"emotion"}),
		embedFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_failures_total",
			Help:      "Memories whose embedding projection could not be stored",
		}),
		storeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_latency_seconds",
			Help:      "Memory store operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Chat completion calls, by outcome",
		}, []string{"outcome"}),
		llmLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Chat completion latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		promptChars: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_chars",
			Help:      "Size of the assembled prompt in characters",
			Buckets:   prometheus.ExponentialBuckets(500, 2, 8),
		}),
		semanticHits: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "semantic_hits",
			Help:      "Semantic memories rendered per prompt",
			Buckets:   []float64{0, 1, 2, 4, 8},
		}),
		messagesHandled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_handled_total",
			Help:      "Inbound messages processed, by result",
		}, []string{"result"}),
		gatherer: reg,
	}
}

// MemoryStored counts a persisted memory
func (m *Metrics) MemoryStored(memoryType string) {
	if m == nil {
		return
	}
	m.memoriesStored.WithLabelValues(memoryType).Inc()
}

// EmotionRecorded counts a persisted emotion
func (m *Metrics) EmotionRecorded(emotion string) {
	if m == nil {
		return
	}
	m.emotionsRecorded.WithLabelValues(emotion).Inc()
}

// EmbeddingFailed counts a failed secondary-index write
func (m *Metrics) EmbeddingFailed() {
	if m == nil {
		return
	}
	m.embedFailures.Inc()
}

// ObserveStore records the latency of a store operation started at start
func (m *Metrics) ObserveStore(op string, start time.Time) {
	if m == nil {
		return
	}
	m.storeLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveLLM records a completion outcome ("ok", "timeout", "error") and latency
func (m *Metrics) ObserveLLM(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(outcome).Inc()
	m.llmLatency.Observe(elapsed.Seconds())
}

// ObservePrompt records the assembled prompt size and semantic hit count
func (m *Metrics) ObservePrompt(chars, semantic int) {
	if m == nil {
		return
	}
	m.promptChars.Observe(float64(chars))
	m.semanticHits.Observe(float64(semantic))
}

// MessageHandled counts an inbound message by result ("replied", "apology", "invalid")
func (m *Metrics) MessageHandled(result string) {
	if m == nil {
		return
	}
	m.messagesHandled.WithLabelValues(result).Inc()
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
