// Package metrics exposes Prometheus collectors for the capture and
// transcription pipeline. All Record helpers are nil-safe so components can
// run without metrics in tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service registers. Create one per
// process with New.
type Metrics struct {
	framesTotal prometheus.Counter
	chunksTotal prometheus.Counter

	gateSpeechTotal  prometheus.Counter
	gateSilenceTotal prometheus.Counter

	inferenceRequestsTotal prometheus.Counter
	inferenceSuccessTotal  prometheus.Counter
	inferenceFailureTotal  prometheus.Counter
	inferenceRetriesTotal  prometheus.Counter
	inferenceDuration      prometheus.Histogram
	inferenceInFlight      prometheus.Gauge
	submissionsDropped     prometheus.Counter
	lowConfidenceTotal     prometheus.Counter

	resultsPublished   prometheus.Counter
	subscribers        prometheus.Gauge
	subscribersDropped prometheus.Counter

	sessionsTotal prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers all collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		framesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_audio_frames_total",
			Help: "Capture frames read from the audio source",
		}),
		chunksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_audio_chunks_total",
			Help: "Chunks assembled from the capture stream",
		}),
		gateSpeechTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_gate_speech_total",
			Help: "Chunks the activity gate classified as speech",
		}),
		gateSilenceTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_gate_silence_total",
			Help: "Chunks the activity gate classified as silence",
		}),
		inferenceRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_inference_requests_total",
			Help: "Inference calls dispatched to the engine",
		}),
		inferenceSuccessTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_inference_success_total",
			Help: "Inference calls that returned a transcription",
		}),
		inferenceFailureTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_inference_failure_total",
			Help: "Inference calls that failed after retry",
		}),
		inferenceRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_inference_retries_total",
			Help: "Inference calls retried after a transient failure",
		}),
		inferenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_inference_duration_seconds",
			Help:    "Wall time of successful inference calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		inferenceInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "transcribe_inference_in_flight",
			Help: "Inference calls currently running",
		}),
		submissionsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_submissions_dropped_total",
			Help: "Speech chunks dropped because the inference queue was full",
		}),
		lowConfidenceTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_low_confidence_total",
			Help: "Transcriptions below the configured confidence floor",
		}),
		resultsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_results_published_total",
			Help: "Ordered results delivered to subscribers",
		}),
		subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "transcribe_subscribers",
			Help: "Currently connected event subscribers",
		}),
		subscribersDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_subscribers_dropped_total",
			Help: "Subscribers disconnected for not keeping up",
		}),
		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_sessions_total",
			Help: "Capture sessions started",
		}),
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_http_requests_total",
			Help: "HTTP requests by path, method and status",
		}, []string{"path", "method", "status"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcribe_http_request_duration_seconds",
			Help:    "HTTP request latency by path",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
	}
}

func (m *Metrics) RecordFrame() {
	if m == nil {
		return
	}
	m.framesTotal.Inc()
}

func (m *Metrics) RecordChunk() {
	if m == nil {
		return
	}
	m.chunksTotal.Inc()
}

func (m *Metrics) RecordGateVerdict(isSpeech bool) {
	if m == nil {
		return
	}
	if isSpeech {
		m.gateSpeechTotal.Inc()
	} else {
		m.gateSilenceTotal.Inc()
	}
}

func (m *Metrics) RecordInferenceRequest() {
	if m == nil {
		return
	}
	m.inferenceRequestsTotal.Inc()
}

func (m *Metrics) RecordInferenceSuccess(d time.Duration) {
	if m == nil {
		return
	}
	m.inferenceSuccessTotal.Inc()
	m.inferenceDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordInferenceFailure() {
	if m == nil {
		return
	}
	m.inferenceFailureTotal.Inc()
}

func (m *Metrics) RecordInferenceRetry() {
	if m == nil {
		return
	}
	m.inferenceRetriesTotal.Inc()
}

func (m *Metrics) InferenceInFlightInc() {
	if m == nil {
		return
	}
	m.inferenceInFlight.Inc()
}

func (m *Metrics) InferenceInFlightDec() {
	if m == nil {
		return
	}
	m.inferenceInFlight.Dec()
}

func (m *Metrics) RecordSubmissionDropped() {
	if m == nil {
		return
	}
	m.submissionsDropped.Inc()
}

func (m *Metrics) RecordLowConfidence() {
	if m == nil {
		return
	}
	m.lowConfidenceTotal.Inc()
}

func (m *Metrics) RecordResultPublished() {
	if m == nil {
		return
	}
	m.resultsPublished.Inc()
}

func (m *Metrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *Metrics) RecordSubscriberDropped() {
	if m == nil {
		return
	}
	m.subscribersDropped.Inc()
}

func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
}

func (m *Metrics) RecordHTTPRequest(path, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(path).Observe(d.Seconds())
}
