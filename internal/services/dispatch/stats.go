package dispatch

import (
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Stats summarises dispatcher activity. Latencies are in milliseconds over
// the most recent successful batches.
type Stats struct {
	Batches       uint64    `json:"batches"`
	FailedBatches uint64    `json:"failed_batches"`
	FramesRouted  uint64    `json:"frames_routed"`
	LatencyMeanMs float64   `json:"latency_mean_ms"`
	LatencyStdMs  float64   `json:"latency_std_ms"`
	LatencyP95Ms  float64   `json:"latency_p95_ms"`
	LastBatchAt   time.Time `json:"last_batch_at"`
	LastError     string    `json:"last_error,omitempty"`
}

type statsRecorder struct {
	mu        sync.Mutex
	stats     Stats
	latencies []float64
	next      int
	window    int
}

func newStatsRecorder(window int) *statsRecorder {
	return &statsRecorder{
		latencies: make([]float64, 0, window),
		window:    window,
	}
}

func (r *statsRecorder) succeeded(frames int, elapsed time.Duration) {
	ms := float64(elapsed) / float64(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Batches++
	r.stats.FramesRouted += uint64(frames)
	r.stats.LastBatchAt = time.Now()

	if len(r.latencies) < r.window {
		r.latencies = append(r.latencies, ms)
		return
	}
	r.latencies[r.next] = ms
	r.next = (r.next + 1) % r.window
}

func (r *statsRecorder) failed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.FailedBatches++
	r.stats.LastError = err.Error()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	out := r.stats
	samples := slices.Clone(r.latencies)
	r.mu.Unlock()

	switch len(samples) {
	case 0:
		return out
	case 1:
		out.LatencyMeanMs = samples[0]
		out.LatencyP95Ms = samples[0]
		return out
	}

	out.LatencyMeanMs, out.LatencyStdMs = stat.MeanStdDev(samples, nil)
	slices.Sort(samples)
	out.LatencyP95Ms = stat.Quantile(0.95, stat.Empirical, samples, nil)
	return out
}
