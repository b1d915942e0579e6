package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type StageIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []StageStats     `json:"stages"`
	Indicators  []StageIndicator `json:"indicators,omitempty"`
}

// StageWindow keeps a rolling window of pipeline stage latencies so the
// diagnostics endpoint can report percentiles without Prometheus scraping.
type StageWindow struct {
	mu         sync.RWMutex
	window     int
	stages     map[string]*stageRing
	indicators map[string]int
}

// stageRing grows until it holds window samples, then overwrites oldest
// first. lastAt tracks the most recently written slot.
type stageRing struct {
	samples []float64
	head    int
	lastAt  int
}

func NewStageWindow(window int) *StageWindow {
	if window <= 0 {
		window = 256
	}
	return &StageWindow{
		window:     window,
		stages:     make(map[string]*stageRing),
		indicators: make(map[string]int),
	}
}

func (w *StageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.stages[stage]
	if !ok {
		ring = &stageRing{samples: make([]float64, 0, w.window)}
		w.stages[stage] = ring
	}
	if len(ring.samples) < w.window {
		ring.samples = append(ring.samples, ms)
		ring.lastAt = len(ring.samples) - 1
		return
	}
	ring.samples[ring.head] = ms
	ring.lastAt = ring.head
	ring.head = (ring.head + 1) % len(ring.samples)
}

// ObserveIndicator counts a discrete pipeline event, such as a barge-in.
func (w *StageWindow) ObserveIndicator(name string) {
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *StageWindow) Snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stages := make([]StageStats, 0, len(w.stages))
	for name, ring := range w.stages {
		if len(ring.samples) == 0 {
			continue
		}
		stages = append(stages, ring.stats(name))
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Stage < stages[j].Stage })

	indicators := make([]StageIndicator, 0, len(w.indicators))
	for name, count := range w.indicators {
		if count > 0 {
			indicators = append(indicators, StageIndicator{Name: name, Count: count})
		}
	}
	sort.Slice(indicators, func(i, j int) bool { return indicators[i].Name < indicators[j].Name })

	return StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.window,
		Stages:      stages,
		Indicators:  indicators,
	}
}

func (r *stageRing) stats(stage string) StageStats {
	sorted := append([]float64(nil), r.samples...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	return StageStats{
		Stage:       stage,
		Samples:     n,
		LastMS:      roundMS(r.samples[r.lastAt]),
		AvgMS:       roundMS(sum / float64(n)),
		P50MS:       roundMS(rank(sorted, 0.50)),
		P95MS:       roundMS(rank(sorted, 0.95)),
		P99MS:       roundMS(rank(sorted, 0.99)),
		TargetP95MS: stageTargetP95MS(stage),
	}
}

// rank picks the nearest-rank percentile from an ascending slice.
func rank(sorted []float64, q float64) float64 {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func roundMS(v float64) float64 {
	return math.Round(v*100) / 100
}

func stageTargetP95MS(stage string) float64 {
	switch stage {
	case "commit_to_first_delta":
		return 1200
	case "first_delta_to_playback":
		return 200
	case "summarize":
		return 8000
	default:
		return 0
	}
}
