package llm

import (
	"sync"
	"time"
)

// UsageCollector accumulates token counts and call timings across chat calls.
// One collector is shared by the clients of a run; Reset starts the next run.
type UsageCollector struct {
	mu          sync.Mutex
	calls       int
	prompt      int
	completion  int
	total       int
	elapsed     time.Duration
	perRunTotal []int
}

// Usage is a point-in-time copy of a collector.
type Usage struct {
	Calls                int           `json:"calls"`
	PromptTokens         int           `json:"input_tokens"`
	CompletionTokens     int           `json:"output_tokens"`
	TotalTokens          int           `json:"total_tokens"`
	AvgPromptTokens      float64       `json:"avg_input_tokens"`
	AvgCompletionTokens  float64       `json:"avg_output_tokens"`
	WallTime             time.Duration `json:"-"`
	WallTimeSeconds      float64       `json:"wall_time_seconds"`
	Runs                 int           `json:"runs"`
	AvgTotalTokensPerRun float64       `json:"avg_total_tokens_per_run"`
}

// NewUsageCollector returns an empty collector.
func NewUsageCollector() *UsageCollector {
	return &UsageCollector{}
}

// Record adds one call. Safe on a nil collector.
func (u *UsageCollector) Record(prompt, completion, total int, elapsed time.Duration) {
	if u == nil {
		return
	}
	if total == 0 {
		total = prompt + completion
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.prompt += prompt
	u.completion += completion
	u.total += total
	u.elapsed += elapsed
}

// Snapshot returns the current counts. Averages are per call.
func (u *UsageCollector) Snapshot() Usage {
	if u == nil {
		return Usage{}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	s := Usage{
		Calls:            u.calls,
		PromptTokens:     u.prompt,
		CompletionTokens: u.completion,
		TotalTokens:      u.total,
		WallTime:         u.elapsed,
		WallTimeSeconds:  u.elapsed.Seconds(),
		Runs:             len(u.perRunTotal),
	}
	if u.calls > 0 {
		s.AvgPromptTokens = float64(u.prompt) / float64(u.calls)
		s.AvgCompletionTokens = float64(u.completion) / float64(u.calls)
	}
	if len(u.perRunTotal) > 0 {
		sum := 0
		for _, t := range u.perRunTotal {
			sum += t
		}
		s.AvgTotalTokensPerRun = float64(sum) / float64(len(u.perRunTotal))
	}
	return s
}

// Reset closes the current run: its total is kept for the per-run average and the
// call counters start from zero.
func (u *UsageCollector) Reset() {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.perRunTotal = append(u.perRunTotal, u.total)
	u.calls, u.prompt, u.completion, u.total = 0, 0, 0, 0
	u.elapsed = 0
}
