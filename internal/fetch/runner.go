package fetch

import (
	"context"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"github.com/quakelab/seismic-core/internal/dates"
)

var (
	windowsExhausted   = metrics.NewCounter(`seismic_fetch_windows_total{status="exhausted"}`)
	windowsBudgetSpent = metrics.NewCounter(`seismic_fetch_windows_total{status="budget_spent"}`)
	windowsFailed      = metrics.NewCounter(`seismic_fetch_windows_total{status="failed"}`)
	requestsIssued     = metrics.NewCounter(`seismic_fetch_requests_total`)
)

// Runner fans a set of date windows out over concurrent engines in
// fixed-size batches. All workers of a batch share one plan queue and one
// backoff gate, so an error anywhere slows everyone down together.
type Runner struct {
	batchSize int
	newEngine func(gate *Gate) *Engine
	log       *zap.Logger
}

// NewRunner creates a batch runner. newEngine builds one engine per batch
// around the shared gate; this keeps proxy-pool and config wiring with the
// caller.
func NewRunner(batchSize int, newEngine func(gate *Gate) *Engine, log *zap.Logger) *Runner {
	if batchSize <= 0 {
		batchSize = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{batchSize: batchSize, newEngine: newEngine, log: log}
}

// Run fetches every window from offset zero, batchSize windows at a time,
// drawing requests from the shared queue. Results come back in window
// order.
func (r *Runner) Run(ctx context.Context, windows []dates.Window, queue *PlanQueue) []Result {
	results := make([]Result, len(windows))

	for lo := 0; lo < len(windows); lo += r.batchSize {
		hi := lo + r.batchSize
		if hi > len(windows) {
			hi = len(windows)
		}

		gate := NewGate(0, 0)
		var wg sync.WaitGroup
		for i := lo; i < hi; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				engine := r.newEngine(gate)
				results[i] = engine.FetchWindow(ctx, windows[i], 0, queue)
				observe(results[i])
			}(i)
		}
		wg.Wait()

		if queue.Remaining() == 0 {
			// Later windows stay untouched; callers see the zero Status
			// and skip them.
			for i := hi; i < len(windows); i++ {
				results[i] = Result{Window: windows[i], Status: StatusBudgetSpent, RequestsUsed: map[string]int{}}
			}
			break
		}
	}
	return results
}

func observe(res Result) {
	for _, n := range res.RequestsUsed {
		requestsIssued.Add(n)
	}
	switch res.Status {
	case StatusExhausted:
		windowsExhausted.Inc()
	case StatusBudgetSpent:
		windowsBudgetSpent.Inc()
	case StatusFailed:
		windowsFailed.Inc()
	}
}
