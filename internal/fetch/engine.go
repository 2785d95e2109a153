package fetch

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/quakelab/seismic-core/internal/dates"
	"github.com/quakelab/seismic-core/internal/proxy"
)

// Status is the terminal state of a window fetch.
type Status string

const (
	// StatusExhausted means a short page proved there is nothing left in
	// the window.
	StatusExhausted Status = "exhausted"
	// StatusBudgetSpent means the request budget ran out with data still
	// remaining; the next run resumes from the recorded offset.
	StatusBudgetSpent Status = "budget_spent"
	// StatusFailed means the retry budget was exceeded.
	StatusFailed Status = "failed"
)

// RequestPlan authorizes exactly one upstream request against a credential.
// PageOffset is the paper offset assigned at planning time; the engine
// tracks the authoritative offset itself since only fetched pages reveal
// true row counts.
type RequestPlan struct {
	Window     dates.Window
	KeyName    string
	APIKey     string
	PageOffset int
}

// PlanQueue is a concurrency-safe queue of request plans shared by the
// workers of a batch. When it drains, the batch's budget is spent.
type PlanQueue struct {
	mu    sync.Mutex
	plans []RequestPlan
}

func NewPlanQueue(plans []RequestPlan) *PlanQueue {
	return &PlanQueue{plans: plans}
}

// Next pops one plan, or reports false when the budget is spent.
func (q *PlanQueue) Next() (RequestPlan, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.plans) == 0 {
		return RequestPlan{}, false
	}
	plan := q.plans[0]
	q.plans = q.plans[1:]
	return plan, true
}

// Requeue puts a plan back at the head of the queue. Used when an
// attempt never reached the upstream and must not shrink the budget.
func (q *PlanQueue) Requeue(plan RequestPlan) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.plans = append([]RequestPlan{plan}, q.plans...)
}

// Remaining reports how many plans are left.
func (q *PlanQueue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.plans)
}

// Envelope pairs one raw upstream response with the request that produced
// it, so the aggregator can attribute rows and the metadata writer can
// replay provenance.
type Envelope struct {
	RawResponse map[string]any `json:"raw_response"`
	Params      url.Values     `json:"request_params"`
	KeyName     string         `json:"key_name"`
}

// Result is the outcome of fetching one date window.
type Result struct {
	Window       dates.Window
	Envelopes    []Envelope
	Status       Status
	NextOffset   int
	RequestsUsed map[string]int
	Err          error
}

// EngineConfig configures the fetch engine.
type EngineConfig struct {
	PageSize    int
	RetryBudget int
	DataType    string
	UseProxies  bool
}

// Engine walks a date window page by page until a short page proves
// exhaustion, the plan queue drains, or the retry budget is exceeded.
// Errors trip the shared backoff gate so sibling workers slow down too.
type Engine struct {
	client *Client
	pool   *proxy.Pool
	gate   *Gate
	cfg    EngineConfig
	log    *zap.Logger
}

// NewEngine creates a fetch engine. The pool may be nil when proxies are
// disabled; the gate is shared by all engines of a batch.
func NewEngine(client *Client, pool *proxy.Pool, gate *Gate, cfg EngineConfig, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 3
	}
	return &Engine{client: client, pool: pool, gate: gate, cfg: cfg, log: log}
}

// FetchWindow pages through one window starting at the given offset. The
// offset counts rows already collected; the upstream start parameter is
// one past it. Every attempt that reaches the upstream consumes one plan,
// successful or not.
func (e *Engine) FetchWindow(ctx context.Context, window dates.Window, offset int, queue *PlanQueue) Result {
	result := Result{
		Window:       window,
		RequestsUsed: map[string]int{},
		NextOffset:   offset,
	}

	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			result.Status = StatusFailed
			result.Err = err
			return result
		}

		plan, ok := queue.Next()
		if !ok {
			result.Status = StatusBudgetSpent
			return result
		}

		if err := e.gate.Wait(ctx); err != nil {
			result.Status = StatusFailed
			result.Err = err
			return result
		}

		params := e.params(window, result.NextOffset)
		leased := e.lease(ctx)

		payload, err := e.client.Get(ctx, plan.APIKey, params, leased)
		if err != nil {
			// A dead proxy is not an upstream fault: discard it, put the
			// plan back, and try again without charging the credential or
			// burning a retry.
			if leased != nil && !e.pool.Verify(ctx, *leased) {
				queue.Requeue(plan)
				e.log.Debug("discarding proxy after failed request",
					zap.String("proxy", leased.String()))
				continue
			}

			result.RequestsUsed[plan.KeyName]++
			retries++
			delay := e.gate.Trip()
			e.log.Warn("request failed",
				zap.String("window", window.Start.String()+".."+window.End.String()),
				zap.Int("offset", result.NextOffset),
				zap.Int("retries", retries),
				zap.Duration("backoff", delay),
				zap.Error(err))

			var httpErr *HTTPError
			if errors.As(err, &httpErr) && !httpErr.Retryable() {
				result.Status = StatusFailed
				result.Err = err
				return result
			}
			if retries > e.cfg.RetryBudget {
				result.Status = StatusFailed
				result.Err = err
				return result
			}
			continue
		}

		e.gate.Clear()
		retries = 0
		result.RequestsUsed[plan.KeyName]++
		result.Envelopes = append(result.Envelopes, Envelope{
			RawResponse: payload,
			Params:      params,
			KeyName:     plan.KeyName,
		})

		got := rowCount(payload)
		result.NextOffset += got
		if got < e.cfg.PageSize {
			result.Status = StatusExhausted
			return result
		}
	}
}

func (e *Engine) params(window dates.Window, offset int) url.Values {
	return url.Values{
		"start":     {strconv.Itoa(offset + 1)},
		"count":     {strconv.Itoa(e.cfg.PageSize)},
		"type":      {e.cfg.DataType},
		"startDate": {window.Start.String()},
		"endDate":   {window.End.String()},
	}
}

func (e *Engine) lease(ctx context.Context) *proxy.Proxy {
	if !e.cfg.UseProxies || e.pool == nil {
		return nil
	}
	leased, err := e.pool.Lease(ctx)
	if err != nil {
		e.log.Warn("proceeding without proxy", zap.Error(err))
		return nil
	}
	return &leased
}

// rowCount extracts the page's row count from the response payload.
func rowCount(payload map[string]any) int {
	data, ok := payload["data"].([]any)
	if !ok {
		return 0
	}
	return len(data)
}
