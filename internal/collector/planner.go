package collector

import (
	"fmt"

	"github.com/quakelab/seismic-core/internal/dates"
	"github.com/quakelab/seismic-core/internal/fetch"
	"github.com/quakelab/seismic-core/internal/metastore"
)

// Ledger is the read side of the per-credential daily quota.
type Ledger interface {
	RemainingRequests(credential string) int
}

// PlannerConfig carries the planning constants.
type PlannerConfig struct {
	PageSize    int
	Tolerance   int
	UpdateCount int
	WindowDays  int
}

// Planner converts the watermark and the rate ledger into concrete
// request plans. It never talks to the network.
type Planner struct {
	ledger Ledger
	keys   map[string]string // key name -> secret
	order  []string          // deterministic credential order
	cfg    PlannerConfig
}

// NewPlanner creates a planner over the given credentials. order fixes the
// sequence credentials are drawn in so plan lists are reproducible.
func NewPlanner(ledger Ledger, keys map[string]string, order []string, cfg PlannerConfig) *Planner {
	return &Planner{ledger: ledger, keys: keys, order: order, cfg: cfg}
}

// PlanCollection emits up to usable-per-credential plans over the current
// watermark window, page offsets stepping by page size from the resume
// offset. The count is a paper upper bound: true exhaustion is only known
// after fetching. Zero total usable budget is ErrNoRemainingQuota.
func (p *Planner) PlanCollection(cd metastore.CollectionDates) ([]fetch.RequestPlan, error) {
	start, err := dates.Parse(cd.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: start_date %q", ErrInvalidDate, cd.StartDate)
	}
	end, err := dates.Parse(cd.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: end_date %q", ErrInvalidDate, cd.EndDate)
	}
	window := dates.Window{Start: start, End: end}

	var plans []fetch.RequestPlan
	offset := cd.Offset
	for _, name := range p.order {
		usable := p.ledger.RemainingRequests(name) - p.cfg.Tolerance
		if usable < 0 {
			usable = 0
		}
		for i := 0; i < usable; i++ {
			plans = append(plans, fetch.RequestPlan{
				Window:     window,
				KeyName:    name,
				APIKey:     p.keys[name],
				PageOffset: offset,
			})
			offset += p.cfg.PageSize
		}
	}
	if len(plans) == 0 {
		return nil, ErrNoRemainingQuota
	}
	return plans, nil
}

// PlanUpdate emits the fixed configured number of plans over a trailing
// window ending today, ignoring the cycle machine entirely. Credentials
// are drawn in order from whichever still has usable budget.
func (p *Planner) PlanUpdate(clock dates.Clock) ([]fetch.RequestPlan, error) {
	today := clock.Today()
	window := dates.Window{Start: today.AddDays(-p.cfg.WindowDays), End: today}

	var plans []fetch.RequestPlan
	offset := 0
	for _, name := range p.order {
		usable := p.ledger.RemainingRequests(name) - p.cfg.Tolerance
		for usable > 0 && len(plans) < p.cfg.UpdateCount {
			plans = append(plans, fetch.RequestPlan{
				Window:     window,
				KeyName:    name,
				APIKey:     p.keys[name],
				PageOffset: offset,
			})
			offset += p.cfg.PageSize
			usable--
		}
		if len(plans) == p.cfg.UpdateCount {
			break
		}
	}
	if len(plans) == 0 {
		return nil, ErrNoRemainingQuota
	}
	return plans, nil
}
