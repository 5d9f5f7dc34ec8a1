// Package subscription maps plans to their quotas and gates requests on the
// caller's subscription state.
package subscription

import (
	"fmt"
	"sort"
	"time"

	"github.com/ai-agency/agency/internal/config"
	"github.com/ai-agency/agency/internal/models"
)

// Catalog holds the limits of every plan.
type Catalog struct {
	plans map[models.Plan]config.PlanConfig
}

func NewCatalog(plans map[string]config.PlanConfig) (*Catalog, error) {
	c := &Catalog{plans: make(map[models.Plan]config.PlanConfig, len(plans))}
	for name, pc := range plans {
		p, ok := models.ParsePlan(name)
		if !ok {
			return nil, fmt.Errorf("unknown plan %q", name)
		}
		c.plans[p] = pc
	}
	for _, p := range []models.Plan{models.PlanFree, models.PlanBasic, models.PlanPremium, models.PlanEnterprise} {
		if _, ok := c.plans[p]; !ok {
			return nil, fmt.Errorf("plan %q is not configured", p)
		}
	}
	return c, nil
}

func (c *Catalog) Limits(p models.Plan) (config.PlanConfig, bool) {
	pc, ok := c.plans[p]
	return pc, ok
}

// Quota returns the monthly allowance of p with nothing used yet.
func (c *Catalog) Quota(p models.Plan) models.Features {
	pc := c.plans[p]
	return models.Features{
		AIRequests:  pc.AIRequests,
		FileUploads: pc.FileUploads,
	}
}

// MaxFileSize is the largest upload a plan allows. A non-positive value in
// the plan falls back to ceiling, as does anything above it.
func (c *Catalog) MaxFileSize(p models.Plan, ceiling int64) int64 {
	size := c.plans[p].MaxFileSize
	if size <= 0 || (ceiling > 0 && size > ceiling) {
		return ceiling
	}
	return size
}

// Subscribe starts a new monthly period on plan p with usage reset.
func (c *Catalog) Subscribe(p models.Plan, now time.Time) models.Subscription {
	return models.Subscription{
		Plan:      p,
		StartDate: now,
		EndDate:   now.AddDate(0, 1, 0),
		Features:  c.Quota(p),
	}
}

// Plans lists the configured plans from cheapest to most expensive.
func (c *Catalog) Plans() []models.Plan {
	out := make([]models.Plan, 0, len(c.plans))
	for p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level() < out[j].Level() })
	return out
}
