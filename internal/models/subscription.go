package models

import (
	"math"
	"strings"
	"time"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanBasic      Plan = "basic"
	PlanPremium    Plan = "premium"
	PlanEnterprise Plan = "enterprise"
)

var planLevels = map[Plan]int{
	PlanFree:       0,
	PlanBasic:      1,
	PlanPremium:    2,
	PlanEnterprise: 3,
}

// ParsePlan normalises a plan name. "pro" is accepted as an alias of
// premium.
func ParsePlan(s string) (Plan, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "pro" {
		return PlanPremium, true
	}
	p := Plan(s)
	_, ok := planLevels[p]
	return p, ok
}

// Level orders plans for upgrade checks. Unknown plans rank below free.
func (p Plan) Level() int {
	if l, ok := planLevels[p]; ok {
		return l
	}
	return -1
}

func (p Plan) AtLeast(min Plan) bool {
	return p.Level() >= min.Level()
}

// Features holds the monthly quotas of a subscription and what has been
// consumed of them. A negative quota means unlimited.
type Features struct {
	AIRequests   int `json:"aiRequests"`
	UsedRequests int `json:"usedRequests"`
	FileUploads  int `json:"fileUploads"`
	UsedUploads  int `json:"usedUploads"`
}

type Subscription struct {
	Plan      Plan      `json:"plan"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Features  Features  `json:"features"`
}

// Limits is the quota summary returned to clients.
type Limits struct {
	Total     int `json:"total"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

func (s Subscription) Unlimited() bool {
	return s.Plan == PlanEnterprise || s.Features.AIRequests < 0
}

// IsExpired reports whether a paid subscription has run past its end date.
// Free subscriptions never expire.
func (s Subscription) IsExpired(now time.Time) bool {
	if s.Plan == PlanFree || s.EndDate.IsZero() {
		return false
	}
	return now.After(s.EndDate)
}

func (s Subscription) CanMakeRequest() bool {
	return s.Unlimited() || s.Features.UsedRequests < s.Features.AIRequests
}

func (s Subscription) CanUpload() bool {
	return s.Plan == PlanEnterprise || s.Features.FileUploads < 0 ||
		s.Features.UsedUploads < s.Features.FileUploads
}

// Remaining returns the requests left this month, or -1 when unlimited.
func (s Subscription) Remaining() int {
	if s.Unlimited() {
		return -1
	}
	if r := s.Features.AIRequests - s.Features.UsedRequests; r > 0 {
		return r
	}
	return 0
}

// UsagePercentage is the rounded share of the monthly quota already used.
func (s Subscription) UsagePercentage() int {
	if s.Unlimited() || s.Features.AIRequests == 0 {
		return 0
	}
	return int(math.Round(float64(s.Features.UsedRequests) / float64(s.Features.AIRequests) * 100))
}

func (s Subscription) Limits() Limits {
	return Limits{
		Total:     s.Features.AIRequests,
		Used:      s.Features.UsedRequests,
		Remaining: s.Remaining(),
	}
}

// ResetUsage starts a new monthly period. Applying it twice is the same as
// applying it once.
func (s *Subscription) ResetUsage() {
	s.Features.UsedRequests = 0
	s.Features.UsedUploads = 0
}
