// Package analytics builds the admin and per-user usage reports.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ai-agency/agency/internal/cache"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/models"
)

const (
	DefaultSystemDays      = 30
	DefaultPerformanceDays = 7
	MaxDays                = 365
	commonErrorLimit       = 10
)

type Store interface {
	RequestStatsByType(ctx context.Context, userID string, since time.Time) ([]database.TypeStats, error)
	CountUsers(ctx context.Context, since time.Time) (database.UserCounts, error)
	CountUsersByPlan(ctx context.Context) (map[models.Plan]int, error)
	RequestPoints(ctx context.Context, since time.Time) ([]database.RequestPoint, error)
	CommonErrors(ctx context.Context, since time.Time, limit int) ([]database.ErrorCount, error)
	MostActiveUsers(ctx context.Context, since time.Time, limit int) ([]database.ActiveUser, error)
	UsersCreatedBetween(ctx context.Context, start, end time.Time, plan models.Plan) ([]database.UserRecord, error)
	RequestsBetween(ctx context.Context, start, end time.Time, typ models.RequestType, status models.RequestStatus) ([]database.RequestRecord, error)
}

type Service struct {
	store Store
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewService(store Store, c cache.Cache, ttl time.Duration) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{
		store: store,
		cache: c,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ClampDays bounds a requested reporting period, substituting def for
// non-positive values.
func ClampDays(days, def int) int {
	if days <= 0 {
		return def
	}
	if days > MaxDays {
		return MaxDays
	}
	return days
}

type UserSummary struct {
	Total            int     `json:"total"`
	Active           int     `json:"active"`
	New              int     `json:"new"`
	ActivePercentage float64 `json:"activePercentage"`
}

type RequestSummary struct {
	Total       int                  `json:"total"`
	Completed   int                  `json:"completed"`
	Failed      int                  `json:"failed"`
	SuccessRate float64              `json:"successRate"`
	ByType      []database.TypeStats `json:"byType"`
}

type PlanCount struct {
	Plan  models.Plan `json:"plan"`
	Count int         `json:"count"`
}

type DailyTrend struct {
	Date      string `json:"date"`
	Requests  int    `json:"requests"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

type SystemReport struct {
	PeriodDays    int            `json:"periodDays"`
	Period        string         `json:"period"`
	Users         UserSummary    `json:"users"`
	Requests      RequestSummary `json:"requests"`
	Subscriptions []PlanCount    `json:"subscriptions"`
	DailyTrends   []DailyTrend   `json:"dailyTrends"`
	GeneratedAt   time.Time      `json:"generatedAt"`
}

// System reports platform wide usage for the last days days.
func (s *Service) System(ctx context.Context, days int) (*SystemReport, error) {
	days = ClampDays(days, DefaultSystemDays)
	key := fmt.Sprintf("analytics:system:%d", days)
	return cache.Remember(ctx, s.cache, key, s.ttl, func(ctx context.Context) (*SystemReport, error) {
		return s.buildSystem(ctx, days)
	})
}

func (s *Service) buildSystem(ctx context.Context, days int) (*SystemReport, error) {
	now := s.now()
	since := now.AddDate(0, 0, -days)

	var (
		users  database.UserCounts
		byType []database.TypeStats
		plans  map[models.Plan]int
		points []database.RequestPoint
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		users, err = s.store.CountUsers(gctx, since)
		return err
	})
	g.Go(func() (err error) {
		byType, err = s.store.RequestStatsByType(gctx, "", since)
		return err
	})
	g.Go(func() (err error) {
		plans, err = s.store.CountUsersByPlan(gctx)
		return err
	})
	g.Go(func() (err error) {
		points, err = s.store.RequestPoints(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &SystemReport{
		PeriodDays: days,
		Period:     fmt.Sprintf("%d days", days),
		Users: UserSummary{
			Total:            users.Total,
			Active:           users.Active,
			New:              users.New,
			ActivePercentage: percent(users.Active, users.Total),
		},
		Requests:      summarize(byType),
		Subscriptions: planCounts(plans),
		DailyTrends:   DailyTrends(points),
		GeneratedAt:   now,
	}, nil
}

type ProcessingTime struct {
	Type    models.RequestType `json:"type"`
	AvgTime float64            `json:"avgTime"`
	MinTime int64              `json:"minTime"`
	MaxTime int64              `json:"maxTime"`
	Count   int                `json:"count"`
}

type ErrorRate struct {
	Type      models.RequestType `json:"type"`
	Total     int                `json:"total"`
	Errors    int                `json:"errors"`
	ErrorRate float64            `json:"errorRate"`
}

type ResourceUsage struct {
	TotalTokens         int64   `json:"totalTokens"`
	TotalCost           float64 `json:"totalCost"`
	AvgTokensPerRequest float64 `json:"avgTokensPerRequest"`
	Requests            int     `json:"requests"`
}

type PerformanceReport struct {
	PeriodDays      int                   `json:"periodDays"`
	Period          string                `json:"period"`
	ProcessingTimes []ProcessingTime      `json:"processingTimes"`
	ErrorRates      []ErrorRate           `json:"errorRates"`
	CommonErrors    []database.ErrorCount `json:"commonErrors"`
	ResourceUsage   ResourceUsage         `json:"resourceUsage"`
	GeneratedAt     time.Time             `json:"generatedAt"`
}

func (s *Service) Performance(ctx context.Context, days int) (*PerformanceReport, error) {
	days = ClampDays(days, DefaultPerformanceDays)
	key := fmt.Sprintf("analytics:performance:%d", days)
	return cache.Remember(ctx, s.cache, key, s.ttl, func(ctx context.Context) (*PerformanceReport, error) {
		return s.buildPerformance(ctx, days)
	})
}

func (s *Service) buildPerformance(ctx context.Context, days int) (*PerformanceReport, error) {
	now := s.now()
	since := now.AddDate(0, 0, -days)

	var (
		byType []database.TypeStats
		errs   []database.ErrorCount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		byType, err = s.store.RequestStatsByType(gctx, "", since)
		return err
	})
	g.Go(func() (err error) {
		errs, err = s.store.CommonErrors(gctx, since, commonErrorLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &PerformanceReport{
		PeriodDays:      days,
		Period:          fmt.Sprintf("%d days", days),
		ProcessingTimes: []ProcessingTime{},
		ErrorRates:      make([]ErrorRate, 0, len(byType)),
		CommonErrors:    errs,
		GeneratedAt:     now,
	}
	for _, t := range byType {
		if t.Completed > 0 {
			report.ProcessingTimes = append(report.ProcessingTimes, ProcessingTime{
				Type:    t.Type,
				AvgTime: round2(t.AvgProcessingTime),
				MinTime: t.MinProcessingTime,
				MaxTime: t.MaxProcessingTime,
				Count:   t.Completed,
			})
		}
		report.ErrorRates = append(report.ErrorRates, ErrorRate{
			Type:      t.Type,
			Total:     t.Count,
			Errors:    t.Failed,
			ErrorRate: percent(t.Failed, t.Count),
		})
		report.ResourceUsage.TotalTokens += t.TotalTokens
		report.ResourceUsage.TotalCost += t.TotalCost
		report.ResourceUsage.Requests += t.Count
	}
	if report.ResourceUsage.Requests > 0 {
		report.ResourceUsage.AvgTokensPerRequest = round2(float64(report.ResourceUsage.TotalTokens) / float64(report.ResourceUsage.Requests))
	}
	report.ResourceUsage.TotalCost = math.Round(report.ResourceUsage.TotalCost*1e6) / 1e6
	return report, nil
}

type ActiveUsersReport struct {
	PeriodDays int                   `json:"periodDays"`
	Users      []database.ActiveUser `json:"users"`
}

// ActiveUsers ranks accounts by how many requests they made.
func (s *Service) ActiveUsers(ctx context.Context, days, limit int) (*ActiveUsersReport, error) {
	days = ClampDays(days, DefaultSystemDays)
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	users, err := s.store.MostActiveUsers(ctx, s.now().AddDate(0, 0, -days), limit)
	if err != nil {
		return nil, err
	}
	return &ActiveUsersReport{PeriodDays: days, Users: users}, nil
}

type UserStats struct {
	PeriodDays int            `json:"periodDays"`
	Requests   RequestSummary `json:"requests"`
	Limits     models.Limits  `json:"limits"`
	Usage      int            `json:"usagePercentage"`
}

// ForUser summarises one user's requests. It is not cached so users see
// their own activity immediately.
func (s *Service) ForUser(ctx context.Context, user *models.User, days int) (*UserStats, error) {
	days = ClampDays(days, DefaultSystemDays)
	byType, err := s.store.RequestStatsByType(ctx, user.ID, s.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	return &UserStats{
		PeriodDays: days,
		Requests:   summarize(byType),
		Limits:     user.Subscription.Limits(),
		Usage:      user.RequestUsagePercentage(),
	}, nil
}

// DailyTrends buckets request points by UTC calendar day, oldest first.
func DailyTrends(points []database.RequestPoint) []DailyTrend {
	byDay := make(map[string]*DailyTrend)
	for _, p := range points {
		day := p.CreatedAt.UTC().Format("2006-01-02")
		t, ok := byDay[day]
		if !ok {
			t = &DailyTrend{Date: day}
			byDay[day] = t
		}
		t.Requests++
		switch p.Status {
		case models.StatusCompleted:
			t.Completed++
		case models.StatusFailed:
			t.Failed++
		}
	}

	out := make([]DailyTrend, 0, len(byDay))
	for _, t := range byDay {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func summarize(byType []database.TypeStats) RequestSummary {
	s := RequestSummary{ByType: byType}
	if s.ByType == nil {
		s.ByType = []database.TypeStats{}
	}
	for _, t := range byType {
		s.Total += t.Count
		s.Completed += t.Completed
		s.Failed += t.Failed
	}
	s.SuccessRate = percent(s.Completed, s.Total)
	return s
}

func planCounts(plans map[models.Plan]int) []PlanCount {
	out := make([]PlanCount, 0, len(plans))
	for p, c := range plans {
		out = append(out, PlanCount{Plan: p, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plan.Level() < out[j].Plan.Level() })
	return out
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
