package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ai-agency/agency/internal/cache"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/models"
)

type ReportType string

const (
	ReportUsers       ReportType = "users"
	ReportRequests    ReportType = "requests"
	ReportPerformance ReportType = "performance"
)

// activeWindow is how recent a login must be for a user to count as active
// in the users report.
const activeWindow = 30 * 24 * time.Hour

var ErrInvalidRange = errors.New("invalid report range")

// ReportQuery selects a date ranged report. Both ends are inclusive.
type ReportQuery struct {
	Type        ReportType
	Start       time.Time
	End         time.Time
	Plan        models.Plan
	RequestType models.RequestType
	Status      models.RequestStatus
}

func (q ReportQuery) key() string {
	return fmt.Sprintf("analytics:report:%s:%d:%d:%s:%s:%s",
		q.Type, q.Start.Unix(), q.End.Unix(), q.Plan, q.RequestType, q.Status)
}

type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Report is the result of a date ranged report. Only the section matching
// ReportType is set; its fields are inlined when encoded.
type Report struct {
	ReportType  ReportType   `json:"reportType"`
	Period      ReportPeriod `json:"period"`
	GeneratedAt time.Time    `json:"generatedAt"`
	*UsersReport
	*RequestsReport
	*PerformanceSummary
}

type PlanMonth struct {
	Plan  models.Plan `json:"plan"`
	Month string      `json:"month"`
	Count int         `json:"count"`
}

type UsersReport struct {
	TotalUsers    int         `json:"totalUsers"`
	ActiveUsers   int         `json:"activeUsers"`
	UsersByPlan   []PlanMonth `json:"usersByPlan"`
	RetentionRate float64     `json:"retentionRate"`
}

type RequestGroup struct {
	Type              models.RequestType   `json:"type"`
	Status            models.RequestStatus `json:"status"`
	Date              string               `json:"date"`
	Count             int                  `json:"count"`
	AvgProcessingTime float64              `json:"avgProcessingTime"`
	TotalTokens       int64                `json:"totalTokens"`
}

type RequestsReport struct {
	TotalRequests         int            `json:"totalRequests"`
	SuccessfulRequests    int            `json:"successfulRequests"`
	SuccessRate           float64        `json:"successRate"`
	RequestsByTypeAndDate []RequestGroup `json:"requestsByTypeAndDate"`
}

type TypePerformance struct {
	Type              models.RequestType `json:"type"`
	AvgProcessingTime float64            `json:"avgProcessingTime"`
	MinProcessingTime int64              `json:"minProcessingTime"`
	MaxProcessingTime int64              `json:"maxProcessingTime"`
	TotalRequests     int                `json:"totalRequests"`
	AvgTokensUsed     float64            `json:"avgTokensUsed"`
}

type OverallMetrics struct {
	TotalProcessedRequests int     `json:"totalProcessedRequests"`
	AvgProcessingTime      float64 `json:"avgProcessingTime"`
}

type PerformanceSummary struct {
	PerformanceByType []TypePerformance `json:"performanceByType"`
	OverallMetrics    OverallMetrics    `json:"overallMetrics"`
}

// Report builds the date ranged report q asks for.
func (s *Service) Report(ctx context.Context, q ReportQuery) (*Report, error) {
	if q.End.Before(q.Start) {
		return nil, fmt.Errorf("%w: end is before start", ErrInvalidRange)
	}
	if q.End.Sub(q.Start) > MaxDays*24*time.Hour {
		return nil, fmt.Errorf("%w: longer than %d days", ErrInvalidRange, MaxDays)
	}

	return cache.Remember(ctx, s.cache, q.key(), s.ttl, func(ctx context.Context) (*Report, error) {
		report := &Report{
			ReportType:  q.Type,
			Period:      ReportPeriod{Start: q.Start, End: q.End},
			GeneratedAt: s.now(),
		}
		switch q.Type {
		case ReportUsers:
			users, err := s.store.UsersCreatedBetween(ctx, q.Start, q.End, q.Plan)
			if err != nil {
				return nil, err
			}
			report.UsersReport = UsersByPlan(users, report.GeneratedAt)
		case ReportRequests:
			requests, err := s.store.RequestsBetween(ctx, q.Start, q.End, q.RequestType, q.Status)
			if err != nil {
				return nil, err
			}
			report.RequestsReport = RequestsByTypeAndDate(requests)
		case ReportPerformance:
			requests, err := s.store.RequestsBetween(ctx, q.Start, q.End, q.RequestType, models.StatusCompleted)
			if err != nil {
				return nil, err
			}
			report.PerformanceSummary = PerformanceByType(requests)
		default:
			return nil, fmt.Errorf("unknown report type %q", q.Type)
		}
		return report, nil
	})
}

// UsersByPlan counts sign ups per plan and calendar month. A user is active
// when they logged in within 30 days of now.
func UsersByPlan(users []database.UserRecord, now time.Time) *UsersReport {
	type bucket struct {
		plan  models.Plan
		month string
	}
	counts := make(map[bucket]int)
	r := &UsersReport{TotalUsers: len(users), UsersByPlan: []PlanMonth{}}
	for _, u := range users {
		counts[bucket{u.Plan, u.CreatedAt.Format("2006-01")}]++
		if u.LastLogin != nil && now.Sub(*u.LastLogin) <= activeWindow {
			r.ActiveUsers++
		}
	}
	for b, c := range counts {
		r.UsersByPlan = append(r.UsersByPlan, PlanMonth{Plan: b.plan, Month: b.month, Count: c})
	}
	sort.Slice(r.UsersByPlan, func(i, j int) bool {
		a, b := r.UsersByPlan[i], r.UsersByPlan[j]
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.Plan.Level() < b.Plan.Level()
	})
	r.RetentionRate = percent(r.ActiveUsers, r.TotalUsers)
	return r
}

// RequestsByTypeAndDate groups requests by type, status and UTC day.
func RequestsByTypeAndDate(requests []database.RequestRecord) *RequestsReport {
	type bucket struct {
		typ    models.RequestType
		status models.RequestStatus
		date   string
	}
	type acc struct {
		count  int
		timeMs int64
		tokens int64
	}
	groups := make(map[bucket]*acc)
	r := &RequestsReport{TotalRequests: len(requests), RequestsByTypeAndDate: []RequestGroup{}}
	for _, req := range requests {
		b := bucket{req.Type, req.Status, req.CreatedAt.UTC().Format("2006-01-02")}
		a, ok := groups[b]
		if !ok {
			a = &acc{}
			groups[b] = a
		}
		a.count++
		a.timeMs += req.ProcessingTime
		a.tokens += int64(req.TokensUsed)
		if req.Status == models.StatusCompleted {
			r.SuccessfulRequests++
		}
	}
	for b, a := range groups {
		r.RequestsByTypeAndDate = append(r.RequestsByTypeAndDate, RequestGroup{
			Type:              b.typ,
			Status:            b.status,
			Date:              b.date,
			Count:             a.count,
			AvgProcessingTime: round2(float64(a.timeMs) / float64(a.count)),
			TotalTokens:       a.tokens,
		})
	}
	sort.Slice(r.RequestsByTypeAndDate, func(i, j int) bool {
		a, b := r.RequestsByTypeAndDate[i], r.RequestsByTypeAndDate[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Status < b.Status
	})
	r.SuccessRate = percent(r.SuccessfulRequests, r.TotalRequests)
	return r
}

// PerformanceByType summarises processing times and token use per request
// type. The overall average is weighted by request count.
func PerformanceByType(requests []database.RequestRecord) *PerformanceSummary {
	byType := make(map[models.RequestType]*TypePerformance)
	tokens := make(map[models.RequestType]int64)
	var totalMs int64
	for _, req := range requests {
		p, ok := byType[req.Type]
		if !ok {
			p = &TypePerformance{Type: req.Type, MinProcessingTime: req.ProcessingTime}
			byType[req.Type] = p
		}
		p.TotalRequests++
		p.AvgProcessingTime += float64(req.ProcessingTime)
		p.MinProcessingTime = min(p.MinProcessingTime, req.ProcessingTime)
		p.MaxProcessingTime = max(p.MaxProcessingTime, req.ProcessingTime)
		tokens[req.Type] += int64(req.TokensUsed)
		totalMs += req.ProcessingTime
	}

	s := &PerformanceSummary{PerformanceByType: make([]TypePerformance, 0, len(byType))}
	for typ, p := range byType {
		p.AvgProcessingTime = round2(p.AvgProcessingTime / float64(p.TotalRequests))
		p.AvgTokensUsed = round2(float64(tokens[typ]) / float64(p.TotalRequests))
		s.PerformanceByType = append(s.PerformanceByType, *p)
	}
	sort.Slice(s.PerformanceByType, func(i, j int) bool {
		return s.PerformanceByType[i].Type < s.PerformanceByType[j].Type
	})
	s.OverallMetrics.TotalProcessedRequests = len(requests)
	if len(requests) > 0 {
		s.OverallMetrics.AvgProcessingTime = round2(float64(totalMs) / float64(len(requests)))
	}
	return s
}
