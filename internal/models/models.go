package models

import (
	"fmt"
	"time"
)

// Plan is the subscription tier of a user
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

var planMaxDepth = map[Plan]int{
	PlanFree:       2,
	PlanPro:        5,
	PlanEnterprise: 10,
}

// ParsePlan returns the plan named by s.
func ParsePlan(s string) (Plan, error) {
	p := Plan(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown plan %q", s)
	}
	return p, nil
}

// Valid reports whether p is a known tier.
func (p Plan) Valid() bool {
	_, ok := planMaxDepth[p]
	return ok
}

// MaxDepth is the deepest crawl the plan allows, 0 for unknown plans.
func (p Plan) MaxDepth() int {
	return planMaxDepth[p]
}

// CanExportPDF reports whether the plan may download PDF reports.
func (p Plan) CanExportPDF() bool {
	return p == PlanPro || p == PlanEnterprise
}

// User is the authenticated caller
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Plan  Plan   `json:"plan"`
}

// AnalysisStatus is the read-only projection returned while polling
type AnalysisStatus struct {
	AnalysisID    string     `json:"analysisId"`
	URL           string     `json:"url"`
	Status        Status     `json:"status"`
	Progress      int        `json:"progress"`
	PagesAnalyzed int        `json:"pagesAnalyzed"`
	LinksFound    int        `json:"linksFound"`
	BrokenLinks   int        `json:"brokenLinks"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// StatusOf projects a job record to its polling view.
func StatusOf(a *Analysis) *AnalysisStatus {
	return &AnalysisStatus{
		AnalysisID:    a.ID,
		URL:           a.URL,
		Status:        a.Status,
		Progress:      a.Progress,
		PagesAnalyzed: a.PagesAnalyzed,
		LinksFound:    a.LinksFound,
		BrokenLinks:   a.BrokenLinks,
		StartedAt:     a.StartedAt,
		CompletedAt:   a.CompletedAt,
		CancelledAt:   a.CancelledAt,
		Error:         a.Error,
	}
}

// Summary aggregates a completed analysis
type Summary struct {
	TotalPages   int   `json:"totalPages"`
	TotalLinks   int   `json:"totalLinks"`
	BrokenLinks  int   `json:"brokenLinks"`
	HealthScore  int   `json:"healthScore"`
	AnalysisTime int64 `json:"analysisTime"` // milliseconds
}

// AnalysisResults is the view available once a job has completed
type AnalysisResults struct {
	AnalysisID      string       `json:"analysisId"`
	URL             string       `json:"url"`
	Summary         Summary      `json:"summary"`
	BrokenLinks     []BrokenLink `json:"brokenLinks"`
	Recommendations []string     `json:"recommendations"`
	CompletedAt     time.Time    `json:"completedAt"`
}

// History is one page of a user's analyses, newest first
type History struct {
	Analyses   []*AnalysisStatus `json:"analyses"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	TotalPages int               `json:"totalPages"`
}

// Response is the JSON envelope for every API reply
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}
