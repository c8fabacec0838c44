package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrIllegalTransition is returned when a job is asked to move to a status
// its current status does not allow.
var ErrIllegalTransition = errors.New("illegal status transition")

// Status is the lifecycle state of an analysis job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo encodes the job state machine:
// pending -> running -> {completed | failed}, pending|running -> cancelled.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	}
	return false
}

// LinkType tells whether a link stays on the analysed host
type LinkType string

const (
	LinkInternal LinkType = "internal"
	LinkExternal LinkType = "external"
)

// AnalysisConfig holds the crawl parameters accepted from the client
type AnalysisConfig struct {
	URL             string   `json:"url" bson:"url"`
	Depth           int      `json:"depth" bson:"depth"`
	ExcludePaths    []string `json:"excludePaths" bson:"exclude_paths"`
	IncludeExternal bool     `json:"includeExternal" bson:"include_external"`
	Timeout         int      `json:"timeout" bson:"timeout"` // per request, in milliseconds
}

// TimeoutDuration returns the per-request timeout as a time.Duration.
func (c AnalysisConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// BrokenLink is one failing link found during a crawl
type BrokenLink struct {
	SourceURL  string   `json:"sourceUrl" bson:"source_url"`
	TargetURL  string   `json:"targetUrl" bson:"target_url"`
	StatusCode int      `json:"statusCode" bson:"status_code"`
	ErrorType  string   `json:"errorType" bson:"error_type"`
	LinkType   LinkType `json:"linkType" bson:"link_type"`
}

// Analysis is the stored record of one crawl request and its lifecycle.
//
// Fields are exported for the storage codecs; state changes go through the
// transition methods below, which keep the record consistent with Status.
type Analysis struct {
	ID     string `json:"id" bson:"_id"`
	UserID string `json:"userId" bson:"user_id"`
	Plan   Plan   `json:"userPlan" bson:"user_plan"`

	AnalysisConfig `bson:",inline"`

	Status        Status     `json:"status" bson:"status"`
	Progress      int        `json:"progress" bson:"progress"`
	PagesAnalyzed int        `json:"pagesAnalyzed" bson:"pages_analyzed"`
	LinksFound    int        `json:"linksFound" bson:"links_found"`
	BrokenLinks   int        `json:"brokenLinks" bson:"broken_links"`
	StartedAt     time.Time  `json:"startedAt" bson:"started_at"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" bson:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty" bson:"cancelled_at,omitempty"`
	Error         string     `json:"error,omitempty" bson:"error,omitempty"`

	// Findings is filled in once, on completion.
	Findings []BrokenLink `json:"findings,omitempty" bson:"findings,omitempty"`

	// Version increases on every write; durable stores use it for optimistic locking.
	Version int64 `json:"version" bson:"version"`
}

// NewAnalysis returns a pending job with zeroed counters.
func NewAnalysis(id string, cfg AnalysisConfig, user User, now time.Time) *Analysis {
	if cfg.ExcludePaths == nil {
		cfg.ExcludePaths = []string{}
	}
	return &Analysis{
		ID:             id,
		UserID:         user.ID,
		Plan:           user.Plan,
		AnalysisConfig: cfg,
		Status:         StatusPending,
		StartedAt:      now,
	}
}

// Clone returns a deep copy so callers never share slices with a store.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	c := *a
	c.ExcludePaths = append([]string(nil), a.ExcludePaths...)
	if a.Findings != nil {
		c.Findings = append([]BrokenLink(nil), a.Findings...)
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	if a.CancelledAt != nil {
		t := *a.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

func (a *Analysis) transition(next Status) error {
	if !a.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.Status, next)
	}
	a.Status = next
	return nil
}

// Start moves a pending job to running.
func (a *Analysis) Start() error {
	return a.transition(StatusRunning)
}

// Counters is a progress sample reported by a crawler
type Counters struct {
	Progress      int
	PagesAnalyzed int
	LinksFound    int
	BrokenLinks   int
}

// Advance applies a progress sample to a running job. Values below the
// current ones are ignored and progress is held under 100 until Complete.
func (a *Analysis) Advance(c Counters) error {
	if a.Status != StatusRunning {
		return fmt.Errorf("%w: cannot advance a %s job", ErrIllegalTransition, a.Status)
	}
	a.Progress = max(a.Progress, min(c.Progress, 99))
	a.PagesAnalyzed = max(a.PagesAnalyzed, c.PagesAnalyzed)
	a.LinksFound = max(a.LinksFound, c.LinksFound)
	a.BrokenLinks = max(a.BrokenLinks, c.BrokenLinks)
	return nil
}

// Complete finishes a running job with its final counters and findings.
func (a *Analysis) Complete(now time.Time, pages, links int, findings []BrokenLink) error {
	if err := a.transition(StatusCompleted); err != nil {
		return err
	}
	a.Progress = 100
	a.PagesAnalyzed = max(a.PagesAnalyzed, pages)
	a.LinksFound = max(a.LinksFound, links)
	a.BrokenLinks = max(a.BrokenLinks, len(findings))
	if findings == nil {
		findings = []BrokenLink{}
	}
	a.Findings = findings
	a.CompletedAt = &now
	return nil
}

// Fail records a failure on a running job.
func (a *Analysis) Fail(now time.Time, message string) error {
	if err := a.transition(StatusFailed); err != nil {
		return err
	}
	if message == "" {
		message = "analysis failed"
	}
	a.Error = message
	a.CompletedAt = &now
	return nil
}

// Cancel stops a pending or running job. CompletedAt stays unset; the stop
// time goes to CancelledAt.
func (a *Analysis) Cancel(now time.Time) error {
	if err := a.transition(StatusCancelled); err != nil {
		return err
	}
	a.CancelledAt = &now
	return nil
}

// HealthScore is 100 minus 10 points per broken link, floored at 0.
func HealthScore(brokenLinks int) int {
	return max(0, 100-10*brokenLinks)
}
