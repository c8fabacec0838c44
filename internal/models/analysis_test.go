package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunning(t *testing.T) *Analysis {
	t.Helper()
	a := NewAnalysis("job-1", AnalysisConfig{URL: "https://example.com", Depth: 2, Timeout: 5000}, User{ID: "u1", Plan: PlanPro}, time.Now())
	require.NoError(t, a.Start())
	return a
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusFailed, StatusRunning, false},
		{StatusCancelled, StatusRunning, false},
		{StatusCancelled, StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestNewAnalysisIsPending(t *testing.T) {
	now := time.Now()
	a := NewAnalysis("id", AnalysisConfig{URL: "https://example.com"}, User{ID: "u1", Plan: PlanFree}, now)

	assert.Equal(t, StatusPending, a.Status)
	assert.Zero(t, a.Progress)
	assert.Zero(t, a.PagesAnalyzed)
	assert.Zero(t, a.LinksFound)
	assert.Zero(t, a.BrokenLinks)
	assert.Nil(t, a.CompletedAt)
	assert.Equal(t, now, a.StartedAt)
	assert.Equal(t, PlanFree, a.Plan)
	assert.NotNil(t, a.ExcludePaths)
}

func TestAdvanceIsMonotonic(t *testing.T) {
	a := newRunning(t)

	require.NoError(t, a.Advance(Counters{Progress: 40, PagesAnalyzed: 4, LinksFound: 20, BrokenLinks: 1}))
	require.NoError(t, a.Advance(Counters{Progress: 30, PagesAnalyzed: 2, LinksFound: 25, BrokenLinks: 0}))

	assert.Equal(t, 40, a.Progress)
	assert.Equal(t, 4, a.PagesAnalyzed)
	assert.Equal(t, 25, a.LinksFound)
	assert.Equal(t, 1, a.BrokenLinks)

	require.NoError(t, a.Advance(Counters{Progress: 100}))
	assert.Equal(t, 99, a.Progress, "progress only reaches 100 on completion")
}

func TestCompleteSetsTerminalFields(t *testing.T) {
	a := newRunning(t)
	findings := []BrokenLink{{SourceURL: "https://example.com", TargetURL: "https://example.com/x", StatusCode: 404, ErrorType: "Not Found", LinkType: LinkInternal}}

	require.NoError(t, a.Complete(time.Now(), 3, 10, findings))

	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, 100, a.Progress)
	assert.Equal(t, 1, a.BrokenLinks)
	assert.NotNil(t, a.CompletedAt)
	assert.Len(t, a.Findings, 1)

	assert.ErrorIs(t, a.Advance(Counters{Progress: 10}), ErrIllegalTransition)
	assert.ErrorIs(t, a.Cancel(time.Now()), ErrIllegalTransition)
	assert.Nil(t, a.CancelledAt)
	assert.ErrorIs(t, a.Fail(time.Now(), "late"), ErrIllegalTransition)
	assert.Empty(t, a.Error)
}

func TestFailCarriesError(t *testing.T) {
	a := newRunning(t)

	require.NoError(t, a.Fail(time.Now(), "boom"))

	assert.Equal(t, StatusFailed, a.Status)
	assert.Equal(t, "boom", a.Error)
	assert.NotNil(t, a.CompletedAt)
}

func TestCancelLeavesCompletedAtUnset(t *testing.T) {
	a := newRunning(t)

	stoppedAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, a.Cancel(stoppedAt))

	assert.Equal(t, StatusCancelled, a.Status)
	assert.Nil(t, a.CompletedAt)
	require.NotNil(t, a.CancelledAt)
	assert.Equal(t, stoppedAt, *a.CancelledAt)
	assert.ErrorIs(t, a.Complete(time.Now(), 1, 1, nil), ErrIllegalTransition)
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	a := newRunning(t)
	a.ExcludePaths = []string{"/admin"}
	require.NoError(t, a.Complete(time.Now(), 1, 1, []BrokenLink{{TargetURL: "a"}}))

	c := a.Clone()
	c.ExcludePaths[0] = "/changed"
	c.Findings[0].TargetURL = "b"
	*c.CompletedAt = time.Time{}

	assert.Equal(t, "/admin", a.ExcludePaths[0])
	assert.Equal(t, "a", a.Findings[0].TargetURL)
	assert.False(t, a.CompletedAt.IsZero())
}

func TestHealthScore(t *testing.T) {
	assert.Equal(t, 100, HealthScore(0))
	assert.Equal(t, 70, HealthScore(3))
	assert.Equal(t, 0, HealthScore(10))
	assert.Equal(t, 0, HealthScore(15))
}

func TestPlanLimits(t *testing.T) {
	assert.Equal(t, 2, PlanFree.MaxDepth())
	assert.Equal(t, 5, PlanPro.MaxDepth())
	assert.Equal(t, 10, PlanEnterprise.MaxDepth())
	assert.Equal(t, 0, Plan("gold").MaxDepth())

	assert.False(t, PlanFree.CanExportPDF())
	assert.True(t, PlanPro.CanExportPDF())
	assert.True(t, PlanEnterprise.CanExportPDF())

	_, err := ParsePlan("gold")
	assert.Error(t, err)
	p, err := ParsePlan("pro")
	require.NoError(t, err)
	assert.Equal(t, PlanPro, p)
}
