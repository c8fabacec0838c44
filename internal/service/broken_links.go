// Package service runs broken-link analyses as background jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"brokenLinkAnalyzerGO/internal/crawler"
	"brokenLinkAnalyzerGO/internal/metrics"
	"brokenLinkAnalyzerGO/internal/models"
	"brokenLinkAnalyzerGO/internal/repository"
)

// ErrShuttingDown is returned by StartAnalysis once Shutdown has been called.
var ErrShuttingDown = errors.New("service is shutting down")

// errCancelled is the cancellation cause of a job stopped by CancelAnalysis.
var errCancelled = errors.New("analysis cancelled")

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100

	// finalWriteTimeout bounds the terminal write of a job whose context is gone.
	finalWriteTimeout = 10 * time.Second
)

// recommendations accompany every completed analysis.
var recommendations = []string{
	"Corrige o redirige los enlaces internos rotos con redirecciones 301.",
	"Actualiza o elimina los enlaces externos que ya no responden.",
	"Revisa tu sitio periódicamente para detectar nuevos enlaces rotos.",
	"Configura una página 404 personalizada que ayude a los usuarios a seguir navegando.",
}

// BrokenLinkService creates analyses, runs them in the background and
// serves their status and results.
type BrokenLinkService struct {
	repo    repository.Repository
	crawler crawler.Crawler
	logger  *slog.Logger
	now     func() time.Time

	ctx  context.Context
	stop context.CancelCauseFunc

	mu      sync.Mutex
	closed  bool
	running map[string]context.CancelCauseFunc
	wg      sync.WaitGroup
}

// NewBrokenLinkService creates a service storing jobs in repo and crawling with c
func NewBrokenLinkService(repo repository.Repository, c crawler.Crawler, logger *slog.Logger) *BrokenLinkService {
	ctx, stop := context.WithCancelCause(context.Background())
	return &BrokenLinkService{
		repo:    repo,
		crawler: c,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		stop:    stop,
		running: make(map[string]context.CancelCauseFunc),
	}
}

// CreateAnalysis stores a new pending analysis owned by user and returns its id.
func (s *BrokenLinkService) CreateAnalysis(ctx context.Context, cfg models.AnalysisConfig, user models.User) (string, error) {
	analysis := models.NewAnalysis(uuid.NewString(), cfg, user, s.now())

	if err := s.repo.Create(ctx, analysis); err != nil {
		return "", fmt.Errorf("create analysis: %w", err)
	}

	metrics.AnalysesCreated.WithLabelValues(string(user.Plan)).Inc()
	s.logger.Info("Analysis created", "analysis_id", analysis.ID, "user_id", user.ID, "url", cfg.URL, "depth", cfg.Depth)
	return analysis.ID, nil
}

// StartAnalysis moves a pending analysis to running and crawls it in the
// background. It returns repository.ErrNotFound for an unknown id.
func (s *BrokenLinkService) StartAnalysis(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	if _, busy := s.running[id]; busy {
		s.mu.Unlock()
		return fmt.Errorf("%w: analysis %s is already running", models.ErrIllegalTransition, id)
	}
	jobCtx, cancel := context.WithCancelCause(s.ctx)
	s.running[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	analysis, err := s.repo.Update(ctx, id, func(a *models.Analysis) error {
		return a.Start()
	})
	if err != nil {
		s.release(id, err)
		s.wg.Done()
		return err
	}

	metrics.AnalysesRunning.Inc()
	go s.run(jobCtx, analysis)
	return nil
}

// run drives one crawl to a terminal status. Nothing raised here escapes
// the goroutine: errors and panics end as a failed job.
func (s *BrokenLinkService) run(ctx context.Context, analysis *models.Analysis) {
	id := analysis.ID
	logger := s.logger.With("analysis_id", id)

	defer s.wg.Done()
	defer metrics.AnalysesRunning.Dec()
	defer s.release(id, context.Canceled)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Analysis panicked", "panic", r)
			s.finish(ctx, analysis, func(a *models.Analysis) error {
				return a.Fail(s.now(), fmt.Sprintf("internal error: %v", r))
			})
		}
	}()

	req := crawler.Request{ID: id, AnalysisConfig: analysis.AnalysisConfig}
	outcome, err := s.crawler.Crawl(ctx, req, func(c models.Counters) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.repo.Update(ctx, id, func(a *models.Analysis) error {
			return a.Advance(c)
		})
		return err
	})

	switch {
	case errors.Is(err, models.ErrIllegalTransition), errors.Is(context.Cause(ctx), errCancelled):
		// The record is already cancelled.
		logger.Info("Analysis stopped after cancellation")
	case err != nil && ctx.Err() != nil:
		logger.Info("Analysis interrupted", "reason", context.Cause(ctx))
		s.finish(ctx, analysis, func(a *models.Analysis) error {
			return a.Fail(s.now(), "analysis interrupted by shutdown")
		})
	case err != nil:
		logger.Warn("Analysis failed", "error", err)
		s.finish(ctx, analysis, func(a *models.Analysis) error {
			return a.Fail(s.now(), err.Error())
		})
	default:
		s.finish(ctx, analysis, func(a *models.Analysis) error {
			return a.Complete(s.now(), outcome.PagesAnalyzed, outcome.LinksFound, outcome.BrokenLinks)
		})
	}
}

// finish applies a terminal transition. A job cancelled in the meantime
// stays cancelled.
func (s *BrokenLinkService) finish(ctx context.Context, analysis *models.Analysis, transition repository.UpdateFunc) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	updated, err := s.repo.Update(writeCtx, analysis.ID, transition)
	if errors.Is(err, models.ErrIllegalTransition) {
		return
	}
	if err != nil {
		s.logger.Error("Failed to store analysis outcome", "analysis_id", analysis.ID, "error", err)
		return
	}

	metrics.RecordFinished(string(updated.Status), s.now().Sub(updated.StartedAt))
	s.logger.Info("Analysis finished", "analysis_id", updated.ID, "status", updated.Status,
		"pages", updated.PagesAnalyzed, "links", updated.LinksFound, "broken", updated.BrokenLinks)
}

// release stops the job's context with cause and forgets it.
func (s *BrokenLinkService) release(id string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[id]; ok {
		cancel(cause)
		delete(s.running, id)
	}
}

// GetAnalysis returns the full job record, or nil if the id is unknown.
func (s *BrokenLinkService) GetAnalysis(ctx context.Context, id string) (*models.Analysis, error) {
	analysis, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// GetAnalysisStatus returns the polling view of a job, or nil if the id is unknown.
func (s *BrokenLinkService) GetAnalysisStatus(ctx context.Context, id string) (*models.AnalysisStatus, error) {
	analysis, err := s.GetAnalysis(ctx, id)
	if err != nil || analysis == nil {
		return nil, err
	}
	return models.StatusOf(analysis), nil
}

// GetAnalysisResults returns the results of a completed job, or nil for any
// other status.
func (s *BrokenLinkService) GetAnalysisResults(ctx context.Context, id string) (*models.AnalysisResults, error) {
	analysis, err := s.GetAnalysis(ctx, id)
	if err != nil || analysis == nil {
		return nil, err
	}
	if analysis.Status != models.StatusCompleted || analysis.CompletedAt == nil {
		return nil, nil
	}

	findings := analysis.Findings
	if findings == nil {
		findings = []models.BrokenLink{}
	}

	return &models.AnalysisResults{
		AnalysisID: analysis.ID,
		URL:        analysis.URL,
		Summary: models.Summary{
			TotalPages:   analysis.PagesAnalyzed,
			TotalLinks:   analysis.LinksFound,
			BrokenLinks:  analysis.BrokenLinks,
			HealthScore:  models.HealthScore(analysis.BrokenLinks),
			AnalysisTime: analysis.CompletedAt.Sub(analysis.StartedAt).Milliseconds(),
		},
		BrokenLinks:     findings,
		Recommendations: append([]string(nil), recommendations...),
		CompletedAt:     *analysis.CompletedAt,
	}, nil
}

// GetAnalysisHistory returns one page of the user's analyses, newest first.
// page is 1-based; out of range values are clamped.
func (s *BrokenLinkService) GetAnalysisHistory(ctx context.Context, userID string, page, limit int) (*models.History, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	analyses, total, err := s.repo.ListByUser(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}

	history := &models.History{
		Analyses:   make([]*models.AnalysisStatus, 0, len(analyses)),
		Total:      total,
		Page:       page,
		TotalPages: (total + limit - 1) / limit,
	}
	for _, a := range analyses {
		history.Analyses = append(history.Analyses, models.StatusOf(a))
	}
	return history, nil
}

// CancelAnalysis cancels a pending or running job. It reports false when the
// id is unknown or the job has already finished.
func (s *BrokenLinkService) CancelAnalysis(ctx context.Context, id string) (bool, error) {
	updated, err := s.repo.Update(ctx, id, func(a *models.Analysis) error {
		return a.Cancel(s.now())
	})
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, models.ErrIllegalTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.release(id, errCancelled)
	metrics.RecordFinished(string(models.StatusCancelled), s.now().Sub(updated.StartedAt))
	s.logger.Info("Analysis cancelled", "analysis_id", id)
	return true, nil
}

// RecoverOrphans closes jobs left unfinished by a previous process: pending
// ones are cancelled and running ones failed.
func (s *BrokenLinkService) RecoverOrphans(ctx context.Context) (int, error) {
	orphans, err := s.repo.ListByStatus(ctx, models.StatusPending, models.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list unfinished analyses: %w", err)
	}

	recovered := 0
	for _, orphan := range orphans {
		s.mu.Lock()
		_, live := s.running[orphan.ID]
		s.mu.Unlock()
		if live {
			continue
		}

		_, err := s.repo.Update(ctx, orphan.ID, func(a *models.Analysis) error {
			if a.Status == models.StatusPending {
				return a.Cancel(s.now())
			}
			return a.Fail(s.now(), "interrupted by restart")
		})
		if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("recover analysis %s: %w", orphan.ID, err)
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Warn("Recovered unfinished analyses", "count", recovered)
	}
	return recovered, nil
}

// Shutdown stops every running crawl and waits for the jobs to record their
// final status, or for ctx to expire.
func (s *BrokenLinkService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop(ErrShuttingDown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
