package service

import (
	"context"
	"fmt"
	"time"

	"brokenLinkAnalyzerGO/internal/metrics"
)

// Reap deletes analyses that finished more than retention ago.
func (s *BrokenLinkService) Reap(ctx context.Context, retention time.Duration) (int, error) {
	removed, err := s.repo.DeleteFinishedBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return removed, fmt.Errorf("reap analyses: %w", err)
	}
	if removed > 0 {
		metrics.AnalysesReaped.Add(float64(removed))
		s.logger.Info("Reaped finished analyses", "count", removed, "retention", retention.String())
	}
	return removed, nil
}

// RunReaper calls Reap every interval until ctx is done. A non-positive
// retention keeps analyses forever.
func (s *BrokenLinkService) RunReaper(ctx context.Context, interval, retention time.Duration) {
	if retention <= 0 || interval <= 0 {
		s.logger.Info("Analysis reaper disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Analysis reaper scheduled", "interval", interval.String(), "retention", retention.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reap(ctx, retention); err != nil {
				s.logger.Error("Failed to reap analyses", "error", err)
			}
		}
	}
}
