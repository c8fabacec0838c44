// Package crawler discovers links under a start URL and reports the ones
// that are broken.
package crawler

import (
	"context"
	"errors"
	"net"
	"net/http"

	"brokenLinkAnalyzerGO/internal/models"
)

// Request describes one crawl
type Request struct {
	ID string
	models.AnalysisConfig
}

// ProgressFunc receives progress samples while a crawl runs. A non-nil
// error aborts the crawl and is returned from Crawl.
type ProgressFunc func(models.Counters) error

// Outcome is the final result of a crawl
type Outcome struct {
	PagesAnalyzed int
	LinksFound    int
	BrokenLinks   []models.BrokenLink
}

// Crawler runs a crawl to completion, or until ctx is done.
type Crawler interface {
	Crawl(ctx context.Context, req Request, progress ProgressFunc) (*Outcome, error)
}

// Error types reported for links that did not produce an HTTP status.
const (
	ErrorTypeTimeout    = "Timeout"
	ErrorTypeConnection = "Connection Error"
)

// classify maps a probe result to a broken-link error type.
func classify(status int, err error) (errorType string, broken bool) {
	if err != nil {
		if isTimeout(err) {
			return ErrorTypeTimeout, true
		}
		return ErrorTypeConnection, true
	}
	if status >= http.StatusBadRequest {
		if text := http.StatusText(status); text != "" {
			return text, true
		}
		return "HTTP Error", true
	}
	return "", false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
