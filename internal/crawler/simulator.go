package crawler

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"brokenLinkAnalyzerGO/internal/models"
)

// simulatorSteps is the number of ticks in a simulated crawl, 10% each.
const simulatorSteps = 10

// Simulator produces a synthetic crawl: counters rise in fixed 10% ticks
// separated by a fixed delay, and the broken-link list is derived from the
// job id so the same job always yields the same findings.
type Simulator struct {
	tick   time.Duration
	logger *slog.Logger
}

// NewSimulator creates a Simulator sleeping tick between steps
func NewSimulator(tick time.Duration, logger *slog.Logger) *Simulator {
	return &Simulator{tick: tick, logger: logger}
}

var simulatedFailures = []struct {
	status    int
	errorType string
}{
	{http.StatusNotFound, http.StatusText(http.StatusNotFound)},
	{http.StatusNotFound, http.StatusText(http.StatusNotFound)},
	{http.StatusForbidden, http.StatusText(http.StatusForbidden)},
	{http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)},
	{http.StatusGone, http.StatusText(http.StatusGone)},
	{0, ErrorTypeTimeout},
	{0, ErrorTypeConnection},
}

var simulatedPaths = []string{
	"/blog/old-post", "/products/discontinued", "/about/team", "/docs/v1/setup",
	"/contact/form", "/images/banner.png", "/news/2019/launch", "/downloads/guide.pdf",
	"/pricing/legacy", "/support/faq",
}

func (s *Simulator) Crawl(ctx context.Context, req Request, progress ProgressFunc) (*Outcome, error) {
	base, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	rng := rand.New(rand.NewPCG(seed(req.ID), uint64(req.Depth)))
	totalPages := req.Depth*5 + rng.IntN(10) + 1
	totalLinks := totalPages*8 + rng.IntN(20)
	findings := s.findings(rng, base, req)

	s.logger.Debug("Simulating crawl", "analysis_id", req.ID, "url", req.URL, "pages", totalPages)

	timer := time.NewTimer(s.tick)
	defer timer.Stop()

	for step := 1; step < simulatorSteps; step++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			timer.Reset(s.tick)
		}

		err := progress(models.Counters{
			Progress:      step * 100 / simulatorSteps,
			PagesAnalyzed: totalPages * step / simulatorSteps,
			LinksFound:    totalLinks * step / simulatorSteps,
			BrokenLinks:   len(findings) * step / simulatorSteps,
		})
		if err != nil {
			return nil, err
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return &Outcome{
		PagesAnalyzed: totalPages,
		LinksFound:    totalLinks,
		BrokenLinks:   findings,
	}, nil
}

func (s *Simulator) findings(rng *rand.Rand, base *url.URL, req Request) []models.BrokenLink {
	count := rng.IntN(req.Depth + 4)
	out := make([]models.BrokenLink, 0, count)

	for i := 0; i < count; i++ {
		failure := simulatedFailures[rng.IntN(len(simulatedFailures))]
		path := simulatedPaths[rng.IntN(len(simulatedPaths))]

		link := models.BrokenLink{
			SourceURL:  base.String(),
			StatusCode: failure.status,
			ErrorType:  failure.errorType,
			LinkType:   models.LinkInternal,
		}
		if req.IncludeExternal && rng.IntN(3) == 0 {
			link.LinkType = models.LinkExternal
			link.TargetURL = fmt.Sprintf("https://partner-%d.example.org%s", rng.IntN(50), path)
		} else {
			if excluded(path, req.ExcludePaths) {
				continue
			}
			target := *base
			target.Path = path
			target.RawQuery = ""
			target.Fragment = ""
			link.TargetURL = target.String()
		}
		out = append(out, link)
	}
	return out
}

func excluded(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func seed(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}
