package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"brokenLinkAnalyzerGO/internal/config"
	"brokenLinkAnalyzerGO/internal/metrics"
	"brokenLinkAnalyzerGO/internal/models"
	"brokenLinkAnalyzerGO/internal/validation"
)

const (
	maxPageBytes  = 5 << 20
	maxDrainBytes = 64 << 10
)

// HTTPCrawler crawls a site over HTTP. Pages on the start host are fetched
// breadth first up to the requested depth; every link found is probed and
// the failing ones are reported.
type HTTPCrawler struct {
	client   *http.Client
	config   config.CrawlerConfig
	logger   *slog.Logger
	limiter  *rate.Limiter
	breakers *hostBreakers
}

// NewHTTPCrawler creates an HTTPCrawler. With production set, connections to
// private and reserved addresses are refused at dial time.
func NewHTTPCrawler(cfg config.CrawlerConfig, production bool, logger *slog.Logger) *HTTPCrawler {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if production {
		transport.Proxy = nil
		transport.DialContext = newGuardedDialer(logger).DialContext
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &HTTPCrawler{
		client:   &http.Client{Transport: transport},
		config:   cfg,
		logger:   logger,
		limiter:  rate.NewLimiter(limit, max(1, cfg.Concurrency)),
		breakers: newHostBreakers(cfg.BreakerFailures, cfg.BreakerCooldown, logger),
	}
}

type probeResult struct {
	status int
	err    error
}

// crawl is the state of a single Crawl call
type crawl struct {
	c        *HTTPCrawler
	req      Request
	start    string
	progress ProgressFunc

	mu       sync.Mutex
	hosts    map[string]bool
	visited  map[string]bool
	pages    int
	links    int
	findings []models.BrokenLink
	probes   map[string]probeResult
	inflight singleflight.Group

	// slots bounds the HTTP requests in flight across page fetches and
	// link probes to the configured concurrency.
	slots *semaphore.Weighted
}

func (c *HTTPCrawler) Crawl(ctx context.Context, req Request, progress ProgressFunc) (*Outcome, error) {
	start, err := url.Parse(validation.SanitizeURL(req.URL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	cr := &crawl{
		c:        c,
		req:      req,
		start:    start.String(),
		progress: progress,
		hosts:    map[string]bool{strings.ToLower(start.Host): true},
		visited:  map[string]bool{start.String(): true},
		probes:   make(map[string]probeResult),
		slots:    semaphore.NewWeighted(int64(max(1, c.config.Concurrency))),
	}

	c.logger.Info("Starting crawl", "analysis_id", req.ID, "url", cr.start, "depth", req.Depth)

	level := []string{cr.start}
	for depth := 0; depth < req.Depth && len(level) > 0; depth++ {
		next, err := cr.crawlLevel(ctx, level, depth)
		if err != nil {
			return nil, err
		}
		level = next
	}

	sort.Slice(cr.findings, func(i, j int) bool {
		if cr.findings[i].SourceURL != cr.findings[j].SourceURL {
			return cr.findings[i].SourceURL < cr.findings[j].SourceURL
		}
		return cr.findings[i].TargetURL < cr.findings[j].TargetURL
	})

	c.logger.Info("Crawl finished", "analysis_id", req.ID, "pages", cr.pages, "links", cr.links, "broken", len(cr.findings))

	return &Outcome{
		PagesAnalyzed: cr.pages,
		LinksFound:    cr.links,
		BrokenLinks:   cr.findings,
	}, nil
}

// crawlLevel fetches every page of one BFS level and returns the pages
// queued for the next one.
func (cr *crawl) crawlLevel(ctx context.Context, level []string, depth int) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cr.c.config.Concurrency))

	follow := depth+1 < cr.req.Depth
	var (
		mu   sync.Mutex
		next []string
		done int
	)

	for _, pageURL := range level {
		g.Go(func() error {
			links, err := cr.fetchPage(gctx, pageURL)
			if err != nil {
				if pageURL == cr.start {
					return fmt.Errorf("failed to fetch %s: %w", pageURL, err)
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Already probed and reported from the page linking here.
				cr.c.logger.Debug("Skipping page", "url", pageURL, "error", err)
			}

			queued, err := cr.checkLinks(gctx, pageURL, links, follow)
			if err != nil {
				return err
			}

			// Reports are serialized so the callback sees progress in order.
			mu.Lock()
			defer mu.Unlock()
			next = append(next, queued...)
			done++
			return cr.progress(cr.counters((depth*100 + done*100/len(level)) / cr.req.Depth))
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(next)
	return next, nil
}

func (cr *crawl) counters(progress int) models.Counters {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return models.Counters{
		Progress:      progress,
		PagesAnalyzed: cr.pages,
		LinksFound:    cr.links,
		BrokenLinks:   len(cr.findings),
	}
}

// fetchPage downloads an HTML page and returns the absolute links it holds.
func (cr *crawl) fetchPage(ctx context.Context, pageURL string) ([]string, error) {
	c := cr.c
	if err := cr.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer cr.slots.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, cr.req.TimeoutDuration())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug("Fetching page", "url", pageURL)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	cr.mu.Lock()
	cr.pages++
	if pageURL == cr.start {
		// The start page may redirect, e.g. to https or a www host.
		cr.hosts[strings.ToLower(resp.Request.URL.Host)] = true
	}
	cr.mu.Unlock()

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, nil
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return extractLinks(goquery.NewDocumentFromNode(doc), resp.Request.URL), nil
}

// extractLinks returns the distinct http(s) links of doc resolved against base.
func extractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		link := validation.SanitizeURL(abs.String())
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})
	return links
}

// checkLinks probes the links found on source. Healthy internal pages not
// seen before are returned for the next level when follow is set.
func (cr *crawl) checkLinks(ctx context.Context, source string, links []string, follow bool) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cr.c.config.Concurrency))

	var (
		mu     sync.Mutex
		queued []string
	)

	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		internal := cr.isInternal(u)
		if internal && excluded(u.Path, cr.req.ExcludePaths) {
			continue
		}

		cr.mu.Lock()
		cr.links++
		cr.mu.Unlock()

		if !internal && !cr.req.IncludeExternal {
			continue
		}

		g.Go(func() error {
			res, err := cr.probe(gctx, link)
			if err != nil {
				return err
			}

			linkType := models.LinkExternal
			if internal {
				linkType = models.LinkInternal
			}

			errorType, broken := classify(res.status, res.err)
			if broken {
				metrics.LinkChecks.WithLabelValues(string(linkType), "broken").Inc()
				cr.mu.Lock()
				cr.findings = append(cr.findings, models.BrokenLink{
					SourceURL:  source,
					TargetURL:  link,
					StatusCode: res.status,
					ErrorType:  errorType,
					LinkType:   linkType,
				})
				cr.mu.Unlock()
				return nil
			}
			metrics.LinkChecks.WithLabelValues(string(linkType), "ok").Inc()

			if internal && follow && cr.markVisited(link) {
				mu.Lock()
				queued = append(queued, link)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return queued, nil
}

func (cr *crawl) isInternal(u *url.URL) bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.hosts[strings.ToLower(u.Host)]
}

// markVisited claims link for crawling, within the page cap.
func (cr *crawl) markVisited(link string) bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.visited[link] {
		return false
	}
	if limit := cr.c.config.MaxPages; limit > 0 && len(cr.visited) >= limit {
		return false
	}
	cr.visited[link] = true
	return true
}

// probe checks link once per crawl; concurrent callers for the same link
// share one request.
func (cr *crawl) probe(ctx context.Context, link string) (probeResult, error) {
	cr.mu.Lock()
	if res, ok := cr.probes[link]; ok {
		cr.mu.Unlock()
		return res, nil
	}
	cr.mu.Unlock()

	v, err, _ := cr.inflight.Do(link, func() (any, error) {
		if err := cr.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		status, err := cr.c.check(ctx, link, cr.req)
		cr.slots.Release(1)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		res := probeResult{status: status, err: err}
		cr.mu.Lock()
		cr.probes[link] = res
		cr.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return probeResult{}, err
	}
	return v.(probeResult), nil
}

// check returns the status code of link, trying HEAD first and falling back
// to GET for servers that do not implement HEAD.
func (c *HTTPCrawler) check(ctx context.Context, link string, req Request) (int, error) {
	u, err := url.Parse(link)
	if err != nil {
		return 0, err
	}

	return c.breakers.get(strings.ToLower(u.Host)).Execute(func() (int, error) {
		status, err := c.request(ctx, http.MethodHead, link, req)
		if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
			status, err = c.request(ctx, http.MethodGet, link, req)
		}
		return status, err
	})
}

func (c *HTTPCrawler) request(ctx context.Context, method, link string, r Request) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.TimeoutDuration())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, link, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	return resp.StatusCode, nil
}
