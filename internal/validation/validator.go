// Package validation checks analysis requests before they reach the service.
//
// Every function here is pure: it never panics and never touches the network.
// Failures are reported through Result so callers can accumulate and render
// them, instead of through errors.
package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"net/netip"
	"net/url"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"brokenLinkAnalyzerGO/internal/models"
)

// Defaults applied to optional request fields that were omitted.
const (
	DefaultDepth   = 2
	DefaultTimeout = 10000

	minDepth   = 1
	maxDepth   = 10
	minTimeout = 1000
	maxTimeout = 30000
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// privateV4 are the RFC 1918 ranges refused in production.
var privateV4 = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
}

// Result is the outcome of a validation
type Result struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

func (r *Result) add(format string, args ...any) {
	r.IsValid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func ok() Result {
	return Result{IsValid: true, Errors: []string{}}
}

// AnalysisRequest is the body of POST /analyze. Fields stay raw so that a
// wrongly typed field is reported next to the others instead of aborting
// the decode.
type AnalysisRequest struct {
	URL             json.RawMessage `json:"url"`
	Depth           json.RawMessage `json:"depth"`
	ExcludePaths    json.RawMessage `json:"excludePaths"`
	IncludeExternal json.RawMessage `json:"includeExternal"`
	Timeout         json.RawMessage `json:"timeout"`
}

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateAnalysisRequest checks every field of req and returns the decoded
// configuration. All violations are collected; the configuration is only
// meaningful when the result is valid.
func ValidateAnalysisRequest(req AnalysisRequest) (models.AnalysisConfig, Result) {
	res := ok()
	v := getValidator()
	cfg := models.AnalysisConfig{
		Depth:        DefaultDepth,
		Timeout:      DefaultTimeout,
		ExcludePaths: []string{},
	}

	var rawURL any
	switch {
	case absent(req.URL):
		res.add("url is required")
	case json.Unmarshal(req.URL, &rawURL) != nil:
		res.add("url must be a string")
	default:
		s, isString := rawURL.(string)
		if !isString {
			res.add("url must be a string")
			break
		}
		if err := v.Var(s, "required,url"); err != nil {
			res.add("url must be a valid URL")
			break
		}
		if !isHTTP(s) {
			res.add("url must use http or https")
			break
		}
		cfg.URL = s
	}

	if !absent(req.Depth) {
		if n, isInt := decodeInt(req.Depth); !isInt {
			res.add("depth must be an integer")
		} else if err := v.Var(n, fmt.Sprintf("min=%d,max=%d", minDepth, maxDepth)); err != nil {
			res.add("depth must be between %d and %d", minDepth, maxDepth)
		} else {
			cfg.Depth = n
		}
	}

	if !absent(req.ExcludePaths) {
		var paths []any
		if err := json.Unmarshal(req.ExcludePaths, &paths); err != nil {
			res.add("excludePaths must be an array of strings")
		} else {
			for i, p := range paths {
				s, isString := p.(string)
				if !isString {
					res.add("excludePaths[%d] must be a string", i)
					continue
				}
				if err := v.Var(s, "startswith=/"); err != nil {
					res.add("excludePaths[%d] must start with /", i)
					continue
				}
				cfg.ExcludePaths = append(cfg.ExcludePaths, s)
			}
		}
	}

	if !absent(req.IncludeExternal) {
		var b any
		if err := json.Unmarshal(req.IncludeExternal, &b); err != nil {
			res.add("includeExternal must be a boolean")
		} else if flag, isBool := b.(bool); !isBool {
			res.add("includeExternal must be a boolean")
		} else {
			cfg.IncludeExternal = flag
		}
	}

	if !absent(req.Timeout) {
		if n, isInt := decodeInt(req.Timeout); !isInt {
			res.add("timeout must be an integer")
		} else if err := v.Var(n, fmt.Sprintf("min=%d,max=%d", minTimeout, maxTimeout)); err != nil {
			res.add("timeout must be between %d and %d milliseconds", minTimeout, maxTimeout)
		} else {
			cfg.Timeout = n
		}
	}

	return cfg, res
}

// ValidateURL re-checks the protocol and, in production, refuses targets on
// localhost, loopback or private IPv4 networks.
func ValidateURL(rawURL string, production bool) Result {
	res := ok()

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		res.add("invalid URL")
		return res
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		res.add("only http and https URLs are allowed")
		return res
	}

	if production && isInternalHost(u.Hostname()) {
		res.add("URLs pointing to local or private networks are not allowed")
	}
	return res
}

// IsSupportedFormat reports whether format names a known export.
func IsSupportedFormat(format string) bool {
	return format == "csv" || format == "pdf"
}

// ValidateExportFormat checks that format exists and that plan may use it.
func ValidateExportFormat(format string, plan models.Plan) Result {
	res := ok()
	if !IsSupportedFormat(format) {
		res.add("unsupported export format %q, use csv or pdf", format)
		return res
	}
	if format == "pdf" && !plan.CanExportPDF() {
		res.add("PDF export requires a pro or enterprise plan")
	}
	return res
}

// ValidatePlanLimits checks the plan is known and allows requestedDepth.
func ValidatePlanLimits(plan models.Plan, requestedDepth int) Result {
	res := ok()
	if !plan.Valid() {
		res.add("unknown plan %q", plan)
		return res
	}
	if limit := plan.MaxDepth(); requestedDepth > limit {
		res.add("the %s plan allows a maximum depth of %d", plan, limit)
	}
	return res
}

// SanitizeURL drops the fragment and any trailing slash, except for the root
// path. Input that does not parse is returned unchanged.
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
	}
	return u.String()
}

func isHTTP(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isInternalHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	if addr.IsLoopback() {
		return true
	}
	for _, p := range privateV4 {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func decodeInt(raw json.RawMessage) (int, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	f, isNumber := v.(float64)
	if !isNumber || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
