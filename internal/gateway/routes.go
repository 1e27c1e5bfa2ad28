package gateway

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/smart-retail/platform/internal/config"
)

// Upstream names, used for bulkheads, metrics and logs.
const (
	UpstreamUserManagement   = "user-management"
	UpstreamEventIngestion   = "event-ingestion"
	UpstreamAlertRulesEngine = "alert-rules-engine"
	UpstreamQueryAnalytics   = "query-analytics"
)

// Route maps a public path prefix to an upstream service.
type Route struct {
	// Name identifies the upstream service.
	Name string
	// Prefix is matched on whole path segments.
	Prefix string
	// Upstream is the service base URL.
	Upstream string
	// UpstreamPrefix replaces Prefix in the forwarded path.
	UpstreamPrefix string
	// Public routes skip authentication.
	Public bool
}

// Target builds the upstream URL for the part of the path after Prefix.
func (r Route) Target(rest, rawQuery string) string {
	target := strings.TrimRight(r.Upstream, "/") + r.UpstreamPrefix + rest
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// DefaultRoutes is the platform routing table under apiPrefix.
func DefaultRoutes(apiPrefix string, cfg config.GatewayConfig) []Route {
	p := strings.TrimRight(apiPrefix, "/")
	return []Route{
		{Name: UpstreamUserManagement, Prefix: p + "/auth", Upstream: cfg.UserManagementURL, UpstreamPrefix: "/auth", Public: true},
		{Name: UpstreamUserManagement, Prefix: p + "/users", Upstream: cfg.UserManagementURL, UpstreamPrefix: "/users"},
		{Name: UpstreamEventIngestion, Prefix: p + "/events", Upstream: cfg.EventIngestionURL, UpstreamPrefix: "/events"},
		{Name: UpstreamAlertRulesEngine, Prefix: p + "/alerts", Upstream: cfg.AlertRulesEngineURL, UpstreamPrefix: "/alerts"},
		{Name: UpstreamAlertRulesEngine, Prefix: p + "/rules", Upstream: cfg.AlertRulesEngineURL, UpstreamPrefix: "/rules"},
		{Name: UpstreamQueryAnalytics, Prefix: p + "/analytics", Upstream: cfg.QueryAnalyticsURL, UpstreamPrefix: "/analytics"},
	}
}

// Table resolves request paths to routes, longest prefix first.
type Table struct {
	routes []Route
}

// NewTable validates routes and orders them for matching.
func NewTable(routes []Route) (*Table, error) {
	seen := make(map[string]bool, len(routes))
	sorted := make([]Route, 0, len(routes))
	for _, r := range routes {
		if r.Name == "" {
			return nil, fmt.Errorf("route %q has no name", r.Prefix)
		}
		if !strings.HasPrefix(r.Prefix, "/") || (len(r.Prefix) > 1 && strings.HasSuffix(r.Prefix, "/")) {
			return nil, fmt.Errorf("route prefix %q must start with / and not end with one", r.Prefix)
		}
		if seen[r.Prefix] {
			return nil, fmt.Errorf("duplicate route prefix %q", r.Prefix)
		}
		seen[r.Prefix] = true

		u, err := url.Parse(r.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("route %q has invalid upstream %q", r.Prefix, r.Upstream)
		}
		sorted = append(sorted, r)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Table{routes: sorted}, nil
}

// Resolve returns the route owning path and the remainder after its prefix.
// Paths with dot segments or encoded separators match nothing, since
// upstreams would clean them into a different route.
func (t *Table) Resolve(path string) (Route, string, bool) {
	if !canonical(path) {
		return Route{}, "", false
	}
	for _, r := range t.routes {
		if path == r.Prefix {
			return r, "", true
		}
		if strings.HasPrefix(path, r.Prefix+"/") {
			return r, path[len(r.Prefix):], true
		}
	}
	return Route{}, "", false
}

// Upstreams lists distinct upstream names.
func (t *Table) Upstreams() []string {
	var names []string
	seen := map[string]bool{}
	for _, r := range t.routes {
		if !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
	}
	return names
}

// Routes returns a copy of the ordered table.
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

func canonical(raw string) bool {
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "%2f") || strings.Contains(lower, "%5c") || strings.Contains(raw, `\`) {
		return false
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil || strings.Contains(decoded, "%") {
		return false
	}
	for _, seg := range strings.Split(decoded, "/") {
		if seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
