package gateway

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Route forwards every path under Prefix to Upstream.
type Route struct {
	Prefix   string
	Upstream *url.URL
}

// RouteTable resolves request paths to upstream services by longest prefix.
type RouteTable struct {
	routes []Route
}

// NewRouteTable parses prefix → base URL pairs. Upstreams must be absolute
// http or https URLs without a path.
func NewRouteTable(routes map[string]string) (*RouteTable, error) {
	table := &RouteTable{routes: make([]Route, 0, len(routes))}
	for prefix, raw := range routes {
		prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
		upstream, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("gateway route %s: %w", prefix, err)
		}
		if (upstream.Scheme != "http" && upstream.Scheme != "https") || upstream.Host == "" {
			return nil, fmt.Errorf("gateway route %s: upstream %q must be an absolute http(s) url", prefix, raw)
		}
		if upstream.Path != "" && upstream.Path != "/" {
			return nil, fmt.Errorf("gateway route %s: upstream %q must not carry a path", prefix, raw)
		}
		upstream.Path = ""
		table.routes = append(table.routes, Route{Prefix: prefix, Upstream: upstream})
	}
	sort.Slice(table.routes, func(i, j int) bool {
		if len(table.routes[i].Prefix) != len(table.routes[j].Prefix) {
			return len(table.routes[i].Prefix) > len(table.routes[j].Prefix)
		}
		return table.routes[i].Prefix < table.routes[j].Prefix
	})
	return table, nil
}

// Match returns the route with the longest prefix covering path. A prefix
// only matches on a segment boundary, so /api/user does not cover /api/users.
func (t *RouteTable) Match(path string) (Route, bool) {
	for _, r := range t.routes {
		if r.Prefix == "/" || path == r.Prefix || strings.HasPrefix(path, r.Prefix+"/") {
			return r, true
		}
	}
	return Route{}, false
}

// Routes returns the table in match order.
func (t *RouteTable) Routes() []Route {
	return append([]Route(nil), t.routes...)
}
