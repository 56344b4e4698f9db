package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Route is one forwarding rule. A route with an empty PathPrefix is the
// default route and matches every path at the lowest priority.
type Route struct {
	Name         string
	PathPrefix   string
	Upstream     *url.URL
	StripPrefix  string
	AuthRequired bool
	RateLimit    RouteRateLimit
	Handler      http.Handler // forwarding proxy, or a local handler for the default static route
}

type RouteRateLimit struct {
	Enabled bool
	RPS     float64
	Burst   float64
	Scope   string
}

// Router is the immutable routing table: built once at startup, safe for
// concurrent Match calls without locking.
type Router struct {
	routes []Route
}

var ErrNoRoutes = errors.New("no routes")

// New builds the table. Routes are ordered longest prefix first; among
// equal lengths declaration order is preserved, so the earliest declared
// route wins a (defensively handled) tie. Duplicate prefixes are a
// configuration error.
func New(routes []Route) (*Router, error) {
	if len(routes) == 0 {
		return nil, ErrNoRoutes
	}

	seen := make(map[string]string, len(routes))
	for _, rt := range routes {
		if prev, ok := seen[rt.PathPrefix]; ok {
			return nil, fmt.Errorf("duplicate path prefix %q (routes %q and %q)", rt.PathPrefix, prev, rt.Name)
		}
		seen[rt.PathPrefix] = rt.Name
	}

	ordered := make([]Route, len(routes))
	copy(ordered, routes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].PathPrefix) > len(ordered[j].PathPrefix)
	})
	return &Router{routes: ordered}, nil
}

// Match returns the route with the longest prefix that is a literal
// prefix of path, or nil when none qualifies. The empty-prefix default
// route, if present, matches last. Pure: same table and path always
// select the same route.
func (r *Router) Match(path string) *Route {
	for i := range r.routes {
		if strings.HasPrefix(path, r.routes[i].PathPrefix) {
			return &r.routes[i]
		}
	}
	return nil
}

// Routes returns the table in priority order, for the admin surface.
func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// ServeHTTP matches the request and dispatches to the per-route handler,
// or answers 404 when nothing matches. An unmatched path never causes a
// network call.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	rt := r.Match(req.URL.Path)
	if rt == nil {
		http.NotFound(w, req)
		return
	}
	rt.Handler.ServeHTTP(w, req)
}

// StripPath removes strip from the front of path when present. The
// scaffold's upstreams expect the full original path, so strip is empty
// in the default configuration.
func StripPath(path, strip string) string {
	if strip == "" || !strings.HasPrefix(path, strip) {
		return path
	}
	p := strings.TrimPrefix(path, strip)
	if p == "" {
		return "/"
	}
	return p
}
