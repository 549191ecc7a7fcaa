// Route dispatch.
//
// DESIGN: Routes are registered into a table and sorted once at build time:
// exact-literal paths always rank above prefix patterns, longer prefixes
// above shorter ones. Matching at dispatch is a scan over the sorted table,
// so registration order can never shadow a more specific sibling path.
package gateway

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/msgrelay/messages-gateway/internal/monitoring"
)

// handlerFunc is a request handler bound to its completion tracker.
type handlerFunc func(http.ResponseWriter, *http.Request, *monitoring.Completion)

// route is one entry in the dispatch table.
type route struct {
	method  string
	pattern string // literal path, or prefix when prefix is true
	prefix  bool
	handler handlerFunc
}

// routeTable is the immutable dispatch table. Built once at startup,
// read-only afterwards; safe for concurrent use without locking.
type routeTable struct {
	routes []route
}

// newRouteTable builds and sorts a dispatch table. Duplicate
// (method, pattern) registrations are a programming error.
func newRouteTable(routes []route) (*routeTable, error) {
	seen := make(map[string]struct{}, len(routes))
	for _, rt := range routes {
		key := rt.method + " " + rt.pattern
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate route %s", key)
		}
		seen[key] = struct{}{}
	}

	sorted := make([]route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.prefix != b.prefix {
			return !a.prefix // exact matches first
		}
		return len(a.pattern) > len(b.pattern) // longer pattern wins
	})

	return &routeTable{routes: sorted}, nil
}

// match returns the handler for (method, path), or nil when no route
// matches. Pure function over the sorted table.
func (t *routeTable) match(method, path string) handlerFunc {
	for _, rt := range t.routes {
		if rt.method != method {
			continue
		}
		if rt.prefix {
			if strings.HasPrefix(path, rt.pattern) {
				return rt.handler
			}
		} else if path == rt.pattern {
			return rt.handler
		}
	}
	return nil
}
