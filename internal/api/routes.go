// Package api implements the HTTP endpoint table, the request handlers and
// the WebSocket command loop of the daemon.
package api

import (
	"fmt"
	"net/url"
	"strings"
)

// routeHandler receives the decoded query values, with special-route
// placeholder values merged in.
type routeHandler func(ctx *requestContext, query url.Values)

// rule is one registered endpoint.
type rule struct {
	verbs   []string
	handler routeHandler
}

// allows reports whether the method is registered for this rule.
func (r *rule) allows(method string) bool {
	for _, verb := range r.verbs {
		if verb == method {
			return true
		}
	}
	return false
}

// specialRule is an endpoint with {name} placeholders. The target matches
// when it carries the prefix and suffix and the middle splits into exactly
// one token per placeholder.
type specialRule struct {
	rule
	prefix string
	suffix string
	names  []string
}

// router resolves request targets to handlers. Exact routes are looked up
// verbatim after trailing-slash stripping; special routes are scanned in
// registration order.
type router struct {
	exact   map[string]*rule
	special []*specialRule
}

func newRouter() *router {
	return &router{exact: make(map[string]*rule)}
}

// addEndpoint registers an exact route. The path must begin with '/';
// trailing slashes are stripped on insertion.
func (rt *router) addEndpoint(path string, handler routeHandler, verbs ...string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("route %q must begin with '/'", path)
	}
	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}
	rt.exact[path] = &rule{verbs: verbs, handler: handler}
	return nil
}

// addSpecialEndpoint registers a placeholder route such as
// "/screen/{screen_number}". Placeholders must be separated by '/', and a
// prefix may only be registered once.
func (rt *router) addSpecialEndpoint(path string, handler routeHandler, verbs ...string) error {
	index := strings.IndexByte(path, '{')
	if index <= 0 {
		return fmt.Errorf("special route %q must have a placeholder", path)
	}

	prefix := path[:index]
	if trimmed := strings.TrimSpace(prefix); trimmed == "" || trimmed == "/" {
		return fmt.Errorf("special route %q must have a valid prefix", path)
	}

	var (
		names            []string
		endOfPlaceholder int
	)
	for index >= 0 {
		end := strings.IndexByte(path[index:], '}')
		if end < 0 {
			return fmt.Errorf("special route %q: end of placeholder not found", path)
		}
		endOfPlaceholder = index + end
		name := strings.TrimSpace(path[index+1 : endOfPlaceholder])
		if name == "" {
			return fmt.Errorf("special route %q: empty placeholder name is not allowed", path)
		}
		names = append(names, name)

		rest := path[endOfPlaceholder+1:]
		next := strings.IndexByte(rest, '{')
		if next < 0 {
			break
		}
		if next == 0 || rest[next-1] != '/' {
			return fmt.Errorf("special route %q: placeholders should be separated by '/'", path)
		}
		index = endOfPlaceholder + 1 + next
	}

	suffix := strings.TrimRight(path[endOfPlaceholder+1:], "/")

	for _, existing := range rt.special {
		if existing.prefix == prefix {
			return fmt.Errorf("the prefix %q already exists", prefix)
		}
	}

	rt.special = append(rt.special, &specialRule{
		rule:   rule{verbs: verbs, handler: handler},
		prefix: prefix,
		suffix: suffix,
		names:  names,
	})
	return nil
}

// resolve looks up the exact table for a stripped target.
func (rt *router) resolve(target string) (*rule, bool) {
	r, ok := rt.exact[target]
	return r, ok
}

// resolveSpecial scans the placeholder routes and, on a match, returns the
// rule and the placeholder name/value pairs.
func (rt *router) resolveSpecial(target string) (*specialRule, map[string]string, bool) {
	target = strings.TrimRight(target, "/")

	for _, special := range rt.special {
		middle, found := strings.CutPrefix(target, special.prefix)
		if !found {
			continue
		}
		if special.suffix != "" {
			var ok bool
			middle, ok = strings.CutSuffix(middle, special.suffix)
			if !ok {
				continue
			}
		}

		tokens := strings.Split(middle, "/")
		if len(tokens) != len(special.names) {
			continue
		}

		values := make(map[string]string, len(special.names))
		for i, name := range special.names {
			values[name] = tokens[i]
		}
		return special, values, true
	}
	return nil, nil, false
}
