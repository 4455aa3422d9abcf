package routing

import (
	"errors"
	"strings"
)

type RouteClass string

const (
	RouteClassInternalAPI RouteClass = "internal_api"
	RouteClassPublicAPI   RouteClass = "public_api"
	RouteClassWebhook     RouteClass = "webhook"
	RouteClassOps         RouteClass = "ops"
)

func knownRouteClass(rc RouteClass) bool {
	switch rc {
	case RouteClassInternalAPI, RouteClassPublicAPI, RouteClassWebhook, RouteClassOps:
		return true
	}
	return false
}

type allowedRoute struct {
	rc      RouteClass
	methods map[string]bool
}

type Classifier struct {
	entrypoint string
	allow      map[string]allowedRoute
}

func NewClassifier(a Allowlist, entrypoint string) (*Classifier, error) {
	ep, ok := a.Entrypoints[entrypoint]
	if !ok {
		return nil, errors.New("allowlist: missing entrypoint")
	}
	if len(ep.Routes) == 0 {
		return nil, errors.New("allowlist: entrypoint routes empty")
	}

	allow := make(map[string]allowedRoute, len(ep.Routes))
	for _, r := range ep.Routes {
		if r.Path == "" || r.RouteClass == "" {
			return nil, errors.New("allowlist: invalid route")
		}
		// Routes are matched exactly; PEP actions are addressed as
		// /pep/api/<resource>:<verb> with ids in the body or query.
		if strings.ContainsAny(r.Path, "{}") {
			return nil, errors.New("allowlist: path parameters are not supported: " + r.Path)
		}
		ar := allowedRoute{rc: RouteClass(r.RouteClass), methods: make(map[string]bool, len(r.Methods))}
		for _, m := range r.Methods {
			ar.methods[strings.ToUpper(m)] = true
		}
		allow[r.Path] = ar
	}
	return &Classifier{entrypoint: entrypoint, allow: allow}, nil
}

func (c *Classifier) Entrypoint() string { return c.entrypoint }

func (c *Classifier) lookup(path string) (allowedRoute, bool) {
	r, ok := c.allow[path]
	return r, ok
}

// Allows reports whether method+path is declared for this entrypoint. A
// route without methods allows any method.
func (c *Classifier) Allows(method string, path string) bool {
	r, ok := c.lookup(path)
	if !ok {
		return false
	}
	return len(r.methods) == 0 || r.methods[strings.ToUpper(method)]
}

func (c *Classifier) Classify(path string) RouteClass {
	if r, ok := c.lookup(path); ok {
		return r.rc
	}

	switch {
	case hasPrefixSegment(path, "/api/v1") || hasPrefixSegment(path, "/api/v2"):
		return RouteClassPublicAPI
	case isModuleInternalAPI(path):
		return RouteClassInternalAPI
	case hasPrefixSegment(path, "/webhooks"):
		return RouteClassWebhook
	default:
		return RouteClassOps
	}
}

func hasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// isModuleInternalAPI matches /{module}/api and anything below it, where
// module is a single segment.
func isModuleInternalAPI(path string) bool {
	if !strings.HasPrefix(path, "/") {
		return false
	}
	rest := strings.TrimPrefix(path, "/")
	module, after, ok := strings.Cut(rest, "/")
	if !ok || module == "" {
		return false
	}
	return hasPrefixSegment("/"+after, "/api")
}
