package routing

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// Router dispatches on exact path then method. Only routes declared in the
// entrypoint allowlist can be registered.
type Router struct {
	classifier *Classifier
	logger     *zap.Logger
	routes     map[string]map[string]routeEntry
}

type routeEntry struct {
	rc      RouteClass
	handler http.Handler
}

func NewRouter(classifier *Classifier, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		classifier: classifier,
		logger:     logger,
		routes:     make(map[string]map[string]routeEntry),
	}
}

func (r *Router) Handle(method string, path string, h http.Handler) error {
	method = strings.ToUpper(method)
	if !r.classifier.Allows(method, path) {
		return fmt.Errorf("routing: %s %s is not allowlisted for entrypoint %q", method, path, r.classifier.Entrypoint())
	}
	if r.routes[path] == nil {
		r.routes[path] = make(map[string]routeEntry)
	}
	if _, dup := r.routes[path][method]; dup {
		return fmt.Errorf("routing: duplicate route %s %s", method, path)
	}

	rc := r.classifier.Classify(path)
	r.routes[path][method] = routeEntry{
		rc: rc,
		handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("handler panic",
						zap.String("method", req.Method),
						zap.String("path", req.URL.Path),
						zap.String("route_class", string(rc)),
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()),
					)
					WriteError(w, req, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			h.ServeHTTP(w, req)
		}),
	}
	return nil
}

// Routes lists registered routes as "METHOD path", sorted.
func (r *Router) Routes() []string {
	var out []string
	for path, methods := range r.routes {
		for m := range methods {
			out = append(out, m+" "+path)
		}
	}
	slices.Sort(out)
	return out
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	methods, ok := r.routes[req.URL.Path]
	if !ok {
		WriteError(w, req, http.StatusNotFound, "not_found", "not found")
		return
	}
	entry, ok := methods[req.Method]
	if !ok {
		allow := make([]string, 0, len(methods))
		for m := range methods {
			allow = append(allow, m)
		}
		slices.Sort(allow)
		w.Header().Set("Allow", strings.Join(allow, ", "))
		WriteError(w, req, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	entry.handler.ServeHTTP(w, req)
}
