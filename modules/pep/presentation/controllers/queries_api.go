package controllers

import (
	"net/http"

	"github.com/jacksonlee411/crm-pep/modules/pep/domain/catalog"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
	"github.com/jacksonlee411/crm-pep/modules/pep/services"
)

type QueriesController struct {
	Catalog *catalog.Catalog
}

type resolveAPIResponse struct {
	types.ResolvedQuery
	Capability *catalog.Binding `json:"capability,omitempty"`
}

// HandleResolveAPI answers 200 for rejected frames as well; the reason is
// part of the result.
func (c QueriesController) HandleResolveAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if c.Catalog == nil {
		writeError(w, r, http.StatusServiceUnavailable, "catalog_unavailable", "catalog unavailable")
		return
	}

	var frame types.QueryFrame
	if !decodeJSONBody(w, r, &frame) {
		return
	}

	out := resolveAPIResponse{ResolvedQuery: services.ResolveQuery(frame, c.Catalog)}
	if out.Resolved {
		if b, ok := c.Catalog.Capabilities().Lookup(catalog.CapabilityQueryEntity, out.Target); ok {
			out.Capability = &b
		}
	}
	writeJSON(w, http.StatusOK, out)
}
