package controllers

import (
	"net/http"

	"github.com/jacksonlee411/crm-pep/modules/pep/domain/catalog"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
)

type CatalogController struct {
	Catalog *catalog.Catalog
}

type catalogAPIEntity struct {
	ID     string   `json:"id"`
	Table  string   `json:"table"`
	Fields []string `json:"fields"`
}

type catalogAPIResponse struct {
	Entities     []catalogAPIEntity                    `json:"entities"`
	Operators    []types.Operator                      `json:"operators"`
	MaxLimit     int                                   `json:"max_limit"`
	Capabilities map[string]map[string]catalog.Binding `json:"capabilities"`
}

// HandleCatalogAPI describes what a query frame may reference. Orchestrators
// read it before planning a query.
func (c CatalogController) HandleCatalogAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if c.Catalog == nil {
		writeError(w, r, http.StatusServiceUnavailable, "catalog_unavailable", "catalog unavailable")
		return
	}

	entities := c.Catalog.Entities()
	out := catalogAPIResponse{
		Entities:     make([]catalogAPIEntity, 0, len(entities)),
		Operators:    c.Catalog.Operators(),
		MaxLimit:     c.Catalog.MaxLimit(),
		Capabilities: make(map[string]map[string]catalog.Binding),
	}
	caps := c.Catalog.Capabilities()
	for _, e := range entities {
		out.Entities = append(out.Entities, catalogAPIEntity{ID: e.ID, Table: e.Table, Fields: e.FieldNames()})
		for _, capID := range caps.Capabilities() {
			b, ok := caps.Lookup(capID, e.ID)
			if !ok {
				continue
			}
			if out.Capabilities[capID] == nil {
				out.Capabilities[capID] = make(map[string]catalog.Binding)
			}
			out.Capabilities[capID][e.ID] = b
		}
	}
	writeJSON(w, http.StatusOK, out)
}
