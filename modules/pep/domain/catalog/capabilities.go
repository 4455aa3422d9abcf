package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

const CapabilityQueryEntity = "query_entity"

// Binding is the HTTP route an orchestrator calls to run a capability against
// one entity.
type Binding struct {
	Method string `yaml:"method" json:"method"`
	Path   string `yaml:"path" json:"path"`
}

type CapabilityCatalog struct {
	byID map[string]map[string]Binding
}

func buildCapabilities(defs []fileCapability, entityIndex map[string]int) (CapabilityCatalog, error) {
	out := CapabilityCatalog{byID: make(map[string]map[string]Binding, len(defs))}
	for _, def := range defs {
		id := strings.ToLower(strings.TrimSpace(def.ID))
		if id == "" {
			return CapabilityCatalog{}, errors.New("catalog: capability id is required")
		}
		if _, dup := out.byID[id]; dup {
			return CapabilityCatalog{}, fmt.Errorf("catalog: duplicate capability %q", id)
		}
		bindings := make(map[string]Binding, len(def.Bindings))
		for entityID, b := range def.Bindings {
			if _, ok := entityIndex[entityID]; !ok {
				return CapabilityCatalog{}, fmt.Errorf("catalog: capability %q: unknown entity %q", id, entityID)
			}
			b.Method = strings.ToUpper(strings.TrimSpace(b.Method))
			b.Path = strings.TrimSpace(b.Path)
			if b.Method == "" {
				b.Method = http.MethodGet
			}
			if !strings.HasPrefix(b.Path, "/") {
				return CapabilityCatalog{}, fmt.Errorf("catalog: capability %q: entity %q: invalid path %q", id, entityID, b.Path)
			}
			bindings[entityID] = b
		}
		out.byID[id] = bindings
	}
	return out, nil
}

func (c CapabilityCatalog) Lookup(capabilityID string, entityID string) (Binding, bool) {
	bindings, ok := c.byID[strings.ToLower(strings.TrimSpace(capabilityID))]
	if !ok {
		return Binding{}, false
	}
	b, ok := bindings[entityID]
	return b, ok
}

func (c CapabilityCatalog) Capabilities() []string {
	out := make([]string, 0, len(c.byID))
	for id := range c.byID {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
