package services

import (
	"strings"

	"github.com/jacksonlee411/crm-pep/modules/pep/domain/catalog"
	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
)

// FindQueryTarget resolves target to exactly one catalog entity. It tries, in
// order, the exact entity id, the exact storage table and the entity id
// ignoring case. A tier that matches more than one entity is ambiguous and
// ends resolution with no result.
func FindQueryTarget(target string, cat *catalog.Catalog) (types.EntityDescriptor, bool) {
	target = strings.TrimSpace(target)
	if target == "" || cat == nil {
		return types.EntityDescriptor{}, false
	}

	if e, ok := cat.EntityByID(target); ok {
		return e, true
	}
	if e, ok, done := single(cat.EntitiesByTable(target)); done {
		return e, ok
	}
	if e, ok, done := single(cat.EntitiesByFoldedID(target)); done {
		return e, ok
	}
	return types.EntityDescriptor{}, false
}

func single(candidates []types.EntityDescriptor) (e types.EntityDescriptor, ok bool, done bool) {
	switch len(candidates) {
	case 0:
		return types.EntityDescriptor{}, false, false
	case 1:
		return candidates[0], true, true
	default:
		return types.EntityDescriptor{}, false, true
	}
}
