// Package catalog holds the process-wide registry of queryable entities, the
// operator vocabulary, and the capability bindings. A Catalog is built once at
// startup and is read-only afterwards, so it may be shared by any number of
// goroutines without locking.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/jacksonlee411/crm-pep/modules/pep/domain/types"
	"gopkg.in/yaml.v3"
)

const DefaultMaxLimit = 200

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	tablePattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

type fileCatalog struct {
	Version      int              `yaml:"version"`
	Limits       fileLimits       `yaml:"limits"`
	Operators    []fileOperator   `yaml:"operators"`
	Entities     []fileEntity     `yaml:"entities"`
	Capabilities []fileCapability `yaml:"capabilities"`
}

type fileLimits struct {
	MaxLimit int `yaml:"max_limit"`
}

type fileOperator struct {
	Name      string `yaml:"name"`
	ValueRule string `yaml:"value_rule"`
}

type fileEntity struct {
	ID      string      `yaml:"id"`
	Binding fileBinding `yaml:"binding"`
	Fields  []fileField `yaml:"fields"`
}

type fileBinding struct {
	Table string `yaml:"table"`
}

type fileField struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Label string `yaml:"label"`
}

type fileCapability struct {
	ID       string             `yaml:"id"`
	Bindings map[string]Binding `yaml:"bindings"`
}

type Catalog struct {
	entities     []types.EntityDescriptor
	byID         map[string]int
	byTable      map[string][]int
	byFoldedID   map[string][]int
	operators    map[types.Operator]OperatorRule
	capabilities CapabilityCatalog
	maxLimit     int
}

type Option func(*options)

type options struct {
	maxLimit int
}

// WithMaxLimit overrides the catalog's limits.max_limit. Non-positive values
// are ignored.
func WithMaxLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLimit = n
		}
	}
}

func Load(path string, opts ...Option) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b, opts...)
}

// Parse builds a Catalog from YAML (or JSON) bytes. Any inconsistency is an
// error: a partially valid catalog is never returned.
func Parse(b []byte, opts ...Option) (*Catalog, error) {
	var f fileCatalog
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if f.Version != 1 {
		return nil, errors.New("catalog: unsupported version")
	}
	if len(f.Entities) == 0 {
		return nil, errors.New("catalog: missing entities")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Catalog{
		entities:   make([]types.EntityDescriptor, 0, len(f.Entities)),
		byID:       make(map[string]int, len(f.Entities)),
		byTable:    make(map[string][]int, len(f.Entities)),
		byFoldedID: make(map[string][]int, len(f.Entities)),
		maxLimit:   DefaultMaxLimit,
	}
	if f.Limits.MaxLimit < 0 {
		return nil, errors.New("catalog: invalid limits.max_limit")
	}
	if f.Limits.MaxLimit > 0 {
		c.maxLimit = f.Limits.MaxLimit
	}
	if o.maxLimit > 0 {
		c.maxLimit = o.maxLimit
	}

	for _, fe := range f.Entities {
		e, err := buildEntity(fe)
		if err != nil {
			return nil, err
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate entity %q", e.ID)
		}
		idx := len(c.entities)
		c.entities = append(c.entities, e)
		c.byID[e.ID] = idx
		c.byTable[e.Table] = append(c.byTable[e.Table], idx)
		folded := strings.ToLower(e.ID)
		c.byFoldedID[folded] = append(c.byFoldedID[folded], idx)
	}

	ops, err := buildOperatorRules(f.Operators)
	if err != nil {
		return nil, err
	}
	c.operators = ops

	caps, err := buildCapabilities(f.Capabilities, c.byID)
	if err != nil {
		return nil, err
	}
	c.capabilities = caps
	return c, nil
}

func buildEntity(fe fileEntity) (types.EntityDescriptor, error) {
	id := strings.TrimSpace(fe.ID)
	if id == "" {
		return types.EntityDescriptor{}, errors.New("catalog: entity id is required")
	}
	table := strings.TrimSpace(fe.Binding.Table)
	if table == "" {
		return types.EntityDescriptor{}, fmt.Errorf("catalog: entity %q: binding.table is required", id)
	}
	if !tablePattern.MatchString(table) {
		return types.EntityDescriptor{}, fmt.Errorf("catalog: entity %q: invalid table %q", id, table)
	}
	if len(fe.Fields) == 0 {
		return types.EntityDescriptor{}, fmt.Errorf("catalog: entity %q: fields are required", id)
	}
	names := make([]string, 0, len(fe.Fields))
	for _, field := range fe.Fields {
		name := strings.TrimSpace(field.Name)
		if !identifierPattern.MatchString(name) {
			return types.EntityDescriptor{}, fmt.Errorf("catalog: entity %q: invalid field name %q", id, field.Name)
		}
		if slices.Contains(names, name) {
			return types.EntityDescriptor{}, fmt.Errorf("catalog: entity %q: duplicate field %q", id, name)
		}
		names = append(names, name)
	}
	return types.NewEntityDescriptor(id, table, names), nil
}

func (c *Catalog) Entities() []types.EntityDescriptor {
	return slices.Clone(c.entities)
}

func (c *Catalog) EntityByID(id string) (types.EntityDescriptor, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return types.EntityDescriptor{}, false
	}
	return c.entities[idx], true
}

// EntitiesByTable returns every entity bound to table, in catalog order.
func (c *Catalog) EntitiesByTable(table string) []types.EntityDescriptor {
	return c.pick(c.byTable[table])
}

// EntitiesByFoldedID returns every entity whose id equals id ignoring case.
func (c *Catalog) EntitiesByFoldedID(id string) []types.EntityDescriptor {
	return c.pick(c.byFoldedID[strings.ToLower(id)])
}

func (c *Catalog) pick(idxs []int) []types.EntityDescriptor {
	if len(idxs) == 0 {
		return nil
	}
	out := make([]types.EntityDescriptor, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, c.entities[i])
	}
	return out
}

func (c *Catalog) Operator(op types.Operator) (OperatorRule, bool) {
	rule, ok := c.operators[op]
	return rule, ok
}

func (c *Catalog) Operators() []types.Operator {
	out := make([]types.Operator, 0, len(c.operators))
	for op := range c.operators {
		out = append(out, op)
	}
	slices.Sort(out)
	return out
}

func (c *Catalog) MaxLimit() int { return c.maxLimit }

func (c *Catalog) Capabilities() CapabilityCatalog { return c.capabilities }
