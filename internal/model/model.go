// Package model parses the schema language used by the playground's model
// document and checks JSON data against it.
//
// A model is a namespace, optional imports of other namespaces by URL, and
// a list of declarations:
//
//	namespace hello@1.0.0
//	import org.example.common@1.0.0.{Address} from https://example.org/common.cto
//
//	@template
//	concept HelloWorld {
//	  o String name
//	  o Integer age optional
//	  o Address address
//	}
//
// Imports are fetched through a Resolver and their declarations merged
// into the importing model before it is checked.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// DeclKind is the keyword a declaration was introduced with.
type DeclKind int

const (
	Concept DeclKind = iota
	Asset
	Participant
	Transaction
	Event
	Enum
)

var declKeywords = map[string]DeclKind{
	"concept":     Concept,
	"asset":       Asset,
	"participant": Participant,
	"transaction": Transaction,
	"event":       Event,
	"enum":        Enum,
}

func (k DeclKind) String() string {
	for name, kind := range declKeywords {
		if kind == k {
			return name
		}
	}
	return fmt.Sprintf("declkind(%d)", int(k))
}

// Primitive type names.
const (
	TypeString   = "String"
	TypeInteger  = "Integer"
	TypeLong     = "Long"
	TypeDouble   = "Double"
	TypeBoolean  = "Boolean"
	TypeDateTime = "DateTime"
)

var primitives = map[string]bool{
	TypeString:   true,
	TypeInteger:  true,
	TypeLong:     true,
	TypeDouble:   true,
	TypeBoolean:  true,
	TypeDateTime: true,
}

// IsPrimitive reports whether typ names a primitive type.
func IsPrimitive(typ string) bool {
	return primitives[typ]
}

// Property is one field of a record declaration.
type Property struct {
	Name     string
	Type     string
	Array    bool
	Optional bool
	Default  string
	Line     int
}

// Element returns the property with Array cleared, the type of a single
// element of an array property.
func (p Property) Element() Property {
	p.Array = false
	return p
}

func (p Property) String() string {
	typ := p.Type
	if p.Array {
		typ += "[]"
	}
	return typ + " " + p.Name
}

// Declaration is a concept-like record type or an enum.
type Declaration struct {
	Kind       DeclKind
	Name       string
	Namespace  string
	Abstract   bool
	Extends    string
	Template   bool
	Properties []Property
	Values     []string
	Line       int
}

// IsEnum reports whether d is an enum.
func (d *Declaration) IsEnum() bool {
	return d.Kind == Enum
}

// Import names declarations to pull in from another namespace.
type Import struct {
	Namespace string
	Names     []string
	URI       string
	Line      int
}

// Model is a parsed model document.
type Model struct {
	Namespace    string
	Imports      []Import
	Declarations []*Declaration

	index map[string]*Declaration
}

func newModel() *Model {
	return &Model{index: make(map[string]*Declaration)}
}

// Lookup returns the declaration called name.
func (m *Model) Lookup(name string) (*Declaration, bool) {
	d, ok := m.index[name]
	return d, ok
}

// Names returns every declared name in sorted order.
func (m *Model) Names() []string {
	names := make([]string, 0, len(m.index))
	for name := range m.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// add registers d. It reports false if the name is already taken.
func (m *Model) add(d *Declaration) bool {
	if _, exists := m.index[d.Name]; exists {
		return false
	}
	m.index[d.Name] = d
	m.Declarations = append(m.Declarations, d)
	return true
}

// TemplateConcept returns the declaration marked @template, or the first
// non-abstract record declaration when none is marked.
func (m *Model) TemplateConcept() (*Declaration, error) {
	var first *Declaration
	for _, d := range m.Declarations {
		if d.IsEnum() || d.Namespace != m.Namespace {
			continue
		}
		if d.Template {
			return d, nil
		}
		if first == nil && !d.Abstract {
			first = d
		}
	}
	if first == nil {
		return nil, fmt.Errorf("model %s declares no concept", m.Namespace)
	}
	return first, nil
}

// Fields returns the properties of d including inherited ones, parents
// first. A property redeclared by a child replaces the parent's.
func (m *Model) Fields(d *Declaration) []Property {
	var chain []*Declaration
	seen := make(map[string]bool)
	for cur := d; cur != nil && !seen[cur.Name]; {
		seen[cur.Name] = true
		chain = append(chain, cur)
		if cur.Extends == "" {
			break
		}
		cur = m.index[cur.Extends]
	}

	var fields []Property
	position := make(map[string]int)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, p := range chain[i].Properties {
			if at, ok := position[p.Name]; ok {
				fields[at] = p
				continue
			}
			position[p.Name] = len(fields)
			fields = append(fields, p)
		}
	}
	return fields
}

// FieldMap is Fields keyed by property name.
func (m *Model) FieldMap(d *Declaration) map[string]Property {
	fields := m.Fields(d)
	out := make(map[string]Property, len(fields))
	for _, f := range fields {
		out[f.Name] = f
	}
	return out
}

// IsRecord reports whether typ names a non-enum declaration.
func (m *Model) IsRecord(typ string) bool {
	d, ok := m.index[typ]
	return ok && !d.IsEnum()
}

// IsEnum reports whether typ names an enum declaration.
func (m *Model) IsEnum(typ string) bool {
	d, ok := m.index[typ]
	return ok && d.IsEnum()
}

// namespaceName strips the version from "org.example@1.0.0".
func namespaceName(ns string) string {
	name, _, _ := strings.Cut(ns, "@")
	return name
}
