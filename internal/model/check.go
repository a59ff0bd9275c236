package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	perrors "github.com/conneroisu/playground/internal/errors"
)

// Check reports unknown types, bad inheritance and cycles as a render
// error with code IllegalModelException, one nested error per problem.
func (m *Model) Check() error {
	var errs perrors.ErrorList

	for _, d := range m.Declarations {
		if d.IsEnum() {
			if len(d.Values) == 0 {
				errs = append(errs, fmt.Errorf("line %d: enum %s declares no values", d.Line, d.Name))
			}
			if d.Extends != "" {
				errs = append(errs, fmt.Errorf("line %d: enum %s cannot extend %s", d.Line, d.Name, d.Extends))
			}
			continue
		}

		if d.Extends != "" {
			parent, ok := m.Lookup(d.Extends)
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("line %d: %s extends unknown type %s", d.Line, d.Name, d.Extends))
			case parent.IsEnum():
				errs = append(errs, fmt.Errorf("line %d: %s cannot extend enum %s", d.Line, d.Name, d.Extends))
			case m.inheritsFrom(parent, d.Name):
				errs = append(errs, fmt.Errorf("line %d: %s has a circular inheritance chain", d.Line, d.Name))
			}
		}

		for _, p := range d.Properties {
			if IsPrimitive(p.Type) {
				continue
			}
			if _, ok := m.Lookup(p.Type); !ok {
				errs = append(errs, fmt.Errorf("line %d: property %s of %s has unknown type %s", p.Line, p.Name, d.Name, p.Type))
			}
		}
	}

	if len(errs) > 0 {
		return perrors.NewRenderError(perrors.CodeIllegalModel, "model is invalid", errs...)
	}
	return nil
}

// inheritsFrom reports whether d is, or transitively extends, ancestor.
func (m *Model) inheritsFrom(d *Declaration, ancestor string) bool {
	seen := make(map[string]bool)
	for cur := d; cur != nil && !seen[cur.Name]; cur = m.index[cur.Extends] {
		if cur.Name == ancestor {
			return true
		}
		seen[cur.Name] = true
		if cur.Extends == "" {
			break
		}
	}
	return false
}

// Validate checks data, decoded with json.Decoder.UseNumber, against decl.
// Violations are reported as a render error with code ValidationException,
// one nested error per violation, in a stable order.
func (m *Model) Validate(decl *Declaration, data interface{}) error {
	var errs perrors.ErrorList
	m.validateRecord(decl, data, decl.Name, &errs)
	if len(errs) > 0 {
		return perrors.NewRenderError(perrors.CodeValidation,
			fmt.Sprintf("data does not conform to %s", decl.Name), errs...)
	}
	return nil
}

// Concrete returns the declaration an object instantiates: the type named
// by its $class when that is decl or one of its subtypes, else decl.
func (m *Model) Concrete(decl *Declaration, obj map[string]interface{}) *Declaration {
	class, ok := obj["$class"].(string)
	if !ok {
		return decl
	}
	name := class
	if at := strings.LastIndex(class, "."); at >= 0 {
		name = class[at+1:]
	}
	if d, ok := m.Lookup(name); ok && !d.IsEnum() && m.inheritsFrom(d, decl.Name) {
		return d
	}
	return decl
}

func (m *Model) validateRecord(decl *Declaration, v interface{}, path string, errs *perrors.ErrorList) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		*errs = append(*errs, fmt.Errorf("%s: expected an object of type %s, found %s", path, decl.Name, describe(v)))
		return
	}

	decl = m.Concrete(decl, obj)
	if decl.Abstract {
		*errs = append(*errs, fmt.Errorf("%s: cannot instantiate abstract type %s", path, decl.Name))
		return
	}

	fields := m.FieldMap(decl)
	for _, f := range m.Fields(decl) {
		value, present := obj[f.Name]
		if !present || value == nil {
			if !f.Optional && f.Default == "" {
				*errs = append(*errs, fmt.Errorf("%s.%s: missing required property", path, f.Name))
			}
			continue
		}
		m.validateValue(f, value, path+"."+f.Name, errs)
	}

	var extra []string
	for key := range obj {
		if strings.HasPrefix(key, "$") {
			continue
		}
		if _, ok := fields[key]; !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		*errs = append(*errs, fmt.Errorf("%s.%s: unexpected property not declared by %s", path, key, decl.Name))
	}
}

func (m *Model) validateValue(p Property, v interface{}, path string, errs *perrors.ErrorList) {
	if p.Array {
		items, ok := v.([]interface{})
		if !ok {
			*errs = append(*errs, fmt.Errorf("%s: expected an array of %s, found %s", path, p.Type, describe(v)))
			return
		}
		for i, item := range items {
			m.validateValue(p.Element(), item, fmt.Sprintf("%s[%d]", path, i), errs)
		}
		return
	}

	mismatch := func() {
		*errs = append(*errs, fmt.Errorf("%s: expected %s, found %s", path, p.Type, describe(v)))
	}

	switch p.Type {
	case TypeString:
		if _, ok := v.(string); !ok {
			mismatch()
		}
	case TypeInteger, TypeLong:
		n, ok := v.(json.Number)
		if !ok {
			mismatch()
			return
		}
		if _, err := n.Int64(); err != nil {
			mismatch()
		}
	case TypeDouble:
		n, ok := v.(json.Number)
		if !ok {
			mismatch()
			return
		}
		if _, err := n.Float64(); err != nil {
			mismatch()
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			mismatch()
		}
	case TypeDateTime:
		s, ok := v.(string)
		if !ok {
			mismatch()
			return
		}
		if _, err := ParseDateTime(s); err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %q is not a valid DateTime", path, s))
		}
	default:
		d, ok := m.Lookup(p.Type)
		if !ok {
			*errs = append(*errs, fmt.Errorf("%s: unknown type %s", path, p.Type))
			return
		}
		if d.IsEnum() {
			s, ok := v.(string)
			if !ok || !contains(d.Values, s) {
				*errs = append(*errs, fmt.Errorf("%s: expected one of %s, found %s",
					path, strings.Join(d.Values, ", "), describe(v)))
			}
			return
		}
		m.validateRecord(d, v, path, errs)
	}
}

// ParseDateTime accepts RFC 3339 timestamps and plain dates.
func ParseDateTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

func describe(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("string %q", x)
	case json.Number:
		return "number " + x.String()
	case bool:
		return fmt.Sprintf("boolean %t", x)
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
