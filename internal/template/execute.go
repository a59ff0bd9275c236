package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/model"
)

// frame is the data visible at one point during execution.
type frame struct {
	fields  map[string]model.Property
	values  map[string]interface{}
	this    interface{}
	hasThis bool
}

type executor struct {
	model *model.Model
	now   time.Time
}

// Execute instantiates a checked template with data, which must already
// have been validated against concept. The result is markdown.
func (t *Template) Execute(m *model.Model, concept *model.Declaration, data map[string]interface{}, now time.Time) (string, error) {
	e := &executor{model: m, now: now}
	var b strings.Builder
	if err := e.nodes(&b, t.Nodes, e.recordFrame(concept, data)); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (e *executor) recordFrame(d *model.Declaration, values map[string]interface{}) frame {
	d = e.model.Concrete(d, values)
	return frame{fields: e.model.FieldMap(d), values: values}
}

func (e *executor) nodes(b *strings.Builder, nodes []Node, f frame) error {
	for _, n := range nodes {
		var err error
		switch n := n.(type) {
		case *TextNode:
			b.WriteString(n.Text)
		case *VariableNode:
			b.WriteString(format(e.value(n.Name, f)))
		case *FormulaNode:
			err = e.formula(b, n, f)
		case *BlockNode:
			err = e.block(b, n, f)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// value returns a property's data, falling back to its declared default.
func (e *executor) value(name string, f frame) interface{} {
	if name == "this" {
		return f.this
	}
	if v, ok := f.values[name]; ok && v != nil {
		return v
	}
	if p, ok := f.fields[name]; ok && p.Default != "" {
		return p.Default
	}
	return nil
}

func (e *executor) formula(b *strings.Builder, n *FormulaNode, f frame) error {
	env := make(map[string]interface{}, len(f.values)+2)
	for k, v := range f.values {
		env[k] = toExprValue(v)
	}
	for name, p := range f.fields {
		if _, ok := env[name]; !ok && p.Default != "" {
			env[name] = p.Default
		}
	}
	if f.hasThis {
		env["this"] = toExprValue(f.this)
	}
	env["now"] = e.now

	out, err := expr.Run(n.program, env)
	if err != nil {
		return perrors.NewRenderError(perrors.CodeFormula,
			fmt.Sprintf("line %d: formula %q failed", n.Line, n.Source), err)
	}
	b.WriteString(format(out))
	return nil
}

func (e *executor) block(b *strings.Builder, n *BlockNode, f frame) error {
	v := e.value(n.Field, f)
	p := f.fields[n.Field]

	switch n.Kind {
	case BlockClause:
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		d, ok := e.model.Lookup(p.Type)
		if !ok {
			return nil
		}
		return e.nodes(b, n.Body, e.recordFrame(d, obj))

	case BlockIf:
		truthy := v != nil
		if flag, ok := v.(bool); ok {
			truthy = flag
		}
		if truthy {
			return e.nodes(b, n.Body, f)
		}
		return e.nodes(b, n.Else, f)
	}

	items, _ := v.([]interface{})
	rendered := make([]string, 0, len(items))
	for _, item := range items {
		inner := frame{this: item, hasThis: true}
		if obj, ok := item.(map[string]interface{}); ok {
			if d, ok := e.model.Lookup(p.Type); ok && !d.IsEnum() {
				inner = e.recordFrame(d, obj)
				inner.this, inner.hasThis = item, true
			}
		}

		var ib strings.Builder
		if err := e.nodes(&ib, n.Body, inner); err != nil {
			return err
		}
		text := strings.TrimSpace(ib.String())
		if text == "" {
			text = format(item)
		}
		rendered = append(rendered, text)
	}

	switch n.Kind {
	case BlockJoin:
		b.WriteString(strings.Join(rendered, n.Separator))
	case BlockUList:
		b.WriteString(listItems(rendered, func(int) string { return "- " }))
	case BlockOList:
		b.WriteString(listItems(rendered, func(i int) string { return strconv.Itoa(i+1) + ". " }))
	}
	return nil
}

// listItems renders markdown list items, indenting continuation lines to
// the item's content column.
func listItems(items []string, marker func(int) string) string {
	lines := make([]string, 0, len(items))
	for i, item := range items {
		m := marker(i)
		indent := strings.Repeat(" ", len(m))
		lines = append(lines, m+strings.ReplaceAll(item, "\n", "\n"+indent))
	}
	return strings.Join(lines, "\n")
}

func format(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.Format(time.RFC3339)
	case []interface{}:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = format(item)
		}
		return strings.Join(parts, ", ")
	case map[string]interface{}:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	default:
		return fmt.Sprint(x)
	}
}

// toExprValue converts decoded JSON into values expr can do arithmetic on.
func toExprValue(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		if fl, err := x.Float64(); err == nil {
			return fl
		}
		return x.String()
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = toExprValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, item := range x {
			out[k] = toExprValue(item)
		}
		return out
	default:
		return v
	}
}
