package template

import (
	"fmt"

	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/model"
)

// typeScope is what a template can see at one point during checking.
type typeScope struct {
	owner  string
	fields map[string]model.Property
	this   *model.Property
}

// Check verifies every variable and block against concept. Problems are
// reported as a render error with code TemplateTypeError, one nested error
// per problem.
func (t *Template) Check(m *model.Model, concept *model.Declaration) error {
	c := &checker{model: m}
	c.nodes(t.Nodes, c.recordScope(concept, nil))
	if len(c.errs) > 0 {
		return perrors.NewRenderError(perrors.CodeTemplateType,
			fmt.Sprintf("template does not match %s", concept.Name), c.errs...)
	}
	return nil
}

type checker struct {
	model *model.Model
	errs  perrors.ErrorList
}

func (c *checker) fail(line int, format string, args ...interface{}) {
	c.errs = append(c.errs, fmt.Errorf("line %d: "+format, append([]interface{}{line}, args...)...))
}

func (c *checker) recordScope(d *model.Declaration, this *model.Property) typeScope {
	return typeScope{owner: d.Name, fields: c.model.FieldMap(d), this: this}
}

func (c *checker) nodes(nodes []Node, scope typeScope) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *VariableNode:
			c.variable(n, scope)
		case *BlockNode:
			c.block(n, scope)
		}
	}
}

func (c *checker) lookup(name string, scope typeScope) (model.Property, bool) {
	if name == "this" {
		if scope.this == nil {
			return model.Property{}, false
		}
		return *scope.this, true
	}
	p, ok := scope.fields[name]
	return p, ok
}

func (c *checker) variable(n *VariableNode, scope typeScope) {
	p, ok := c.lookup(n.Name, scope)
	if !ok {
		if n.Name == "this" {
			c.fail(n.Line, "{{this}} is only available inside a list block")
			return
		}
		c.fail(n.Line, "unknown variable %q in %s", n.Name, scope.owner)
		return
	}
	switch {
	case p.Array:
		c.fail(n.Line, "%s is an array; use {{#ulist}}, {{#olist}} or {{#join}}", n.Name)
	case c.model.IsRecord(p.Type):
		c.fail(n.Line, "%s is a %s; use {{#clause %s}}", n.Name, p.Type, n.Name)
	}
}

func (c *checker) block(n *BlockNode, scope typeScope) {
	p, ok := scope.fields[n.Field]
	if !ok {
		c.fail(n.Line, "unknown variable %q in %s", n.Field, scope.owner)
		return
	}

	switch n.Kind {
	case BlockClause:
		d, ok := c.model.Lookup(p.Type)
		if p.Array || !ok || d.IsEnum() {
			c.fail(n.Line, "{{#clause %s}} needs a concept, %s is %s", n.Field, n.Field, p)
			return
		}
		c.nodes(n.Body, c.recordScope(d, nil))

	case BlockIf:
		if p.Array || (p.Type != model.TypeBoolean && !p.Optional) {
			c.fail(n.Line, "{{#if %s}} needs a Boolean or optional property, %s is %s", n.Field, n.Field, p)
			return
		}
		c.nodes(n.Body, scope)
		c.nodes(n.Else, scope)

	case BlockUList, BlockOList, BlockJoin:
		if !p.Array {
			c.fail(n.Line, "{{#%s %s}} needs an array, %s is %s", n.Kind, n.Field, n.Field, p)
			return
		}
		elem := p.Element()
		elem.Name = "this"
		inner := typeScope{owner: p.Type, this: &elem}
		if d, ok := c.model.Lookup(p.Type); ok && !d.IsEnum() {
			inner = c.recordScope(d, &elem)
		}
		c.nodes(n.Body, inner)
	}
}
