// Package template parses playground templates: markdown with moustache
// variables, blocks and formulas.
//
//	Hello {{name}}!
//	{{#clause address}}Lives in {{city}}.{{/clause}}
//	{{#if active}}Active{{else}}Inactive{{/if}}
//	{{#ulist tags}}{{this}}{{/ulist}}
//	{{#join tags separator=", "}}{{/join}}
//	Total: {{% price * quantity %}}
//
// A parsed Template is checked against a model concept before it is
// executed with data.
package template

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	perrors "github.com/conneroisu/playground/internal/errors"
)

// Block kinds.
const (
	BlockClause = "clause"
	BlockIf     = "if"
	BlockUList  = "ulist"
	BlockOList  = "olist"
	BlockJoin   = "join"
)

var blockKinds = map[string]bool{
	BlockClause: true,
	BlockIf:     true,
	BlockUList:  true,
	BlockOList:  true,
	BlockJoin:   true,
}

// Node is an element of a parsed template.
type Node interface {
	Position() int
}

// TextNode is literal markdown.
type TextNode struct {
	Text string
	Line int
}

// VariableNode prints a property of the current scope, or the current
// list element when Name is "this".
type VariableNode struct {
	Name string
	Line int
}

// FormulaNode evaluates an expression against the current scope.
type FormulaNode struct {
	Source  string
	Line    int
	program *vm.Program
}

// BlockNode is a {{#kind field}}...{{/kind}} section.
type BlockNode struct {
	Kind      string
	Field     string
	Separator string
	Body      []Node
	Else      []Node
	Line      int
}

func (n *TextNode) Position() int     { return n.Line }
func (n *VariableNode) Position() int { return n.Line }
func (n *FormulaNode) Position() int  { return n.Line }
func (n *BlockNode) Position() int    { return n.Line }

// Template is a parsed template.
type Template struct {
	Nodes    []Node
	formulas int
}

// HasFormulas reports whether the template contains formulas. Formula
// results may depend on the time of execution.
func (t *Template) HasFormulas() bool {
	return t.formulas > 0
}

type parser struct {
	src  string
	pos  int
	line int
	tpl  *Template
	errs perrors.ErrorList
}

// Parse parses src. Structural problems are reported as a render error
// with code TemplateParseError, with one nested error per problem.
func Parse(src string) (*Template, error) {
	p := &parser{src: src, line: 1, tpl: &Template{}}

	nodes, end, err := p.parseList()
	if err != nil {
		p.errs = append(p.errs, err)
	} else if end != nil {
		p.errs = append(p.errs, fmt.Errorf("line %d: unexpected {{%s}}", end.line, end.raw))
	}

	if len(p.errs) > 0 {
		return nil, perrors.NewRenderError(perrors.CodeTemplateParse, "template is invalid", p.errs...)
	}
	p.tpl.Nodes = nodes
	return p.tpl, nil
}

// terminator is a tag that ends a node list: a close tag or {{else}}.
type terminator struct {
	raw  string
	kind string
	line int
}

// parseList parses nodes until end of input or a terminator, which it
// returns without interpreting.
func (p *parser) parseList() ([]Node, *terminator, error) {
	var nodes []Node

	for p.pos < len(p.src) {
		open := strings.Index(p.src[p.pos:], "{{")
		if open < 0 {
			nodes = append(nodes, p.text(len(p.src)))
			break
		}
		if open > 0 {
			nodes = append(nodes, p.text(p.pos+open))
		}

		line := p.line
		if strings.HasPrefix(p.src[p.pos:], "{{%") {
			node, err := p.formula()
			if err != nil {
				return nil, nil, err
			}
			if node != nil {
				nodes = append(nodes, node)
			}
			continue
		}

		closeAt := strings.Index(p.src[p.pos:], "}}")
		if closeAt < 0 {
			return nil, nil, fmt.Errorf("line %d: unterminated tag", line)
		}
		raw := strings.TrimSpace(p.src[p.pos+2 : p.pos+closeAt])
		p.advance(p.pos + closeAt + 2)

		switch {
		case raw == "":
			return nil, nil, fmt.Errorf("line %d: empty tag", line)
		case raw == "else":
			return nodes, &terminator{raw: raw, kind: "else", line: line}, nil
		case strings.HasPrefix(raw, "/"):
			return nodes, &terminator{raw: raw, kind: strings.TrimSpace(raw[1:]), line: line}, nil
		case strings.HasPrefix(raw, "#"):
			block, err := p.block(raw[1:], line)
			if err != nil {
				return nil, nil, err
			}
			if block != nil {
				nodes = append(nodes, block)
			}
		default:
			if !isIdentifier(raw) {
				p.errs = append(p.errs, fmt.Errorf("line %d: invalid variable name %q", line, raw))
				continue
			}
			nodes = append(nodes, &VariableNode{Name: raw, Line: line})
		}
	}

	return nodes, nil, nil
}

func (p *parser) text(end int) Node {
	node := &TextNode{Text: p.src[p.pos:end], Line: p.line}
	p.advance(end)
	return node
}

func (p *parser) advance(to int) {
	p.line += strings.Count(p.src[p.pos:to], "\n")
	p.pos = to
}

func (p *parser) formula() (Node, error) {
	line := p.line
	closeAt := strings.Index(p.src[p.pos+3:], "%}}")
	if closeAt < 0 {
		return nil, fmt.Errorf("line %d: unterminated formula", line)
	}
	source := strings.TrimSpace(p.src[p.pos+3 : p.pos+3+closeAt])
	p.advance(p.pos + 3 + closeAt + 3)

	if source == "" {
		p.errs = append(p.errs, fmt.Errorf("line %d: empty formula", line))
		return nil, nil
	}
	program, err := expr.Compile(source)
	if err != nil {
		p.errs = append(p.errs, perrors.NewRenderError(perrors.CodeFormula,
			fmt.Sprintf("line %d: formula %q does not compile", line, source), err))
		return nil, nil
	}

	p.tpl.formulas++
	return &FormulaNode{Source: source, Line: line, program: program}, nil
}

func (p *parser) block(header string, line int) (Node, error) {
	args := splitArgs(header)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: block has no kind", line)
	}
	kind := args[0]
	if !blockKinds[kind] {
		return nil, fmt.Errorf("line %d: unknown block {{#%s}}", line, kind)
	}
	if len(args) < 2 || !isIdentifier(args[1]) {
		return nil, fmt.Errorf("line %d: {{#%s}} needs a property name", line, kind)
	}

	block := &BlockNode{Kind: kind, Field: args[1], Line: line}
	if kind == BlockJoin {
		block.Separator = ", "
	}
	for _, arg := range args[2:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key != "separator" || kind != BlockJoin {
			p.errs = append(p.errs, fmt.Errorf("line %d: unsupported argument %q for {{#%s}}", line, arg, kind))
			continue
		}
		block.Separator = unquote(value)
	}

	body, end, err := p.parseList()
	if err != nil {
		return nil, err
	}
	if end == nil {
		return nil, fmt.Errorf("line %d: {{#%s}} is never closed", line, kind)
	}
	block.Body = body

	if end.kind == "else" {
		if kind != BlockIf {
			return nil, fmt.Errorf("line %d: {{else}} is only allowed inside {{#if}}", end.line)
		}
		block.Else, end, err = p.parseList()
		if err != nil {
			return nil, err
		}
		if end == nil {
			return nil, fmt.Errorf("line %d: {{#%s}} is never closed", line, kind)
		}
		if end.kind == "else" {
			return nil, fmt.Errorf("line %d: duplicate {{else}}", end.line)
		}
	}

	if end.kind != kind {
		return nil, fmt.Errorf("line %d: {{/%s}} closes {{#%s}} opened on line %d", end.line, end.kind, kind, line)
	}
	return block, nil
}

// splitArgs splits on spaces outside double quotes.
func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	quoted := false
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ' ' && !quoted:
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
