package model

import (
	"fmt"
	"strings"
	"unicode"

	perrors "github.com/conneroisu/playground/internal/errors"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokPunct
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	line int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.text)
}

func isPunct(r rune) bool {
	return strings.ContainsRune("{}[],=", r)
}

// lex splits src into words, quoted strings and single-rune punctuation,
// dropping whitespace and comments.
func lex(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	line := 1

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '\n':
			line++
			i++
		case unicode.IsSpace(r):
			i++
		case r == '/' && i+1 < len(runes) && runes[i+1] == '/':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			start := line
			i += 2
			for {
				if i+1 >= len(runes) {
					return nil, fmt.Errorf("line %d: unterminated comment", start)
				}
				if runes[i] == '*' && runes[i+1] == '/' {
					i += 2
					break
				}
				if runes[i] == '\n' {
					line++
				}
				i++
			}
		case r == '"':
			start := line
			var b strings.Builder
			i++
			for {
				if i >= len(runes) || runes[i] == '\n' {
					return nil, fmt.Errorf("line %d: unterminated string", start)
				}
				if runes[i] == '\\' && i+1 < len(runes) {
					b.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if runes[i] == '"' {
					i++
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			tokens = append(tokens, token{kind: tokString, text: b.String(), line: start})
		case isPunct(r):
			tokens = append(tokens, token{kind: tokPunct, text: string(r), line: line})
			i++
		default:
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) && !isPunct(runes[i]) && runes[i] != '"' {
				i++
			}
			tokens = append(tokens, token{kind: tokWord, text: string(runes[start:i]), line: line})
		}
	}

	return append(tokens, token{kind: tokEOF, line: line}), nil
}

type parser struct {
	tokens []token
	pos    int
	model  *Model
	errs   perrors.ErrorList
}

// Parse parses a model document. Syntax errors are reported as a render
// error with code ModelParseError; duplicate declarations as
// IllegalModelException. Imports are recorded but not resolved.
func Parse(src string) (*Model, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, perrors.NewRenderError(perrors.CodeModelParse, err.Error())
	}

	p := &parser{tokens: tokens, model: newModel()}
	if err := p.parseFile(); err != nil {
		return nil, perrors.NewRenderError(perrors.CodeModelParse, err.Error())
	}
	if len(p.errs) > 0 {
		return nil, perrors.NewRenderError(perrors.CodeIllegalModel, "model is invalid", p.errs...)
	}
	return p.model, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isWord(text string) bool {
	t := p.peek()
	return t.kind == tokWord && t.text == text
}

func (p *parser) isPunct(text string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == text
}

func (p *parser) expectWord(what string) (token, error) {
	t := p.next()
	if t.kind != tokWord {
		return t, fmt.Errorf("line %d: expected %s, found %s", t.line, what, t)
	}
	return t, nil
}

func (p *parser) expectPunct(text string) error {
	t := p.next()
	if t.kind != tokPunct || t.text != text {
		return fmt.Errorf("line %d: expected %q, found %s", t.line, text, t)
	}
	return nil
}

func (p *parser) parseFile() error {
	if !p.isWord("namespace") {
		t := p.peek()
		return fmt.Errorf("line %d: expected namespace declaration, found %s", t.line, t)
	}
	p.next()
	ns, err := p.expectWord("namespace name")
	if err != nil {
		return err
	}
	p.model.Namespace = ns.text

	for p.isWord("import") {
		if err := p.parseImport(); err != nil {
			return err
		}
	}

	for p.peek().kind != tokEOF {
		if err := p.parseDeclaration(); err != nil {
			return err
		}
	}
	return nil
}

// parseImport handles "import ns.Name", "import ns.{A, B}" and
// "import ns.*", each optionally followed by "from <uri>".
func (p *parser) parseImport() error {
	kw := p.next()
	target, err := p.expectWord("import target")
	if err != nil {
		return err
	}

	imp := Import{Line: kw.line}
	switch {
	case strings.HasSuffix(target.text, ".") && p.isPunct("{"):
		imp.Namespace = strings.TrimSuffix(target.text, ".")
		p.next()
		for {
			name, err := p.expectWord("imported name")
			if err != nil {
				return err
			}
			imp.Names = append(imp.Names, name.text)
			if p.isPunct(",") {
				p.next()
				continue
			}
			break
		}
		if err := p.expectPunct("}"); err != nil {
			return err
		}
	case strings.HasSuffix(target.text, ".*"):
		imp.Namespace = strings.TrimSuffix(target.text, ".*")
	default:
		at := strings.LastIndex(target.text, ".")
		if at <= 0 || at == len(target.text)-1 {
			return fmt.Errorf("line %d: malformed import %q", target.line, target.text)
		}
		imp.Namespace = target.text[:at]
		imp.Names = []string{target.text[at+1:]}
	}

	if p.isWord("from") {
		p.next()
		uri, err := p.expectWord("import URI")
		if err != nil {
			return err
		}
		imp.URI = uri.text
	}

	p.model.Imports = append(p.model.Imports, imp)
	return nil
}

func (p *parser) parseDeclaration() error {
	decl := &Declaration{Namespace: p.model.Namespace}

	for strings.HasPrefix(p.peek().text, "@") && p.peek().kind == tokWord {
		if p.next().text == "@template" {
			decl.Template = true
		}
	}
	if p.isWord("abstract") {
		p.next()
		decl.Abstract = true
	}

	kw, err := p.expectWord("declaration")
	if err != nil {
		return err
	}
	kind, ok := declKeywords[kw.text]
	if !ok {
		return fmt.Errorf("line %d: unknown declaration keyword %q", kw.line, kw.text)
	}
	decl.Kind = kind
	decl.Line = kw.line

	name, err := p.expectWord("declaration name")
	if err != nil {
		return err
	}
	decl.Name = name.text

	if p.isWord("identified") {
		p.next()
		if p.isWord("by") {
			p.next()
			if _, err := p.expectWord("identifying field"); err != nil {
				return err
			}
		}
	}
	if p.isWord("extends") {
		p.next()
		parent, err := p.expectWord("parent type")
		if err != nil {
			return err
		}
		decl.Extends = parent.text
	}

	if err := p.expectPunct("{"); err != nil {
		return err
	}
	for !p.isPunct("}") {
		if p.peek().kind == tokEOF {
			return fmt.Errorf("line %d: unterminated declaration %s", decl.Line, decl.Name)
		}
		if decl.IsEnum() {
			if err := p.parseEnumValue(decl); err != nil {
				return err
			}
			continue
		}
		if err := p.parseProperty(decl); err != nil {
			return err
		}
	}
	p.next()

	if !p.model.add(decl) {
		p.errs = append(p.errs, fmt.Errorf("line %d: duplicate declaration %s", decl.Line, decl.Name))
	}
	return nil
}

func (p *parser) parseEnumValue(decl *Declaration) error {
	marker, err := p.expectWord("enum value marker 'o'")
	if err != nil {
		return err
	}
	if marker.text != "o" {
		return fmt.Errorf("line %d: expected 'o', found %s", marker.line, marker)
	}
	value, err := p.expectWord("enum value")
	if err != nil {
		return err
	}
	decl.Values = append(decl.Values, value.text)
	return nil
}

func (p *parser) parseProperty(decl *Declaration) error {
	for strings.HasPrefix(p.peek().text, "@") && p.peek().kind == tokWord {
		p.next()
	}

	marker, err := p.expectWord("property marker 'o'")
	if err != nil {
		return err
	}
	if marker.text != "o" && marker.text != "-->" {
		return fmt.Errorf("line %d: expected 'o' or '-->', found %s", marker.line, marker)
	}

	typ, err := p.expectWord("property type")
	if err != nil {
		return err
	}
	prop := Property{Type: typ.text, Line: typ.line}

	if p.isPunct("[") {
		p.next()
		if err := p.expectPunct("]"); err != nil {
			return err
		}
		prop.Array = true
	}

	name, err := p.expectWord("property name")
	if err != nil {
		return err
	}
	prop.Name = name.text

	for {
		switch {
		case p.isWord("optional"):
			p.next()
			prop.Optional = true
			continue
		case p.isWord("default"):
			p.next()
			if err := p.expectPunct("="); err != nil {
				return err
			}
			value := p.next()
			if value.kind != tokWord && value.kind != tokString {
				return fmt.Errorf("line %d: expected default value, found %s", value.line, value)
			}
			prop.Default = value.text
			continue
		}
		break
	}

	for _, existing := range decl.Properties {
		if existing.Name == prop.Name {
			p.errs = append(p.errs, fmt.Errorf("line %d: duplicate property %s in %s", prop.Line, prop.Name, decl.Name))
			return nil
		}
	}
	decl.Properties = append(decl.Properties, prop)
	return nil
}
