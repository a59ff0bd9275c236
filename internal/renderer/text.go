package renderer

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// outputPolicy admits what goldmark's GFM renderer produces and nothing
// that can run script.
var outputPolicy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(false)
	p.AllowAttrs("align").OnElements("th", "td")
	p.AllowStyles("text-align").OnElements("th", "td")
	p.AllowAttrs("type").Matching(regexp.MustCompile(`^checkbox$`)).OnElements("input")
	p.AllowAttrs("checked", "disabled").OnElements("input")
	return p
}()

// Sanitize strips scripts, event handlers and dangerous URLs from HTML that
// did not come from this renderer, such as the output carried in a share
// link.
func Sanitize(htmlText string) string {
	return outputPolicy.Sanitize(htmlText)
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Table: true, atom.Blockquote: true, atom.Pre: true, atom.Hr: true,
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// PlainText flattens rendered HTML to text, one line per block element.
func PlainText(htmlText string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlText))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			// formatting newlines between tags
			if strings.TrimSpace(n.Data) == "" && strings.Contains(n.Data, "\n") {
				return
			}
			b.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Li {
			b.WriteString("- ")
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			traverse(child)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			b.WriteString("\n")
		}
	}
	traverse(doc)

	text := blankLines.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(text), nil
}
