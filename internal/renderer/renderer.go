// Package renderer turns a (template, model, data) triple into HTML.
//
// The model is parsed and its imports resolved, the template is parsed and
// checked against the model's template concept, the data is validated
// against that concept, and the instantiated markdown is converted to HTML
// with goldmark. Every failure is reported as a render error whose code
// names the stage that rejected the input.
//
// Results are memoized in an LRU keyed by the BLAKE3 hash of the triple,
// and identical renders running at the same time share one execution.
package renderer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/model"
	"github.com/conneroisu/playground/internal/template"
)

// DefaultCacheEntries is the render cache size used when none is configured.
const DefaultCacheEntries = 64

// Options configures a Renderer.
type Options struct {
	// Resolver fetches imported models. Nil disables remote imports.
	Resolver model.Resolver
	// CacheEntries bounds the render cache. Negative disables it; zero
	// means DefaultCacheEntries.
	CacheEntries int
	Logger       logging.Logger
	// Clock supplies "now" to template formulas.
	Clock func() time.Time
}

// Renderer renders playground documents. It is safe for concurrent use.
type Renderer struct {
	resolver model.Resolver
	cache    *renderCache
	group    singleflight.Group
	markdown goldmark.Markdown
	logger   logging.Logger
	clock    func() time.Time
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	if opts.CacheEntries == 0 {
		opts.CacheEntries = DefaultCacheEntries
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Renderer{
		resolver: opts.Resolver,
		cache:    newRenderCache(opts.CacheEntries),
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:   opts.Logger.WithComponent("renderer"),
		clock:    opts.Clock,
	}
}

// Render produces HTML for the triple. Concurrent calls with the same
// triple share the first caller's execution, including its context.
func (r *Renderer) Render(ctx context.Context, templateText, modelText, dataText string) (string, error) {
	key := cacheKey(templateText, modelText, dataText)
	if html, ok := r.cache.Get(key); ok {
		r.logger.Debug(ctx, "Render cache hit", "key", key[:12])
		return html, nil
	}

	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		html, cacheable, err := r.render(ctx, templateText, modelText, dataText)
		if err != nil {
			return "", err
		}
		if cacheable {
			r.cache.Set(key, html)
		}
		return html, nil
	})
	if shared {
		r.logger.Debug(ctx, "Joined in-flight render", "key", key[:12])
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Stats returns render cache statistics.
func (r *Renderer) Stats() CacheStats {
	return r.cache.Stats()
}

func (r *Renderer) render(ctx context.Context, templateText, modelText, dataText string) (string, bool, error) {
	m, err := model.Parse(modelText)
	if err != nil {
		return "", false, err
	}
	if err := m.ResolveImports(ctx, r.resolver); err != nil {
		return "", false, cancelled(ctx, err)
	}
	if err := m.Check(); err != nil {
		return "", false, err
	}
	concept, err := m.TemplateConcept()
	if err != nil {
		return "", false, perrors.NewRenderError(perrors.CodeIllegalModel, err.Error())
	}

	tpl, err := template.Parse(templateText)
	if err != nil {
		return "", false, err
	}
	if err := tpl.Check(m, concept); err != nil {
		return "", false, err
	}

	data, err := decodeData(dataText)
	if err != nil {
		return "", false, err
	}
	if err := m.Validate(concept, data); err != nil {
		return "", false, err
	}

	md, err := tpl.Execute(m, concept, data.(map[string]interface{}), r.clock())
	if err != nil {
		return "", false, err
	}

	if err := ctx.Err(); err != nil {
		return "", false, cancelled(ctx, err)
	}

	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(md), &buf); err != nil {
		return "", false, fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), !tpl.HasFormulas(), nil
}

// decodeData parses the data document. Syntax errors are returned without
// a render code.
func decodeData(text string) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("data is not valid JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("data is not valid JSON: unexpected content after the top-level value")
	}
	return v, nil
}

func cancelled(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	return perrors.NewRenderError(perrors.CodeRenderCancelled, "render cancelled", ctx.Err())
}

// cacheKey hashes the triple with each part length-prefixed, so moving
// text between documents changes the key.
func cacheKey(parts ...string) string {
	h := blake3.New()
	var size [binary.MaxVarintLen64]byte
	for _, p := range parts {
		n := binary.PutUvarint(size[:], uint64(len(p)))
		_, _ = h.Write(size[:n])
		_, _ = io.WriteString(h, p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
