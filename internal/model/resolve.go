package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
)

// maxImportDepth bounds transitive import chains.
const maxImportDepth = 8

// maxModelBytes bounds a fetched model document.
const maxModelBytes = 1 << 20

// Resolver fetches the text of an imported model document.
type Resolver interface {
	Resolve(ctx context.Context, uri string) (string, error)
}

// MapResolver serves model documents from memory, keyed by URI.
type MapResolver map[string]string

// Resolve implements Resolver.
func (m MapResolver) Resolve(_ context.Context, uri string) (string, error) {
	text, ok := m[uri]
	if !ok {
		return "", fmt.Errorf("no model registered for %s", uri)
	}
	return text, nil
}

// HTTPResolver fetches models over HTTP(S) and memoizes them for the life
// of the resolver. Concurrent fetches of the same URI share one request.
type HTTPResolver struct {
	client  *http.Client
	timeout time.Duration
	logger  logging.Logger

	mu    sync.RWMutex
	cache map[string]string
	group singleflight.Group
}

// NewHTTPResolver creates a resolver whose fetches are bounded by timeout.
func NewHTTPResolver(timeout time.Duration, logger logging.Logger) *HTTPResolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HTTPResolver{
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger.WithComponent("model_resolver"),
		cache:   make(map[string]string),
	}
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, uri string) (string, error) {
	r.mu.RLock()
	text, ok := r.cache[uri]
	r.mu.RUnlock()
	if ok {
		return text, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid model URI %q: %w", uri, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported model URI scheme %q", u.Scheme)
	}

	v, err, _ := r.group.Do(uri, func() (interface{}, error) {
		return r.fetch(ctx, uri)
	})
	if err != nil {
		return "", err
	}

	text = v.(string)
	r.mu.Lock()
	r.cache[uri] = text
	r.mu.Unlock()
	return text, nil
}

func (r *HTTPResolver) fetch(ctx context.Context, uri string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	op := logging.StartOperation(r.logger, "fetch_model")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		op.EndWithError(ctx, err, "uri", uri)
		return "", fmt.Errorf("fetching %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("fetching %s: unexpected status %s", uri, resp.Status)
		op.EndWithError(ctx, err, "uri", uri)
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxModelBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", uri, err)
	}
	if len(body) > maxModelBytes {
		return "", fmt.Errorf("model at %s exceeds %d bytes", uri, maxModelBytes)
	}

	op.End(ctx, "uri", uri, "bytes", len(body))
	return string(body), nil
}

// ResolveImports fetches every import that names a URI, recursively, and
// merges the imported declarations (and the declarations they depend on)
// into m. A nil resolver means remote models are disabled. Imports without
// a URI are left to Check, which reports any type they fail to provide.
func (m *Model) ResolveImports(ctx context.Context, r Resolver) error {
	return m.resolveImports(ctx, r, make(map[string]*Model), 0)
}

func (m *Model) resolveImports(ctx context.Context, r Resolver, loaded map[string]*Model, depth int) error {
	if depth > maxImportDepth {
		return perrors.Renderf(perrors.CodeModelResolve, "imports nested deeper than %d levels", maxImportDepth)
	}

	for _, imp := range m.Imports {
		if imp.URI == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if r == nil {
			return perrors.Renderf(perrors.CodeModelResolve,
				"line %d: cannot import %s from %s: remote models are disabled", imp.Line, imp.Namespace, imp.URI)
		}

		imported, ok := loaded[imp.URI]
		if !ok {
			text, err := r.Resolve(ctx, imp.URI)
			if err != nil {
				return perrors.NewRenderError(perrors.CodeModelResolve,
					fmt.Sprintf("line %d: failed to resolve %s", imp.Line, imp.URI), err)
			}
			imported, err = Parse(text)
			if err != nil {
				return perrors.NewRenderError(perrors.CodeModelResolve,
					fmt.Sprintf("line %d: model at %s is invalid", imp.Line, imp.URI), err)
			}
			loaded[imp.URI] = imported
			if err := imported.resolveImports(ctx, r, loaded, depth+1); err != nil {
				return err
			}
		}

		if namespaceName(imported.Namespace) != namespaceName(imp.Namespace) {
			return perrors.Renderf(perrors.CodeModelResolve,
				"line %d: %s declares namespace %s, not %s", imp.Line, imp.URI, imported.Namespace, imp.Namespace)
		}

		names := imp.Names
		if len(names) == 0 {
			for _, d := range imported.Declarations {
				if d.Namespace == imported.Namespace {
					names = append(names, d.Name)
				}
			}
		}
		for _, name := range names {
			if _, ok := imported.Lookup(name); !ok {
				return perrors.Renderf(perrors.CodeModelResolve,
					"line %d: %s does not declare %s", imp.Line, imported.Namespace, name)
			}
		}

		if err := m.merge(imported, names, imp.Line); err != nil {
			return err
		}
	}
	return nil
}

// merge copies names and their transitive dependencies from src into m.
func (m *Model) merge(src *Model, names []string, line int) error {
	queue := append([]string{}, names...)
	seen := make(map[string]bool)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true

		d, ok := src.Lookup(name)
		if !ok {
			continue
		}
		if existing, ok := m.Lookup(name); ok {
			if existing != d && existing.Namespace != d.Namespace {
				return perrors.Renderf(perrors.CodeIllegalModel,
					"line %d: imported %s.%s conflicts with %s.%s", line, d.Namespace, name, existing.Namespace, name)
			}
		} else {
			m.add(d)
		}

		if d.Extends != "" {
			queue = append(queue, d.Extends)
		}
		for _, p := range d.Properties {
			if !IsPrimitive(p.Type) {
				queue = append(queue, p.Type)
			}
		}
	}
	return nil
}
