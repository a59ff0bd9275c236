// Package samples provides the built-in sample catalog.
//
// Samples are embedded from the catalog directory: catalog.yaml lists them
// in display order and each sample's documents live in a directory of the
// same name. Data documents are JSONC and are normalized to JSON indented
// with two spaces, which is what the editor shows after loading a sample.
package samples

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// DefaultAlias always names the catalog's default sample.
const DefaultAlias = "default"

//go:embed catalog
var embedded embed.FS

// Sample is one catalog entry.
type Sample struct {
	Name        string `json:"name" yaml:"name"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Template    string `json:"template" yaml:"-"`
	Model       string `json:"model" yaml:"-"`
	Data        string `json:"data" yaml:"-"`
}

// Catalog is an ordered, read-only list of samples.
type Catalog struct {
	samples     []Sample
	byName      map[string]int
	defaultName string
}

type index struct {
	Default string   `yaml:"default"`
	Samples []Sample `yaml:"samples"`
}

var (
	builtinOnce    sync.Once
	builtinCatalog *Catalog
	builtinErr     error
)

// Builtin returns the embedded catalog.
func Builtin() (*Catalog, error) {
	builtinOnce.Do(func() {
		sub, err := fs.Sub(embedded, "catalog")
		if err != nil {
			builtinErr = err
			return
		}
		builtinCatalog, builtinErr = LoadFS(sub)
	})
	return builtinCatalog, builtinErr
}

// LoadFS loads a catalog from the root of fsys.
func LoadFS(fsys fs.FS) (*Catalog, error) {
	raw, err := fs.ReadFile(fsys, "catalog.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading sample index: %w", err)
	}

	var idx index
	if err := yaml.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("parsing sample index: %w", err)
	}
	if len(idx.Samples) == 0 {
		return nil, fmt.Errorf("sample index lists no samples")
	}

	c := &Catalog{byName: make(map[string]int, len(idx.Samples))}
	for _, s := range idx.Samples {
		if s.Name == "" {
			return nil, fmt.Errorf("sample index has an entry without a name")
		}
		if _, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("sample %q is listed twice", s.Name)
		}
		if err := s.load(fsys); err != nil {
			return nil, fmt.Errorf("loading sample %q: %w", s.Name, err)
		}
		c.byName[s.Name] = len(c.samples)
		c.samples = append(c.samples, s)
	}

	c.defaultName = idx.Default
	if c.defaultName == "" {
		c.defaultName = c.samples[0].Name
	}
	if _, ok := c.byName[c.defaultName]; !ok {
		return nil, fmt.Errorf("default sample %q is not in the catalog", c.defaultName)
	}
	return c, nil
}

func (s *Sample) load(fsys fs.FS) error {
	read := func(name string) (string, error) {
		b, err := fs.ReadFile(fsys, path.Join(s.Name, name))
		return string(b), err
	}

	var err error
	if s.Template, err = read("template.md"); err != nil {
		return err
	}
	if s.Model, err = read("model.cto"); err != nil {
		return err
	}
	data, err := read("data.jsonc")
	if err != nil {
		return err
	}
	if s.Data, err = PrettyData(data); err != nil {
		return err
	}
	if s.Title == "" {
		s.Title = Title(s.Name)
	}
	return nil
}

// PrettyData converts JSONC text to JSON indented with two spaces.
func PrettyData(text string) (string, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, jsonc.ToJSON([]byte(text))); err != nil {
		return "", fmt.Errorf("data is not valid JSON: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return "", err
	}
	return out.String(), nil
}

// Title turns a sample name such as "late-delivery" into "Late Delivery".
func Title(name string) string {
	return cases.Title(language.Und).String(strings.ReplaceAll(name, "-", " "))
}

// List returns every sample in display order.
func (c *Catalog) List() []Sample {
	return append([]Sample(nil), c.samples...)
}

// Names returns every sample name in display order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.samples))
	for i, s := range c.samples {
		names[i] = s.Name
	}
	return names
}

// Get returns the sample called name. DefaultAlias resolves to the default
// sample unless a sample is literally called that.
func (c *Catalog) Get(name string) (Sample, bool) {
	if i, ok := c.byName[name]; ok {
		return c.samples[i], true
	}
	if name == DefaultAlias {
		return c.Default(), true
	}
	return Sample{}, false
}

// Default returns the sample sessions start from.
func (c *Catalog) Default() Sample {
	return c.samples[c.byName[c.defaultName]]
}

// WithDefault returns a copy of the catalog whose default is name.
func (c *Catalog) WithDefault(name string) (*Catalog, error) {
	if _, ok := c.byName[name]; !ok {
		return nil, fmt.Errorf("default sample %q is not in the catalog", name)
	}
	cp := *c
	cp.defaultName = name
	return &cp, nil
}
