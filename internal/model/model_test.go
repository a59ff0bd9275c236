package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/conneroisu/playground/internal/errors"
)

const helloModel = `
namespace hello@1.0.0

/* the template concept
   spans two lines */
@template
concept HelloWorld {
  o String name   // who to greet
  o Integer age optional
  o String[] tags
  o Color favourite default="RED"
}

enum Color {
  o RED
  o GREEN
}
`

func decode(t *testing.T, src string) interface{} {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(src))
	dec.UseNumber()
	var v interface{}
	require.NoError(t, dec.Decode(&v))
	return v
}

func TestParse(t *testing.T) {
	m, err := Parse(helloModel)
	require.NoError(t, err)

	assert.Equal(t, "hello@1.0.0", m.Namespace)
	assert.Equal(t, []string{"Color", "HelloWorld"}, m.Names())

	hello, ok := m.Lookup("HelloWorld")
	require.True(t, ok)
	assert.Equal(t, Concept, hello.Kind)
	assert.True(t, hello.Template)
	assert.Equal(t, 7, hello.Line)
	require.Len(t, hello.Properties, 4)

	assert.Equal(t, Property{Name: "name", Type: "String", Line: 8}, hello.Properties[0])
	assert.True(t, hello.Properties[1].Optional)
	assert.True(t, hello.Properties[2].Array)
	assert.Equal(t, "RED", hello.Properties[3].Default)

	color, ok := m.Lookup("Color")
	require.True(t, ok)
	assert.True(t, color.IsEnum())
	assert.Equal(t, []string{"RED", "GREEN"}, color.Values)

	concept, err := m.TemplateConcept()
	require.NoError(t, err)
	assert.Equal(t, "HelloWorld", concept.Name)
	require.NoError(t, m.Check())
}

func TestParseImports(t *testing.T) {
	m, err := Parse(`namespace a@1.0.0
import org.common@1.0.0.{Address, Phone} from https://example.org/common.cto
import org.money@2.0.0.MonetaryAmount from https://example.org/money.cto
import org.all@1.0.0.*
concept A { o String x }`)
	require.NoError(t, err)

	require.Len(t, m.Imports, 3)
	assert.Equal(t, Import{Namespace: "org.common@1.0.0", Names: []string{"Address", "Phone"}, URI: "https://example.org/common.cto", Line: 2}, m.Imports[0])
	assert.Equal(t, Import{Namespace: "org.money@2.0.0", Names: []string{"MonetaryAmount"}, URI: "https://example.org/money.cto", Line: 3}, m.Imports[1])
	assert.Equal(t, Import{Namespace: "org.all@1.0.0", Line: 4}, m.Imports[2])
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name    string
		src     string
		code    string
		message string
	}{
		{"missing namespace", "concept A {}", perrors.CodeModelParse, "line 1: expected namespace declaration"},
		{"unknown keyword", "namespace a\nthing A {}", perrors.CodeModelParse, `line 2: unknown declaration keyword "thing"`},
		{"unterminated declaration", "namespace a\nconcept A {\n o String x", perrors.CodeModelParse, "line 2: unterminated declaration A"},
		{"bad marker", "namespace a\nconcept A { x String y }", perrors.CodeModelParse, `expected 'o' or '-->'`},
		{"unterminated comment", "namespace a /* oops", perrors.CodeModelParse, "unterminated comment"},
		{"duplicate declaration", "namespace a\nconcept A { o String x }\nconcept A { o String y }", perrors.CodeIllegalModel, "line 3: duplicate declaration A"},
		{"duplicate property", "namespace a\nconcept A {\n o String x\n o Integer x\n}", perrors.CodeIllegalModel, "line 4: duplicate property x in A"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			require.Error(t, err)
			assert.Equal(t, tc.code, perrors.RenderCode(err))
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestCheck(t *testing.T) {
	m, err := Parse(`namespace a
concept A extends Missing { o Unknown u }
concept B extends C { o String x }
concept C extends B { o String y }
enum E { }
concept D extends E { o String z }`)
	require.NoError(t, err)

	err = m.Check()
	require.Error(t, err)
	assert.Equal(t, perrors.CodeIllegalModel, perrors.RenderCode(err))

	msg := perrors.Format(err)
	assert.True(t, strings.HasPrefix(msg, "Error: IllegalModelException "))
	assert.Contains(t, msg, "A extends unknown type Missing")
	assert.Contains(t, msg, "property u of A has unknown type Unknown")
	assert.Contains(t, msg, "B has a circular inheritance chain")
	assert.Contains(t, msg, "enum E declares no values")
	assert.Contains(t, msg, "D cannot extend enum E")
}

func TestFieldsInheritance(t *testing.T) {
	m, err := Parse(`namespace a
abstract concept Base {
  o String id
  o String label optional
}
concept Child extends Base {
  o Integer count
  o String label
}`)
	require.NoError(t, err)
	require.NoError(t, m.Check())

	child, _ := m.Lookup("Child")
	fields := m.Fields(child)
	require.Len(t, fields, 3)
	assert.Equal(t, "id", fields[0].Name)
	assert.Equal(t, "label", fields[1].Name)
	assert.False(t, fields[1].Optional, "child redeclaration wins")
	assert.Equal(t, "count", fields[2].Name)

	concept, err := m.TemplateConcept()
	require.NoError(t, err)
	assert.Equal(t, "Child", concept.Name, "abstract concepts are skipped")
}

func TestTemplateConceptMissing(t *testing.T) {
	m, err := Parse("namespace a\nenum E { o X }")
	require.NoError(t, err)

	_, err = m.TemplateConcept()
	assert.Error(t, err)
}

const commonModel = `namespace org.common@1.0.0
concept Address {
  o String city
  o Country country
}
enum Country { o UK o FR }
concept Unused { o String x }`

func TestResolveImports(t *testing.T) {
	m, err := Parse(`namespace a@1.0.0
import org.common@1.0.0.{Address} from mem://common
@template
concept Letter { o Address to }`)
	require.NoError(t, err)

	resolver := MapResolver{"mem://common": commonModel}
	require.NoError(t, m.ResolveImports(context.Background(), resolver))
	require.NoError(t, m.Check())

	assert.Equal(t, []string{"Address", "Country", "Letter"}, m.Names(), "dependencies come along, unrelated types do not")
	addr, _ := m.Lookup("Address")
	assert.Equal(t, "org.common@1.0.0", addr.Namespace)

	concept, err := m.TemplateConcept()
	require.NoError(t, err)
	assert.Equal(t, "Letter", concept.Name)
}

func TestResolveImportsFailures(t *testing.T) {
	testCases := []struct {
		name     string
		src      string
		resolver Resolver
		message  string
	}{
		{
			name:     "remote disabled",
			src:      "namespace a\nimport org.common@1.0.0.Address from mem://common\nconcept A { o String x }",
			resolver: nil,
			message:  "remote models are disabled",
		},
		{
			name:     "unknown uri",
			src:      "namespace a\nimport org.common@1.0.0.Address from mem://missing\nconcept A { o String x }",
			resolver: MapResolver{},
			message:  "failed to resolve mem://missing",
		},
		{
			name:     "namespace mismatch",
			src:      "namespace a\nimport org.other@1.0.0.Address from mem://common\nconcept A { o String x }",
			resolver: MapResolver{"mem://common": commonModel},
			message:  "declares namespace org.common@1.0.0, not org.other@1.0.0",
		},
		{
			name:     "missing name",
			src:      "namespace a\nimport org.common@1.0.0.Phone from mem://common\nconcept A { o String x }",
			resolver: MapResolver{"mem://common": commonModel},
			message:  "org.common@1.0.0 does not declare Phone",
		},
		{
			name:     "invalid imported model",
			src:      "namespace a\nimport org.common@1.0.0.Address from mem://common\nconcept A { o String x }",
			resolver: MapResolver{"mem://common": "not a model"},
			message:  "model at mem://common is invalid",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Parse(tc.src)
			require.NoError(t, err)

			err = m.ResolveImports(context.Background(), tc.resolver)
			require.Error(t, err)
			assert.Equal(t, perrors.CodeModelResolve, perrors.RenderCode(err))
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestResolveImportsConflict(t *testing.T) {
	m, err := Parse(`namespace a
import org.common@1.0.0.Address from mem://common
concept Address { o String line }`)
	require.NoError(t, err)

	err = m.ResolveImports(context.Background(), MapResolver{"mem://common": commonModel})
	require.Error(t, err)
	assert.Equal(t, perrors.CodeIllegalModel, perrors.RenderCode(err))
}

func TestHTTPResolver(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/common.cto" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(commonModel))
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(time.Second, nil)
	ctx := context.Background()

	text, err := resolver.Resolve(ctx, srv.URL+"/common.cto")
	require.NoError(t, err)
	assert.Equal(t, commonModel, text)

	_, err = resolver.Resolve(ctx, srv.URL+"/common.cto")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second resolve is served from memory")

	_, err = resolver.Resolve(ctx, srv.URL+"/missing.cto")
	assert.ErrorContains(t, err, "404")

	_, err = resolver.Resolve(ctx, "file:///etc/passwd")
	assert.ErrorContains(t, err, "unsupported model URI scheme")
}

func TestHTTPResolverTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	resolver := NewHTTPResolver(20*time.Millisecond, nil)
	_, err := resolver.Resolve(context.Background(), srv.URL+"/slow.cto")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValidate(t *testing.T) {
	m, err := Parse(`namespace a
concept Address { o String city }
abstract concept Animal { o String name }
concept Dog extends Animal { o Boolean good }
enum Color { o RED o GREEN }
@template
concept Root {
  o String name
  o Integer age
  o Double ratio optional
  o Boolean active optional
  o DateTime since optional
  o Color color optional
  o Address address optional
  o String[] tags optional
  o Animal pet optional
  o String greeting default="hi"
}`)
	require.NoError(t, err)
	require.NoError(t, m.Check())
	root, _ := m.TemplateConcept()

	valid := `{"$class":"a.Root","name":"x","age":3,"ratio":0.5,"active":true,
		"since":"2024-01-02T03:04:05Z","color":"GREEN","address":{"city":"Paris"},
		"tags":["a","b"],"pet":{"$class":"a.Dog","name":"Rex","good":true}}`
	assert.NoError(t, m.Validate(root, decode(t, valid)))

	testCases := []struct {
		name    string
		data    string
		message string
	}{
		{"not an object", `[1]`, "Root: expected an object of type Root, found array"},
		{"missing required", `{"age":1}`, "Root.name: missing required property"},
		{"wrong primitive", `{"name":1,"age":1}`, "Root.name: expected String, found number 1"},
		{"fractional integer", `{"name":"x","age":1.5}`, "Root.age: expected Integer, found number 1.5"},
		{"bad datetime", `{"name":"x","age":1,"since":"yesterday"}`, `Root.since: "yesterday" is not a valid DateTime`},
		{"bad enum", `{"name":"x","age":1,"color":"BLUE"}`, "Root.color: expected one of RED, GREEN"},
		{"nested", `{"name":"x","age":1,"address":{}}`, "Root.address.city: missing required property"},
		{"array element", `{"name":"x","age":1,"tags":["a",2]}`, "Root.tags[1]: expected String"},
		{"not an array", `{"name":"x","age":1,"tags":"a"}`, "Root.tags: expected an array of String"},
		{"abstract", `{"name":"x","age":1,"pet":{"name":"n"}}`, "Root.pet: cannot instantiate abstract type Animal"},
		{"unexpected", `{"name":"x","age":1,"extra":true}`, "Root.extra: unexpected property"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := m.Validate(root, decode(t, tc.data))
			require.Error(t, err)
			assert.Equal(t, perrors.CodeValidation, perrors.RenderCode(err))
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestParseDateTime(t *testing.T) {
	_, err := ParseDateTime("2024-03-01")
	assert.NoError(t, err)
	_, err = ParseDateTime("2024-03-01T10:00:00.123+02:00")
	assert.NoError(t, err)
	_, err = ParseDateTime("01/03/2024")
	assert.Error(t, err)
}
