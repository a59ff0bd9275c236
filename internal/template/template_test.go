package template

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/model"
)

const testModel = `namespace test@1.0.0
concept Address {
  o String city
  o String country
}
concept Item {
  o String label
  o Integer quantity
}
enum Tier { o GOLD o SILVER }
@template
concept Order {
  o String name
  o Boolean express
  o Integer price
  o Integer quantity
  o Address shipTo optional
  o String[] tags
  o Item[] items
  o Tier tier
  o String note optional
  o String currency default="EUR"
}`

func loadModel(t *testing.T) (*model.Model, *model.Declaration) {
	t.Helper()
	m, err := model.Parse(testModel)
	require.NoError(t, err)
	require.NoError(t, m.Check())
	concept, err := m.TemplateConcept()
	require.NoError(t, err)
	return m, concept
}

func decodeData(t *testing.T, src string) map[string]interface{} {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(src))
	dec.UseNumber()
	var v map[string]interface{}
	require.NoError(t, dec.Decode(&v))
	return v
}

const orderData = `{
  "name": "Ada",
  "express": true,
  "price": 12,
  "quantity": 3,
  "shipTo": {"city": "Paris", "country": "FR"},
  "tags": ["fragile", "gift"],
  "items": [{"label": "Pen", "quantity": 2}, {"label": "Ink", "quantity": 1}],
  "tier": "GOLD"
}`

func render(t *testing.T, src, data string) string {
	t.Helper()
	m, concept := loadModel(t)
	tpl, err := Parse(src)
	require.NoError(t, err)
	require.NoError(t, tpl.Check(m, concept))
	out, err := tpl.Execute(m, concept, decodeData(t, data), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return out
}

func TestExecute(t *testing.T) {
	testCases := []struct {
		name     string
		template string
		expected string
	}{
		{"variable", "Hello {{name}}!", "Hello Ada!"},
		{"spaces in tag", "Hello {{ name }}!", "Hello Ada!"},
		{"number and enum", "{{price}} {{tier}}", "12 GOLD"},
		{"default", "{{price}} {{currency}}", "12 EUR"},
		{"missing optional", "[{{note}}]", "[]"},
		{"clause", "{{#clause shipTo}}to {{city}}, {{country}}{{/clause}}", "to Paris, FR"},
		{"if true", "{{#if express}}fast{{else}}slow{{/if}}", "fast"},
		{"if optional absent", "{{#if note}}note{{else}}none{{/if}}", "none"},
		{"ulist", "Tags:\n{{#ulist tags}}\n{{this}}\n{{/ulist}}\n", "Tags:\n- fragile\n- gift\n"},
		{"olist of concepts", "{{#olist items}}{{label}} x{{quantity}}{{/olist}}", "1. Pen x2\n2. Ink x1"},
		{"join default separator", "{{#join tags}}{{/join}}", "fragile, gift"},
		{"join custom separator", `{{#join tags separator=" | "}}{{/join}}`, "fragile | gift"},
		{"join with body", `{{#join items separator="; "}}{{label}}{{/join}}`, "Pen; Ink"},
		{"formula", "Total: {{% price * quantity %}}", "Total: 36"},
		{"formula builtin", "{{% upper(name) %}}", "ADA"},
		{"formula over this", "{{#join items}}{{% this.quantity * 10 %}}{{/join}}", "20, 10"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, render(t, tc.template, orderData))
		})
	}
}

func TestExecuteMultilineListItems(t *testing.T) {
	out := render(t, "{{#ulist items}}\n{{label}}\nqty {{quantity}}\n{{/ulist}}", orderData)
	assert.Equal(t, "- Pen\n  qty 2\n- Ink\n  qty 1", out)
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name     string
		template string
		message  string
	}{
		{"unterminated tag", "Hello {{name", "line 1: unterminated tag"},
		{"unterminated formula", "{{% 1 + ", "line 1: unterminated formula"},
		{"empty tag", "{{ }}", "line 1: empty tag"},
		{"unknown block", "{{#each tags}}{{/each}}", "unknown block {{#each}}"},
		{"missing field", "{{#clause}}{{/clause}}", "{{#clause}} needs a property name"},
		{"never closed", "a\n{{#if express}}yes", "line 2: {{#if}} is never closed"},
		{"mismatched", "{{#if express}}\n{{/clause}}", "line 2: {{/clause}} closes {{#if}} opened on line 1"},
		{"stray close", "text {{/if}}", "unexpected {{/if}}"},
		{"else outside if", "{{#clause shipTo}}{{else}}{{/clause}}", "{{else}} is only allowed inside {{#if}}"},
		{"bad variable", "{{first name}}", `invalid variable name "first name"`},
		{"bad formula", "{{% price * %}}", `formula "price *" does not compile`},
		{"bad argument", `{{#ulist tags separator=","}}{{/ulist}}`, "unsupported argument"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.template)
			require.Error(t, err)
			assert.Equal(t, perrors.CodeTemplateParse, perrors.RenderCode(err))
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestCheckErrors(t *testing.T) {
	m, concept := loadModel(t)

	testCases := []struct {
		name     string
		template string
		message  string
	}{
		{"unknown variable", "{{nickname}}", `line 1: unknown variable "nickname" in Order`},
		{"array as variable", "{{tags}}", "tags is an array"},
		{"concept as variable", "{{shipTo}}", "shipTo is a Address; use {{#clause shipTo}}"},
		{"clause on primitive", "{{#clause name}}{{/clause}}", "{{#clause name}} needs a concept"},
		{"if on required string", "{{#if name}}{{/if}}", "{{#if name}} needs a Boolean or optional property"},
		{"list on scalar", "{{#ulist name}}{{/ulist}}", "{{#ulist name}} needs an array"},
		{"this outside list", "{{this}}", "{{this}} is only available inside a list block"},
		{"unknown inside clause", "{{#clause shipTo}}\n{{name}}{{/clause}}", `line 2: unknown variable "name" in Address`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tpl, err := Parse(tc.template)
			require.NoError(t, err)

			err = tpl.Check(m, concept)
			require.Error(t, err)
			assert.Equal(t, perrors.CodeTemplateType, perrors.RenderCode(err))
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestCheckCollectsEveryProblem(t *testing.T) {
	m, concept := loadModel(t)
	tpl, err := Parse("{{a}} {{b}}")
	require.NoError(t, err)

	err = tpl.Check(m, concept)
	var re *perrors.RenderError
	require.ErrorAs(t, err, &re)
	assert.Len(t, re.Errors, 2)
}

func TestFormulaRuntimeError(t *testing.T) {
	m, concept := loadModel(t)
	tpl, err := Parse("{{% name / 0 %}}")
	require.NoError(t, err)
	require.NoError(t, tpl.Check(m, concept))

	_, err = tpl.Execute(m, concept, decodeData(t, orderData), time.Now())
	require.Error(t, err)
	assert.Equal(t, perrors.CodeFormula, perrors.RenderCode(err))
}

func TestHasFormulas(t *testing.T) {
	plain, err := Parse("Hello {{name}}")
	require.NoError(t, err)
	assert.False(t, plain.HasFormulas())

	withFormula, err := Parse("{{% 1 + 1 %}}")
	require.NoError(t, err)
	assert.True(t, withFormula.HasFormulas())
}

func TestLineNumbers(t *testing.T) {
	tpl, err := Parse("one\ntwo {{name}}\n{{#if express}}\nx\n{{/if}}")
	require.NoError(t, err)

	require.Len(t, tpl.Nodes, 4)
	assert.Equal(t, 1, tpl.Nodes[0].Position())
	assert.Equal(t, 2, tpl.Nodes[1].Position())
	assert.Equal(t, 3, tpl.Nodes[3].Position())
}
