package renderer

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func BenchmarkRender_Uncached(b *testing.B) {
	r := New(Options{CacheEntries: -1})
	ctx := context.Background()

	b.ResetTimer()
	for range b.N {
		if _, err := r.Render(ctx, helloTemplate, helloModel, helloData); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRender_Cached(b *testing.B) {
	r := New(Options{})
	ctx := context.Background()

	b.ResetTimer()
	for range b.N {
		if _, err := r.Render(ctx, helloTemplate, helloModel, helloData); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRender_LargeList(b *testing.B) {
	items := make([]string, 500)
	for i := range items {
		items[i] = fmt.Sprintf("%q", fmt.Sprintf("item %d", i))
	}
	data := `{"customer":"Ada","items":[` + strings.Join(items, ",") + `]}`
	modelText := "namespace shop\nconcept Order {\n o String customer\n o String[] items\n}"
	templateText := "# {{customer}}\n\n{{#olist items}}{{this}}{{/olist}}\n"

	r := New(Options{CacheEntries: -1})
	ctx := context.Background()

	b.ResetTimer()
	for range b.N {
		if _, err := r.Render(ctx, templateText, modelText, data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCacheKey(b *testing.B) {
	doc := strings.Repeat("lorem ipsum ", 1000)
	b.ResetTimer()
	for range b.N {
		cacheKey(doc, doc, doc)
	}
}

func BenchmarkRender_Concurrent(b *testing.B) {
	r := New(Options{})
	ctx := context.Background()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := r.Render(ctx, helloTemplate, helloModel, helloData); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
