package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/conneroisu/playground/internal/codec"
	"github.com/conneroisu/playground/internal/document"
	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/renderer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testDebounce = 5 * time.Millisecond

// echoRenderer renders "out:<template>" and fails for templates that start
// with "fail".
type echoRenderer struct {
	mu    sync.Mutex
	calls []string
}

func (r *echoRenderer) Render(_ context.Context, template, _, _ string) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, template)
	r.mu.Unlock()

	if strings.HasPrefix(template, "fail") {
		return "", perrors.NewRenderError(perrors.CodeIllegalModel, "model is invalid",
			errors.New("unknown type Foo"))
	}
	return "out:" + template, nil
}

func (r *echoRenderer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newStore(t *testing.T, r Renderer) *Store {
	t.Helper()
	return newStoreWithDebounce(t, r, testDebounce)
}

func newStoreWithDebounce(t *testing.T, r Renderer, debounce time.Duration) *Store {
	t.Helper()
	s, err := New(Options{Renderer: r, Debounce: debounce})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func wait(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestNewRequiresRenderer(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Renderer: &echoRenderer{}, BaseURL: "/relative"})
	require.Error(t, err)
}

func TestInitialState(t *testing.T) {
	s := newStore(t, &echoRenderer{})
	snap := s.Snapshot()

	assert.Equal(t, "playground", snap.ActiveSample)
	assert.NotEmpty(t, snap.Template.Value)
	assert.Equal(t, snap.Template.Value, snap.Template.Buffer)
	assert.False(t, snap.Template.CanUndo)
	assert.Empty(t, snap.DerivedOutput)
	assert.Empty(t, snap.LastError)
	assert.False(t, snap.Rebuilding)
}

func TestInitializeRendersDefaultSample(t *testing.T) {
	r := &echoRenderer{}
	s := newStore(t, r)

	require.NoError(t, s.Initialize(""))
	wait(t, s)

	snap := s.Snapshot()
	assert.Equal(t, "out:"+snap.Template.Value, snap.DerivedOutput)
	assert.Len(t, r.Calls(), 1)

	assert.Error(t, s.Initialize(""), "second initialize is rejected")
}

func TestHelloWorld(t *testing.T) {
	s := newStore(t, renderer.New(renderer.Options{}))
	require.True(t, s.LoadSample("helloworld"))
	wait(t, s)

	snap := s.Snapshot()
	assert.Equal(t, "<p>Hello World!</p>\n", snap.DerivedOutput)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, "helloworld", snap.ActiveSample)
}

func TestRapidEditsCoalesce(t *testing.T) {
	r := &echoRenderer{}
	s := newStoreWithDebounce(t, r, 100*time.Millisecond)

	for i := 1; i <= 20; i++ {
		s.SetTemplate(fmt.Sprintf("v%d", i))
	}
	wait(t, s)

	assert.Equal(t, []string{"v20"}, r.Calls())
	assert.Equal(t, "out:v20", s.Snapshot().DerivedOutput)

	m := s.Metrics()
	assert.Equal(t, uint64(20), m.Requested)
	assert.Equal(t, uint64(19), m.Superseded)
	assert.Equal(t, uint64(1), m.Executed)
}

func TestRenderFailureKeepsOutput(t *testing.T) {
	s := newStore(t, &echoRenderer{})

	s.SetTemplate("good")
	wait(t, s)
	require.Equal(t, "out:good", s.Snapshot().DerivedOutput)

	s.SetTemplate("fail")
	wait(t, s)

	snap := s.Snapshot()
	assert.Equal(t, "out:good", snap.DerivedOutput, "last good output survives a failure")
	assert.Equal(t, "Error: IllegalModelException unknown type Foo model is invalid", snap.LastError)

	s.SetTemplate("good again")
	wait(t, s)
	snap = s.Snapshot()
	assert.Equal(t, "out:good again", snap.DerivedOutput)
	assert.Empty(t, snap.LastError, "success clears the error")
}

func TestMalformedDataDoesNotRender(t *testing.T) {
	r := &echoRenderer{}
	s := newStore(t, r)
	before := s.Snapshot()

	err := s.SetData(`{"name": `)
	require.Error(t, err)
	assert.True(t, perrors.IsDataParseError(err))

	snap := s.Snapshot()
	assert.Equal(t, before.Data.Value, snap.Data.Value)
	assert.Equal(t, `{"name": `, snap.Data.Buffer)
	assert.False(t, snap.Data.CanUndo)
	assert.Empty(t, snap.LastError)
	assert.Zero(t, s.Metrics().Requested)
	assert.Empty(t, r.Calls())

	require.NoError(t, s.SetData(`{"name": "x"}`))
	wait(t, s)
	assert.Equal(t, `{"name": "x"}`, s.Snapshot().Data.Value)
	assert.Len(t, r.Calls(), 1)
}

func TestMalformedDataReportsLocation(t *testing.T) {
	s := newStore(t, &echoRenderer{})

	err := s.SetData("{\n  \"name\": \"x\",\n  \"n\": }")
	require.Error(t, err)

	var pe *perrors.PlaygroundError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "data", pe.Document)
	assert.Equal(t, 3, pe.Line)
	assert.Positive(t, pe.Column)
	assert.Contains(t, pe.Error(), "data:3:")

	err = s.SetData(`{"name": `)
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Line)
	assert.Equal(t, 10, pe.Column)
}

func TestUndoRedo(t *testing.T) {
	s := newStore(t, &echoRenderer{})
	initial := s.Snapshot().Template.Value

	s.SetTemplate("a")
	s.SetTemplate("b")

	assert.True(t, s.UndoTemplate())
	assert.Equal(t, "a", s.Snapshot().Template.Value)
	assert.True(t, s.UndoTemplate())
	assert.Equal(t, initial, s.Snapshot().Template.Value)
	assert.False(t, s.UndoTemplate())

	assert.True(t, s.RedoTemplate())
	assert.True(t, s.RedoTemplate())
	assert.False(t, s.RedoTemplate())
	assert.Equal(t, "b", s.Snapshot().Template.Value)

	wait(t, s)
	assert.Equal(t, "out:b", s.Snapshot().DerivedOutput)

	s.UndoTemplate()
	s.SetTemplate("c")
	assert.False(t, s.Snapshot().Template.CanRedo, "a new value clears redo")

	h, err := s.History(document.Template)
	require.NoError(t, err)
	assert.Equal(t, []string{initial, "a"}, h.Past)
	assert.Empty(t, h.Future)
}

func TestUndoRedoPerDocument(t *testing.T) {
	s := newStore(t, &echoRenderer{})
	originalModel := s.Snapshot().Model.Value

	s.SetModel("namespace m")
	require.NoError(t, s.SetData(`{"a":1}`))

	assert.True(t, s.UndoData())
	assert.Equal(t, "namespace m", s.Snapshot().Model.Value, "undoing data leaves the model alone")
	assert.True(t, s.UndoModel())
	assert.Equal(t, originalModel, s.Snapshot().Model.Value)
	assert.True(t, s.RedoModel())
	assert.True(t, s.RedoData())
	assert.False(t, s.UndoTemplate())

	_, err := s.Undo(document.Kind(7))
	assert.Error(t, err)
}

func TestUndoWithoutHistoryDoesNotRebuild(t *testing.T) {
	s := newStore(t, &echoRenderer{})
	changed, err := s.Undo(document.Model)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, s.Metrics().Requested)
}

func TestLoadSample(t *testing.T) {
	s := newStore(t, &echoRenderer{})
	s.SetTemplate("fail")
	wait(t, s)
	require.NotEmpty(t, s.Snapshot().LastError)

	require.True(t, s.LoadSample("latedelivery"))
	snap := s.Snapshot()
	assert.Equal(t, "latedelivery", snap.ActiveSample)
	assert.False(t, snap.Template.CanUndo, "loading a sample clears history")
	assert.Empty(t, snap.LastError)
	assert.Empty(t, snap.DerivedOutput)
	wait(t, s)
	assert.Equal(t, "out:"+snap.Template.Value, s.Snapshot().DerivedOutput)

	s.SetTemplate("first edit")
	s.SetTemplate("second edit")
	require.True(t, s.UndoTemplate())
	require.True(t, s.Snapshot().Template.CanRedo)

	require.True(t, s.LoadSample("default"))
	assert.Equal(t, "playground", s.Snapshot().ActiveSample)
	wait(t, s)

	h, err := s.History(document.Template)
	require.NoError(t, err)
	assert.Empty(t, h.Past, "loading a sample clears undo history")
	assert.Empty(t, h.Future, "loading a sample clears redo history")

	version := s.Snapshot().Version
	assert.False(t, s.LoadSample("nope"))
	assert.Equal(t, version, s.Snapshot().Version, "unknown sample changes nothing")
}

func TestShareRoundTrip(t *testing.T) {
	src := newStore(t, &echoRenderer{})
	src.SetTemplate("shared")
	require.NoError(t, src.SetData(`{"n": 1}`))
	wait(t, src)
	want := src.Snapshot()

	link, err := src.GenerateShareableLink()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, DefaultBaseURL+"?data="))

	token, err := TokenFromLink(link)
	require.NoError(t, err)

	dst := newStore(t, &echoRenderer{})
	dst.SetTemplate("something else")
	require.NoError(t, dst.LoadFromLink(token))

	got := dst.Snapshot()
	assert.Equal(t, want.Template.Value, got.Template.Value)
	assert.Equal(t, want.Model.Value, got.Model.Value)
	assert.Equal(t, want.Data.Value, got.Data.Value)
	assert.Equal(t, "out:shared", got.DerivedOutput, "shared output shows before the rebuild")
	assert.False(t, got.Template.CanUndo)
	assert.Empty(t, got.LastError)

	wait(t, dst)
	assert.Equal(t, "out:shared", dst.Snapshot().DerivedOutput)
}

func TestLoadFromLinkWithEmptyField(t *testing.T) {
	s := newStore(t, &echoRenderer{})
	s.SetTemplate("kept")
	before := s.Snapshot()

	token, err := codec.New().Encode(codec.Record{TemplateMarkdown: "t", ModelCto: "m"})
	require.NoError(t, err)

	err = s.LoadFromLink(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrInvalidShareLink)

	snap := s.Snapshot()
	assert.Equal(t, LinkLoadFailurePrefix+"Invalid share link data", snap.LastError)
	assert.Equal(t, before.Template, snap.Template)
	assert.Equal(t, before.Model, snap.Model)
	assert.Equal(t, before.Data, snap.Data)
	assert.Equal(t, before.ActiveSample, snap.ActiveSample)
}

func TestLoadFromLinkSanitizesOutput(t *testing.T) {
	s, err := New(Options{
		Renderer: RendererFunc(func(context.Context, string, string, string) (string, error) {
			return "", errors.New("renderer unavailable")
		}),
		Debounce: testDebounce,
		Sanitize: renderer.Sanitize,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	token, err := codec.New().Encode(codec.Record{
		TemplateMarkdown: "t",
		ModelCto:         "m",
		Data:             "{}",
		AgreementHTML:    `<p>ok</p><img src="x" onerror="alert(document.cookie)">`,
	})
	require.NoError(t, err)
	require.NoError(t, s.LoadFromLink(token))

	out := s.Snapshot().DerivedOutput
	assert.Contains(t, out, "<p>ok</p>")
	assert.NotContains(t, out, "onerror")

	wait(t, s)
	snap := s.Snapshot()
	assert.NotEmpty(t, snap.LastError)
	assert.Equal(t, out, snap.DerivedOutput, "failed rebuild keeps the shared output")
}

func TestShareRejectsInvalidUTF8(t *testing.T) {
	s := newStore(t, &echoRenderer{})
	s.SetTemplate("caf\xe9 {{name}}")

	_, err := s.GenerateShareableLink()
	require.Error(t, err)
	var pe *perrors.PlaygroundError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, perrors.ErrCodeInvalidEncoding, pe.Code)
}

func TestLoadFromLinkWithGarbage(t *testing.T) {
	s := newStore(t, &echoRenderer{})

	err := s.LoadFromLink("!!not a token!!")
	require.Error(t, err)
	assert.True(t, perrors.IsDecodeError(err))
	assert.True(t, strings.HasPrefix(s.Snapshot().LastError, LinkLoadFailurePrefix))
	assert.Zero(t, s.Metrics().Requested)
}

func TestInitializeWithBadLinkDoesNotFallBack(t *testing.T) {
	r := &echoRenderer{}
	s := newStore(t, r)

	require.Error(t, s.Initialize("AA"))
	wait(t, s)
	assert.NotEmpty(t, s.Snapshot().LastError)
	assert.Empty(t, s.Snapshot().DerivedOutput)
	assert.Empty(t, r.Calls())
}

func TestStaleResultIsDiscarded(t *testing.T) {
	started := make(chan string, 4)
	release := make(chan struct{})
	s := newStore(t, RendererFunc(func(ctx context.Context, template, _, _ string) (string, error) {
		started <- template
		if template == "slow" {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return "out:" + template, nil
	}))

	s.SetTemplate("slow")
	require.Equal(t, "slow", <-started)

	s.SetTemplate("fast")
	require.Equal(t, "fast", <-started)
	require.Eventually(t, func() bool {
		return s.Snapshot().DerivedOutput == "out:fast"
	}, 2*time.Second, time.Millisecond)

	close(release)
	wait(t, s)

	snap := s.Snapshot()
	assert.Equal(t, "out:fast", snap.DerivedOutput, "older render finishing late is ignored")
	assert.False(t, snap.Rebuilding)
	assert.Equal(t, uint64(2), s.Metrics().Executed)
	assert.Equal(t, uint64(1), s.Metrics().Stale)
}

func TestSubscribe(t *testing.T) {
	s := newStore(t, &echoRenderer{})

	var mu sync.Mutex
	var versions []uint64
	var outputs []string
	cancel := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		versions = append(versions, snap.Version)
		outputs = append(outputs, snap.DerivedOutput)
	})

	s.SetTemplate("x")
	wait(t, s)

	mu.Lock()
	assert.Len(t, versions, 2, "one for the edit, one for the rebuild")
	assert.Less(t, versions[0], versions[1])
	assert.Equal(t, "out:x", outputs[1])
	mu.Unlock()

	cancel()
	s.SetTemplate("y")
	wait(t, s)

	mu.Lock()
	assert.Len(t, versions, 2)
	mu.Unlock()
}

func TestRebuildingFlag(t *testing.T) {
	s := newStore(t, &echoRenderer{})
	s.SetTemplate("x")
	assert.True(t, s.Snapshot().Rebuilding)
	wait(t, s)
	assert.False(t, s.Snapshot().Rebuilding)
}

func TestSetEditorBuffer(t *testing.T) {
	s := newStore(t, &echoRenderer{})
	require.NoError(t, s.SetEditorBuffer(document.Template, "typing"))

	snap := s.Snapshot()
	assert.Equal(t, "typing", snap.Template.Buffer)
	assert.NotEqual(t, "typing", snap.Template.Value)
	assert.Zero(t, s.Metrics().Requested)
}

func TestCloseDropsPendingWork(t *testing.T) {
	r := &echoRenderer{}
	s, err := New(Options{Renderer: r, Debounce: time.Hour})
	require.NoError(t, err)

	s.SetTemplate("never")
	s.Close()
	s.Close()

	s.SetTemplate("after close")
	assert.Empty(t, r.Calls())
	assert.Empty(t, s.Snapshot().DerivedOutput)
	goleak.VerifyNone(t)
}

func TestShareURL(t *testing.T) {
	base, err := url.Parse("https://play.example.com/editor?theme=dark")
	require.NoError(t, err)

	link := ShareURL(base, "abc_-")
	assert.Equal(t, "https://play.example.com/editor?data=abc_-&theme=dark", link)
	assert.Equal(t, "https://play.example.com/editor?theme=dark", base.String(), "base is not modified")
}

func TestTokenFromLink(t *testing.T) {
	testCases := []struct {
		name    string
		link    string
		want    string
		wantErr bool
	}{
		{"bare token", "  abc123 ", "abc123", false},
		{"url", "http://localhost:8080/?data=tok", "tok", false},
		{"url without token", "http://localhost:8080/?x=1", "", true},
		{"empty", "", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TokenFromLink(tc.link)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, perrors.IsDecodeError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
