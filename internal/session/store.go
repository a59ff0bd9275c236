// Package session implements the playground's document-state engine.
//
// A Store owns the template, model and data documents, each with its own
// undo/redo history, plus the output derived from them by a renderer. Every
// mutation that changes a document schedules a rebuild through a debounced
// pipeline. Rebuild results are applied only when they belong to the most
// recently issued request, so the store never shows output older than the
// documents it holds.
//
// Stores are safe for concurrent use. Mutations are serialized by a single
// mutex; the renderer runs on pipeline goroutines without holding it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/playground/internal/codec"
	"github.com/conneroisu/playground/internal/document"
	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/pipeline"
	"github.com/conneroisu/playground/internal/samples"
)

// LinkLoadFailurePrefix starts lastError when a shared link cannot be loaded.
const LinkLoadFailurePrefix = "Failed to load shared content: "

// DefaultBaseURL is the origin share links point at when none is configured.
const DefaultBaseURL = "http://localhost:8080"

// ShareParam is the query parameter that carries a share token.
const ShareParam = "data"

// Renderer derives output from the three documents.
type Renderer interface {
	Render(ctx context.Context, template, model, data string) (string, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, template, model, data string) (string, error)

// Render implements Renderer.
func (f RendererFunc) Render(ctx context.Context, template, model, data string) (string, error) {
	return f(ctx, template, model, data)
}

// Options configures a Store.
type Options struct {
	Renderer Renderer
	// Catalog defaults to the built-in samples.
	Catalog *samples.Catalog
	// Codec defaults to codec.New().
	Codec *codec.Codec
	// BaseURL is the origin share links point at.
	BaseURL string
	// Debounce is the rebuild quiescence window.
	Debounce time.Duration
	// RenderTimeout bounds a single rebuild. Zero means no timeout.
	RenderTimeout time.Duration
	// Sanitize cleans the output carried in a share link before it is
	// shown. Nil keeps the decoded output as is.
	Sanitize func(html string) string
	Logger   logging.Logger
}

// Store is one playground session.
type Store struct {
	renderer Renderer
	sanitize func(string) string
	catalog  *samples.Catalog
	codec    *codec.Codec
	baseURL  *url.URL
	logger   logging.Logger
	handler  *perrors.ErrorHandler
	pipeline *pipeline.Pipeline

	mu            sync.Mutex
	slots         [3]*document.Slot
	derivedOutput string
	lastError     string
	activeSample  string
	lastIssued    uint64
	lastApplied   uint64
	version       uint64
	initialized   bool
	closed        bool
	listeners     map[int]func(Snapshot)
	nextListener  int
}

// New creates a Store seeded with the catalog's default sample. No rebuild
// runs until Initialize.
func New(opts Options) (*Store, error) {
	if opts.Renderer == nil {
		return nil, perrors.NewConfigError(perrors.ErrCodeConfigInvalid, "session requires a renderer")
	}
	if opts.Catalog == nil {
		catalog, err := samples.Builtin()
		if err != nil {
			return nil, perrors.WrapInternal(err, perrors.ErrCodeInternalError, "failed to load sample catalog")
		}
		opts.Catalog = catalog
	}
	if opts.Codec == nil {
		opts.Codec = codec.New()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Sanitize == nil {
		opts.Sanitize = func(html string) string { return html }
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, perrors.NewConfigError(perrors.ErrCodeConfigInvalid,
			fmt.Sprintf("share base URL %q must be absolute", opts.BaseURL))
	}

	logger := opts.Logger.WithComponent("session")
	s := &Store{
		renderer:  opts.Renderer,
		sanitize:  opts.Sanitize,
		catalog:   opts.Catalog,
		codec:     opts.Codec,
		baseURL:   base,
		logger:    logger,
		handler:   perrors.NewErrorHandler(logger),
		listeners: make(map[int]func(Snapshot)),
	}

	sample := opts.Catalog.Default()
	s.activeSample = sample.Name
	s.slots[document.Template] = document.NewSlot(document.Template, sample.Template)
	s.slots[document.Model] = document.NewSlot(document.Model, sample.Model)
	s.slots[document.Data] = document.NewSlot(document.Data, sample.Data)

	s.pipeline = pipeline.New(s.render, s.commit, pipeline.Options{
		Delay:   opts.Debounce,
		Timeout: opts.RenderTimeout,
		Logger:  opts.Logger,
	})
	return s, nil
}

// Initialize seeds the session once at startup. A non-empty token is
// loaded as a shared link; otherwise the default sample already in place
// is rebuilt. A link that fails to load leaves the session in its error
// state without falling back to the default sample.
func (s *Store) Initialize(token string) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("session already initialized")
	}
	s.initialized = true
	s.mu.Unlock()

	if token != "" {
		return s.LoadFromLink(token)
	}

	s.mutate(func() bool { return true })
	return nil
}

// LoadSample resets all three documents to the named sample, clearing their
// histories, the derived output and the last error, and rebuilds. It
// reports false and does nothing when the catalog has no such sample.
func (s *Store) LoadSample(name string) bool {
	sample, ok := s.catalog.Get(name)
	if !ok {
		s.logger.Debug(context.Background(), "Ignored unknown sample", "name", name)
		return false
	}

	s.mutate(func() bool {
		s.slots[document.Template].Reset(sample.Template)
		s.slots[document.Model].Reset(sample.Model)
		s.slots[document.Data].Reset(sample.Data)
		s.activeSample = sample.Name
		s.derivedOutput = ""
		s.lastError = ""
		return true
	})
	s.logger.Info(context.Background(), "Loaded sample", "name", sample.Name)
	return true
}

// Set records text as the new value of kind and schedules a rebuild. Data
// text that is not well-formed JSON only updates the editor buffer and is
// reported as a data parse error; the pipeline is not invoked.
func (s *Store) Set(kind document.Kind, text string) error {
	slot, err := s.slot(kind)
	if err != nil {
		return err
	}

	if kind == document.Data {
		if err := checkData(text); err != nil {
			s.mutate(func() bool {
				slot.SetBuffer(text)
				return false
			})
			return err
		}
	}

	s.mutate(func() bool {
		slot.Set(text)
		return true
	})
	return nil
}

// SetTemplate sets the template document.
func (s *Store) SetTemplate(text string) {
	_ = s.Set(document.Template, text)
}

// SetModel sets the model document.
func (s *Store) SetModel(text string) {
	_ = s.Set(document.Model, text)
}

// SetData sets the data document. See Set.
func (s *Store) SetData(text string) error {
	return s.Set(document.Data, text)
}

// SetEditorBuffer updates only what the editor shows for kind.
func (s *Store) SetEditorBuffer(kind document.Kind, text string) error {
	slot, err := s.slot(kind)
	if err != nil {
		return err
	}
	s.mutate(func() bool {
		slot.SetBuffer(text)
		return false
	})
	return nil
}

// Undo restores the previous value of kind and rebuilds. It reports false
// when there is nothing to undo.
func (s *Store) Undo(kind document.Kind) (bool, error) {
	return s.step(kind, (*document.Slot).Undo)
}

// Redo re-applies the most recently undone value of kind and rebuilds. It
// reports false when there is nothing to redo.
func (s *Store) Redo(kind document.Kind) (bool, error) {
	return s.step(kind, (*document.Slot).Redo)
}

// UndoTemplate is Undo(document.Template). It reports whether the template changed.
func (s *Store) UndoTemplate() bool {
	changed, _ := s.Undo(document.Template)
	return changed
}

// RedoTemplate is Redo(document.Template). It reports whether the template changed.
func (s *Store) RedoTemplate() bool {
	changed, _ := s.Redo(document.Template)
	return changed
}

// UndoModel is Undo(document.Model). It reports whether the model changed.
func (s *Store) UndoModel() bool {
	changed, _ := s.Undo(document.Model)
	return changed
}

// RedoModel is Redo(document.Model). It reports whether the model changed.
func (s *Store) RedoModel() bool {
	changed, _ := s.Redo(document.Model)
	return changed
}

// UndoData is Undo(document.Data). It reports whether the data changed.
func (s *Store) UndoData() bool {
	changed, _ := s.Undo(document.Data)
	return changed
}

// RedoData is Redo(document.Data). It reports whether the data changed.
func (s *Store) RedoData() bool {
	changed, _ := s.Redo(document.Data)
	return changed
}

func (s *Store) step(kind document.Kind, move func(*document.Slot) bool) (bool, error) {
	slot, err := s.slot(kind)
	if err != nil {
		return false, err
	}
	var changed bool
	s.mutate(func() bool {
		changed = move(slot)
		return changed
	})
	return changed, nil
}

// GenerateShareableLink encodes the current documents and derived output
// into a link. Encode failures are returned, never stored as lastError.
func (s *Store) GenerateShareableLink() (string, error) {
	s.mu.Lock()
	record := codec.Record{
		TemplateMarkdown: s.slots[document.Template].Current(),
		ModelCto:         s.slots[document.Model].Current(),
		Data:             s.slots[document.Data].Current(),
		AgreementHTML:    s.derivedOutput,
	}
	s.mu.Unlock()

	token, err := s.codec.Encode(record)
	if err != nil {
		return "", err
	}
	return ShareURL(s.baseURL, token), nil
}

// LoadFromLink replaces the session with the documents in a share token.
// The decoded output is shown immediately and a rebuild reconciles it. On
// failure lastError describes the problem, nothing else changes, and the
// error is returned.
func (s *Store) LoadFromLink(token string) error {
	record, err := s.codec.Decode(token)
	if err == nil && (record.TemplateMarkdown == "" || record.ModelCto == "" || record.Data == "") {
		err = perrors.ErrInvalidShareLink
	}
	if err != nil {
		message := LinkLoadFailurePrefix + errorMessage(err)
		s.mutate(func() bool {
			s.lastError = message
			return false
		})
		s.handler.Handle(context.Background(), err)
		return err
	}

	s.mutate(func() bool {
		s.slots[document.Template].Reset(record.TemplateMarkdown)
		s.slots[document.Model].Reset(record.ModelCto)
		s.slots[document.Data].Reset(record.Data)
		s.derivedOutput = s.sanitize(record.AgreementHTML)
		s.lastError = ""
		return true
	})
	s.logger.Info(context.Background(), "Loaded shared link")
	return nil
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// History returns a copy of kind's undo/redo stacks.
func (s *Store) History(kind document.Kind) (document.History, error) {
	slot, err := s.slot(kind)
	if err != nil {
		return document.History{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slot.History(), nil
}

// Samples returns the catalog the session loads samples from.
func (s *Store) Samples() []samples.Sample {
	return s.catalog.List()
}

// Subscribe registers fn to receive a snapshot after every state change.
// Snapshots may arrive from different goroutines; Version orders them.
// The returned function unregisters fn.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Wait blocks until no rebuild is pending or running.
func (s *Store) Wait(ctx context.Context) error {
	return s.pipeline.Wait(ctx)
}

// Metrics returns the rebuild pipeline's counters.
func (s *Store) Metrics() pipeline.Metrics {
	return s.pipeline.Metrics()
}

// Close stops the rebuild pipeline. Results still in flight are dropped.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.listeners = make(map[int]func(Snapshot))
	s.mu.Unlock()

	s.pipeline.Close()
}

func (s *Store) slot(kind document.Kind) (*document.Slot, error) {
	if kind < document.Template || kind > document.Data {
		return nil, perrors.NewValidationError(perrors.ErrCodeValidationFailed,
			fmt.Sprintf("unknown document %s", kind))
	}
	return s.slots[kind], nil
}

// mutate applies fn under the lock. When fn reports true a rebuild is
// requested for the resulting documents. Listeners are notified after the
// lock is released.
func (s *Store) mutate(fn func() (rebuild bool)) {
	s.mu.Lock()
	if fn() && !s.closed {
		seq := s.pipeline.Request(pipeline.Input{
			Template: s.slots[document.Template].Current(),
			Model:    s.slots[document.Model].Current(),
			Data:     s.slots[document.Data].Current(),
		})
		if seq > 0 {
			s.lastIssued = seq
		}
	}
	s.version++
	snap := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snap)
}

func (s *Store) render(ctx context.Context, in pipeline.Input) (string, error) {
	return s.renderer.Render(ctx, in.Template, in.Model, in.Data)
}

// commit applies a rebuild result if it answers the latest request.
func (s *Store) commit(res pipeline.Result) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if res.Seq != s.lastIssued || res.Seq <= s.lastApplied {
		latest := s.lastIssued
		s.mu.Unlock()
		s.pipeline.MarkStale()
		s.logger.Debug(context.Background(), "Discarded stale rebuild", "seq", res.Seq, "latest", latest)
		return
	}

	s.lastApplied = res.Seq
	if res.Err != nil {
		s.lastError = perrors.Format(res.Err)
	} else {
		s.derivedOutput = res.Output
		s.lastError = ""
	}
	s.version++
	snap := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	if res.Err != nil {
		s.handler.Handle(context.Background(), res.Err)
	} else {
		s.logger.Debug(context.Background(), "Applied rebuild", "seq", res.Seq, "duration", res.Duration)
	}
	notify(listeners, snap)
}

func (s *Store) snapshotLocked() Snapshot {
	doc := func(kind document.Kind) DocumentState {
		slot := s.slots[kind]
		return DocumentState{
			Value:   slot.Current(),
			Buffer:  slot.Buffer(),
			CanUndo: slot.CanUndo(),
			CanRedo: slot.CanRedo(),
		}
	}
	return Snapshot{
		Version:       s.version,
		Template:      doc(document.Template),
		Model:         doc(document.Model),
		Data:          doc(document.Data),
		DerivedOutput: s.derivedOutput,
		LastError:     s.lastError,
		ActiveSample:  s.activeSample,
		Rebuilding:    s.lastApplied < s.lastIssued,
	}
}

func (s *Store) listenersLocked() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}

// checkData reports whether text is well-formed JSON. Syntax errors carry
// the line and column they were found at.
func checkData(text string) error {
	var v interface{}
	err := json.Unmarshal([]byte(text), &v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, column := position(text, syntaxErr.Offset)
		return perrors.NewDataParseError(err, syntaxErr.Offset).WithLocation("data", line, column)
	}
	return perrors.NewDataParseError(err, 0)
}

// position converts a byte offset into a 1-based line and column.
func position(text string, offset int64) (line, column int) {
	if offset > int64(len(text)) {
		offset = int64(len(text))
	}
	prefix := text[:offset]
	line = 1 + strings.Count(prefix, "\n")
	column = 1 + len(prefix) - (strings.LastIndex(prefix, "\n") + 1)
	return line, column
}

// errorMessage is the human part of err, without codes.
func errorMessage(err error) string {
	var pe *perrors.PlaygroundError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return perrors.Format(err)
}
