package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/conneroisu/playground/internal/document"
	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/pipeline"
	"github.com/conneroisu/playground/internal/renderer"
	"github.com/conneroisu/playground/internal/session"
	"github.com/conneroisu/playground/internal/version"
)

// maxWait bounds how long a request with ?wait may block on a rebuild.
const maxWait = 10 * time.Second

type errorResponse struct {
	Error    string                 `json:"error"`
	Code     string                 `json:"code"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Snapshot *session.Snapshot      `json:"snapshot,omitempty"`
}

type sessionResponse struct {
	ID       string           `json:"id"`
	Snapshot session.Snapshot `json:"snapshot"`
	Error    string           `json:"error,omitempty"`
}

type stepResponse struct {
	Changed  bool             `json:"changed"`
	Snapshot session.Snapshot `json:"snapshot"`
}

type shareResponse struct {
	Link  string `json:"link"`
	Token string `json:"token"`
}

type healthResponse struct {
	Status   string               `json:"status"`
	Version  string               `json:"version"`
	Sessions int                  `json:"sessions"`
	Cache    *renderer.CacheStats `json:"cache,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeStoreError maps a store error to a status. Rejected edits carry the
// current snapshot so clients can resynchronize.
func writeStoreError(w http.ResponseWriter, err error, store *session.Store) {
	resp := errorResponse{Error: err.Error(), Code: perrors.ErrCodeInternalError}
	status := http.StatusInternalServerError

	var pe *perrors.PlaygroundError
	if errors.As(err, &pe) {
		resp.Code = pe.Code
		resp.Error = pe.Message
		resp.Details = perrors.GetErrorContext(pe)
	}

	switch {
	case errors.Is(err, perrors.ErrSessionNotFound):
		status = http.StatusNotFound
	case perrors.IsDecodeError(err), perrors.IsDataParseError(err), errors.Is(err, perrors.ErrInvalidShareLink):
		status = http.StatusUnprocessableEntity
	case pe != nil && pe.Code == perrors.ErrCodeSampleNotFound:
		status = http.StatusNotFound
	case pe != nil && pe.Type == perrors.ErrorTypeValidation:
		status = http.StatusBadRequest
	}

	if store != nil && status != http.StatusNotFound {
		snap := store.Snapshot()
		resp.Snapshot = &snap
	}
	writeJSON(w, status, resp)
}

// lookup resolves the {id} path value, writing a 404 when it is unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Store, bool) {
	store, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, nil)
		return nil, false
	}
	return store, true
}

func pathKind(w http.ResponseWriter, r *http.Request) (document.Kind, bool) {
	kind, err := document.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, perrors.ErrCodeValidationFailed, err.Error())
		return 0, false
	}
	return kind, true
}

// readBody reads the request body as document text, capped at the codec's
// decoded size limit. Bodies must be valid UTF-8.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.cfg.Share.MaxDecodedBytes)))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, perrors.ErrCodeValidationFailed, "document too large")
			return "", false
		}
		writeError(w, http.StatusBadRequest, perrors.ErrCodeValidationFailed, "reading request body")
		return "", false
	}
	if !utf8.Valid(body) {
		writeError(w, http.StatusBadRequest, perrors.ErrCodeInvalidEncoding, "document is not valid UTF-8")
		return "", false
	}
	return string(body), true
}

// settle blocks until the session's rebuild finishes when the request asks
// for it with ?wait.
func settle(r *http.Request, store *session.Store) {
	if !r.URL.Query().Has("wait") {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), maxWait)
	defer cancel()
	_ = store.Wait(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Version:  version.Get().Short(),
		Sessions: s.sessions.Len(),
	}
	if stats, ok := s.renderer.(interface{ Stats() renderer.CacheStats }); ok {
		cache := stats.Stats()
		resp.Cache = &cache
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSamples(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, store, err := s.sessions.Create(r.URL.Query().Get(session.ShareParam))
	if store == nil {
		writeStoreError(w, err, nil)
		return
	}
	settle(r, store)

	resp := sessionResponse{ID: id, Snapshot: store.Snapshot()}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	settle(r, store)
	writeJSON(w, http.StatusOK, store.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.PathValue("id")); err != nil {
		writeStoreError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetDocument(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	text, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := store.Set(kind, text); err != nil {
		writeStoreError(w, err, store)
		return
	}
	settle(r, store)
	writeJSON(w, http.StatusOK, store.Snapshot())
}

func (s *Server) handleSetBuffer(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	text, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := store.SetEditorBuffer(kind, text); err != nil {
		writeStoreError(w, err, store)
		return
	}
	writeJSON(w, http.StatusOK, store.Snapshot())
}

func (s *Server) handleHistoryStep(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}

	var changed bool
	var err error
	switch r.PathValue("action") {
	case "undo":
		changed, err = store.Undo(kind)
	case "redo":
		changed, err = store.Redo(kind)
	default:
		writeError(w, http.StatusNotFound, perrors.ErrCodeValidationFailed, "unknown action "+r.PathValue("action"))
		return
	}
	if err != nil {
		writeStoreError(w, err, store)
		return
	}
	settle(r, store)
	writeJSON(w, http.StatusOK, stepResponse{Changed: changed, Snapshot: store.Snapshot()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	history, err := store.History(kind)
	if err != nil {
		writeStoreError(w, err, store)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleLoadSample(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	if !store.LoadSample(name) {
		writeStoreError(w, perrors.ErrUnknownSample(name), nil)
		return
	}
	settle(r, store)
	writeJSON(w, http.StatusOK, store.Snapshot())
}

// handleLoadLink accepts either a full share link or a bare token as the
// request body.
func (s *Server) handleLoadLink(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	token, err := session.TokenFromLink(strings.TrimSpace(body))
	if err == nil {
		err = store.LoadFromLink(token)
	}
	if err != nil {
		writeStoreError(w, err, store)
		return
	}
	settle(r, store)
	writeJSON(w, http.StatusOK, store.Snapshot())
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	link, err := store.GenerateShareableLink()
	if err != nil {
		writeStoreError(w, err, store)
		return
	}
	token, err := session.TokenFromLink(link)
	if err != nil {
		writeStoreError(w, err, store)
		return
	}
	writeJSON(w, http.StatusOK, shareResponse{Link: link, Token: token})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		pipeline.Metrics
		Version uint64 `json:"version"`
	}{store.Metrics(), store.Snapshot().Version})
}
