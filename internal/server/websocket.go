package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/session"
	"github.com/conneroisu/playground/internal/validation"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// StreamMessage is sent to stream clients whenever the session changes.
type StreamMessage struct {
	Type     string           `json:"type"`
	Snapshot session.Snapshot `json:"snapshot"`
}

// checkOrigin allows same-host and non-browser clients, and otherwise
// requires the origin to be listed in the configuration.
func (s *Server) checkOrigin(r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return nil
	}
	return validation.ValidateOrigin(origin, s.cfg.Server.AllowedOrigins)
}

// handleStream pushes a snapshot to the client after every state change.
// Snapshots are coalesced: a slow client skips straight to the newest one.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if err := s.checkOrigin(r); err != nil {
		s.logger.Warn(r.Context(), err, "Rejected stream origin", "origin", r.Header.Get("Origin"))
		writeError(w, http.StatusForbidden, perrors.ErrCodeValidationFailed, "origin not allowed")
		return
	}

	store, detach, err := s.sessions.Attach(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, nil)
		return
	}
	defer detach()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin was checked above.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	var (
		mu     sync.Mutex
		latest session.Snapshot
		ready  = make(chan struct{}, 1)
	)
	offer := func(snap session.Snapshot) {
		mu.Lock()
		if snap.Version >= latest.Version {
			latest = snap
		}
		mu.Unlock()
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	unsubscribe := store.Subscribe(offer)
	defer unsubscribe()
	offer(store.Snapshot())

	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	sent := uint64(0)
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ready:
			mu.Lock()
			snap := latest
			mu.Unlock()
			if !first && snap.Version <= sent {
				continue
			}
			first = false
			sent = snap.Version

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, StreamMessage{Type: "snapshot", Snapshot: snap})
			cancel()
			if err != nil {
				s.logger.Debug(ctx, "Stream write failed", "error", err.Error())
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
