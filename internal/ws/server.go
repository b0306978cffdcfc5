// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/containerd/errdefs/pkg/errhttp"
	"github.com/forkbombeu/emuhub/internal/avd"
	"github.com/forkbombeu/emuhub/internal/state"
	"github.com/gorilla/websocket"
)

const shutdownTimeout = 5 * time.Second

// Actions is the part of the hub the API drives.
type Actions interface {
	Refresh(ctx context.Context) (state.Snapshot, error)
	StartAVD(ctx context.Context, name string) error
	StopDevice(ctx context.Context, serial string) error
}

type Server struct {
	actions     Actions
	store       *state.Store
	broadcaster *Broadcaster
	env         avd.Env
	upgrader    websocket.Upgrader
}

func NewServer(env avd.Env, actions Actions, store *state.Store, broadcaster *Broadcaster) *Server {
	s := &Server{
		actions:     actions,
		store:       store,
		broadcaster: broadcaster,
		env:         env,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}
	return s
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/avds/{name}/start", s.handleStart)
	mux.HandleFunc("POST /api/devices/{serial}/stop", s.handleStop)
	return s.loopbackOnly(mux)
}

// loopbackOnly rejects requests from non-loopback pages, and requests whose
// Host is not a loopback name (DNS rebinding), before any route runs.
func (s *Server) loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) || !checkHost(r) {
			avd.LogWarn(s.env, "request rejected", "remote", r.RemoteAddr, "origin", r.Header.Get("Origin"), "host", r.Host)
			writeJSON(w, http.StatusForbidden, errorBody{Error: "only loopback origins are accepted"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		avd.LogWarn(s.env, "websocket upgrade failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		avd.LogWarn(s.env, "websocket client rejected", "remote", r.RemoteAddr, "error", err.Error())
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
		return
	}
	avd.LogEvent(s.env, "websocket client connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			avd.LogEvent(s.env, "websocket client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.actions.Refresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.actions.StartAVD(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.store.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")
	if err := s.actions.StopDevice(r.Context(), serial); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err's errdefs class to a status; the body carries only
// the user-facing description.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errhttp.ToHTTP(err), errorBody{Error: avd.Describe(err)})
}

// checkOrigin accepts requests without an Origin header and browser
// requests from loopback pages only.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return isLoopbackHost(parsed.Hostname())
}

// checkHost accepts loopback Host headers, with or without a port.
func checkHost(r *http.Request) bool {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return isLoopbackHost(strings.Trim(host, "[]"))
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ListenAndServe serves handler on addr until ctx is done, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, env avd.Env, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, env, ln, handler)
}

func Serve(ctx context.Context, env avd.Env, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	avd.LogEvent(env, "server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	avd.LogEvent(env, "server stopped", "addr", ln.Addr().String())
	return nil
}
