// Package remote exposes the playback coordinator over a small local HTTP API
// and streams UI state to websocket clients.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/olivier-w/cloudplay/internal/api"
	"github.com/olivier-w/cloudplay/internal/playback"
	"github.com/olivier-w/cloudplay/internal/queue"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Controller is the part of the coordinator the API drives.
type Controller interface {
	State() *playback.Store
	Items() []queue.Item
	CurrentID() string
	Insert(item queue.Item, instantPlay, appendTail bool) bool
	PlayAll(items []queue.Item)
	Remove(id string) bool
	Next()
	Previous()
	TogglePause()
	Seek(progress float64) error
	SetVolume(v float64)
}

// Resolver turns a display id into a queue item. It may be nil, in which case
// clients must send complete items.
type Resolver interface {
	FetchSongDetail(ctx context.Context, displayID string) (api.SongDetail, error)
}

type Server struct {
	ctrl     Controller
	resolver Resolver
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewServer(ctrl Controller, resolver Resolver, logger zerolog.Logger) *Server {
	return &Server{
		ctrl:     ctrl,
		resolver: resolver,
		log:      logger.With().Str("component", "remote").Logger(),
		upgrader: websocket.Upgrader{
			// Local control surface; browsers on other origins are allowed.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the chi router with all routes.
func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/state", s.handleState)
	r.Get("/queue", s.handleQueue)
	r.Post("/queue", s.handleInsert)
	r.Post("/queue/replace", s.handleReplace)
	r.Delete("/queue/{id}", s.handleRemove)
	r.Post("/next", s.handleNext)
	r.Post("/previous", s.handlePrevious)
	r.Post("/pause", s.handlePause)
	r.Post("/seek", s.handleSeek)
	r.Post("/volume", s.handleVolume)
	r.Get("/ws", s.handleWS)
	return r
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("remote control listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type queueResponse struct {
	Items     []queue.Item `json:"items"`
	CurrentID string       `json:"currentId"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.State().Snapshot())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, queueResponse{Items: s.ctrl.Items(), CurrentID: s.ctrl.CurrentID()})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req queue.Item
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	item, status, err := s.complete(r.Context(), req)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	instant, _ := strconv.ParseBool(r.URL.Query().Get("instant"))
	appendTail, _ := strconv.ParseBool(r.URL.Query().Get("append"))
	inserted := s.ctrl.Insert(item, instant, appendTail)
	writeJSON(w, http.StatusOK, map[string]any{"inserted": inserted, "item": item})
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	var reqs []queue.Item
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	items := make([]queue.Item, 0, len(reqs))
	for _, req := range reqs {
		item, status, err := s.complete(r.Context(), req)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
		items = append(items, item)
	}
	s.ctrl.PlayAll(items)
	writeJSON(w, http.StatusOK, queueResponse{Items: s.ctrl.Items(), CurrentID: s.ctrl.CurrentID()})
}

// complete fills an item that only carries a display id.
func (s *Server) complete(ctx context.Context, item queue.Item) (queue.Item, int, error) {
	if item.ID != "" {
		return item, http.StatusOK, nil
	}
	if item.DisplayID == "" {
		return queue.Item{}, http.StatusBadRequest, errors.New("id or displayId required")
	}
	if s.resolver == nil {
		return queue.Item{}, http.StatusBadRequest, errors.New("id required")
	}
	detail, err := s.resolver.FetchSongDetail(ctx, item.DisplayID)
	if err != nil {
		var statusErr *api.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return queue.Item{}, http.StatusNotFound, err
		}
		return queue.Item{}, http.StatusBadGateway, err
	}
	return detail.QueueItem(), http.StatusOK, nil
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.ctrl.Remove(id) {
		writeError(w, http.StatusNotFound, "not queued")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Next()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Previous()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.ctrl.TogglePause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Progress *float64 `json:"progress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Progress == nil {
		writeError(w, http.StatusBadRequest, "progress required")
		return
	}
	if err := s.ctrl.Seek(*body.Progress); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Volume == nil {
		writeError(w, http.StatusBadRequest, "volume required")
		return
	}
	s.ctrl.SetVolume(*body.Volume)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// message is one websocket frame.
type message struct {
	Type   string            `json:"type"`
	Client string            `json:"client,omitempty"`
	State  *playback.UIState `json:"state,omitempty"`
	Alert  *playback.Alert   `json:"alert,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade")
		return
	}
	id := uuid.NewString()
	log := s.log.With().Str("client", id).Logger()
	log.Debug().Msg("ws connected")

	store := s.ctrl.State()
	sub := store.Subscribe()
	closed := make(chan struct{})
	go s.readPump(conn, closed)
	s.writePump(conn, id, sub, closed)

	store.Unsubscribe(sub)
	conn.Close()
	log.Debug().Msg("ws disconnected")
}

// readPump discards client frames and notices disconnects.
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, id string, sub *playback.Subscription, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	send := func(m message) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m) == nil
	}
	if !send(message{Type: "welcome", Client: id}) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-sub.Done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case st := <-sub.States:
			if !send(message{Type: "state", State: &st}) {
				return
			}
		case a := <-sub.Alerts:
			if !send(message{Type: "alert", Alert: &a}) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
