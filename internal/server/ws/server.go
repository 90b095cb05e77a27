package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Jak-Sim/back-chat/internal/runtime"
	deliverysvc "github.com/Jak-Sim/back-chat/internal/services/delivery"
	roomsvc "github.com/Jak-Sim/back-chat/internal/services/rooms"
	logpkg "github.com/Jak-Sim/back-chat/pkg/log"
)

// Options configures the edge server.
type Options struct {
	Addr     string
	Runtime  *runtime.Runtime
	Delivery *deliverysvc.Service
	Rooms    *roomsvc.Service
	Logger   logpkg.Logger
}

// Server terminates WebSocket connections and serves the rooms REST surface.
type Server struct {
	opts     Options
	logger   logpkg.Logger
	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

// New builds the server. Call Start to begin serving.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	s := &Server{
		opts:   opts,
		logger: logger.With(logpkg.Component("ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /rooms", s.handleListRooms)
	mux.HandleFunc("GET /rooms/{id}", s.handleGetRoom)
	mux.HandleFunc("POST /rooms/{id}/participants", s.handleAddParticipants)
	mux.HandleFunc("DELETE /rooms/{id}", s.handleDeleteRoom)
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("listening", logpkg.Str("addr", s.opts.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", logpkg.Err(err))
		return
	}
	c := newClient(conn, s.opts.Delivery, s.logger.With(logpkg.Str("user", userID)))
	c.session = s.opts.Delivery.Connect(userID, c)
	go c.writePump()
	c.readPump(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Runtime.CheckHealth(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type createRoomReq struct {
	RoomID       string   `json:"roomId,omitempty"`
	DisplayName  string   `json:"displayName"`
	Kind         string   `json:"kind,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	m, err := s.opts.Rooms.Create(r.Context(), roomsvc.CreateOptions{
		RoomID:       req.RoomID,
		DisplayName:  req.DisplayName,
		Kind:         roomsvc.Kind(req.Kind),
		Participants: req.Participants,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	rooms, err := s.opts.Rooms.ListForUser(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rooms == nil {
		rooms = []roomsvc.Meta{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	m, err := s.opts.Rooms.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.roomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type addParticipantsReq struct {
	UserIDs []string `json:"userIds"`
}

func (s *Server) handleAddParticipants(w http.ResponseWriter, r *http.Request) {
	var req addParticipantsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.UserIDs) == 0 {
		http.Error(w, "userIds is required", http.StatusBadRequest)
		return
	}
	m, err := s.opts.Rooms.AddParticipants(r.Context(), r.PathValue("id"), req.UserIDs)
	if err != nil {
		s.roomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Rooms.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.roomError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) roomError(w http.ResponseWriter, err error) {
	if errors.Is(err, roomsvc.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
