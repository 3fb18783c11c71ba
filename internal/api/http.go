package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

import (
	"github.com/gorilla/mux"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/allowlist"
	"github.com/nanjiek/pixiu-relay/internal/chat"
	"github.com/nanjiek/pixiu-relay/internal/config"
	"github.com/nanjiek/pixiu-relay/internal/core"
)

// EventHandler runs one conversation turn.
type EventHandler interface {
	Handle(ctx context.Context, ev chat.Event, r chat.Replier) core.Result
}

// ChannelAdmin manages the channel allow-list.
type ChannelAdmin interface {
	List() []string
	Add(ctx context.Context, channelID string) error
	Remove(ctx context.Context, channelID string) error
}

type Server struct {
	cfg      config.ServerCfg
	handler  EventHandler
	channels ChannelAdmin
	srv      *http.Server // 内部封装 http.Server
}

func NewServer(cfg config.ServerCfg, handler EventHandler, channels ChannelAdmin) *Server {
	return &Server{
		cfg:      cfg,
		handler:  handler,
		channels: channels,
	}
}

func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/events", s.eventHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/channels", s.listChannelsHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/channels/{id}", s.addChannelHandler).Methods(http.MethodPut)
	r.HandleFunc("/v1/channels/{id}", s.removeChannelHandler).Methods(http.MethodDelete)
}

// Router returns a router with every route registered.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	s.RegisterRoutes(r)
	return r
}

func (s *Server) ListenAndServe() error {
	readHeader := time.Duration(s.cfg.ReadHeaderTimeoutMs) * time.Millisecond
	if readHeader <= 0 {
		readHeader = 5 * time.Second
	}
	s.srv = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeader,
	}
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// ---------------- Handlers ----------------

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) eventHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var ev chat.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(ev.Author.ID) == "" {
		errResp(w, http.StatusBadRequest, "author.id is required")
		return
	}

	var collector chat.Collector
	res := s.handler.Handle(r.Context(), ev, &collector)

	_ = json.NewEncoder(w).Encode(EventResponse{
		RequestID: res.RequestID,
		Skipped:   res.Skipped,
		Outcome:   res.Outcome,
		Replies:   collector.Replies(),
	})
}

func (s *Server) listChannelsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ChannelsResponse{Channels: s.channels.List()})
}

func (s *Server) addChannelHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["id"]
	if err := s.channels.Add(r.Context(), id); err != nil {
		channelErr(w, "failed to add channel: ", err)
		return
	}
	_ = json.NewEncoder(w).Encode(ChannelResponse{Status: "success", ChannelID: id})
}

func (s *Server) removeChannelHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["id"]
	if err := s.channels.Remove(r.Context(), id); err != nil {
		channelErr(w, "failed to remove channel: ", err)
		return
	}
	_ = json.NewEncoder(w).Encode(ChannelResponse{Status: "success", ChannelID: id})
}

func channelErr(w http.ResponseWriter, prefix string, err error) {
	if errors.Is(err, allowlist.ErrInvalidChannel) {
		errResp(w, http.StatusBadRequest, err.Error())
		return
	}
	errResp(w, http.StatusInternalServerError, prefix+err.Error())
}

func errResp(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
