package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"chat-sync/auth"
	"chat-sync/errors"
	"chat-sync/runtime/workers"
	"chat-sync/services"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// HealthReporter exposes the last process sample.
type HealthReporter interface {
	Latest() (workers.ProcessStats, bool)
}

type Options struct {
	RateLimit      rate.Limit
	RateLimitBurst int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// ChatServer exposes the chat service over REST and websockets.
type ChatServer struct {
	log         *slog.Logger
	chatService services.IChatService
	health      HealthReporter
	gatherer    prometheus.Gatherer
	validate    *validator.Validate
	limiter     *ActorRateLimiter
	upgrader    websocket.Upgrader
	options     Options
}

func NewChatServer(log *slog.Logger, chatService services.IChatService, health HealthReporter,
	gatherer prometheus.Gatherer, options Options) *ChatServer {
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = 10 * time.Second
	}
	if options.PingInterval <= 0 {
		options.PingInterval = 54 * time.Second
	}
	return &ChatServer{
		log:         log,
		chatService: chatService,
		health:      health,
		gatherer:    gatherer,
		validate:    validator.New(),
		limiter:     NewActorRateLimiter(options.RateLimit, options.RateLimitBurst, clock.WallClock),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		options: options,
	}
}

// Router wires every route. Everything under /rooms and /messages needs a bearer token.
func (s *ChatServer) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	api.Use(auth.Middleware(s.chatService, s.writeError))

	api.HandleFunc("/rooms", s.createRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}", s.getRoom).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}", s.updateRoom).Methods(http.MethodPatch)
	api.HandleFunc("/rooms/{id}", s.deleteRoom).Methods(http.MethodDelete)
	api.HandleFunc("/rooms/{id}/messages", s.listMessages).Methods(http.MethodGet)
	api.Handle("/rooms/{id}/messages", s.limiter.Middleware(s.writeError)(http.HandlerFunc(s.appendMessage))).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}/events", s.streamEvents).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}/presence", s.streamPresence).Methods(http.MethodGet)
	api.Handle("/rooms/{id}/presence", s.limiter.Middleware(s.writeError)(http.HandlerFunc(s.setTyping))).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}", s.updateMessage).Methods(http.MethodPatch)
	api.HandleFunc("/messages/{id}", s.deleteMessage).Methods(http.MethodDelete)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *ChatServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("Unable to write response", "error", err)
	}
}

func (s *ChatServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.MapToHTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	s.log.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

type healthResponse struct {
	Status  string                `json:"status"`
	Process *workers.ProcessStats `json:"process,omitempty"`
}

func (s *ChatServer) healthz(w http.ResponseWriter, _ *http.Request) {
	response := healthResponse{Status: "ok"}
	if s.health != nil {
		if stats, ok := s.health.Latest(); ok {
			response.Process = &stats
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}
