package chatbot

import (
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/YuminosukeSato/exoml/pkg/log"
)

//go:embed static
var staticFiles embed.FS

// Message length bounds for /api/chat, in characters.
const (
	MinMessageLen = 1
	MaxMessageLen = 5000
)

// ChatRequest is the /api/chat body.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the /api/chat reply.
type ChatResponse struct {
	Response string `json:"response"`
	Status   string `json:"status"`
}

// ErrorResponse is returned when the model call fails.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

// validationError mirrors the usual 422 payload shape.
type validationError struct {
	Detail []validationDetail `json:"detail"`
}

type validationDetail struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// Handler wires a Service to HTTP.
type Handler struct {
	svc     *Service
	appName string
	logger  log.Logger
}

// NewHandler returns the chatbot routes for svc.
func NewHandler(svc *Service, appName string) *Handler {
	if appName == "" {
		appName = DefaultAppName
	}
	return &Handler{svc: svc, appName: appName, logger: log.GetLoggerWithName("chatbot")}
}

// Router mounts:
//
//	POST /api/chat      {"message": "..."} -> {"response": "...", "status": "success"}
//	GET  /health        {"status": "healthy", "service": <app name>}
//	GET  /              widget demo page
//	GET  /test-widget   host page embedding the widget script
//	GET  /static/*      widget assets
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsPolicy())

	static, _ := fs.Sub(staticFiles, "static")
	r.Post("/api/chat", h.handleChat)
	r.Get("/health", h.handleHealth)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, static, "index.html")
	})
	r.Get("/test-widget", h.handleTestWidget)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(static)))
	return r
}

// corsPolicy allows every origin, echoing it back so credentialed widget
// requests from any host page succeed.
func corsPolicy() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc:  func(*http.Request, string) bool { return true },
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           600,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func unprocessable(w http.ResponseWriter, msg, typ string) {
	writeJSON(w, http.StatusUnprocessableEntity, validationError{
		Detail: []validationDetail{{Loc: []string{"body", "message"}, Msg: msg, Type: typ}},
	})
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&raw); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, validationError{
			Detail: []validationDetail{{Loc: []string{"body"}, Msg: "invalid JSON: " + err.Error(), Type: "json_invalid"}},
		})
		return
	}
	field, ok := raw["message"]
	if !ok {
		unprocessable(w, "Field required", "missing")
		return
	}
	var req ChatRequest
	if err := json.Unmarshal(field, &req.Message); err != nil {
		unprocessable(w, "Input should be a valid string", "string_type")
		return
	}
	switch n := utf8.RuneCountInString(req.Message); {
	case n < MinMessageLen:
		unprocessable(w, "String should have at least 1 character", "string_too_short")
		return
	case n > MaxMessageLen:
		unprocessable(w, "String should have at most 5000 characters", "string_too_long")
		return
	}

	out, err := h.svc.Respond(r.Context(), req.Message)
	if err != nil {
		h.logger.Error("chat failed", err, log.RequestIDKey, middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Status: "error"})
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: out, Status: "success"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": h.appName})
}
