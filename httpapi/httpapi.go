// Package httpapi exposes the local action API: the sanctioned channel
// through which the agent backend's tool-use can act back on the chat
// platform without holding chat credentials.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/threadrelay/threadrelay/gateway"
)

const maxThreadMessages = 50

// Handler serves POST /action and /health.
type Handler struct {
	gw     gateway.Gateway
	token  string // optional bearer token; "" disables auth
	router chi.Router
}

// New creates the action API handler. token, when non-empty, is required as
// a bearer credential on /action.
func New(gw gateway.Gateway, token string) *Handler {
	h := &Handler{gw: gw, token: token}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(h.requireToken)
		r.Post("/action", h.handleAction)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+h.token {
				writeResult(w, http.StatusUnauthorized, actionResponse{Error: "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// --- Request/Response types ---

type actionRequest struct {
	Action    string `json:"action"`
	ChannelID string `json:"channelId"`
	ThreadID  string `json:"threadId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Text      string `json:"text,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Limit     int    `json:"limit,omitempty"`

	// ask_user
	Question string   `json:"question,omitempty"`
	Options  []string `json:"options,omitempty"`

	// upload_file
	FilePath       string `json:"filePath,omitempty"`
	Filename       string `json:"filename,omitempty"`
	Title          string `json:"title,omitempty"`
	InitialComment string `json:"initialComment,omitempty"`
}

type actionResponse struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// --- Handlers ---

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusBadRequest, actionResponse{Error: "invalid request body"})
		return
	}
	if req.ChannelID == "" {
		writeResult(w, http.StatusBadRequest, actionResponse{Error: "channelId is required"})
		return
	}

	ctx := r.Context()

	switch req.Action {
	case "get_thread_messages":
		if req.ThreadID == "" {
			writeResult(w, http.StatusBadRequest, actionResponse{Error: "threadId is required"})
			return
		}
		msgs, _, err := h.gw.ThreadHistory(ctx, req.ChannelID, req.ThreadID, "")
		if err != nil {
			writeActionError(w, "get_thread_messages", err)
			return
		}
		limit := req.Limit
		if limit <= 0 || limit > maxThreadMessages {
			limit = maxThreadMessages
		}
		if len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}
		writeResult(w, http.StatusOK, actionResponse{OK: true, Result: msgs})

	case "ask_user":
		if req.ThreadID == "" || strings.TrimSpace(req.Question) == "" {
			writeResult(w, http.StatusBadRequest, actionResponse{Error: "threadId and question are required"})
			return
		}
		if len(req.Options) < 2 || len(req.Options) > 5 {
			writeResult(w, http.StatusBadRequest, actionResponse{Error: "ask_user requires 2 to 5 options"})
			return
		}
		choices := make([]gateway.Choice, 0, len(req.Options))
		for _, opt := range req.Options {
			choices = append(choices, gateway.Choice{Label: opt, Value: opt})
		}
		msgID, err := h.gw.PostChoices(ctx, req.ChannelID, req.ThreadID, req.Question, choices)
		if err != nil {
			writeActionError(w, "ask_user", err)
			return
		}
		writeResult(w, http.StatusOK, actionResponse{OK: true, Result: map[string]string{"messageId": msgID}})

	case "add_reaction":
		if req.MessageID == "" || req.Emoji == "" {
			writeResult(w, http.StatusBadRequest, actionResponse{Error: "messageId and emoji are required"})
			return
		}
		if err := h.gw.AddReaction(ctx, req.ChannelID, req.MessageID, req.Emoji); err != nil {
			writeActionError(w, "add_reaction", err)
			return
		}
		writeResult(w, http.StatusOK, actionResponse{OK: true})

	case "get_user_info":
		if req.UserID == "" {
			writeResult(w, http.StatusBadRequest, actionResponse{Error: "userId is required"})
			return
		}
		info, err := h.gw.UserInfo(ctx, req.UserID)
		if err != nil {
			writeActionError(w, "get_user_info", err)
			return
		}
		writeResult(w, http.StatusOK, actionResponse{OK: true, Result: info})

	case "post_message":
		if strings.TrimSpace(req.Text) == "" {
			writeResult(w, http.StatusBadRequest, actionResponse{Error: "text is required"})
			return
		}
		msgID, err := gateway.PostChunked(ctx, h.gw, req.ChannelID, req.ThreadID, req.Text)
		if err != nil {
			writeActionError(w, "post_message", err)
			return
		}
		writeResult(w, http.StatusOK, actionResponse{OK: true, Result: map[string]string{"messageId": msgID}})

	case "upload_file":
		if req.FilePath == "" {
			writeResult(w, http.StatusBadRequest, actionResponse{Error: "filePath is required"})
			return
		}
		content, err := os.ReadFile(req.FilePath)
		if err != nil {
			writeActionError(w, "upload_file", err)
			return
		}
		filename := req.Filename
		if filename == "" {
			filename = req.FilePath[strings.LastIndexByte(req.FilePath, '/')+1:]
		}
		if err := h.gw.UploadFile(ctx, req.ChannelID, req.ThreadID, filename, req.Title, req.InitialComment, content); err != nil {
			writeActionError(w, "upload_file", err)
			return
		}
		writeResult(w, http.StatusOK, actionResponse{OK: true})

	default:
		writeResult(w, http.StatusBadRequest, actionResponse{Error: "unknown action: " + req.Action})
	}
}

// --- Helpers ---

func writeActionError(w http.ResponseWriter, action string, err error) {
	log.Printf("httpapi: %s failed: %v", action, err)
	writeResult(w, http.StatusBadGateway, actionResponse{Error: err.Error()})
}

func writeResult(w http.ResponseWriter, status int, v actionResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}
