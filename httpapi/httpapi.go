// Package httpapi provides the HTTP API handler for CodeSift.
// It delegates all business logic to the engine.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/codesift/codesift/engine"
	"github.com/codesift/codesift/model"
	"github.com/codesift/codesift/transcript"
)

// Handler provides the HTTP API for CodeSift.
type Handler struct {
	engine *engine.Engine
	router chi.Router
}

// New creates a new HTTP API handler.
func New(eng *engine.Engine) *Handler {
	h := &Handler{engine: eng}
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

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/conversations", h.handleCreateConversation)
			r.Get("/conversations", h.handleListConversations)
			r.Get("/conversations/{id}", h.handleGetConversation)
			r.Get("/conversations/{id}/messages", h.handleGetMessages)
			r.Post("/conversations/{id}/messages", h.handleSendMessage)
			r.Get("/conversations/{id}/segments", h.handleGetSegments)
			r.Get("/conversations/{id}/directives", h.handleGetDirectives)
			r.Post("/conversations/{id}/pr", h.handleCreatePR)
			r.Post("/directives/{id}/apply", h.handleApplyDirective)
		})
		r.Get("/conversations/{id}/events", h.handleConversationEvents)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createConversationRequest struct {
	Workspace string `json:"workspace"`
	Repo      string `json:"repo,omitempty"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type sendMessageResponse struct {
	MessageID      int64  `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

type segmentsResponse struct {
	Segments []transcript.Segment `json:"segments"`
}

type createPRResponse struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Workspace = strings.TrimSpace(req.Workspace)
	req.Repo = strings.TrimSpace(req.Repo)
	if req.Workspace == "" {
		writeError(w, http.StatusBadRequest, "workspace is required")
		return
	}
	if req.Repo != "" && !isValidRepo(req.Repo) {
		writeError(w, http.StatusBadRequest, "repo must be in owner/repo format")
		return
	}

	conv, err := h.engine.CreateConversation(req.Workspace, req.Repo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		log.Printf("Error creating conversation: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.engine.Store().ListConversations()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		log.Printf("Error listing conversations: %v", err)
		return
	}
	if convs == nil {
		convs = []*model.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := h.engine.Store().GetConversation(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len([]rune(req.Content)) > 10000 {
		writeError(w, http.StatusBadRequest, "content exceeds 10000 characters")
		return
	}

	msg, err := h.engine.SendMessage(id, req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, sendMessageResponse{
		MessageID: msg.ID, ConversationID: id,
	})
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.engine.Store().GetConversation(id); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	msgs, err := h.engine.Store().GetMessages(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) handleGetSegments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.engine.Store().GetConversation(id); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	segs, err := h.engine.Segments(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to parse segments")
		log.Printf("Error parsing segments for conversation %s: %v", id, err)
		return
	}
	if segs == nil {
		segs = []transcript.Segment{}
	}
	writeJSON(w, http.StatusOK, segmentsResponse{Segments: segs})
}

func (h *Handler) handleGetDirectives(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.engine.Store().GetConversation(id); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	directives, err := h.engine.Store().GetDirectives(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get directives")
		return
	}
	if directives == nil {
		directives = []*model.Directive{}
	}
	writeJSON(w, http.StatusOK, directives)
}

func (h *Handler) handleApplyDirective(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid directive id")
		return
	}

	d, err := h.engine.ApplyDirective(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleCreatePR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	prURL, prNumber, err := h.engine.CreatePRFromConversation(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createPRResponse{
		URL: prURL, Number: prNumber,
	})
}

func (h *Handler) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.engine.Store().GetConversation(id); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := h.engine.Store().GetEvents(id, 0)
	if err != nil {
		log.Printf("failed to load events for conversation %s: %v", id, err)
		events = nil
	}
	for _, e := range events {
		writeSSE(w, e)
	}
	// Comment line marking the end of the replay; clients can use it to
	// tell stored events from live ones.
	fmt.Fprint(w, ": replay complete\n\n")
	flusher.Flush()

	ch := h.engine.Bus().Subscribe(id)
	defer h.engine.Bus().Unsubscribe(id, ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event *model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("writeSSE marshal error: %v", err)
		return
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, string(data)); err != nil {
		log.Printf("writeSSE write error: %v", err)
	}
}

func isValidRepo(repo string) bool {
	parts := strings.Split(repo, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}
