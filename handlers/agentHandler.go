package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"studybuddy/logger"
	"studybuddy/models"
	"studybuddy/services/agent"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 1 << 20
	wsSendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type AgentHandler struct {
	manager *agent.Manager
}

func NewAgentHandler(manager *agent.Manager) *AgentHandler {
	return &AgentHandler{manager: manager}
}

func (h *AgentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/agents/chat/{id}", h.Chat).Methods("POST")
	router.HandleFunc("/agents/chat/{id}/messages", h.GetMessages).Methods("GET")
	router.HandleFunc("/agents/chat/{id}/cancel", h.Cancel).Methods("POST")
	router.HandleFunc("/agents/chat/{id}/ws", h.Stream).Methods("GET")
}

// Chat runs one turn and streams its events as server-sent events. Failures
// detected before the first event are reported as a plain JSON error.
func (h *AgentHandler) Chat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	logger.Log.Infof("Received agent chat request for %s", id)

	var req models.AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.Errorf("Failed to decode agent request JSON: %v", err)
		writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	inst, err := h.manager.Get(r.Context(), id)
	if err != nil {
		logger.Log.Errorf("Failed to load agent instance %s: %v", id, err)
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load agent")
		return
	}

	stream := &sseWriter{w: w, flusher: flusher}
	if _, err := inst.Chat(r.Context(), req.Messages, stream.send); err != nil {
		logger.Log.Errorf("Agent chat failed for %s: %v", id, err)
		if !stream.started() {
			writeErrorResponse(w, chatErrorStatus(err), err.Error())
			return
		}
		stream.send(models.StreamEvent{Type: models.EventError, Error: err.Error()})
		return
	}

	logger.Log.Infof("Agent chat completed successfully for %s", id)
}

func (h *AgentHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	inst, err := h.manager.Get(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load agent")
		return
	}

	messages, err := inst.Messages(r.Context())
	if err != nil {
		logger.Log.Errorf("Failed to load messages for %s: %v", id, err)
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve messages")
		return
	}
	if messages == nil {
		messages = []models.AgentMessage{}
	}

	writeJSONResponse(w, http.StatusOK, models.AgentResponse{Messages: messages})
}

func (h *AgentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	cancelled, _ := h.manager.Cancel(id)
	writeJSONResponse(w, http.StatusOK, map[string]int{"cancelled": cancelled})
}

type wsFrame struct {
	Type     string                `json:"type"`
	Messages []models.AgentMessage `json:"messages,omitempty"`
}

// Stream serves a websocket on which the client sends chat and cancel frames
// and receives stream events.
func (h *AgentHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	inst, err := h.manager.Get(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load agent")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Errorf("Websocket upgrade failed for %s: %v", id, err)
		return
	}
	defer conn.Close()

	logger.Log.Infof("Websocket connected for %s", id)

	send := make(chan models.StreamEvent, wsSendBuffer)
	writerDone := make(chan struct{})
	go writePump(conn, send, writerDone)

	emit := func(event models.StreamEvent) { send <- event }

	ctx, cancel := context.WithCancel(context.Background())
	var turns sync.WaitGroup

	conn.SetReadLimit(wsMaxMessageSize)
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Warnf("Websocket for %s closed unexpectedly: %v", id, err)
			}
			break
		}

		switch frame.Type {
		case "chat":
			messages := frame.Messages
			turns.Add(1)
			go func() {
				defer turns.Done()
				if _, err := inst.Chat(ctx, messages, emit); err != nil {
					emit(models.StreamEvent{Type: models.EventError, Error: err.Error()})
				}
			}()
		case "cancel":
			inst.Cancel()
		default:
			emit(models.StreamEvent{Type: models.EventError, Error: fmt.Sprintf("unknown frame type %q", frame.Type)})
		}
	}

	cancel()
	turns.Wait()
	close(send)
	<-writerDone

	logger.Log.Infof("Websocket disconnected for %s", id)
}

// writePump writes events until send is closed. After a write failure the
// remaining events are drained and discarded.
func writePump(conn *websocket.Conn, send <-chan models.StreamEvent, done chan<- struct{}) {
	defer close(done)

	failed := false
	for event := range send {
		if failed {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(event); err != nil {
			logger.Log.Warnf("Websocket write failed: %v", err)
			failed = true
		}
	}
}

func chatErrorStatus(err error) int {
	switch {
	case errors.Is(err, agent.ErrEmptyMessages):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sseWriter writes stream events as server-sent events, sending the response
// headers with the first event.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu          sync.Mutex
	wroteHeader bool
}

func (s *sseWriter) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wroteHeader
}

func (s *sseWriter) send(event models.StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Log.Errorf("Failed to encode stream event: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.wroteHeader {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.wroteHeader = true
	}

	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, data)
	s.flusher.Flush()
}
