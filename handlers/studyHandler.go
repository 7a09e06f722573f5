package handlers

import (
	"net/http"

	"studybuddy/logger"
	"studybuddy/services/agent"

	"github.com/gorilla/mux"
)

type StudyHandler struct {
	manager *agent.Manager
}

func NewStudyHandler(manager *agent.Manager) *StudyHandler {
	return &StudyHandler{manager: manager}
}

func (h *StudyHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/agents/chat/{id}/stats", h.GetStats).Methods("GET")
}

// GetStats returns the instance's study statistics, optionally filtered by
// the topic query parameter.
func (h *StudyHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	topic := r.URL.Query().Get("topic")

	inst, err := h.manager.Get(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load agent")
		return
	}

	stats, err := inst.Stats(r.Context(), topic)
	if err != nil {
		logger.Log.Errorf("Failed to retrieve study stats for %s: %v", id, err)
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve study statistics")
		return
	}

	writeJSONResponse(w, http.StatusOK, stats)
}
