package httpapi

import (
	"net/http"

	"github.com/lukasbauer/callguard/internal/conversation"
)

// handleListConversations returns every live session keyed by call SID.
func (r *Router) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	sessions := r.screener.Sessions()
	out := make(map[string]conversation.Session, len(sessions))
	for _, s := range sessions {
		out[s.ID] = s
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleGetConversation(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	s, ok := r.screener.Session(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (r *Router) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.screener.Stats())
}
