package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// entriesResp is one inbox page. CursorEntryID is present iff another page
// exists; passing it back as cursor_entry_id returns that page.
type entriesResp struct {
	MessageIDs    []string `json:"message_ids"`
	CursorEntryID *string  `json:"cursor_entry_id,omitempty"`
}

// GetUserEntries serves one cursor-paginated page of a user's inbox, newest
// entries first.
func (s *Server) GetUserEntries(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}

	var cursor *uuid.UUID
	if q := r.URL.Query().Get("cursor_entry_id"); q != "" {
		id, err := uuid.Parse(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cursor_entry_id"})
			return
		}
		cursor = &id
	}

	page, err := s.Feeds.GetUserEntries(r.Context(), userID, cursor)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to read user entries")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}

	resp := entriesResp{MessageIDs: make([]string, 0, len(page.Entries))}
	for _, e := range page.Entries {
		resp.MessageIDs = append(resp.MessageIDs, e.MessageID.String())
	}
	if page.NextCursor != nil {
		c := page.NextCursor.String()
		resp.CursorEntryID = &c
	}

	writeJSON(w, http.StatusOK, resp)
}
