package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"parcelchat/internal/domain"
	"parcelchat/internal/service"
)

// handleListConversations returns one page of the caller's conversation
// directory.
func handleListConversations(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		page, limit := pageParams(r)

		res, err := convSvc.List(r.Context(), user.ID, page, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleListMessages returns one page of conversation history, newest first.
// Only participants may read.
func handleListMessages(convSvc *service.ConversationService, msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		conversationID := chi.URLParam(r, "conversationID")
		page, limit := pageParams(r)

		if _, err := convSvc.Get(r.Context(), conversationID, user.ID); err != nil {
			writeError(w, err)
			return
		}

		res, err := msgSvc.History(r.Context(), conversationID, page, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleMarkConversationRead flips the caller's unread messages and resets
// their unseen counter.
func handleMarkConversationRead(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		conversationID := chi.URLParam(r, "conversationID")

		if err := convSvc.MarkRead(r.Context(), conversationID, user.ID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, "invalid input", http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
