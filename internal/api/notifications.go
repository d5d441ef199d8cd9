package api

import (
	"net/http"
	"time"

	"github.io/infrasutra/smsdesk/internal/store"
)

type notificationResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	URL       string `json:"url"`
	ReadAt    string `json:"readAt,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, user store.User) {
	params, _ := listPage(r)
	unread := r.URL.Query().Get("unread") == "1"
	notifications, err := s.store.ListNotifications(r.Context(), user.ID, unread, params.Limit)
	if err != nil {
		s.storeError(w, err, "list notifications")
		return
	}
	items := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, notificationResponse{
			ID:        n.ID,
			Type:      n.Type,
			Message:   n.Message,
			URL:       n.URL,
			ReadAt:    formatTime(n.ReadAt),
			CreatedAt: formatTime(n.CreatedAt),
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, user store.User) {
	count, err := s.store.MarkNotificationsRead(r.Context(), user.ID, s.now())
	if err != nil {
		s.storeError(w, err, "mark notifications")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"read": count})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, user store.User) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe(user.ID)
	defer unsubscribe()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}
