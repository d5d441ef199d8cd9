package api

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.io/infrasutra/smsdesk/internal/notify"
	"github.io/infrasutra/smsdesk/internal/store"
)

// Carrier sender IDs are at most eleven alphanumeric characters.
var senderIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 .\-]{0,10}$`)

type senderIDResponse struct {
	UID       string `json:"uid"`
	SenderID  string `json:"senderId"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toSenderID(sender store.SenderID) senderIDResponse {
	return senderIDResponse{
		UID:       sender.UID,
		SenderID:  sender.SenderID,
		Status:    sender.Status,
		CreatedAt: formatTime(sender.CreatedAt),
		UpdatedAt: formatTime(sender.UpdatedAt),
	}
}

func (s *Server) handleListSenderIDs(w http.ResponseWriter, r *http.Request, user store.User) {
	params, page := listPage(r)
	senders, total, err := s.store.ListSenderIDs(r.Context(), user.ID, page)
	if err != nil {
		s.storeError(w, err, "list sender ids")
		return
	}
	items := make([]senderIDResponse, 0, len(senders))
	for _, sender := range senders {
		items = append(items, toSenderID(sender))
	}
	s.respondJSON(w, http.StatusOK, newListResponse(items, total, params))
}

// handleRequestSenderID records a pending request. The reconciliation pass
// submits it to the carrier portal.
func (s *Server) handleRequestSenderID(w http.ResponseWriter, r *http.Request, user store.User) {
	var payload struct {
		SenderID string `json:"senderId"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	name := strings.TrimSpace(payload.SenderID)
	if !senderIDPattern.MatchString(name) {
		http.Error(w, "invalid sender id", http.StatusBadRequest)
		return
	}
	sender, err := s.store.CreateSenderID(r.Context(), user.ID, name, store.SenderIDPending, s.now())
	if err != nil {
		s.storeError(w, err, "create sender id")
		return
	}
	if s.cfg.AdminUserID > 0 && s.cfg.AdminUserID != user.ID {
		s.notifyUser(r.Context(), s.cfg.AdminUserID, sender)
	}
	s.respondJSON(w, http.StatusCreated, toSenderID(sender))
}

func (s *Server) handleDeleteSenderID(w http.ResponseWriter, r *http.Request, user store.User) {
	s.respondDeleted(w, r, user, s.store.DeleteSenderID, "delete sender id")
}

// handleSetSenderIDStatus is the manual override for administrators.
func (s *Server) handleSetSenderIDStatus(w http.ResponseWriter, r *http.Request, user store.User) {
	if !user.IsAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	switch payload.Status {
	case store.SenderIDPending, store.SenderIDActive, store.SenderIDBlocked:
	default:
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	uid := r.PathValue("uid")
	updated, err := s.store.SetSenderIDStatus(r.Context(), uid, payload.Status, s.now())
	if err != nil {
		s.storeError(w, err, "set sender id status")
		return
	}
	if !updated {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	sender, err := s.store.GetSenderID(r.Context(), uid)
	if err != nil {
		s.storeError(w, err, "load sender id")
		return
	}
	if sender.UserID != user.ID {
		s.notifyUser(r.Context(), sender.UserID, sender)
	}
	s.respondJSON(w, http.StatusOK, toSenderID(sender))
}

// notifyUser tells userID about the current status of sender. Failures are
// logged only.
func (s *Server) notifyUser(ctx context.Context, userID int64, sender store.SenderID) {
	if s.notifier == nil {
		return
	}
	recipient, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.logger.Warn("load notification recipient", "user", userID, "error", err)
		return
	}
	lang := s.locale(recipient)
	params := map[string]string{"sender_id": sender.SenderID}
	notice := notify.Notice{
		Type:    "sender_id",
		Subject: s.translator.Translate(lang, "sender_id.mail_subject", nil),
		Message: s.translator.Translate(lang, "sender_id.status."+sender.Status, params),
		URL:     strings.TrimRight(s.cfg.FrontURL, "/") + "/senderid",
	}
	if _, err := s.notifier.Notify(ctx, recipient, notice); err != nil {
		s.logger.Warn("notify sender id", "user", userID, "sender_id", sender.SenderID, "error", err)
	}
}
