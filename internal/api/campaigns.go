package api

import (
	"errors"
	"net/http"
	"strings"

	"github.io/infrasutra/smsdesk/internal/campaign"
	"github.io/infrasutra/smsdesk/internal/customer"
	"github.io/infrasutra/smsdesk/internal/sms"
	"github.io/infrasutra/smsdesk/internal/store"
)

type campaignResponse struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	SenderID  string `json:"senderId"`
	Message   string `json:"message"`
	Status    string `json:"status"`
	Delivered int64  `json:"delivered"`
	Failed    int64  `json:"failed"`
	CreatedAt string `json:"createdAt"`
	RunAt     string `json:"runAt,omitempty"`
}

func toCampaign(c store.Campaign) campaignResponse {
	return campaignResponse{
		UID:       c.UID,
		Name:      c.Name,
		SenderID:  c.SenderID,
		Message:   c.Message,
		Status:    c.Status,
		Delivered: c.Delivered,
		Failed:    c.Failed,
		CreatedAt: formatTime(c.CreatedAt),
		RunAt:     formatTime(c.RunAt),
	}
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request, user store.User) {
	params, page := listPage(r)
	campaigns, total, err := s.store.ListCampaigns(r.Context(), user.ID, page)
	if err != nil {
		s.storeError(w, err, "list campaigns")
		return
	}
	items := make([]campaignResponse, 0, len(campaigns))
	for _, c := range campaigns {
		items = append(items, toCampaign(c))
	}
	s.respondJSON(w, http.StatusOK, newListResponse(items, total, params))
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request, user store.User) {
	var payload struct {
		Name     string `json:"name"`
		SenderID string `json:"senderId"`
		Group    string `json:"group"`
		Template string `json:"template"`
		Message  string `json:"message"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	name := sanitize(payload.Name)
	if name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	message := strings.TrimSpace(payload.Message)
	if payload.Template != "" {
		t, err := s.store.GetTemplate(r.Context(), user.ID, payload.Template)
		if err != nil {
			s.storeError(w, err, "load template")
			return
		}
		message = t.Message
	}
	if message == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}
	group, err := s.store.GetContactGroup(r.Context(), user.ID, payload.Group)
	if err != nil {
		s.storeError(w, err, "load group")
		return
	}
	active, err := s.store.ActiveSenderID(r.Context(), user.ID, strings.TrimSpace(payload.SenderID))
	if err != nil {
		s.storeError(w, err, "check sender id")
		return
	}
	if !active {
		http.Error(w, "sender id is not active", http.StatusBadRequest)
		return
	}
	c, err := s.store.CreateCampaign(r.Context(), store.Campaign{
		UserID:    user.ID,
		Name:      name,
		SenderID:  strings.TrimSpace(payload.SenderID),
		GroupID:   group.ID,
		Message:   message,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.storeError(w, err, "create campaign")
		return
	}
	s.respondJSON(w, http.StatusCreated, toCampaign(c))
}

// handleRunCampaign sends a queued or paused campaign within the request.
func (s *Server) handleRunCampaign(w http.ResponseWriter, r *http.Request, user store.User) {
	c, err := s.store.GetCampaign(r.Context(), user.ID, r.PathValue("uid"))
	if err != nil {
		s.storeError(w, err, "load campaign")
		return
	}
	if c.Status != store.CampaignQueued && c.Status != store.CampaignPaused {
		http.Error(w, "campaign already sent", http.StatusConflict)
		return
	}
	result, err := s.campaigns.Run(r.Context(), c)
	if errors.Is(err, campaign.ErrSenderIDNotActive) {
		http.Error(w, "sender id is not active", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.storeError(w, err, "run campaign")
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleQuickSend(w http.ResponseWriter, r *http.Request, user store.User) {
	var payload struct {
		SenderID string `json:"senderId"`
		To       string `json:"to"`
		Message  string `json:"message"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	message := strings.TrimSpace(payload.Message)
	if message == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}
	senderID := strings.TrimSpace(payload.SenderID)
	active, err := s.store.ActiveSenderID(r.Context(), user.ID, senderID)
	if err != nil {
		s.storeError(w, err, "check sender id")
		return
	}
	if !active {
		http.Error(w, "sender id is not active", http.StatusBadRequest)
		return
	}
	report, err := s.sms.Send(r.Context(), sms.Outbound{UserID: user.ID, From: senderID, To: payload.To, Body: message})
	s.respondSendError(w, err)
	if err != nil {
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"uid":    report.UID,
		"to":     report.To,
		"status": report.Status,
	})
}

// respondSendError answers for a failed send; it writes nothing when err
// is nil.
func (s *Server) respondSendError(w http.ResponseWriter, err error) {
	var gatewayErr *sms.GatewayError
	switch {
	case err == nil:
	case errors.Is(err, sms.ErrInvalidNumber):
		http.Error(w, "invalid phone number", http.StatusBadRequest)
	case errors.Is(err, sms.ErrOverQuota):
		http.Error(w, "sending quota exceeded", http.StatusForbidden)
	case errors.Is(err, customer.ErrNoSubscription):
		http.Error(w, "no active subscription", http.StatusForbidden)
	case errors.Is(err, sms.ErrNoGateway), errors.As(err, &gatewayErr):
		s.logger.Error("send sms", "error", err)
		http.Error(w, "sms gateway unavailable", http.StatusBadGateway)
	default:
		s.storeError(w, err, "send sms")
	}
}
