package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.io/infrasutra/smsdesk/internal/auth"
	"github.io/infrasutra/smsdesk/internal/store"
)

type userResponse struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	IsAdmin   bool   `json:"isAdmin"`
	Locale    string `json:"locale"`
	LastLogin string `json:"lastLogin,omitempty"`
}

func toUser(user store.User, locale string) userResponse {
	return userResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.DisplayName(),
		IsAdmin:   user.IsAdmin,
		Locale:    locale,
		LastLogin: formatTime(user.LastLogin),
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	email, err := auth.NormalizeEmail(payload.Email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	now := s.now()
	if !s.throttle.Allow(email, now) {
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.storeError(w, err, "load user")
		return
	}
	if err != nil || user.PasswordHash == "" || auth.CheckPassword(user.PasswordHash, payload.Password) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	s.throttle.Reset(email)

	if err := s.store.TouchLogin(r.Context(), user.ID, now); err != nil {
		s.logger.Warn("touch login", "error", err)
	}
	token, err := s.auth.Issue(user.ID, now)
	if err != nil {
		http.Error(w, "unable to create session", http.StatusInternalServerError)
		return
	}
	s.setSessionCookie(w, token, now)
	s.respondJSON(w, http.StatusOK, toUser(user, s.locale(user)))
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user store.User) {
	s.respondJSON(w, http.StatusOK, toUser(user, s.locale(user)))
}

func (s *Server) handleLocale(w http.ResponseWriter, r *http.Request, user store.User) {
	var payload struct {
		Locale string `json:"locale"`
	}
	if !s.decode(w, r, &payload) {
		return
	}
	if !s.translator.Has(payload.Locale) {
		http.Error(w, "unknown locale", http.StatusBadRequest)
		return
	}
	if err := s.store.SetUserLocale(r.Context(), user.ID, payload.Locale); err != nil {
		s.storeError(w, err, "save locale")
		return
	}
	user.Locale = payload.Locale
	s.respondJSON(w, http.StatusOK, toUser(user, payload.Locale))
}

var notificationKinds = map[string]struct{}{
	"sender_id": {},
	"login":     {},
	"campaign":  {},
}

func (s *Server) handleNotificationPreferences(w http.ResponseWriter, r *http.Request, user store.User) {
	var payload map[string]bool
	if !s.decode(w, r, &payload) {
		return
	}
	cust, err := s.store.GetCustomerByUser(r.Context(), user.ID)
	if err != nil {
		s.storeError(w, err, "load customer")
		return
	}
	prefs := map[string]string{}
	for kind, value := range cust.Notifications {
		prefs[kind] = value
	}
	for kind, enabled := range payload {
		if _, ok := notificationKinds[kind]; !ok {
			http.Error(w, "unknown notification kind", http.StatusBadRequest)
			return
		}
		prefs[kind] = "no"
		if enabled {
			prefs[kind] = "yes"
		}
	}
	if err := s.store.UpdateCustomerNotifications(r.Context(), user.ID, prefs); err != nil {
		s.storeError(w, err, "save notifications")
		return
	}
	s.respondJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	languages, err := s.store.ListLanguages(r.Context())
	if err != nil {
		s.storeError(w, err, "list languages")
		return
	}
	type language struct {
		Code    string `json:"code"`
		Name    string `json:"name"`
		ISOCode string `json:"isoCode"`
	}
	response := make([]language, 0, len(languages))
	for _, l := range languages {
		response = append(response, language{Code: l.Code, Name: l.Name, ISOCode: l.ISOCode})
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, user store.User) {
	lang := s.locale(user)
	usage, err := s.customers.Usage(r.Context(), user.ID,
		s.translator.Translate(lang, "labels.unlimited", nil),
		s.translator.Translate(lang, "subscription.no_active_subscription", nil))
	if err != nil {
		s.storeError(w, err, "load usage")
		return
	}
	since := s.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -6)
	daily, err := s.store.DailyOutbound(r.Context(), user.ID, since)
	if err != nil {
		s.storeError(w, err, "load outbound")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"usage":    usage,
		"outbound": daily,
	})
}
