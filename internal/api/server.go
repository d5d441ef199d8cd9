package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.io/infrasutra/smsdesk/internal/auth"
	"github.io/infrasutra/smsdesk/internal/campaign"
	"github.io/infrasutra/smsdesk/internal/config"
	"github.io/infrasutra/smsdesk/internal/customer"
	"github.io/infrasutra/smsdesk/internal/locale"
	"github.io/infrasutra/smsdesk/internal/notify"
	"github.io/infrasutra/smsdesk/internal/pagination"
	"github.io/infrasutra/smsdesk/internal/sms"
	"github.io/infrasutra/smsdesk/internal/sse"
	"github.io/infrasutra/smsdesk/internal/store"
	webassets "github.io/infrasutra/smsdesk/web"
)

// Deps are the services the dashboard is built on.
type Deps struct {
	Store      *store.Store
	Auth       *auth.Manager
	Throttle   *auth.Throttle
	Hub        *sse.Hub
	Customers  *customer.Service
	SMS        *sms.Service
	Campaigns  *campaign.Runner
	Notifier   *notify.Dispatcher
	Translator *locale.Translator
	Logger     *slog.Logger
}

type Server struct {
	cfg        config.Config
	store      *store.Store
	auth       *auth.Manager
	throttle   *auth.Throttle
	hub        *sse.Hub
	customers  *customer.Service
	sms        *sms.Service
	campaigns  *campaign.Runner
	notifier   *notify.Dispatcher
	translator *locale.Translator
	logger     *slog.Logger
	now        func() time.Time
	mux        *http.ServeMux
}

type userHandler func(w http.ResponseWriter, r *http.Request, user store.User)

func NewServer(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	throttle := deps.Throttle
	if throttle == nil {
		throttle = auth.NewThrottle(time.Minute, 5)
	}
	server := &Server{
		cfg:        cfg,
		store:      deps.Store,
		auth:       deps.Auth,
		throttle:   throttle,
		hub:        deps.Hub,
		customers:  deps.Customers,
		sms:        deps.SMS,
		campaigns:  deps.Campaigns,
		notifier:   deps.Notifier,
		translator: deps.Translator,
		logger:     logger,
		now:        time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", server.handleLogin)
	mux.HandleFunc("POST /api/logout", server.handleLogout)
	mux.HandleFunc("GET /api/me", server.withUser(server.handleMe))
	mux.HandleFunc("PUT /api/me/locale", server.withUser(server.handleLocale))
	mux.HandleFunc("PUT /api/me/notifications", server.withUser(server.handleNotificationPreferences))
	mux.HandleFunc("GET /api/languages", server.handleLanguages)
	mux.HandleFunc("GET /api/dashboard", server.withUser(server.handleDashboard))

	mux.HandleFunc("GET /api/groups", server.withUser(server.handleListGroups))
	mux.HandleFunc("POST /api/groups", server.withUser(server.handleCreateGroup))
	mux.HandleFunc("DELETE /api/groups/{uid}", server.withUser(server.handleDeleteGroup))
	mux.HandleFunc("GET /api/groups/{uid}/contacts", server.withUser(server.handleListContacts))
	mux.HandleFunc("POST /api/groups/{uid}/contacts", server.withUser(server.handleAddContact))
	mux.HandleFunc("DELETE /api/contacts/{uid}", server.withUser(server.handleDeleteContact))
	mux.HandleFunc("GET /api/blacklists", server.withUser(server.handleListBlacklists))
	mux.HandleFunc("POST /api/blacklists", server.withUser(server.handleAddBlacklist))
	mux.HandleFunc("DELETE /api/blacklists/{uid}", server.withUser(server.handleDeleteBlacklist))
	mux.HandleFunc("GET /api/templates", server.withUser(server.handleListTemplates))
	mux.HandleFunc("POST /api/templates", server.withUser(server.handleCreateTemplate))
	mux.HandleFunc("DELETE /api/templates/{uid}", server.withUser(server.handleDeleteTemplate))

	mux.HandleFunc("GET /api/senderids", server.withUser(server.handleListSenderIDs))
	mux.HandleFunc("POST /api/senderids", server.withUser(server.handleRequestSenderID))
	mux.HandleFunc("DELETE /api/senderids/{uid}", server.withUser(server.handleDeleteSenderID))
	mux.HandleFunc("PUT /api/senderids/{uid}/status", server.withUser(server.handleSetSenderIDStatus))

	mux.HandleFunc("GET /api/campaigns", server.withUser(server.handleListCampaigns))
	mux.HandleFunc("POST /api/campaigns", server.withUser(server.handleCreateCampaign))
	mux.HandleFunc("POST /api/campaigns/{uid}/run", server.withUser(server.handleRunCampaign))
	mux.HandleFunc("POST /api/send", server.withUser(server.handleQuickSend))

	mux.HandleFunc("GET /api/notifications", server.withUser(server.handleNotifications))
	mux.HandleFunc("POST /api/notifications/read", server.withUser(server.handleMarkRead))
	mux.HandleFunc("GET /api/stream", server.withUser(server.handleStream))

	mux.HandleFunc("GET /health", server.handleHealth)
	mux.HandleFunc("GET /ready", server.handleReady)
	mux.HandleFunc("GET /{$}", server.handleIndex)
	if static, err := webassets.Static(); err == nil {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	} else {
		logger.Warn("ui assets not embedded", "error", err)
	}
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := webassets.Page{
		Title:   "smsdesk",
		Locale:  s.cfg.Locale,
		Locales: s.translator.Locales(),
	}
	if user, err := s.sessionUser(r); err == nil && user.Locale != "" {
		page.Locale = user.Locale
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := webassets.RenderIndex(w, page); err != nil {
		s.logger.Error("render index", "error", err)
	}
}

func (s *Server) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.sessionUser(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, user)
	}
}

func (s *Server) sessionUser(r *http.Request) (store.User, error) {
	cookie, err := r.Cookie(s.auth.CookieName())
	if err != nil {
		return store.User{}, errors.New("missing session")
	}
	userID, err := s.auth.Parse(cookie.Value, s.now())
	if err != nil {
		return store.User{}, err
	}
	return s.store.GetUser(r.Context(), userID)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, now time.Time) {
	maxAge := int(s.auth.MaxAge().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  now.Add(s.auth.MaxAge()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// locale is the user's language, or the default one.
func (s *Server) locale(user store.User) string {
	if user.Locale != "" && s.translator.Has(user.Locale) {
		return user.Locale
	}
	return s.cfg.Locale
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// storeError maps a store failure onto a response.
func (s *Server) storeError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, context.Canceled):
	case errors.Is(err, sql.ErrNoRows):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		s.logger.Error(action, "error", err)
		http.Error(w, "unable to "+action, http.StatusInternalServerError)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check", "error", err)
		s.respondText(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

// listPage reads the list window from the query string.
func listPage(r *http.Request) (*pagination.Params, store.Page) {
	params := pagination.GetPaginationParams(r.URL.Query(), pagination.WithDefaultLimit(20))
	return params, store.Page{
		Search:    params.Search,
		Column:    params.Column,
		Direction: params.Direction(),
		Offset:    params.Offset,
		Limit:     params.Limit,
	}
}

type listResponse struct {
	Items   any   `json:"items"`
	Total   int32 `json:"total"`
	Page    int32 `json:"page"`
	Limit   int32 `json:"limit"`
	HasNext bool  `json:"hasNext"`
}

func newListResponse(items any, total int32, params *pagination.Params) listResponse {
	return listResponse{
		Items:   items,
		Total:   total,
		Page:    params.Page,
		Limit:   params.Limit,
		HasNext: pagination.GetHasNext(params.Offset, params.Limit, total),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func sanitize(value string) string {
	cleaned := strings.ReplaceAll(value, "\r", "")
	cleaned = strings.ReplaceAll(cleaned, "\n", " ")
	return strings.TrimSpace(cleaned)
}
