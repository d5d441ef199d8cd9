package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/smsdesk/internal/auth"
	"github.io/infrasutra/smsdesk/internal/campaign"
	"github.io/infrasutra/smsdesk/internal/config"
	"github.io/infrasutra/smsdesk/internal/customer"
	"github.io/infrasutra/smsdesk/internal/locale"
	"github.io/infrasutra/smsdesk/internal/notify"
	"github.io/infrasutra/smsdesk/internal/sms"
	"github.io/infrasutra/smsdesk/internal/sse"
	"github.io/infrasutra/smsdesk/internal/store"
)

const password = "correct horse"

type recordingGateway struct {
	mu   sync.Mutex
	sent []sms.Message
}

func (g *recordingGateway) Send(_ context.Context, msg sms.Message) (sms.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	return sms.Receipt{ID: "r1", Status: "accepted"}, nil
}

type fixture struct {
	server   *Server
	store    *store.Store
	gateway  *recordingGateway
	admin    store.User
	customer store.User
}

func newFixture(t *testing.T, options map[string]string) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))
	require.NoError(t, st.SeedLanguages(ctx, store.DefaultLanguages))

	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	admin, err := st.CreateUser(ctx, store.User{Email: "admin@gee.sn", PasswordHash: hash, IsAdmin: true, Locale: "en"})
	require.NoError(t, err)
	user, err := st.CreateUser(ctx, store.User{Email: "shop@gee.sn", PasswordHash: hash, FirstName: "Awa", Locale: "fr"})
	require.NoError(t, err)
	_, err = st.CreateCustomer(ctx, store.Customer{UserID: user.ID, Phone: "221770000000"})
	require.NoError(t, err)
	plan, err := st.CreatePlan(ctx, store.Plan{Name: "Starter", Options: options})
	require.NoError(t, err)
	_, err = st.CreateSubscription(ctx, store.Subscription{
		UserID:  user.ID,
		PlanID:  plan.ID,
		Status:  store.SubscriptionActive,
		StartAt: time.Now().AddDate(0, 0, -1),
	})
	require.NoError(t, err)

	cfg := config.Config{Locale: "fr", AdminUserID: admin.ID, FrontURL: "https://app.gee.sn/"}
	manager, err := auth.New("test-secret", time.Hour)
	require.NoError(t, err)
	translator, err := locale.Load("fr")
	require.NoError(t, err)
	hub := sse.NewHub()
	customers := customer.NewService(st, t.TempDir(), nil)
	gateway := &recordingGateway{}
	smsService := sms.NewService(gateway, st, customers, "GEEXSMS", admin.ID, nil)

	server := NewServer(cfg, Deps{
		Store:      st,
		Auth:       manager,
		Throttle:   auth.NewThrottle(time.Minute, 3),
		Hub:        hub,
		Customers:  customers,
		SMS:        smsService,
		Campaigns:  campaign.NewRunner(st, smsService, nil),
		Notifier:   notify.NewDispatcher(st, hub, nil),
		Translator: translator,
	})
	return &fixture{server: server, store: st, gateway: gateway, admin: admin, customer: user}
}

func (f *fixture) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/login", map[string]string{"email": email, "password": password}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == "smsdesk_session" {
			return c
		}
	}
	t.Fatalf("no session cookie for %s", email)
	return nil
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestIndexRendersLocale(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<html lang="fr">`)

	rec = f.do(t, http.MethodGet, "/", nil, f.login(t, "admin@gee.sn"))
	assert.Contains(t, rec.Body.String(), `<html lang="en">`)

	rec = f.do(t, http.MethodGet, "/static/app.js", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/login", map[string]string{"email": "shop@gee.sn", "password": "wrong horse"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/login", map[string]string{"email": "nobody@gee.sn", "password": password}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookie := f.login(t, " Shop@GEE.sn ")
	rec = f.do(t, http.MethodGet, "/api/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[userResponse](t, rec)
	assert.Equal(t, "shop@gee.sn", me.Email)
	assert.Equal(t, "Awa", me.Name)
	assert.Equal(t, "fr", me.Locale)

	rec = f.do(t, http.MethodPost, "/api/logout", nil, cookie)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)
}

func TestLoginThrottle(t *testing.T) {
	f := newFixture(t, nil)
	bad := map[string]string{"email": "shop@gee.sn", "password": "wrong horse"}

	for range 3 {
		rec := f.do(t, http.MethodPost, "/api/login", bad, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/api/login", map[string]string{"email": "shop@gee.sn", "password": password}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLocaleAndPreferences(t *testing.T) {
	f := newFixture(t, nil)
	cookie := f.login(t, "shop@gee.sn")

	rec := f.do(t, http.MethodPut, "/api/me/locale", map[string]string{"locale": "xx"}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPut, "/api/me/locale", map[string]string{"locale": "en"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	user, err := f.store.GetUser(context.Background(), f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "en", user.Locale)

	rec = f.do(t, http.MethodPut, "/api/me/notifications", map[string]bool{"sender_id": true}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	cust, err := f.store.GetCustomerByUser(context.Background(), f.customer.ID)
	require.NoError(t, err)
	assert.True(t, cust.Notifies("sender_id"))

	rec = f.do(t, http.MethodPut, "/api/me/notifications", map[string]bool{"newsletter": true}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/languages", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"fr"`)
}

func TestSenderIDRequestAndOverride(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	shop := f.login(t, "shop@gee.sn")
	admin := f.login(t, "admin@gee.sn")

	rec := f.do(t, http.MethodPost, "/api/senderids", map[string]string{"senderId": "WAY TOO LONG NAME"}, shop)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/senderids", map[string]string{"senderId": "SHOP"}, shop)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[senderIDResponse](t, rec)
	assert.Equal(t, store.SenderIDPending, created.Status)

	adminNotices, err := f.store.ListNotifications(ctx, f.admin.ID, true, 10)
	require.NoError(t, err)
	require.Len(t, adminNotices, 1)
	assert.Equal(t, "Your sender ID SHOP is awaiting approval", adminNotices[0].Message)
	assert.Equal(t, "https://app.gee.sn/senderid", adminNotices[0].URL)

	rec = f.do(t, http.MethodPut, "/api/senderids/"+created.UID+"/status", map[string]string{"status": "active"}, shop)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodPut, "/api/senderids/"+created.UID+"/status", map[string]string{"status": "maybe"}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPut, "/api/senderids/missing/status", map[string]string{"status": "active"}, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/senderids/"+created.UID+"/status", map[string]string{"status": "active"}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.SenderIDActive, decodeBody[senderIDResponse](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/api/notifications?unread=1", nil, shop)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SHOP")

	rec = f.do(t, http.MethodPost, "/api/notifications/read", nil, shop)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int64{"read": 1}, decodeBody[map[string]int64](t, rec))

	rec = f.do(t, http.MethodGet, "/api/senderids?search=SH", nil, shop)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = f.do(t, http.MethodDelete, "/api/senderids/"+created.UID, nil, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/senderids/"+created.UID, nil, shop)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCampaignFlow(t *testing.T) {
	f := newFixture(t, map[string]string{customer.OptionSMSMax: "100"})
	ctx := context.Background()
	shop := f.login(t, "shop@gee.sn")
	_, err := f.store.CreateSenderID(ctx, f.customer.ID, "SHOP", store.SenderIDActive, time.Now())
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/groups", map[string]string{"name": "Clients"}, shop)
	require.Equal(t, http.StatusCreated, rec.Code)
	group := decodeBody[groupResponse](t, rec)

	for _, phone := range []string{"+221 77 000 00 01", "221770000002"} {
		rec = f.do(t, http.MethodPost, "/api/groups/"+group.UID+"/contacts", map[string]string{"phone": phone, "firstName": "Fatou"}, shop)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, "/api/groups/"+group.UID+"/contacts", map[string]string{"phone": "12"}, shop)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/groups/"+group.UID+"/contacts", nil, shop)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"phone":"221770000001"`)

	rec = f.do(t, http.MethodPost, "/api/blacklists", map[string]string{"number": "221770000002", "reason": "stop"}, shop)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/templates", map[string]string{"name": "Promo", "message": "Bonjour {first_name}"}, shop)
	require.Equal(t, http.StatusCreated, rec.Code)
	tmpl := decodeBody[templateResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/api/campaigns", map[string]string{"name": "Soldes", "senderId": "OTHER", "group": group.UID, "template": tmpl.UID}, shop)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/campaigns", map[string]string{"name": "Soldes", "senderId": "SHOP", "group": group.UID, "template": tmpl.UID}, shop)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[campaignResponse](t, rec)
	assert.Equal(t, "Bonjour {first_name}", created.Message)

	rec = f.do(t, http.MethodPost, "/api/campaigns/"+created.UID+"/run", nil, shop)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[campaign.Result](t, rec)
	assert.Equal(t, campaign.Result{Status: store.CampaignDelivered, Delivered: 1, Blacklisted: 1}, result)
	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, sms.Message{From: "SHOP", To: "221770000001", Body: "Bonjour Fatou"}, f.gateway.sent[0])

	rec = f.do(t, http.MethodPost, "/api/campaigns/"+created.UID+"/run", nil, shop)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/send", map[string]string{"senderId": "SHOP", "to": "221 76 555 44 33", "message": "Merci"}, shop)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "221765554433", decodeBody[map[string]string](t, rec)["to"])

	rec = f.do(t, http.MethodGet, "/api/dashboard", nil, shop)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[struct {
		Usage    customer.Usage   `json:"usage"`
		Outbound map[string]int64 `json:"outbound"`
	}](t, rec)
	assert.Equal(t, "Starter", summary.Usage.PlanName)
	assert.Equal(t, int64(2), summary.Usage.SMSUsed)
	assert.Equal(t, int64(1), summary.Usage.ListsUsed)
	assert.Equal(t, int64(1), summary.Usage.Blacklists)
	total := int64(0)
	for _, n := range summary.Outbound {
		total += n
	}
	assert.Equal(t, int64(2), total)

	rec = f.do(t, http.MethodGet, "/api/campaigns?sort=asc&column=name", nil, shop)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"delivered"`)
}

func TestPlanLimitsGuardLists(t *testing.T) {
	f := newFixture(t, map[string]string{customer.OptionListMax: "1", customer.OptionSMSMax: "0"})
	shop := f.login(t, "shop@gee.sn")

	rec := f.do(t, http.MethodPost, "/api/groups", map[string]string{"name": "A"}, shop)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/groups", map[string]string{"name": "B"}, shop)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, err := f.store.CreateSenderID(context.Background(), f.customer.ID, "SHOP", store.SenderIDActive, time.Now())
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/api/send", map[string]string{"senderId": "SHOP", "to": "221770000001", "message": "hi"}, shop)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "sending quota exceeded", strings.TrimSpace(rec.Body.String()))
	assert.Empty(t, f.gateway.sent)
}

func TestStreamDeliversNotifications(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.server)
	defer srv.Close()
	shop := f.login(t, "shop@gee.sn")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	require.NoError(t, err)
	req.AddCookie(shop)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "event: ready")

	_, err = f.server.notifier.Notify(context.Background(), f.customer, notify.Notice{Type: "sender_id", Message: "approved"})
	require.NoError(t, err)

	var got strings.Builder
	for !strings.Contains(got.String(), "approved") {
		n, err := resp.Body.Read(buf)
		require.NoError(t, err)
		got.Write(buf[:n])
	}
	assert.Contains(t, got.String(), "event: notification")
}
