package senderid

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/smsdesk/internal/config"
	"github.io/infrasutra/smsdesk/internal/locale"
	"github.io/infrasutra/smsdesk/internal/notify"
	"github.io/infrasutra/smsdesk/internal/orange"
	"github.io/infrasutra/smsdesk/internal/store"
)

type portal struct {
	mu      sync.Mutex
	list    string
	fail    map[string]int
	actions []string
	inserts []string
}

func (p *portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	action := r.PostForm.Get("ACTION")
	key := r.URL.Path
	if action != "" {
		key = action
	}
	p.mu.Lock()
	p.actions = append(p.actions, key)
	if action == "INSERT" {
		p.inserts = append(p.inserts, r.PostForm.Get("libellesignature"))
	}
	status, list := p.fail[key], p.list
	p.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	switch key {
	case "/cookies.php":
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "live", Path: "/"})
	case "SIGNIN":
		_, _ = io.WriteString(w, `{"infos":{"customer":"77","id":"5"}}`)
	case "/homepage.php":
		_, _ = io.WriteString(w, `<html><body>tableau de bord</body></html>`)
	case "LIST_VALID":
		_, _ = io.WriteString(w, `[]`)
	case "LIST":
		_, _ = io.WriteString(w, list)
	case "INSERT":
		_, _ = io.WriteString(w, `{"oId":"900"}`)
	case "LOADEMAIL":
		_, _ = io.WriteString(w, `{"alertMail":"valid@orange.example"}`)
	default:
		_, _ = io.WriteString(w, `{}`)
	}
}

func (p *portal) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, action := range p.actions {
		if action == key {
			n++
		}
	}
	return n
}

type texts struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (t *texts) SendNotification(_ context.Context, cust store.Customer, senderID, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, senderID+"|"+cust.Phone+"|"+body)
	return t.err
}

type harness struct {
	store    *store.Store
	portal   *portal
	texts    *texts
	sessions *orange.CacheSessionStore
	rec      *Reconciler
	admin    store.User
	owner    store.User
	now      time.Time
}

func newHarness(t *testing.T, list string, ownerOptIn bool) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))

	admin, err := st.CreateUser(ctx, store.User{Email: "admin@gee.sn", FirstName: "Admin", IsAdmin: true, Locale: "fr"})
	require.NoError(t, err)
	owner, err := st.CreateUser(ctx, store.User{Email: "awa@client.sn", FirstName: "Awa", LastName: "Diop", Locale: "en"})
	require.NoError(t, err)
	prefs := map[string]string{"sender_id": "no"}
	if ownerOptIn {
		prefs["sender_id"] = "yes"
	}
	_, err = st.CreateCustomer(ctx, store.Customer{UserID: owner.ID, Phone: "221770000000", Notifications: prefs})
	require.NoError(t, err)

	p := &portal{list: list, fail: map[string]int{}}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	client, err := orange.New(config.Orange{BaseURL: srv.URL, Login: "gee", Password: "pw", SessionTTL: time.Hour}, logger, orange.WithClock(clock))
	require.NoError(t, err)
	translator, err := locale.Load("fr")
	require.NoError(t, err)

	tx := &texts{}
	sessions := orange.NewCacheSessionStore(st)
	rec := New(st, client, sessions, notify.NewDispatcher(st, nil, logger), tx, translator,
		Config{AdminUserID: admin.ID, FrontURL: "https://app.geex.sn", Locale: "fr"}, logger, WithClock(clock))
	return &harness{store: st, portal: p, texts: tx, sessions: sessions, rec: rec, admin: admin, owner: owner, now: now}
}

func (h *harness) pending(t *testing.T, names ...string) {
	t.Helper()
	for i, name := range names {
		_, err := h.store.CreateSenderID(context.Background(), h.owner.ID, name, store.SenderIDPending, h.now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
}

func (h *harness) status(t *testing.T, name string) string {
	t.Helper()
	ids, _, err := h.store.ListSenderIDs(context.Background(), h.owner.ID, store.Page{Search: name, Limit: 10})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	return ids[0].Status
}

func TestRunActivatesOnce(t *testing.T) {
	h := newHarness(t, `[{"id":1,"wording":"GEEX","activate":true}]`, true)
	h.pending(t, "GEEX")
	ctx := context.Background()

	outcome, err := h.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GEEX"}, outcome.Activated)
	assert.Equal(t, store.SenderIDActive, h.status(t, "GEEX"))

	require.Len(t, h.texts.sent, 1)
	assert.Equal(t, "GEEX|221770000000|Hello Awa Diop, your sender ID GEEX is now active. Sign in at https://app.geex.sn to send your campaigns.", h.texts.sent[0])

	adminNotes, err := h.store.ListNotifications(ctx, h.admin.ID, false, 10)
	require.NoError(t, err)
	require.Len(t, adminNotes, 1)
	assert.Equal(t, "Votre Sender ID GEEX a été validé", adminNotes[0].Message)
	ownerNotes, err := h.store.ListNotifications(ctx, h.owner.ID, false, 10)
	require.NoError(t, err)
	assert.Len(t, ownerNotes, 1)

	// the row is no longer pending, so a second pass leaves it alone
	outcome, err = h.rec.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, outcome.Activated)
	assert.Len(t, h.texts.sent, 1)
	assert.Equal(t, 1, h.portal.count("SIGNIN"))
}

func TestRunRejects(t *testing.T) {
	h := newHarness(t, `[{"id":2,"wording":"PROMO","activate":"0","reasonrejeted":"marque non justifiée"}]`, false)
	h.pending(t, "PROMO")

	outcome, err := h.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"PROMO"}, outcome.Rejected)
	assert.Equal(t, store.SenderIDBlocked, h.status(t, "PROMO"))
	assert.Empty(t, h.texts.sent)

	ownerNotes, err := h.store.ListNotifications(context.Background(), h.owner.ID, false, 10)
	require.NoError(t, err)
	assert.Empty(t, ownerNotes)
}

func TestRunLeavesUndecided(t *testing.T) {
	h := newHarness(t, `[{"id":3,"wording":"WAIT","activate":false,"reasonrejeted":""}]`, true)
	h.pending(t, "WAIT")

	outcome, err := h.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"WAIT"}, outcome.Unchanged)
	assert.Equal(t, store.SenderIDPending, h.status(t, "WAIT"))
	assert.Zero(t, h.portal.count("INSERT"))
}

func TestRunSubmitsUnknownNames(t *testing.T) {
	h := newHarness(t, `[{"id":1,"wording":"OTHER","activate":true}]`, true)
	h.pending(t, "OLDER", "NEWER")

	outcome, err := h.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"NEWER", "OLDER"}, outcome.Submitted)
	assert.Equal(t, []string{"NEWER", "OLDER"}, h.portal.inserts)
	assert.Equal(t, 4, h.portal.count("GET_SESSION"))
	assert.Equal(t, 2, h.portal.count("/app/mail/SendMail.php"))
	assert.Equal(t, store.SenderIDPending, h.status(t, "OLDER"))
}

func TestRunAbortsAndClearsSession(t *testing.T) {
	h := newHarness(t, `[{"id":1,"wording":"OTHER","activate":true}]`, true)
	h.pending(t, "FIRST", "SECOND")
	h.portal.fail["VIEW"] = http.StatusInternalServerError

	_, err := h.rec.Run(context.Background())
	var sessErr *orange.SessionError
	require.True(t, errors.As(err, &sessErr))
	step, ok := orange.FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, "view_signature", step.Step)

	assert.Equal(t, 1, h.portal.count("INSERT"))
	assert.Zero(t, h.portal.count("LOADEMAIL"))
	_, found, err := h.sessions.Load(context.Background(), h.now)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunLoginFailure(t *testing.T) {
	h := newHarness(t, `[]`, true)
	h.portal.fail["/homepage.php"] = http.StatusForbidden

	_, err := h.rec.Run(context.Background())
	var authErr *orange.AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Zero(t, h.portal.count("LIST"))
}

func TestRunDropsUnreadableSession(t *testing.T) {
	h := newHarness(t, `null`, true)
	ctx := context.Background()
	require.NoError(t, h.store.CachePut(ctx, orange.CookiesKey, "{not json", time.Time{}))

	_, err := h.rec.Run(ctx)
	require.Error(t, err)
	assert.Zero(t, h.portal.count("SIGNIN"))
	_, found, err := h.sessions.Load(ctx, h.now)
	require.NoError(t, err, "the broken entry is cleared")
	assert.False(t, found)

	outcome, err := h.rec.Run(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
	assert.Equal(t, 1, h.portal.count("SIGNIN"))
}

func TestRunReusesSavedSession(t *testing.T) {
	h := newHarness(t, `null`, true)
	h.pending(t, "GEEX")

	outcome, err := h.rec.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)

	snap, found, err := h.sessions.Load(context.Background(), h.now)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "live", snap.Cookies["PHPSESSID"])
	assert.Equal(t, "77", snap.CustomerID)

	_, err = h.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.portal.count("SIGNIN"))
	assert.Equal(t, store.SenderIDPending, h.status(t, "GEEX"))
}

func TestSmsFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, `[{"id":1,"wording":"GEEX","activate":1}]`, true)
	h.texts.err = errors.New("gateway down")
	h.pending(t, "GEEX")

	outcome, err := h.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"GEEX"}, outcome.Activated)
	assert.True(t, strings.HasPrefix(h.texts.sent[0], "GEEX|"))
}
