package mailgate

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.io/infrasutra/smsdesk/internal/sms"
	"github.io/infrasutra/smsdesk/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []sms.Outbound
	err   error
	quota int
}

func (s *recordingSender) Send(_ context.Context, out sms.Outbound) (store.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return store.Report{}, s.err
	}
	if s.quota > 0 && len(s.sent) >= s.quota {
		return store.Report{}, sms.ErrOverQuota
	}
	s.sent = append(s.sent, out)
	return store.Report{Status: store.ReportDelivered}, nil
}

func (s *recordingSender) Sent() []sms.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sms.Outbound(nil), s.sent...)
}

type gateway struct {
	addr     string
	sender   *recordingSender
	customer store.Customer
}

func startGateway(t *testing.T) *gateway {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))
	user, err := st.CreateUser(ctx, store.User{Email: "shop@gee.sn"})
	require.NoError(t, err)
	cust, err := st.CreateCustomer(ctx, store.Customer{UserID: user.ID})
	require.NoError(t, err)
	_, err = st.CreateSenderID(ctx, user.ID, "SHOP", store.SenderIDActive, time.Now())
	require.NoError(t, err)

	sender := &recordingSender{}
	srv := New(st, sender, nil, Config{Domain: "SMS.gee.sn", DefaultSenderID: "GEEXSMS"})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.smtp.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
		<-done
	})
	return &gateway{addr: ln.Addr().String(), sender: sender, customer: cust}
}

func (g *gateway) send(t *testing.T, token string, to []string, msg string) error {
	t.Helper()
	c, err := smtp.Dial(g.addr)
	require.NoError(t, err)
	defer c.Close()
	if token != "" {
		if err := c.Auth(sasl.NewPlainClient("", g.customer.UID, token)); err != nil {
			return err
		}
	}
	if err := c.Mail("shop@gee.sn", nil); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(strings.ReplaceAll(msg, "\n", "\r\n"))); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func smtpCode(t *testing.T, err error) int {
	t.Helper()
	var smtpErr *smtp.SMTPError
	require.True(t, errors.As(err, &smtpErr), "got %v", err)
	return smtpErr.Code
}

const plainMessage = `From: shop@gee.sn
To: 221770000001@sms.gee.sn
Subject: SHOP
Content-Type: text/plain; charset=utf-8

Votre commande est prête.
--
Envoyé depuis mon téléphone
`

func TestDeliversToEveryRecipient(t *testing.T) {
	g := startGateway(t)

	err := g.send(t, g.customer.APIToken, []string{"221770000001@sms.gee.sn", "+221770000002@SMS.GEE.SN"}, plainMessage)
	require.NoError(t, err)

	sent := g.sender.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, sms.Outbound{UserID: g.customer.UserID, From: "SHOP", To: "221770000001", Body: "Votre commande est prête."}, sent[0])
	assert.Equal(t, "221770000002", sent[1].To)
}

func TestUnknownSubjectFallsBackToDefaultSender(t *testing.T) {
	g := startGateway(t)
	msg := strings.Replace(plainMessage, "Subject: SHOP", "Subject: Commande 42", 1)

	require.NoError(t, g.send(t, g.customer.APIToken, []string{"221770000001@sms.gee.sn"}, msg))
	sent := g.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "GEEXSMS", sent[0].From)
}

func TestRejectsBadCredentials(t *testing.T) {
	g := startGateway(t)

	err := g.send(t, "not-the-token", []string{"221770000001@sms.gee.sn"}, plainMessage)
	assert.GreaterOrEqual(t, smtpCode(t, err), 400)

	err = g.send(t, "", []string{"221770000001@sms.gee.sn"}, plainMessage)
	assert.Equal(t, 530, smtpCode(t, err))
	assert.Empty(t, g.sender.Sent())
}

func TestRejectsForeignRecipients(t *testing.T) {
	g := startGateway(t)

	err := g.send(t, g.customer.APIToken, []string{"221770000001@gmail.com"}, plainMessage)
	assert.Equal(t, 550, smtpCode(t, err))
	err = g.send(t, g.customer.APIToken, []string{"hello@sms.gee.sn"}, plainMessage)
	assert.Equal(t, 550, smtpCode(t, err))
}

func TestQuotaExceeded(t *testing.T) {
	g := startGateway(t)
	g.sender.mu.Lock()
	g.sender.err = sms.ErrOverQuota
	g.sender.mu.Unlock()

	err := g.send(t, g.customer.APIToken, []string{"221770000001@sms.gee.sn"}, plainMessage)
	assert.Equal(t, 552, smtpCode(t, err))
}

func TestQuotaExhaustedMidListAcceptsMessage(t *testing.T) {
	g := startGateway(t)
	g.sender.mu.Lock()
	g.sender.quota = 1
	g.sender.mu.Unlock()

	err := g.send(t, g.customer.APIToken, []string{"221770000001@sms.gee.sn", "221770000002@sms.gee.sn", "221770000003@sms.gee.sn"}, plainMessage)
	require.NoError(t, err, "a partly sent message must not be rejected")
	sent := g.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "221770000001", sent[0].To)
}

func TestParseMessage(t *testing.T) {
	multipart := "From: a@b.c\r\nSubject: SHOP\r\nMIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=x\r\n\r\n" +
		"--x\r\nContent-Type: text/html\r\n\r\n<p>html</p>\r\n" +
		"--x\r\nContent-Type: text/plain\r\n\r\n  Bonjour  \r\n" +
		"--x--\r\n"
	subject, body, err := parseMessage([]byte(multipart))
	require.NoError(t, err)
	assert.Equal(t, "SHOP", subject)
	assert.Equal(t, "Bonjour", body)

	long := "Subject: x\r\n\r\n" + strings.Repeat("é", maxBody+10)
	_, body, err = parseMessage([]byte(long))
	require.NoError(t, err)
	assert.Len(t, []rune(body), maxBody)
}
