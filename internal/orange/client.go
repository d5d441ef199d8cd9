// Package orange drives the Orange SMS Pro customer portal the way a
// browser would: a cookie-backed session and a fixed script of form posts.
package orange

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.io/infrasutra/smsdesk/internal/config"
)

const maxBody = 4 << 20

var errLoginForm = errors.New("portal answered with the sign-in form")

type Client struct {
	cfg       config.Orange
	base      *url.URL
	origin    string
	logger    *slog.Logger
	transport http.RoundTripper
	now       func() time.Time
}

type Option func(*Client)

// WithTransport replaces the HTTP transport used for every session.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func New(cfg config.Orange, logger *slog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse portal url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse portal url: %q is not absolute", cfg.BaseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	c := &Client{
		cfg:       cfg,
		base:      base,
		origin:    base.Scheme + "://" + base.Host,
		logger:    logger,
		transport: http.DefaultTransport,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewSession returns an empty session bound to the portal.
func (c *Client) NewSession() *Session {
	return NewSession(c.base)
}

// Restore loads the persisted session, falling back to an empty one.
func (c *Client) Restore(ctx context.Context, store SessionStore) (*Session, error) {
	snap, ok, err := store.Load(ctx, c.now())
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return c.NewSession(), nil
	}
	return RestoreSession(c.base, snap, c.now()), nil
}

// Ensure signs in when the session holds no valid cookies.
func (c *Client) Ensure(ctx context.Context, sess *Session) error {
	if sess.State() == Authenticated && (sess.expiresAt.IsZero() || c.now().Before(sess.expiresAt)) {
		return nil
	}
	sess.jar = newJar()
	sess.state = Authenticating

	hashed := hashPassword(c.cfg.Password)
	host := c.base.Hostname()
	if _, err := c.run(ctx, sess, initialCookiesStep(host)); err != nil {
		sess.expire()
		return &AuthenticationError{Err: err}
	}
	body, err := c.run(ctx, sess, signInStep(c.cfg.Login, hashed))
	if err != nil {
		sess.expire()
		return &AuthenticationError{Err: err}
	}
	var login struct {
		Infos struct {
			Customer json.RawMessage `json:"customer"`
			ID       json.RawMessage `json:"id"`
		} `json:"infos"`
	}
	if err := json.Unmarshal(body, &login); err != nil {
		sess.expire()
		return &AuthenticationError{Err: &StepError{Step: "signin", StatusCode: http.StatusOK, Err: fmt.Errorf("decode login: %w", err)}}
	}
	customerID, userID := rawString(login.Infos.Customer), rawString(login.Infos.ID)
	if customerID == "" || userID == "" {
		sess.expire()
		return &AuthenticationError{Err: &StepError{Step: "signin", StatusCode: http.StatusOK, Reason: "login answer carries no account"}}
	}

	home := homepageStep(c.cfg.Login, hashed, host)
	page, err := c.run(ctx, sess, home)
	if err == nil {
		err = c.checkHomepage(home.name, page)
	}
	if err != nil {
		sess.expire()
		return &AuthenticationError{Err: err}
	}

	sess.authenticated(customerID, userID, c.now().Add(c.cfg.SessionTTL))
	c.logger.Info("orange session opened", "customer", customerID)
	return nil
}

func (c *Client) checkHomepage(name string, page []byte) error {
	if hasPasswordInput(page) {
		return &StepError{Step: name, StatusCode: http.StatusOK, Err: errLoginForm}
	}
	if c.cfg.HomeMarker != "" && !bytes.Contains(page, []byte(c.cfg.HomeMarker)) {
		return &StepError{Step: name, StatusCode: http.StatusOK, Reason: "home marker missing"}
	}
	return nil
}

// ListValidSignatures posts LIST_VALID. The portal needs it before LIST.
func (c *Client) ListValidSignatures(ctx context.Context, sess *Session) ([]Signature, error) {
	body, err := c.scripted(ctx, sess, listValidStep(sess.UserID(), sess.CustomerID()))
	if err != nil {
		return nil, err
	}
	signatures, _, err := decodeSignatures("list_valid", body)
	return signatures, err
}

// ListSignatures returns every signature of the customer. ok is false when
// the portal answers null or false instead of a list.
func (c *Client) ListSignatures(ctx context.Context, sess *Session) ([]Signature, bool, error) {
	body, err := c.scripted(ctx, sess, listStep(sess.CustomerID()))
	if err != nil {
		return nil, false, err
	}
	return decodeSignatures("list", body)
}

func decodeSignatures(name string, body []byte) ([]Signature, bool, error) {
	if absent(body) {
		return nil, false, nil
	}
	var signatures []Signature
	if err := json.Unmarshal(body, &signatures); err != nil {
		return nil, false, &SessionError{Err: &StepError{Step: name, StatusCode: http.StatusOK, Err: fmt.Errorf("decode signatures: %w", err)}}
	}
	return signatures, true, nil
}

// Creation is what the portal returned while registering a signature.
type Creation struct {
	SignatureID string
	AlertMails  []string
	MailSent    bool
}

// CreateSignature submits wording for carrier approval and alerts the
// partner mailboxes.
func (c *Client) CreateSignature(ctx context.Context, sess *Session, wording string) (Creation, error) {
	var created Creation
	customerID, userID := sess.CustomerID(), sess.UserID()

	if _, err := c.scripted(ctx, sess, getSessionStep()); err != nil {
		return created, err
	}
	insert := insertStep(userID, customerID, wording)
	body, err := c.scripted(ctx, sess, insert)
	if err != nil {
		return created, err
	}
	var inserted struct {
		OID json.RawMessage `json:"oId"`
	}
	if err := json.Unmarshal(body, &inserted); err != nil || rawString(inserted.OID) == "" {
		if err == nil {
			err = errors.New("insert answer carries no oId")
		}
		sess.expire()
		return created, &SessionError{Err: &StepError{Step: insert.name, StatusCode: http.StatusOK, Err: err}}
	}
	created.SignatureID = rawString(inserted.OID)

	if _, err := c.scripted(ctx, sess, getSessionStep()); err != nil {
		return created, err
	}
	if _, err := c.scripted(ctx, sess, viewSignatureStep(created.SignatureID)); err != nil {
		return created, err
	}
	load := loadEmailStep()
	body, err = c.scripted(ctx, sess, load)
	if err != nil {
		return created, err
	}
	if absent(body) {
		sess.expire()
		return created, &SessionError{Err: &StepError{Step: load.name, StatusCode: http.StatusOK, Reason: "partner lookup returned nothing"}}
	}
	var partner struct {
		AlertMail json.RawMessage `json:"alertMail"`
	}
	if err := json.Unmarshal(body, &partner); err != nil {
		sess.expire()
		return created, &SessionError{Err: &StepError{Step: load.name, StatusCode: http.StatusOK, Err: fmt.Errorf("decode partner: %w", err)}}
	}
	created.AlertMails = rawStrings(partner.AlertMail)

	if _, err := c.scripted(ctx, sess, viewCustomerStep(customerID)); err != nil {
		return created, err
	}
	if len(created.AlertMails) == 0 {
		return created, nil
	}
	if _, err := c.scripted(ctx, sess, sendMailStep(c.cfg.Company, strings.Join(created.AlertMails, ";"))); err != nil {
		return created, err
	}
	created.MailSent = true
	c.logger.Info("orange signature created", "wording", wording, "signature", created.SignatureID)
	return created, nil
}

// scripted runs a step on an authenticated session.
func (c *Client) scripted(ctx context.Context, sess *Session, st step) ([]byte, error) {
	if sess.State() != Authenticated {
		return nil, &SessionError{Err: &StepError{Step: st.name, Reason: "session is " + sess.State().String()}}
	}
	body, err := c.run(ctx, sess, st)
	if err != nil {
		return nil, &SessionError{Err: err}
	}
	return body, nil
}

// run posts one step. Any failure expires the session.
func (c *Client) run(ctx context.Context, sess *Session, st step) ([]byte, error) {
	target := c.origin + st.endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(st.form.Encode()))
	if err != nil {
		return nil, &StepError{Step: st.name, Err: err}
	}
	req.Header = st.headers(c.origin)

	resp, err := c.httpClient(sess).Do(req)
	if err != nil {
		sess.expire()
		return nil, &StepError{Step: st.name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		sess.expire()
		return nil, &StepError{Step: st.name, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		sess.expire()
		return nil, &StepError{Step: st.name, StatusCode: resp.StatusCode, Reason: strings.TrimSpace(http.StatusText(resp.StatusCode))}
	}
	c.logger.Debug("orange step", "step", st.name, "bytes", len(body))
	return body, nil
}

func (c *Client) httpClient(sess *Session) *http.Client {
	return &http.Client{
		Transport: c.transport,
		Jar:       sess.jar,
		Timeout:   c.cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > 1 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func hashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// hasPasswordInput reports whether page renders a password field.
func hasPasswordInput(page []byte) bool {
	tokens := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch tokens.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tokens.TagName()
			if string(name) != "input" || !hasAttr {
				continue
			}
			for {
				key, value, more := tokens.TagAttr()
				if string(key) == "type" && strings.EqualFold(string(value), "password") {
					return true
				}
				if !more {
					break
				}
			}
		}
	}
}
