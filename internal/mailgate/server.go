// Package mailgate turns mail into SMS. Customers authenticate with their
// uid and API token, address each message to <phone>@<domain>, and the
// plain-text body is texted to every recipient.
package mailgate

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.io/infrasutra/smsdesk/internal/customer"
	"github.io/infrasutra/smsdesk/internal/sms"
	"github.io/infrasutra/smsdesk/internal/store"
)

// maxBody is the longest text sent; longer bodies are cut.
const maxBody = 918

type Store interface {
	GetCustomerByUID(ctx context.Context, uid string) (store.Customer, error)
	ActiveSenderID(ctx context.Context, userID int64, name string) (bool, error)
}

type Sender interface {
	Send(ctx context.Context, out sms.Outbound) (store.Report, error)
}

type Config struct {
	Addr            string
	Domain          string
	DefaultSenderID string
}

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(st Store, sender Sender, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	backend := &backend{
		store:           st,
		sender:          sender,
		logger:          logger,
		domain:          strings.ToLower(strings.TrimSpace(cfg.Domain)),
		defaultSenderID: cfg.DefaultSenderID,
	}
	server := smtp.NewServer(backend)
	server.Addr = cfg.Addr
	server.Domain = backend.domain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 50
	server.MaxMessageBytes = 1 << 20

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("mail gateway listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.smtp.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	store           Store
	sender          Sender
	logger          *slog.Logger
	domain          string
	defaultSenderID string
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

var (
	errAuthRequired = &smtp.SMTPError{Code: 530, EnhancedCode: smtp.EnhancedCode{5, 7, 0}, Message: "authentication required"}
	errAuthFailed   = &smtp.SMTPError{Code: 535, EnhancedCode: smtp.EnhancedCode{5, 7, 8}, Message: "invalid credentials"}
	errBadRcpt      = &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "recipient must be <phone>@domain"}
	errNoBody       = &smtp.SMTPError{Code: 554, EnhancedCode: smtp.EnhancedCode{5, 6, 0}, Message: "message has no text body"}
	errOverQuota    = &smtp.SMTPError{Code: 552, EnhancedCode: smtp.EnhancedCode{5, 2, 2}, Message: "sending quota exceeded"}
)

type session struct {
	backend  *backend
	customer *store.Customer
	to       []string
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		cust, err := s.backend.store.GetCustomerByUID(context.Background(), strings.TrimSpace(username))
		if err != nil {
			s.backend.logger.Warn("mail gateway auth", "uid", username, "error", err)
			return errAuthFailed
		}
		if cust.APIToken == "" || subtle.ConstantTimeCompare([]byte(cust.APIToken), []byte(password)) != 1 {
			return errAuthFailed
		}
		s.customer = &cust
		return nil
	}), nil
}

func (s *session) Mail(_ string, _ *smtp.MailOptions) error {
	if s.customer == nil {
		return errAuthRequired
	}
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.customer == nil {
		return errAuthRequired
	}
	phone, ok := s.backend.phone(to)
	if !ok {
		return errBadRcpt
	}
	s.to = append(s.to, phone)
	return nil
}

func (s *session) Data(r io.Reader) error {
	if s.customer == nil {
		return errAuthRequired
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	subject, body, err := parseMessage(data)
	if err != nil {
		s.backend.logger.Warn("parse mail", "error", err)
	}
	if body == "" {
		return errNoBody
	}

	ctx := context.Background()
	from, err := s.backend.senderID(ctx, s.customer.UserID, subject)
	if err != nil {
		s.backend.logger.Error("resolve sender id", "error", err)
		return err
	}
	// Once one SMS is out the message is accepted: rejecting it would make
	// the client resend to recipients already texted.
	var sent, failed, skipped int
	for i, phone := range s.to {
		_, err := s.backend.sender.Send(ctx, sms.Outbound{UserID: s.customer.UserID, From: from, To: phone, Body: body})
		if errors.Is(err, sms.ErrOverQuota) || errors.Is(err, customer.ErrNoSubscription) {
			if sent == 0 {
				return errOverQuota
			}
			skipped = len(s.to) - i
			s.backend.logger.Warn("mail gateway quota exhausted", "customer", s.customer.UID, "skipped", skipped)
			break
		}
		if err != nil {
			failed++
			s.backend.logger.Warn("mail gateway send", "customer", s.customer.UID, "to", phone, "error", err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "sms gateway unavailable"}
	}
	s.backend.logger.Info("mail gateway delivered", "customer", s.customer.UID, "recipients", sent, "failed", failed, "skipped", skipped)
	return nil
}

func (s *session) Reset() {
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// phone extracts the number of a <phone>@domain recipient.
func (b *backend) phone(addr string) (string, bool) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || domain != b.domain {
		return "", false
	}
	phone := sms.NormalizeNumber(local)
	return phone, sms.ValidNumber(phone)
}

// senderID picks the subject when it names an active sender ID of the
// customer, the default one otherwise.
func (b *backend) senderID(ctx context.Context, userID int64, subject string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return b.defaultSenderID, nil
	}
	active, err := b.store.ActiveSenderID(ctx, userID, subject)
	if err != nil {
		return "", fmt.Errorf("check sender id: %w", err)
	}
	if active {
		return subject, nil
	}
	return b.defaultSenderID, nil
}

// parseMessage returns the subject and the first plain-text part with
// the signature removed.
func parseMessage(raw []byte) (string, string, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", "", err
	}
	subject, _ := reader.Header.Subject()

	var text string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return subject, cleanBody(text), err
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := header.ContentType()
		if mediaType != "" && !strings.HasPrefix(mediaType, "text/plain") {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		text = string(body)
		break
	}
	return subject, cleanBody(text), nil
}

func cleanBody(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if strings.TrimRight(line, " ") == "--" {
			lines = lines[:i]
			break
		}
	}
	text = strings.TrimSpace(strings.Join(lines, "\n"))
	if runes := []rune(text); len(runes) > maxBody {
		text = string(runes[:maxBody])
	}
	return text
}
