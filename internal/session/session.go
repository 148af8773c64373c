// Package session sends composed mails over one authenticated relay
// connection and collects the recipients whose delivery failed.
//
// A Session is driven by a single goroutine: New connects and logs in, then
// any number of CreateMessage, Attach and SendMail cycles follow, and Finish
// closes the connection and reports the outcome.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-sender/internal/mail"
	"github.com/OliverSchlueter/mail-sender/internal/smtp"
	"github.com/google/uuid"
)

const DefaultPort = 587

// Transport is the connection a Session delivers through. Send either
// delivers to every recipient or fails as a whole.
type Transport interface {
	Connect(ctx context.Context, host string, port int) error
	StartTLS() error
	Authenticate(identity, credential string) error
	Send(from string, recipients []string, raw []byte) error
	Close() error
}

type Configuration struct {
	// Sender is the From address and the login identity.
	Sender   string
	Password string
	Host     string
	Port     int
	// NoTLS skips STARTTLS and permits plaintext authentication.
	NoTLS bool
	// Debug renders mails to DebugOutput instead of sending them.
	Debug       bool
	DebugOutput io.Writer
	Logger      *slog.Logger

	// Transport overrides the SMTP client. Timeout, TLSConfig, HelloName and
	// Trace only configure the default client.
	Transport Transport
	Timeout   time.Duration
	TLSConfig *tls.Config
	HelloName string
	Trace     bool

	// DKIM signs every rendered mail when set.
	DKIM *mail.DKIMSigner
}

type Session struct {
	id        string
	sender    string
	transport Transport
	debug     bool
	debugOut  io.Writer
	dkim      *mail.DKIMSigner
	log       *slog.Logger

	message *mail.Message
	failed  []string
	sent    int
	closed  bool
	report  Report
}

// New connects to the relay, upgrades to TLS unless NoTLS is set and
// authenticates as the sender. Any failure closes the transport and returns
// an error matching ErrSetup.
func New(ctx context.Context, cfg Configuration) (*Session, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DebugOutput == nil {
		cfg.DebugOutput = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	id := uuid.New().String()
	logger := cfg.Logger.With(slog.String("session_id", id))

	if cfg.Transport == nil {
		cfg.Transport = smtp.NewClient(smtp.ClientConfiguration{
			HelloName:         cfg.HelloName,
			Timeout:           cfg.Timeout,
			TLSConfig:         cfg.TLSConfig,
			AllowInsecureAuth: cfg.NoTLS,
			Trace:             cfg.Trace,
			Logger:            logger,
		})
	}

	if err := setup(ctx, cfg); err != nil {
		logger.Error("Failed to set up mail session", slog.String("host", cfg.Host), slog.Int("port", cfg.Port), sloki.WrapError(err))
		if cerr := cfg.Transport.Close(); cerr != nil {
			logger.Debug("Failed to close connection after setup failure", sloki.WrapError(cerr))
		}
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	logger.Info("Connected to relay and logged in", slog.String("host", cfg.Host), slog.Int("port", cfg.Port), slog.String("sender", cfg.Sender), slog.Bool("debug", cfg.Debug))

	return &Session{
		id:        id,
		sender:    cfg.Sender,
		transport: cfg.Transport,
		debug:     cfg.Debug,
		debugOut:  cfg.DebugOutput,
		dkim:      cfg.DKIM,
		log:       logger,
		failed:    []string{},
	}, nil
}

func setup(ctx context.Context, cfg Configuration) error {
	if err := cfg.Transport.Connect(ctx, cfg.Host, cfg.Port); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if !cfg.NoTLS {
		if err := cfg.Transport.StartTLS(); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if err := cfg.Transport.Authenticate(cfg.Sender, cfg.Password); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	return nil
}

func (s *Session) ID() string {
	return s.id
}

// CreateMessage starts a new message to receiver, replacing any message that
// was not sent. Empty cc entries are dropped. It does nothing once the
// session is finished.
func (s *Session) CreateMessage(receiver, subject string, cc ...string) *Session {
	if s.closed {
		s.log.Warn("Ignoring new message on finished session", slog.String("to", receiver))
		return s
	}

	if s.message != nil {
		s.log.Debug("Discarding unsent message", slog.String("to", s.message.To), slog.String("subject", s.message.Subject))
	}

	s.message = mail.NewMessage(s.sender, receiver, subject, normalizeCc(cc))
	return s
}

// Attach appends parts to the current message in order. A nil part rejects
// the whole call and nothing is attached.
func (s *Session) Attach(parts ...mail.Part) error {
	if err := s.requireMessage(); err != nil {
		return err
	}

	for i, p := range parts {
		if mail.IsNil(p) {
			return fmt.Errorf("%w: part %d", mail.ErrNilPart, i)
		}
	}

	s.message.Attach(parts...)
	return nil
}

// SendMail sends the current message to its To and Cc recipients and clears
// it. A failed delivery is logged and recorded for the primary recipient; it
// is not returned. Only a missing message or a finished session is an error.
func (s *Session) SendMail() error {
	if err := s.requireMessage(); err != nil {
		return err
	}

	msg := s.message
	s.message = nil
	recipients := msg.Recipients()

	if s.debug {
		s.render(msg, recipients)
		return nil
	}

	raw, err := s.serialize(msg)
	if err == nil {
		err = s.transport.Send(s.sender, recipients, raw)
	}
	if err != nil {
		s.log.Error("Failed to send mail", slog.String("to", msg.To), slog.String("recipients", strings.Join(recipients, ", ")), sloki.WrapError(err))
		s.failed = append(s.failed, msg.To)
		return nil
	}

	s.sent++
	s.log.Info("Mail sent successfully", slog.String("recipients", strings.Join(recipients, ", ")), slog.String("subject", msg.Subject))

	return nil
}

// Finish closes the connection and reports the outcome. Close errors are
// logged only. Calling Finish again returns the same report.
func (s *Session) Finish() Report {
	if s.closed {
		return s.report
	}

	s.closed = true
	if s.message != nil {
		s.log.Debug("Discarding unsent message", slog.String("to", s.message.To), slog.String("subject", s.message.Subject))
		s.message = nil
	}

	s.report = Report{Sent: s.sent, Failed: slices.Clone(s.failed)}

	if s.report.OK() {
		s.log.Info("All mails sent successfully", slog.Int("sent", s.report.Sent))
	} else {
		s.log.Error("Failed to send mails", slog.Int("sent", s.report.Sent), slog.String("failed", strings.Join(s.report.Failed, ", ")))
	}

	if err := s.transport.Close(); err != nil {
		s.log.Warn("Failed to close connection", sloki.WrapError(err))
	}

	return s.report
}

// Failed returns the primary recipients of all failed sends so far.
func (s *Session) Failed() []string {
	return slices.Clone(s.failed)
}

func (s *Session) requireMessage() error {
	if s.closed {
		return ErrClosed
	}
	if s.message == nil {
		return ErrNoMessage
	}
	return nil
}

func (s *Session) render(msg *mail.Message, recipients []string) {
	raw, err := s.serialize(msg)
	if err != nil {
		s.log.Error("Failed to render mail", slog.String("to", msg.To), sloki.WrapError(err))
		return
	}

	s.sent++
	s.log.Info("Debug mode, mail would be sent", slog.String("recipients", strings.Join(recipients, ", ")))

	if _, err := s.debugOut.Write(raw); err != nil {
		s.log.Warn("Failed to write debug output", sloki.WrapError(err))
	}
}

func (s *Session) serialize(msg *mail.Message) ([]byte, error) {
	raw, err := msg.Bytes()
	if err != nil {
		return nil, err
	}

	if s.dkim == nil {
		return raw, nil
	}

	return s.dkim.Sign(raw)
}

func normalizeCc(cc []string) []string {
	out := make([]string, 0, len(cc))
	for _, addr := range cc {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
