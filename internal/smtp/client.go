package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	mailsmtp "github.com/wneessen/go-mail/smtp"
)

const DefaultHelloName = "localhost"

// Client is a submission client holding a single connection to a relay. It is
// not safe for concurrent use.
type Client struct {
	helloName     string
	timeout       time.Duration
	tlsConfig     *tls.Config
	allowInsecure bool
	trace         bool
	log           *slog.Logger

	host string
	conn *mailsmtp.Client
}

type ClientConfiguration struct {
	// HelloName is the name sent with EHLO. Defaults to "localhost".
	HelloName string
	// Timeout bounds the dial and every command round trip. Zero disables it.
	Timeout time.Duration
	// TLSConfig is used for STARTTLS. ServerName defaults to the relay host.
	TLSConfig *tls.Config
	// AllowInsecureAuth permits AUTH over a connection without TLS to hosts
	// other than localhost.
	AllowInsecureAuth bool
	// Trace logs every protocol line at debug level. Credentials are redacted.
	Trace  bool
	Logger *slog.Logger
}

func NewClient(cfg ClientConfiguration) *Client {
	if cfg.HelloName == "" {
		cfg.HelloName = DefaultHelloName
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		helloName:     cfg.HelloName,
		timeout:       cfg.Timeout,
		tlsConfig:     cfg.TLSConfig,
		allowInsecure: cfg.AllowInsecureAuth,
		trace:         cfg.Trace,
		log:           cfg.Logger,
	}
}

// Connect dials host:port, reads the greeting and introduces the client with
// EHLO.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if c.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to set connection deadline: %w", err)
		}
	}

	sc, err := mailsmtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("failed to read greeting from %s: %w", addr, err)
	}

	if c.trace {
		sc.SetLogger(newTraceLogger(c.log))
		sc.SetDebugLog(true)
	}

	if err := sc.Hello(c.helloName); err != nil {
		_ = sc.Close()
		return fmt.Errorf("%s failed: %w", CmdEhlo.Name, err)
	}

	c.host = host
	c.conn = sc
	c.log.Debug("Connected to relay", slog.String("addr", addr))

	return nil
}

// StartTLS upgrades the connection. It fails with ErrStartTLSUnsupported when
// the relay does not advertise the extension.
func (c *Client) StartTLS() error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.refreshDeadline()

	if ok, _ := c.conn.Extension(CmdStartTls.Name); !ok {
		return ErrStartTLSUnsupported
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.tlsConfig != nil {
		cfg = c.tlsConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = c.host
	}

	if err := c.conn.StartTLS(cfg); err != nil {
		return fmt.Errorf("%s failed: %w", CmdStartTls.Name, err)
	}

	return nil
}

// Authenticate logs in with PLAIN, or LOGIN when PLAIN is not offered.
func (c *Client) Authenticate(identity, credential string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.refreshDeadline()

	ok, params := c.conn.Extension(CmdAuth.Name)
	if !ok {
		return ErrAuthUnsupported
	}

	var auth mailsmtp.Auth
	mechanisms := strings.Fields(strings.ToUpper(params))
	switch {
	case slices.Contains(mechanisms, "PLAIN"):
		auth = mailsmtp.PlainAuth("", identity, credential, c.host, c.allowInsecure)
	case slices.Contains(mechanisms, "LOGIN"):
		auth = mailsmtp.LoginAuth(identity, credential, c.host, c.allowInsecure)
	default:
		return fmt.Errorf("%w: %s", ErrAuthUnsupported, params)
	}

	if err := c.conn.Auth(auth); err != nil {
		return fmt.Errorf("authentication as %s failed: %w", identity, err)
	}

	return nil
}

// Send runs one MAIL/RCPT/DATA transaction. The relay accepts or rejects the
// transaction as a whole: a rejected recipient aborts it. After a failure the
// transaction is reset so the connection can carry the next message.
func (c *Client) Send(from string, recipients []string, raw []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.refreshDeadline()

	if err := c.conn.Mail(from); err != nil {
		c.reset()
		return fmt.Errorf("%s <%s> rejected: %w", CmdMailFrom.Name, from, err)
	}

	for _, rcpt := range recipients {
		c.refreshDeadline()
		if err := c.conn.Rcpt(rcpt); err != nil {
			c.reset()
			return fmt.Errorf("%s <%s> rejected: %w", CmdRcptTo.Name, rcpt, err)
		}
	}

	c.refreshDeadline()
	w, err := c.conn.Data()
	if err != nil {
		c.reset()
		return fmt.Errorf("%s rejected: %w", CmdData.Name, err)
	}

	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		c.reset()
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := w.Close(); err != nil {
		c.reset()
		return fmt.Errorf("message rejected: %w", err)
	}

	return nil
}

// Close sends QUIT and closes the connection. Closing a client that is not
// connected is a no-op.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	conn := c.conn
	c.conn = nil
	c.refreshDeadlineOn(conn)

	if err := conn.Quit(); err != nil {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			return fmt.Errorf("%s failed: %w", CmdQuit.Name, errors.Join(err, cerr))
		}
		return fmt.Errorf("%s failed: %w", CmdQuit.Name, err)
	}

	return nil
}

func (c *Client) reset() {
	if err := c.conn.Reset(); err != nil {
		c.log.Debug("Failed to reset transaction", sloki.WrapError(err))
	}
}

func (c *Client) refreshDeadline() {
	c.refreshDeadlineOn(c.conn)
}

func (c *Client) refreshDeadlineOn(conn *mailsmtp.Client) {
	if c.timeout <= 0 {
		return
	}
	if err := conn.UpdateDeadline(c.timeout); err != nil {
		c.log.Debug("Failed to update connection deadline", sloki.WrapError(err))
	}
}
