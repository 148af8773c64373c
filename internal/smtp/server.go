package smtp

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-sender/internal/mails"
	"github.com/OliverSchlueter/mail-sender/internal/users"
)

const (
	DefaultMaxMessageSize = 10 << 20
	MaxRecipients         = 100
	MaxLineLength         = 1000

	idleTimeout = 2 * time.Minute
)

// Server is a local submission relay. Authenticated users may send from their
// own addresses to other local users; accepted messages are stored once per
// recipient.
type Server struct {
	hostname  string
	tlsConfig *tls.Config
	maxSize   int
	users     *users.Store
	mails     *mails.Store
	log       *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

type Configuration struct {
	Hostname string

	// CertFile and KeyFile enable STARTTLS. Until the upgrade, AUTH is
	// refused.
	CertFile string
	KeyFile  string

	// TLSConfig takes precedence over CertFile and KeyFile.
	TLSConfig *tls.Config

	MaxMessageSize int
	Users          *users.Store
	Mails          *mails.Store
	Logger         *slog.Logger
}

// NewServer fails with ErrInvalidCertificate when CertFile or KeyFile is set
// and the pair cannot be loaded.
func NewServer(config Configuration) (*Server, error) {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	tlsConfig := config.TLSConfig
	if tlsConfig == nil && (config.CertFile != "" || config.KeyFile != "") {
		cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
		}

		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
				tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
			},
			SessionTicketsDisabled: true,
			Renegotiation:          tls.RenegotiateNever,
			CurvePreferences:       []tls.CurveID{tls.X25519, tls.CurveP256},
		}
	}

	return &Server{
		hostname:  config.Hostname,
		tlsConfig: tlsConfig,
		maxSize:   config.MaxMessageSize,
		users:     config.Users,
		mails:     config.Mails,
		log:       config.Logger,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve accepts connections on listener until Close is called, then returns
// ErrServerClosed.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			s.log.Warn("Failed to accept connection", sloki.WrapError(err))
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return ErrServerClosed
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(conn)
		}()
	}
}

// Addr returns the listener address once Serve has been called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting connections, closes the open ones and waits for their
// handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	session := &Session{}
	session.RemoteAddr = conn.RemoteAddr().String()

	s.log.Debug("New connection established", "remote_addr", session.RemoteAddr, "protocol", conn.RemoteAddr().Network())

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	s.writeLine(w, fmt.Sprintf(StatusServiceReady, s.hostname))

	for {
		if err := conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			s.log.Error("Failed to set connection deadline", sloki.WrapError(err))
			return
		}

		line, err := r.ReadString('\n')
		if err != nil {
			s.log.Debug("Connection ended", "remote_addr", session.RemoteAddr, sloki.WrapError(err))
			return
		}

		line = strings.TrimRight(line, "\r\n")

		if session.Envelope.ReadingData {
			s.handleDataLine(session, w, line)
			continue
		}

		if len(line) > MaxLineLength {
			s.log.Warn("Received line exceeds maximum length", "line_length", len(line))
			s.writeLine(w, StatusLineTooLong)
			continue
		}

		if session.AuthLogin.Pending() {
			s.handleAuthContinuation(session, w, line)
			continue
		}

		s.log.Debug("C: " + line)
		upper := strings.ToUpper(line)

		switch {
		// EHLO
		case strings.HasPrefix(upper, CmdEhlo.Prefix):
			s.handleEhlo(session, w, line)

		// HELO
		case strings.HasPrefix(upper, CmdHelo.Prefix):
			s.handleHelo(session, w, line)

		// STARTTLS
		case upper == CmdStartTls.Prefix:
			if s.tlsConfig == nil {
				s.writeLine(w, StatusNotImplemented)
				continue
			}

			if session.TLSActive {
				s.writeLine(w, StatusTLSAlreadyActive)
				continue
			}

			s.writeLine(w, StatusReadyStarting)

			tlsConn := tls.Server(conn, s.tlsConfig)
			if err := tlsConn.Handshake(); err != nil {
				s.log.Error("TLS handshake failed", sloki.WrapError(err))
				return
			}

			// Reset session but keep remote address
			remoteAddr := session.RemoteAddr
			*session = Session{RemoteAddr: remoteAddr, TLSActive: true}

			conn = tlsConn
			r = bufio.NewReader(conn)
			w = bufio.NewWriter(conn)

			s.log.Debug("TLS connection established", "remote_addr", session.RemoteAddr)

		// AUTH LOGIN
		case strings.HasPrefix(upper, CmdAuthLogin.Prefix):
			s.handleAuthLogin(session, w, line)

		// AUTH PLAIN
		case strings.HasPrefix(upper, CmdAuthPlain.Prefix):
			s.handleAuthPlain(session, w, line)

		case strings.HasPrefix(upper, CmdAuth.Prefix):
			s.writeLine(w, StatusUnknownMechanism)

		// MAIL FROM
		case strings.HasPrefix(upper, CmdMailFrom.Prefix):
			s.handleMailFrom(session, w, line)

		// RCPT TO
		case strings.HasPrefix(upper, CmdRcptTo.Prefix):
			s.handleRcptTo(session, w, line)

		// DATA
		case upper == CmdData.Prefix:
			s.handleData(session, w, line)

		// RSET
		case upper == CmdRset.Prefix:
			session.Envelope.Reset()
			s.writeLine(w, StatusOK)

		// QUIT
		case upper == CmdQuit.Prefix:
			s.writeLine(w, fmt.Sprintf(StatusConnClosed, s.hostname))
			s.log.Debug("Connection closed", "remote_addr", session.RemoteAddr)
			return

		// NOOP
		case upper == CmdNoop.Prefix:
			s.writeLine(w, StatusOK)

		default:
			s.writeLine(w, StatusBadCommand)
		}
	}
}

func (s *Server) handleEhlo(session *Session, w *bufio.Writer, line string) {
	clientHostname := strings.TrimSpace(line[len(CmdEhlo.Prefix):])
	session.HeloReceived = true
	session.Hostname = clientHostname
	session.Envelope.Reset()

	lines := []string{
		fmt.Sprintf(StatusGreeting, s.hostname, clientHostname),
		"8BITMIME",
		fmt.Sprintf("SIZE %d", s.maxSize),
	}

	if !session.TLSActive && s.tlsConfig != nil {
		lines = append(lines, CmdStartTls.Structure)
	}

	if s.authAllowed(session) {
		lines = append(lines, CmdAuth.Structure)
	}

	s.writeMultiline(w, "250", lines)
}

func (s *Server) handleHelo(session *Session, w *bufio.Writer, line string) {
	clientHostname := strings.TrimSpace(line[len(CmdHelo.Prefix):])
	session.HeloReceived = true
	session.Hostname = clientHostname
	session.Envelope.Reset()

	s.writeLine(w, "250 "+fmt.Sprintf(StatusGreeting, s.hostname, clientHostname))
}

// authAllowed permits AUTH once TLS is active, or on a relay without any TLS
// configuration.
func (s *Server) authAllowed(session *Session) bool {
	return session.TLSActive || s.tlsConfig == nil
}

func (s *Server) checkAuthPreconditions(session *Session, w *bufio.Writer, cmd Command) bool {
	if !session.HeloReceived {
		s.log.Warn(fmt.Sprintf("%s command received before %s", cmd.Name, CmdEhlo.Name))
		s.writeLine(w, fmt.Sprintf(StatusBadSequence, CmdEhlo.Name))
		return false
	}

	if session.AuthLogin.IsAuthenticated {
		s.writeLine(w, StatusAlreadyAuthenticated)
		return false
	}

	if !s.authAllowed(session) {
		s.writeLine(w, StatusEncryptionRequired)
		return false
	}

	return true
}

func (s *Server) handleAuthLogin(session *Session, w *bufio.Writer, line string) {
	if !s.checkAuthPreconditions(session, w, CmdAuthLogin) {
		return
	}

	initial := strings.TrimSpace(line[len(CmdAuthLogin.Prefix):])
	if initial == "" {
		session.AuthLogin.RequestedUsername = true
		s.writeLine(w, StatusAuthUsername)
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(initial)
	if err != nil {
		s.log.Warn("Failed to decode base64 username", sloki.WrapError(err))
		s.writeLine(w, StatusInvalidBase64)
		return
	}

	session.AuthLogin.Username = string(decoded)
	session.AuthLogin.RequestedPassword = true
	s.writeLine(w, StatusAuthPassword)
}

func (s *Server) handleAuthPlain(session *Session, w *bufio.Writer, line string) {
	if !s.checkAuthPreconditions(session, w, CmdAuthPlain) {
		return
	}

	credentials := strings.TrimSpace(line[len(CmdAuthPlain.Prefix):])
	if credentials == "" {
		session.AuthLogin.RequestedPlain = true
		s.writeLine(w, StatusAuthContinue)
		return
	}

	s.authenticatePlain(session, w, credentials)
}

func (s *Server) handleAuthContinuation(session *Session, w *bufio.Writer, line string) {
	auth := &session.AuthLogin

	if line == "*" {
		*auth = AuthLogin{}
		s.writeLine(w, StatusAuthCancelled)
		return
	}

	switch {
	case auth.RequestedPlain:
		auth.RequestedPlain = false
		s.authenticatePlain(session, w, line)

	case auth.RequestedUsername:
		decoded, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			s.log.Warn("Failed to decode base64 username", sloki.WrapError(err))
			*auth = AuthLogin{}
			s.writeLine(w, StatusInvalidBase64)
			return
		}

		auth.Username = string(decoded)
		auth.RequestedUsername = false
		auth.RequestedPassword = true
		s.writeLine(w, StatusAuthPassword)

	case auth.RequestedPassword:
		decoded, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			s.log.Warn("Failed to decode base64 password", sloki.WrapError(err))
			*auth = AuthLogin{}
			s.writeLine(w, StatusInvalidBase64)
			return
		}

		auth.Password = string(decoded)
		auth.RequestedPassword = false
		s.authenticate(session, w)
	}
}

func (s *Server) authenticatePlain(session *Session, w *bufio.Writer, credentials string) {
	decoded, err := base64.StdEncoding.DecodeString(credentials)
	if err != nil {
		s.log.Warn("Failed to decode base64 credentials", sloki.WrapError(err))
		s.writeLine(w, StatusInvalidBase64)
		return
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		s.log.Warn("Invalid AUTH PLAIN credentials format")
		s.writeLine(w, StatusSyntaxError)
		return
	}

	session.AuthLogin.Username = parts[1]
	session.AuthLogin.Password = parts[2]
	s.authenticate(session, w)
}

func (s *Server) authenticate(session *Session, w *bufio.Writer) {
	u, err := s.users.Authenticate(session.AuthLogin.Username, session.AuthLogin.Password)
	session.AuthLogin.Password = ""
	if err != nil {
		if !errors.Is(err, users.ErrInvalidCredentials) {
			s.log.Error("Failed to authenticate user", sloki.WrapError(err))
		}
		s.log.Info("Authentication failed", "username", session.AuthLogin.Username, "remote_addr", session.RemoteAddr)
		s.writeLine(w, StatusAuthenticationFailed)
		return
	}

	session.AuthLogin.IsAuthenticated = true
	session.User = u
	s.log.Debug("User authenticated", "user", u.Name, "remote_addr", session.RemoteAddr)
	s.writeLine(w, StatusAuthSuccess)
}

func (s *Server) handleMailFrom(session *Session, w *bufio.Writer, line string) {
	if !session.HeloReceived {
		s.log.Warn(fmt.Sprintf("%s command received before %s", CmdMailFrom.Name, CmdEhlo.Name))
		s.writeLine(w, fmt.Sprintf(StatusBadSequence, CmdEhlo.Name))
		return
	}

	if !session.AuthLogin.IsAuthenticated {
		s.writeLine(w, StatusAuthRequired)
		return
	}

	addr, ok := parsePath(line[len(CmdMailFrom.Prefix):])
	if !ok {
		s.writeLine(w, StatusSyntaxError)
		return
	}

	if !session.User.Owns(addr) {
		s.log.Warn(fmt.Sprintf("Sender %s not owned by %s", addr, session.User.Name))
		s.writeLine(w, StatusSenderNotOwned)
		return
	}

	session.Envelope.Reset()
	session.Envelope.From = addr

	s.writeLine(w, StatusOK)
}

func (s *Server) handleRcptTo(session *Session, w *bufio.Writer, line string) {
	if session.Envelope.From == "" {
		s.writeLine(w, fmt.Sprintf(StatusBadSequence, CmdMailFrom.Name))
		return
	}

	if len(session.Envelope.To) >= MaxRecipients {
		s.log.Warn(fmt.Sprintf("Maximum recipients exceeded for session from %s", session.RemoteAddr))
		s.writeLine(w, StatusTooManyRecipients)
		return
	}

	recipient, ok := parsePath(line[len(CmdRcptTo.Prefix):])
	if !ok || recipient == "" {
		s.writeLine(w, StatusSyntaxError)
		return
	}

	u, err := s.users.GetByEmail(recipient)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			s.writeLine(w, StatusNoSuchUser)
			return
		}

		s.log.Error("Failed to get user by email", sloki.WrapError(err))
		s.writeLine(w, StatusLocalError)
		return
	}

	session.Envelope.To = append(session.Envelope.To, recipient)
	session.Envelope.Owners = append(session.Envelope.Owners, u.ID)
	s.writeLine(w, StatusOK)
}

func (s *Server) handleData(session *Session, w *bufio.Writer, line string) {
	if len(session.Envelope.To) == 0 {
		s.log.Warn(fmt.Sprintf("%s command received without any recipients", CmdData.Name))
		s.writeLine(w, fmt.Sprintf(StatusBadSequence, CmdRcptTo.Name))
		return
	}

	session.Envelope.ReadingData = true
	s.writeLine(w, StatusStartMailInput)
}

func (s *Server) handleDataLine(session *Session, w *bufio.Writer, line string) {
	env := &session.Envelope

	if line != "." {
		line = strings.TrimPrefix(line, ".")
		// keep counting past the limit so the rejection happens at the end of DATA
		if env.Size() > s.maxSize {
			env.size += len(line) + 2
			return
		}
		env.Append(line)
		return
	}

	defer env.Reset()

	if env.Size() > s.maxSize {
		s.log.Warn("Message exceeds maximum size", "size", env.Size(), "max_size", s.maxSize)
		s.writeLine(w, StatusMessageTooLarge)
		return
	}

	if err := s.deliver(env); err != nil {
		s.log.Error("Failed to store incoming mail", sloki.WrapError(err))
		s.writeLine(w, StatusLocalError)
		return
	}

	s.log.Info("Mail accepted", "from", env.From, "to", env.To, "size", env.Size())
	s.writeLine(w, StatusOK)
}

func (s *Server) deliver(env *Envelope) error {
	raw := env.Bytes()

	parsed, err := mails.Parse(raw)
	if err != nil {
		return err
	}

	for i, owner := range env.Owners {
		m := parsed
		m.Owner = owner
		m.From = env.From
		m.Recipients = append([]string(nil), env.To...)

		if _, err := s.mails.Create(m); err != nil {
			return fmt.Errorf("failed to store mail for %s: %w", env.To[i], err)
		}
	}

	return nil
}

// parsePath extracts the address from a MAIL or RCPT argument such as
// "<a@b.c> BODY=8BITMIME". Parameters after the path are ignored.
func parsePath(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if !strings.HasPrefix(arg, "<") {
		addr, _, _ := strings.Cut(arg, " ")
		return addr, addr != ""
	}

	end := strings.IndexByte(arg, '>')
	if end < 0 {
		return "", false
	}

	return strings.TrimSpace(arg[1:end]), true
}

func (s *Server) writeMultiline(w *bufio.Writer, code string, lines []string) {
	for i, line := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		s.writeLine(w, code+sep+line)
	}
}

func (s *Server) writeLine(w *bufio.Writer, line string) {
	if _, err := w.WriteString(line + "\r\n"); err != nil {
		s.log.Error("Failed to write to connection", sloki.WrapError(err))
		return
	}
	if err := w.Flush(); err != nil {
		s.log.Error("Failed to flush writer", sloki.WrapError(err))
		return
	}

	s.log.Debug("S: " + line)
}
