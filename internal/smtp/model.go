package smtp

import (
	"strings"

	"github.com/OliverSchlueter/mail-sender/internal/users"
)

// Session is the server side state of one relay connection.
type Session struct {
	Hostname     string
	RemoteAddr   string
	TLSActive    bool
	HeloReceived bool
	Envelope     Envelope
	AuthLogin    AuthLogin
	User         *users.User
}

// Envelope is the current mail transaction. Owners holds the local user ID of
// each accepted recipient, index aligned with To.
type Envelope struct {
	From        string
	To          []string
	Owners      []string
	DataBuffer  []string
	ReadingData bool
	size        int
}

func (e *Envelope) Append(line string) {
	e.DataBuffer = append(e.DataBuffer, line)
	e.size += len(line) + 2
}

// Size is the number of bytes received so far, counting CRLF line endings.
func (e *Envelope) Size() int {
	return e.size
}

func (e *Envelope) Bytes() []byte {
	var b strings.Builder
	b.Grow(e.size)
	for _, line := range e.DataBuffer {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

func (e *Envelope) Reset() {
	*e = Envelope{}
}

type AuthLogin struct {
	RequestedPlain    bool
	RequestedUsername bool
	Username          string
	RequestedPassword bool
	Password          string
	IsAuthenticated   bool
}

// Pending reports whether the server is waiting for an AUTH continuation line.
func (a *AuthLogin) Pending() bool {
	return a.RequestedPlain || a.RequestedUsername || a.RequestedPassword
}
