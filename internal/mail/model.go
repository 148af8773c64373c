package mail

import (
	"time"

	"github.com/emersion/go-message"
)

type Format string

const (
	FormatPlain Format = "plain"
	FormatHTML  Format = "html"
)

// Part is one body unit of a multipart message. The set of implementations is
// closed: *TextPart and *FilePart.
type Part interface {
	// Header returns the MIME header of the part. Transfer encoding is applied
	// by the message writer based on Content-Transfer-Encoding.
	Header() message.Header
	// Payload returns the decoded body of the part.
	Payload() []byte

	part()
}

// IsNil reports whether p is nil or holds a nil *TextPart or *FilePart.
func IsNil(p Part) bool {
	switch v := p.(type) {
	case nil:
		return true
	case *TextPart:
		return v == nil
	case *FilePart:
		return v == nil
	}
	return false
}

type TextPart struct {
	Text   string
	Format Format
}

type FilePart struct {
	Data     []byte
	Filename string
}

type Message struct {
	From      string
	To        string
	Subject   string
	Cc        []string
	Parts     []Part
	Date      time.Time
	MessageID string

	// Boundary pins the multipart boundary, a random one is used when empty.
	Boundary string
}
