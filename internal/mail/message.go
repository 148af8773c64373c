package mail

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/idgen"
	"github.com/emersion/go-message"
)

// NewMessage starts an empty multipart/mixed message. The Cc header is only
// written when cc is non-empty.
func NewMessage(from, to, subject string, cc []string) *Message {
	return &Message{
		From:      from,
		To:        to,
		Subject:   subject,
		Cc:        cc,
		Date:      time.Now(),
		MessageID: fmt.Sprintf("<%s@%s>", idgen.GenerateID(20), domainOf(from)),
	}
}

// Attach appends parts in order. Nil parts, typed or not, are skipped.
func (m *Message) Attach(parts ...Part) {
	for _, p := range parts {
		if IsNil(p) {
			continue
		}
		m.Parts = append(m.Parts, p)
	}
}

// Recipients returns the envelope recipients: To followed by every Cc entry.
func (m *Message) Recipients() []string {
	rcpts := make([]string, 0, 1+len(m.Cc))
	rcpts = append(rcpts, m.To)
	return append(rcpts, m.Cc...)
}

func (m *Message) Header() message.Header {
	var h message.Header

	params := map[string]string{}
	if m.Boundary != "" {
		params["boundary"] = m.Boundary
	}
	h.SetContentType("multipart/mixed", params)

	h.Set("From", m.From)
	h.Set("To", m.To)
	if len(m.Cc) > 0 {
		h.Set("Cc", strings.Join(m.Cc, ", "))
	}
	h.SetText("Subject", m.Subject)

	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.Set("Date", date.UTC().Format(time.RFC1123Z))

	if m.MessageID != "" {
		h.Set("Message-ID", m.MessageID)
	}

	return h
}

// WriteTo serializes the message with all parts in attach order.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	mw, err := message.CreateWriter(cw, m.Header())
	if err != nil {
		return cw.n, fmt.Errorf("failed to write message header: %w", err)
	}

	for i, p := range m.Parts {
		pw, err := mw.CreatePart(p.Header())
		if err != nil {
			return cw.n, fmt.Errorf("failed to create part %d: %w", i, err)
		}
		if _, err := pw.Write(p.Payload()); err != nil {
			return cw.n, fmt.Errorf("failed to write part %d: %w", i, err)
		}
		if err := pw.Close(); err != nil {
			return cw.n, fmt.Errorf("failed to close part %d: %w", i, err)
		}
	}

	if err := mw.Close(); err != nil {
		return cw.n, fmt.Errorf("failed to close message: %w", err)
	}

	return cw.n, nil
}

func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func domainOf(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return "localhost"
	}
	return strings.Trim(addr[at+1:], "<> ")
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
