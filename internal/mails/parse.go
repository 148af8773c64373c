package mails

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

// Parse splits a raw RFC 5322 message into headers and body. Header keys are
// canonical and repeated fields keep their first value. Subject is decoded
// from its encoded-word form.
func Parse(raw []byte) (Mail, error) {
	r := bufio.NewReader(bytes.NewReader(raw))

	h, err := textproto.ReadHeader(r)
	if err != nil {
		return Mail{}, fmt.Errorf("failed to read header: %w", err)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return Mail{}, fmt.Errorf("failed to read body: %w", err)
	}

	headers := make(map[string]string, h.Len())
	fields := h.Fields()
	for fields.Next() {
		if _, ok := headers[fields.Key()]; !ok {
			headers[fields.Key()] = fields.Value()
		}
	}

	mh := message.Header{Header: h}
	subject, err := mh.Text("Subject")
	if err != nil {
		subject = mh.Get("Subject")
	}

	return Mail{
		Subject: subject,
		Headers: headers,
		Body:    string(body),
		Size:    len(raw),
	}, nil
}
