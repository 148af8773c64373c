package mail

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/emersion/go-message"
)

const (
	ContentTypeOctetStream = "application/octet-stream"

	charsetUTF8 = "utf-8"
)

// NewText builds a plain or HTML body part. Any format other than FormatHTML
// is treated as plain text.
func NewText(text string, format Format) *TextPart {
	return &TextPart{Text: text, Format: normalizeFormat(format)}
}

func (p *TextPart) Header() message.Header {
	var h message.Header
	h.SetContentType("text/"+string(normalizeFormat(p.Format)), map[string]string{"charset": charsetUTF8})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	return h
}

func (p *TextPart) Payload() []byte {
	return []byte(p.Text)
}

func (p *TextPart) part() {}

// NewAttachment reads the file at path and wraps it in a binary part that is
// presented to the recipient as name.
func NewAttachment(path, name string) (*FilePart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, path)
		}
		return nil, err
	}

	return &FilePart{Data: data, Filename: name}, nil
}

func (p *FilePart) Header() message.Header {
	var h message.Header
	h.Set("Content-Type", ContentTypeOctetStream)
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition", "attachment; "+formatExtParam("filename", p.Filename))
	return h
}

func (p *FilePart) Payload() []byte {
	return p.Data
}

func (p *FilePart) part() {}

func normalizeFormat(format Format) Format {
	if format == FormatHTML {
		return FormatHTML
	}
	return FormatPlain
}
