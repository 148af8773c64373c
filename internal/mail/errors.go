package mail

import "errors"

var (
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrInvalidDKIMKey     = errors.New("invalid DKIM private key")
	ErrNilPart            = errors.New("nil part")
)
