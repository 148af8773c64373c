package smtp

import "errors"

var (
	ErrNotConnected        = errors.New("not connected")
	ErrAlreadyConnected    = errors.New("already connected")
	ErrStartTLSUnsupported = errors.New("server does not support STARTTLS")
	ErrAuthUnsupported     = errors.New("server offers no supported AUTH mechanism")
	ErrServerClosed        = errors.New("smtp server closed")
	ErrInvalidCertificate  = errors.New("invalid TLS certificate")
)
