package session

import (
	"errors"
	"fmt"
)

var (
	ErrSetup        = errors.New("mail session setup failed")
	ErrInvalidState = errors.New("invalid session state")
	ErrNoMessage    = fmt.Errorf("%w: no message created", ErrInvalidState)
	ErrClosed       = fmt.Errorf("%w: session is finished", ErrInvalidState)
)
