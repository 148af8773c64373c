package fake

import (
	"context"
	"slices"
	"sync"
)

// Delivery is one recorded Send call.
type Delivery struct {
	From       string
	Recipients []string
	Raw        []byte
}

// Transport is a scripted in-memory transport. Errors are returned by the
// matching call; SendErrs is consumed one entry per Send before SendErr
// applies.
type Transport struct {
	ConnectErr  error
	StartTLSErr error
	AuthErr     error
	CloseErr    error
	SendErrs    []error
	SendErr     error

	Calls      []string
	Host       string
	Port       int
	Identity   string
	Credential string
	Attempts   []Delivery
	Closed     int

	mu sync.Mutex
}

func NewTransport() *Transport {
	return &Transport{
		Calls:    []string{},
		Attempts: []Delivery{},
		mu:       sync.Mutex{},
	}
}

func (t *Transport) Connect(_ context.Context, host string, port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Calls = append(t.Calls, "connect")
	t.Host = host
	t.Port = port
	return t.ConnectErr
}

func (t *Transport) StartTLS() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Calls = append(t.Calls, "starttls")
	return t.StartTLSErr
}

func (t *Transport) Authenticate(identity, credential string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Calls = append(t.Calls, "auth")
	t.Identity = identity
	t.Credential = credential
	return t.AuthErr
}

func (t *Transport) Send(from string, recipients []string, raw []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Calls = append(t.Calls, "send")
	t.Attempts = append(t.Attempts, Delivery{
		From:       from,
		Recipients: slices.Clone(recipients),
		Raw:        slices.Clone(raw),
	})

	if len(t.SendErrs) > 0 {
		err := t.SendErrs[0]
		t.SendErrs = t.SendErrs[1:]
		return err
	}
	return t.SendErr
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Calls = append(t.Calls, "close")
	t.Closed++
	return t.CloseErr
}

// Count returns how often the named call was made.
func (t *Transport) Count(call string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, c := range t.Calls {
		if c == call {
			n++
		}
	}
	return n
}
