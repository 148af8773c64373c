package mails

import "time"

// Mail is a message accepted by the local relay for one local owner.
type Mail struct {
	ID         string            `json:"id"`
	Owner      string            `json:"owner"`
	From       string            `json:"from"`
	Recipients []string          `json:"recipients"`
	Subject    string            `json:"subject"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Size       int               `json:"size"`
	ReceivedAt time.Time         `json:"received_at"`
}
