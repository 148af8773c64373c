package session

import (
	"fmt"
	"strings"
)

// Report is the outcome of a finished session. Failed lists the primary
// recipient of every failed send in the order the failures happened.
type Report struct {
	Sent   int
	Failed []string
}

func (r Report) OK() bool {
	return len(r.Failed) == 0
}

func (r Report) String() string {
	if r.OK() {
		return fmt.Sprintf("all %d mails sent successfully", r.Sent)
	}
	return fmt.Sprintf("%d mails sent, failed for: %s", r.Sent, strings.Join(r.Failed, ", "))
}
