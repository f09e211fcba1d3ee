package coze

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured indicates the endpoint URL or token is missing.
var ErrNotConfigured = errors.New("coze: endpoint not configured")

const (
	snippetLimit = 500
	messageLimit = 600
)

// Error is an upstream failure of a run endpoint call. Status is zero when the
// request never produced a response.
type Error struct {
	Endpoint    string
	Status      int
	Code        string
	RequestID   string
	Message     string
	BodySnippet string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("coze")
	if e.Endpoint != "" {
		b.WriteString(" ")
		b.WriteString(e.Endpoint)
	}
	b.WriteString(": ")
	if e.Status > 0 {
		fmt.Fprintf(&b, "status %d: ", e.Status)
	}
	b.WriteString(e.Message)
	if e.Code != "" {
		fmt.Fprintf(&b, " (code %s)", e.Code)
	}
	return truncate(b.String(), messageLimit)
}

// IsUpstream reports whether err came back from a provider call.
func IsUpstream(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
