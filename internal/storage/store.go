// Package storage holds generated binaries: images and videos produced by the
// pipelines, re-uploaded from the provider's temporary URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ObjectStore is durable storage for generated binaries.
type ObjectStore interface {
	// Put stores data under key and returns the key actually used.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// URL returns a URL the client can load key from.
	URL(ctx context.Context, key string) (string, error)
}

// TransportError is a failed binary download or upload. Status is the HTTP
// status when one was received.
type TransportError struct {
	Op     string
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status > 0:
		return fmt.Sprintf("%s failed: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	default:
		return e.Op + " failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by a *TransportError in err, or 0.
func StatusOf(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}
