// Package fetcher downloads notice documents over HTTP and checks that they
// are what they claim to be.
package fetcher

import (
	"context"
)

// Fetcher downloads a notice document. Implementations make exactly one
// attempt; retries belong to the caller's policy.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// Document is a downloaded and validated notice document.
type Document struct {
	URL         string
	ContentType string
	Detected    string
	Body        []byte
	Hash        string
}
