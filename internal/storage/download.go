package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultMaxDownloadBytes caps a fetched binary when no limit is given.
const DefaultMaxDownloadBytes = 512 << 20

// Fetch downloads rawURL, reading at most limit bytes. data: URIs are decoded
// in place. A non-2xx reply or an oversized body becomes a *TransportError.
func Fetch(ctx context.Context, client *http.Client, rawURL string, limit int64) ([]byte, string, error) {
	if limit <= 0 {
		limit = DefaultMaxDownloadBytes
	}
	rawURL = strings.TrimSpace(rawURL)
	if strings.HasPrefix(rawURL, "data:") {
		return decodeDataURI(rawURL)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" {
		return nil, "", &TransportError{Op: "download", URL: rawURL, Err: fmt.Errorf("invalid url %q", rawURL)}
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", &TransportError{Op: "download", URL: rawURL, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", &TransportError{Op: "download", URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &TransportError{Op: "download", URL: rawURL, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", &TransportError{Op: "download", URL: rawURL, Err: err}
	}
	if int64(len(data)) > limit {
		return nil, "", &TransportError{Op: "download", URL: rawURL, Err: fmt.Errorf("body exceeds %d bytes", limit)}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func decodeDataURI(uri string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", &TransportError{Op: "download", Err: errors.New("malformed data uri")}
	}
	contentType := strings.TrimSuffix(meta, ";base64")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", &TransportError{Op: "download", Err: fmt.Errorf("decode data uri: %w", err)}
		}
		return data, contentType, nil
	}
	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", &TransportError{Op: "download", Err: fmt.Errorf("decode data uri: %w", err)}
	}
	return []byte(unescaped), contentType, nil
}
