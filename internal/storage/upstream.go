// Package storage forwards contract files to IPFS pinning, Walrus, and the
// S3-compatible artifact mirror.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const maxErrorBody = 2000

var (
	ErrMissingCredentials = errors.New("storage credentials missing")
	ErrArtifactNotFound   = errors.New("artifact not found")
)

// UpstreamError is a non-2xx answer from a storage provider.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// readUpstream returns the decoded JSON body, or {"raw": text} when the body is
// not JSON. Non-2xx responses become *UpstreamError.
func readUpstream(resp *http.Response) (any, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	text := string(raw)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: truncate(text, maxErrorBody)}
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]any{"raw": text}, nil
	}
	return decoded, nil
}

// firstString returns the first non-empty string found at any of the key paths.
func firstString(value any, paths ...[]string) string {
	for _, path := range paths {
		current := value
		for _, key := range path {
			object, ok := current.(map[string]any)
			if !ok {
				current = nil
				break
			}
			current = object[key]
		}
		if s, ok := current.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func trimBase(base string) string {
	return strings.TrimRight(base, "/")
}
