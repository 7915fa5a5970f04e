package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type BlobResult struct {
	BlobID  string `json:"blobId"`
	ViewURL string `json:"viewUrl"`
	Raw     any    `json:"raw"`
}

// Walrus stores blobs through a Walrus aggregator.
type Walrus struct {
	client        *http.Client
	aggregator    string
	gateway       string
	defaultEpochs int
}

func NewWalrus(aggregator, gateway string, defaultEpochs int, timeout time.Duration) *Walrus {
	if defaultEpochs <= 0 {
		defaultEpochs = 5
	}
	return &Walrus{
		client:        newHTTPClient(timeout),
		aggregator:    aggregator,
		gateway:       trimBase(gateway),
		defaultEpochs: defaultEpochs,
	}
}

func (w *Walrus) DefaultEpochs() int {
	return w.defaultEpochs
}

// Store posts body for the given number of epochs. Zero epochs uses the default.
func (w *Walrus) Store(ctx context.Context, epochs int, mimeType string, body io.Reader) (BlobResult, error) {
	if epochs <= 0 {
		epochs = w.defaultEpochs
	}
	target := w.aggregator + "?epochs=" + url.QueryEscape(strconv.Itoa(epochs))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return BlobResult{}, fmt.Errorf("build walrus request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if mimeType != "" {
		req.Header.Set("X-Blob-Mime", mimeType)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return BlobResult{}, fmt.Errorf("walrus request: %w", err)
	}
	defer resp.Body.Close()

	decoded, err := readUpstream(resp)
	if err != nil {
		return BlobResult{}, err
	}
	result := BlobResult{
		BlobID: firstString(decoded,
			[]string{"blobId"},
			[]string{"id"},
			[]string{"blob_id"},
			[]string{"newlyCreated", "blobObject", "blobId"},
			[]string{"alreadyCertified", "blobId"},
		),
		Raw: decoded,
	}
	if result.BlobID != "" {
		result.ViewURL = w.gateway + "/v1/blobs/" + result.BlobID
	}
	return result, nil
}
