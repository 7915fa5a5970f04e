package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const pinataApp = "blocksign-sui"

type PinResult struct {
	CID     string `json:"cid"`
	ViewURL string `json:"viewUrl"`
	Raw     any    `json:"raw"`
}

// Pinata pins files to IPFS through the Pinata pinning API.
type Pinata struct {
	client   *http.Client
	endpoint string
	jwt      string
	gateway  string
	now      func() time.Time
}

func NewPinata(endpoint, jwt, gateway string, timeout time.Duration) *Pinata {
	return &Pinata{
		client:   newHTTPClient(timeout),
		endpoint: endpoint,
		jwt:      jwt,
		gateway:  trimBase(gateway),
		now:      time.Now,
	}
}

func (p *Pinata) Configured() bool {
	return p != nil && p.jwt != ""
}

// Pin uploads body as a multipart file. An empty filename becomes file-<unix ms>.
func (p *Pinata) Pin(ctx context.Context, filename, mimeType string, body io.Reader) (PinResult, error) {
	if !p.Configured() {
		return PinResult{}, fmt.Errorf("PINATA_JWT missing: %w", ErrMissingCredentials)
	}
	if strings.TrimSpace(filename) == "" {
		filename = fmt.Sprintf("file-%d", p.now().UnixMilli())
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return PinResult{}, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return PinResult{}, fmt.Errorf("copy file part: %w", err)
	}
	metadata, _ := json.Marshal(map[string]any{
		"name":      filename,
		"keyvalues": map[string]string{"app": pinataApp},
	})
	if err := writer.WriteField("pinataMetadata", string(metadata)); err != nil {
		return PinResult{}, fmt.Errorf("write metadata: %w", err)
	}
	if err := writer.Close(); err != nil {
		return PinResult{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &form)
	if err != nil {
		return PinResult{}, fmt.Errorf("build pinata request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.jwt)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return PinResult{}, fmt.Errorf("pinata request: %w", err)
	}
	defer resp.Body.Close()

	decoded, err := readUpstream(resp)
	if err != nil {
		return PinResult{}, err
	}
	result := PinResult{
		CID: firstString(decoded, []string{"IpfsHash"}, []string{"Hash"}, []string{"cid"}),
		Raw: decoded,
	}
	if result.CID != "" {
		result.ViewURL = p.gateway + "/ipfs/" + result.CID
	}
	return result, nil
}
