package sui

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
)

var ErrDocumentNotFound = errors.New("document not found")

// DocumentNotFoundError names the object that could not be read as a Document.
type DocumentNotFoundError struct {
	ObjectID string
	Reason   string
}

func (e *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.ObjectID)
}

func (e *DocumentNotFoundError) Unwrap() error {
	return ErrDocumentNotFound
}

// Document is the projection of an on-chain contract::Document object.
type Document struct {
	DocID    string   `json:"doc_id"`
	Owner    string   `json:"owner"`
	FileHash string   `json:"file_hash"`
	Signers  []string `json:"signers"`
	Signed   []string `json:"signed"`
	Canceled bool     `json:"canceled"`
}

func (d Document) HasSigned(address string) bool {
	return slices.Contains(d.Signed, NormalizeAddress(address))
}

func (d Document) IsSigner(address string) bool {
	return slices.Contains(d.Signers, NormalizeAddress(address))
}

// AllSigned reports whether the signer list is non-empty and fully contained in
// the signed list.
func (d Document) AllSigned() bool {
	if len(d.Signers) == 0 {
		return false
	}
	for _, signer := range d.Signers {
		if !slices.Contains(d.Signed, signer) {
			return false
		}
	}
	return true
}

type Status string

const (
	StatusDraft     Status = "Draft"
	StatusWaiting   Status = "Waiting"
	StatusCompleted Status = "Completed"
	StatusRejected  Status = "Rejected"
	StatusCanceled  Status = "Canceled"
)

// DeriveStatus infers the display status from the document arrays. rejected is
// true when a RejectedEvent names the document.
func DeriveStatus(doc Document, rejected bool) Status {
	switch {
	case doc.Canceled:
		return StatusCanceled
	case rejected:
		return StatusRejected
	case doc.AllSigned():
		return StatusCompleted
	case len(doc.Signed) > 0:
		return StatusWaiting
	default:
		return StatusDraft
	}
}

type objectResponse struct {
	Data    *objectData `json:"data"`
	Object  *objectData `json:"object"`
	Details *objectData `json:"details"`
}

type objectData struct {
	ObjectID string         `json:"objectId"`
	Content  *objectContent `json:"content"`
}

type objectContent struct {
	DataType string         `json:"dataType"`
	Type     string         `json:"type"`
	Fields   map[string]any `json:"fields"`
}

func (r objectResponse) pick() *objectData {
	for _, data := range []*objectData{r.Data, r.Object, r.Details} {
		if data != nil {
			return data
		}
	}
	return nil
}

func documentFromObject(objectID string, res objectResponse) (Document, error) {
	data := res.pick()
	if data == nil {
		return Document{}, &DocumentNotFoundError{ObjectID: objectID, Reason: "Document not found (no data)"}
	}
	if data.Content == nil || data.Content.DataType != "moveObject" || data.Content.Fields == nil {
		return Document{}, &DocumentNotFoundError{ObjectID: objectID, Reason: "Not a moveObject or no fields"}
	}
	fields := data.Content.Fields

	docID := stringField(fields["doc_id"])
	if docID == "" {
		docID = objectID
	}
	return Document{
		DocID:    NormalizeAddress(docID),
		Owner:    NormalizeAddress(stringField(fields["owner"])),
		FileHash: hashField(fields["file_hash"]),
		Signers:  addressList(fields["signers"]),
		Signed:   addressList(fields["signed"]),
		Canceled: boolField(fields["canceled"]),
	}, nil
}

func stringField(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any:
		// UID fields arrive as {"id": "0x..."}.
		return stringField(v["id"])
	default:
		return ""
	}
}

func boolField(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		parsed, _ := strconv.ParseBool(v)
		return parsed
	default:
		return false
	}
}

func addressList(value any) []string {
	items, _ := value.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := stringField(item); s != "" {
			out = append(out, NormalizeAddress(s))
		}
	}
	return out
}

// hashField renders vector<u8> fields as 0x-prefixed hex. Strings pass through.
func hashField(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []any:
		raw := make([]byte, 0, len(v))
		for _, item := range v {
			n, ok := item.(float64)
			if !ok || n < 0 || n > 255 {
				return ""
			}
			raw = append(raw, byte(n))
		}
		return "0x" + hex.EncodeToString(raw)
	default:
		return ""
	}
}
