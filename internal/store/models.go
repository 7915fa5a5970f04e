package store

import (
	"errors"
	"time"

	"blocksign/api/internal/draft"
)

// ErrSessionNotFound is returned for refresh tokens that are unknown, revoked or expired.
var ErrSessionNotFound = errors.New("token not found or expired")

type Draft struct {
	ID         string
	Owner      string
	Title      string
	Prompt     string
	Params     draft.Params
	Language   string
	Contract   string
	Summary    []string
	Risks      []draft.Risk
	PDF        PDFInfo
	IPFS       Pin
	Walrus     Pin
	DocumentID string
	TxDigest   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PDFInfo describes the last rendered PDF of a draft.
type PDFInfo struct {
	SHA256    string
	Size      int64
	ObjectKey string
}

// Pin is a stored copy of the PDF on a content network.
type Pin struct {
	ID  string
	URL string
}

type DraftContent struct {
	Title    string
	Contract string
	Summary  []string
	Risks    []draft.Risk
}

type WalletSession struct {
	Address    string    `json:"address"`
	WalletType string    `json:"wallet_type"`
	CreatedAt  time.Time `json:"created_at"`
}
