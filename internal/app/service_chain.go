package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"blocksign/api/internal/storage"
	"blocksign/api/internal/sui"
)

type CreateBuildInput struct {
	Req     sui.CreateRequest   `json:"req"`
	Pay     sui.PayCoin         `json:"pay"`
	Execute *sui.ExecutePayload `json:"execute"`
}

func (s *Service) PinFile(ctx context.Context, filename, mimeType string, body io.Reader) (storage.PinResult, error) {
	return s.pinata.Pin(ctx, filename, mimeType, body)
}

func (s *Service) StoreBlob(ctx context.Context, epochs int, mimeType string, body io.Reader) (storage.BlobResult, error) {
	return s.walrus.Store(ctx, epochs, mimeType, body)
}

// CreateBuild returns the create_contract recipe, or executes the signed
// transaction when input carries one.
func (s *Service) CreateBuild(ctx context.Context, input CreateBuildInput) (any, error) {
	outcome, err := s.chain.CreateAndMaybeExecute(ctx, input.Req, input.Pay, input.Execute)
	if err != nil {
		return nil, err
	}
	if outcome.Execution == nil {
		return outcome.Recipe, nil
	}
	s.logger.Info("contract created on chain",
		zap.String("digest", outcome.Execution.Digest),
		zap.Strings("document_ids", outcome.Execution.DocumentIDs),
		zap.String("effects_status", outcome.Execution.TxResult.EffectsStatus),
	)
	return outcome.Execution, nil
}

func (s *Service) ActionBuild(function, documentID string) (sui.MoveCall, error) {
	if strings.TrimSpace(documentID) == "" {
		return sui.MoveCall{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "document_id is required", nil)
	}
	return s.chain.ActionRecipe(function, documentID)
}

func (s *Service) DocIDs(ctx context.Context, digest string) ([]string, error) {
	return s.chain.DocIDs(ctx, digest)
}

// DocID returns the first Document created by digest, with the count when the
// transaction created more than one.
func (s *Service) DocID(ctx context.Context, digest string) (map[string]any, error) {
	ids, err := s.chain.DocIDs(ctx, digest)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, domainError(http.StatusNotFound, "NO_DOCUMENT", "No Document created in this transaction.", nil)
	}
	payload := map[string]any{"document_id": ids[0]}
	if len(ids) > 1 {
		payload["count"] = len(ids)
	}
	return payload, nil
}

func (s *Service) IsActive(ctx context.Context, documentID string) (int, error) {
	doc, err := s.chain.GetDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	return sui.IsActive(doc), nil
}

func (s *Service) IsSigned(ctx context.Context, documentID, address string) (int, error) {
	doc, err := s.chain.GetDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	return sui.IsSigned(doc, address)
}

func (s *Service) IsComplete(ctx context.Context, documentID string) (sui.Completion, error) {
	doc, err := s.chain.GetDocument(ctx, documentID)
	if err != nil {
		return sui.Completion{}, err
	}
	return sui.IsComplete(doc), nil
}

func (s *Service) rejected(ctx context.Context, documentID string) (bool, error) {
	events, err := s.chain.QueryEvents(ctx, sui.EventRejected, sui.DefaultEventLimit)
	if err != nil {
		return false, err
	}
	id := sui.NormalizeAddress(documentID)
	for _, ev := range events {
		if sui.NormalizeAddress(ev.DocID()) == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) documentStatus(ctx context.Context, documentID string) (sui.Status, error) {
	doc, err := s.chain.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	rejected, err := s.rejected(ctx, documentID)
	if err != nil {
		return "", err
	}
	return sui.DeriveStatus(doc, rejected), nil
}

// Document returns the projection of an on-chain Document with its derived
// status, and the anchored draft when one is known.
func (s *Service) Document(ctx context.Context, documentID string) (map[string]any, error) {
	doc, err := s.chain.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	rejected, err := s.rejected(ctx, doc.DocID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"document":   doc,
		"title":      sui.Title(doc.DocID),
		"status":     sui.DeriveStatus(doc, rejected),
		"isActive":   sui.IsActive(doc),
		"completion": sui.IsComplete(doc),
		"draft":      nil,
	}
	if s.drafts != nil {
		item, err := s.drafts.DraftByDocument(ctx, doc.DocID)
		switch {
		case err == nil:
			payload["title"] = item.Title
			payload["draft"] = map[string]any{"id": item.ID, "title": item.Title, "ipfsUrl": nilIfEmpty(item.IPFS.URL), "walrusUrl": nilIfEmpty(item.Walrus.URL)}
		case !isNotFound(err):
			s.logger.Warn("find draft for document", zap.String("document_id", doc.DocID), zap.Error(err))
		}
	}
	return payload, nil
}

// RefreshDocument drops the cached projection so the next dashboard read hits the chain.
func (s *Service) RefreshDocument(ctx context.Context, documentID string) error {
	if inv, ok := s.documents.(documentInvalidator); ok {
		return inv.Invalidate(ctx, documentID)
	}
	return nil
}

func (s *Service) Dashboard(ctx context.Context, address string) (sui.DashboardView, error) {
	return s.dashboard.Build(ctx, address)
}

func isNotFound(err error) bool {
	status, _, _, _ := mapError(err)
	return status == http.StatusNotFound || errors.Is(err, sui.ErrDocumentNotFound)
}
