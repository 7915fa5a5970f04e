package app

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"blocksign/api/internal/draft"
	"blocksign/api/internal/export"
	"blocksign/api/internal/revisions"
	"blocksign/api/internal/search"
	"blocksign/api/internal/storage"
	"blocksign/api/internal/store"
	"blocksign/api/internal/sui"
	"blocksign/api/internal/util"
)

const (
	maxTitleRunes = 120
	anchoredTag   = "anchored"
)

type UpdateDraftInput struct {
	Title    string       `json:"title"`
	Contract string       `json:"contract"`
	Summary  []string     `json:"summary"`
	Risks    []draft.Risk `json:"riskAnalysis"`
	Message  string       `json:"message"`
}

type PublishInput struct {
	IPFS   bool
	Walrus bool
	Epochs int
}

// RenderedPDF is a contract PDF and its digest.
type RenderedPDF struct {
	Data     []byte
	SHA256   string
	Filename string
}

var allowedRiskLevels = map[string]struct{}{
	draft.LevelHigh:   {},
	draft.LevelMedium: {},
	draft.LevelLow:    {},
}

// GenerateContract drafts a contract. When owner is set the result is stored as a
// draft and its id returned; storage failures are logged and yield an empty id.
func (s *Service) GenerateContract(ctx context.Context, params draft.Params, owner string) (draft.Contract, string, error) {
	contract, err := s.generator.Generate(ctx, params)
	if err != nil {
		return draft.Contract{}, "", err
	}
	if owner == "" || s.drafts == nil {
		return contract, "", nil
	}

	item, err := s.drafts.InsertDraft(ctx, store.Draft{
		ID:       util.NewID("drf"),
		Owner:    owner,
		Title:    draftTitle(contract.Contract, params.Prompt),
		Prompt:   params.Prompt,
		Params:   params,
		Language: string(draft.DetectLanguage(params.Prompt)),
		Contract: contract.Contract,
		Summary:  contract.Summary,
		Risks:    contract.RiskAnalysis,
	})
	if err != nil {
		s.logger.Error("persist draft", zap.String("owner", owner), zap.Error(err))
		return contract, "", nil
	}
	s.recordRevision(item, owner, "Initial draft")
	s.indexDraft(item)
	return contract, item.ID, nil
}

// draftTitle takes the first markdown heading, else the first line of the
// contract, else the prompt.
func draftTitle(contract, prompt string) string {
	var first string
	for _, line := range strings.Split(contract, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if heading := strings.TrimSpace(strings.TrimLeft(line, "#")); heading != "" {
				return clipRunes(heading, maxTitleRunes)
			}
			continue
		}
		if first == "" {
			first = line
		}
	}
	if first == "" {
		first = strings.TrimSpace(prompt)
	}
	if first == "" {
		return "Sözleşme"
	}
	return clipRunes(strings.Trim(first, "*_ "), maxTitleRunes)
}

func clipRunes(value string, n int) string {
	if utf8.RuneCountInString(value) <= n {
		return value
	}
	return strings.TrimSpace(string([]rune(value)[:n]))
}

func (s *Service) recordRevision(item store.Draft, author, message string) {
	if s.revisions == nil {
		return
	}
	if _, _, err := s.revisions.Save(item.ID, revisionContent(item), author, message); err != nil {
		s.logger.Warn("record draft revision", zap.String("draft_id", item.ID), zap.Error(err))
	}
}

func (s *Service) indexDraft(item store.Draft) {
	if s.search == nil {
		return
	}
	s.search.IndexDraft(search.DraftRecord{
		ID:         item.ID,
		Title:      item.Title,
		Contract:   item.Contract,
		Summary:    strings.Join(item.Summary, "\n"),
		Owner:      item.Owner,
		Language:   item.Language,
		DocumentID: item.DocumentID,
	})
}

func revisionContent(item store.Draft) revisions.Content {
	return revisions.Content{Title: item.Title, Contract: item.Contract, Summary: item.Summary, Risks: item.Risks}
}

// ListDrafts lists the drafts of owner, or searches them when q.Text is set.
func (s *Service) ListDrafts(ctx context.Context, owner string, q search.Query) (map[string]any, error) {
	q.Owner = owner
	if strings.TrimSpace(q.Text) != "" && s.search != nil {
		resp := s.search.Search(ctx, q)
		return map[string]any{"results": resp.Results, "total": resp.Total, "query": resp.Query, "engine": resp.Engine}, nil
	}
	items, err := s.drafts.ListDrafts(ctx, owner, q.Limit)
	if err != nil {
		return nil, err
	}
	drafts := make([]map[string]any, 0, len(items))
	for _, item := range items {
		drafts = append(drafts, draftSummary(item))
	}
	return map[string]any{"drafts": drafts}, nil
}

func (s *Service) ownedDraft(ctx context.Context, owner, draftID string) (store.Draft, error) {
	item, err := s.drafts.GetDraft(ctx, draftID)
	if err != nil {
		return store.Draft{}, err
	}
	if item.Owner != owner {
		return store.Draft{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return item, nil
}

func (s *Service) GetDraft(ctx context.Context, owner, draftID string) (map[string]any, error) {
	item, err := s.ownedDraft(ctx, owner, draftID)
	if err != nil {
		return nil, err
	}
	return draftPayload(item), nil
}

// UpdateDraft edits the text and analysis of a draft that is not anchored yet.
// Omitted fields keep their value. Unchanged content is not written.
func (s *Service) UpdateDraft(ctx context.Context, owner, draftID string, input UpdateDraftInput) (map[string]any, error) {
	item, err := s.ownedDraft(ctx, owner, draftID)
	if err != nil {
		return nil, err
	}
	if item.DocumentID != "" {
		return nil, domainError(http.StatusConflict, "DRAFT_ANCHORED", "Draft is anchored on-chain and can no longer change", map[string]any{"documentId": item.DocumentID})
	}
	for _, risk := range input.Risks {
		if _, ok := allowedRiskLevels[risk.Level]; !ok {
			return nil, domainError(http.StatusBadRequest, "INVALID_RISK_LEVEL", "Risk level must be High, Medium or Low", map[string]any{"level": risk.Level})
		}
	}

	next := store.DraftContent{Title: item.Title, Contract: item.Contract, Summary: item.Summary, Risks: item.Risks}
	if title := strings.TrimSpace(input.Title); title != "" {
		next.Title = clipRunes(title, maxTitleRunes)
	}
	if strings.TrimSpace(input.Contract) != "" {
		next.Contract = input.Contract
	}
	if input.Summary != nil {
		next.Summary = input.Summary
	}
	if input.Risks != nil {
		next.Risks = input.Risks
	}

	before := revisionContent(item)
	after := revisions.Content{Title: next.Title, Contract: next.Contract, Summary: next.Summary, Risks: next.Risks}
	if !revisions.HasChanges(before, after) {
		payload := draftPayload(item)
		payload["changed"] = false
		return payload, nil
	}

	updated, err := s.drafts.UpdateDraftContent(ctx, draftID, next)
	if err != nil {
		return nil, err
	}
	if updated.PDF.SHA256 != "" {
		// The stored digest no longer matches the text.
		if err := s.drafts.SetDraftPDF(ctx, draftID, store.PDFInfo{}); err != nil {
			return nil, err
		}
		updated.PDF = store.PDFInfo{}
	}

	message := strings.TrimSpace(input.Message)
	if message == "" {
		message = "Update draft"
	}
	s.recordRevision(updated, owner, message)
	s.indexDraft(updated)

	payload := draftPayload(updated)
	payload["changed"] = true
	payload["changes"] = revisions.DiffFields(before, after)
	return payload, nil
}

func (s *Service) DraftHistory(ctx context.Context, owner, draftID string, limit int) (map[string]any, error) {
	if _, err := s.ownedDraft(ctx, owner, draftID); err != nil {
		return nil, err
	}
	commits, err := s.revisions.History(draftID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"draftId": draftID, "history": commits}, nil
}

// DraftRevision returns the content at hash and how it differs from the current draft.
func (s *Service) DraftRevision(ctx context.Context, owner, draftID, hash string) (map[string]any, error) {
	item, err := s.ownedDraft(ctx, owner, draftID)
	if err != nil {
		return nil, err
	}
	content, commit, err := s.revisions.Content(draftID, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"draftId":      draftID,
		"commit":       commit,
		"title":        content.Title,
		"contract":     content.Contract,
		"summary":      content.Summary,
		"riskAnalysis": content.Risks,
		"changes":      revisions.DiffFields(content, revisionContent(item)),
	}, nil
}

// RenderPDF lays out free text as a contract PDF.
func (s *Service) RenderPDF(text, title string) (RenderedPDF, error) {
	data, err := s.renderer.Render(text, title)
	if err != nil {
		return RenderedPDF{}, err
	}
	sum := sha256.Sum256(data)
	return RenderedPDF{Data: data, SHA256: hex.EncodeToString(sum[:]), Filename: pdfFilename(title)}, nil
}

func pdfFilename(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "contract"
	}
	if len(name) > 60 {
		name = name[:60]
	}
	return name + ".pdf"
}

// DraftPDF renders the draft, records its digest and mirrors it to the artifact
// bucket when one is configured. Mirror failures are logged only.
func (s *Service) DraftPDF(ctx context.Context, owner, draftID string) (RenderedPDF, error) {
	item, err := s.ownedDraft(ctx, owner, draftID)
	if err != nil {
		return RenderedPDF{}, err
	}
	return s.draftPDF(ctx, item)
}

func (s *Service) draftPDF(ctx context.Context, item store.Draft) (RenderedPDF, error) {
	if item.PDF.SHA256 != "" && s.artifacts != nil {
		data, err := s.artifacts.Get(ctx, item.PDF.SHA256)
		if err == nil {
			return RenderedPDF{Data: data, SHA256: item.PDF.SHA256, Filename: pdfFilename(item.Title)}, nil
		}
		if !errors.Is(err, storage.ErrArtifactNotFound) {
			s.logger.Warn("read pdf artifact", zap.String("draft_id", item.ID), zap.Error(err))
		}
	}

	rendered, err := s.RenderPDF(item.Contract, item.Title)
	if err != nil {
		return RenderedPDF{}, err
	}
	if rendered.SHA256 == item.PDF.SHA256 && (item.PDF.ObjectKey != "" || s.artifacts == nil) {
		return rendered, nil
	}

	info := store.PDFInfo{SHA256: rendered.SHA256, Size: int64(len(rendered.Data))}
	if s.artifacts != nil {
		key, err := s.artifacts.Put(ctx, rendered.SHA256, rendered.Data)
		if err != nil {
			s.logger.Warn("mirror pdf artifact", zap.String("draft_id", item.ID), zap.Error(err))
		} else {
			info.ObjectKey = key
		}
	}
	if err := s.drafts.SetDraftPDF(ctx, item.ID, info); err != nil {
		return RenderedPDF{}, err
	}
	return rendered, nil
}

// DraftReport renders the HTML or PDF report of a draft.
func (s *Service) DraftReport(ctx context.Context, owner, draftID string, format export.Format) (*export.Result, error) {
	item, err := s.ownedDraft(ctx, owner, draftID)
	if err != nil {
		return nil, err
	}
	report := export.Report{
		Title:       item.Title,
		Contract:    item.Contract,
		Summary:     item.Summary,
		Risks:       item.Risks,
		Language:    draft.Language(item.Language),
		Owner:       item.Owner,
		PDFSHA256:   item.PDF.SHA256,
		IPFSURL:     item.IPFS.URL,
		WalrusURL:   item.Walrus.URL,
		DocumentID:  item.DocumentID,
		TxDigest:    item.TxDigest,
		GeneratedAt: s.now(),
	}
	if s.revisions != nil {
		if history, err := s.revisions.History(draftID, 1); err == nil && len(history) > 0 {
			report.Revision = history[0].Hash
		}
	}
	if item.DocumentID != "" {
		if status, err := s.documentStatus(ctx, item.DocumentID); err == nil {
			report.Status = string(status)
		} else {
			s.logger.Warn("read document status for report", zap.String("document_id", item.DocumentID), zap.Error(err))
		}
	}
	return s.reports.Export(ctx, report, format)
}

// PublishDraft stores the draft PDF on IPFS and/or Walrus and records the copies.
// The first provider failure aborts the publish.
func (s *Service) PublishDraft(ctx context.Context, owner, draftID string, input PublishInput) (map[string]any, error) {
	if !input.IPFS && !input.Walrus {
		return nil, domainError(http.StatusBadRequest, "NO_TARGET", "Choose at least one of ipfs or walrus", nil)
	}
	item, err := s.ownedDraft(ctx, owner, draftID)
	if err != nil {
		return nil, err
	}
	rendered, err := s.draftPDF(ctx, item)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"ok": true, "draftId": draftID, "sha256": rendered.SHA256}
	var ipfsPin, walrusPin store.Pin
	if input.IPFS {
		pinned, err := s.pinata.Pin(ctx, rendered.Filename, "application/pdf", bytes.NewReader(rendered.Data))
		if err != nil {
			return nil, err
		}
		ipfsPin = store.Pin{ID: pinned.CID, URL: pinned.ViewURL}
		payload["ipfs"] = map[string]any{"cid": pinned.CID, "viewUrl": pinned.ViewURL}
	}
	if input.Walrus {
		blob, err := s.walrus.Store(ctx, input.Epochs, "application/pdf", bytes.NewReader(rendered.Data))
		if err != nil {
			return nil, err
		}
		walrusPin = store.Pin{ID: blob.BlobID, URL: blob.ViewURL}
		payload["walrus"] = map[string]any{"blobId": blob.BlobID, "viewUrl": blob.ViewURL}
	}
	if err := s.drafts.SetDraftPublication(ctx, draftID, ipfsPin, walrusPin); err != nil {
		return nil, err
	}
	return payload, nil
}

// AnchorDraft links a draft to the Document created by digest. The Document's
// file hash must equal the digest of the draft PDF.
func (s *Service) AnchorDraft(ctx context.Context, owner, draftID, digest string) (map[string]any, error) {
	item, err := s.ownedDraft(ctx, owner, draftID)
	if err != nil {
		return nil, err
	}
	if item.PDF.SHA256 == "" {
		return nil, domainError(http.StatusConflict, "PDF_REQUIRED", "Render the draft PDF before anchoring", nil)
	}
	ids, err := s.chain.DocIDs(ctx, digest)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, domainError(http.StatusNotFound, "NO_DOCUMENT", "No Document created in this transaction.", map[string]any{"digest": digest})
	}
	documentID := sui.NormalizeAddress(ids[0])
	doc, err := s.chain.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	want, _ := sui.NormalizeFileHash(item.PDF.SHA256)
	got, err := sui.NormalizeFileHash(doc.FileHash)
	if err != nil || got != want {
		return nil, domainError(http.StatusConflict, "HASH_MISMATCH", "On-chain file hash does not match the draft PDF", map[string]any{
			"expected": want,
			"actual":   doc.FileHash,
		})
	}

	if err := s.drafts.SetDraftAnchor(ctx, draftID, documentID, strings.TrimSpace(digest)); err != nil {
		return nil, err
	}
	item.DocumentID = documentID
	s.indexDraft(item)
	if s.revisions != nil {
		if err := s.revisions.Tag(draftID, anchoredTag, fmt.Sprintf("Anchored as %s in %s", documentID, digest)); err != nil {
			s.logger.Warn("tag anchored revision", zap.String("draft_id", draftID), zap.Error(err))
		}
	}
	return map[string]any{
		"draftId":    draftID,
		"documentId": documentID,
		"digest":     strings.TrimSpace(digest),
		"status":     sui.DeriveStatus(doc, false),
		"count":      len(ids),
	}, nil
}

func draftSummary(item store.Draft) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"title":      item.Title,
		"language":   item.Language,
		"documentId": nilIfEmpty(item.DocumentID),
		"pdfSha256":  nilIfEmpty(item.PDF.SHA256),
		"updatedAt":  item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func draftPayload(item store.Draft) map[string]any {
	payload := map[string]any{
		"id":           item.ID,
		"owner":        item.Owner,
		"title":        item.Title,
		"prompt":       item.Prompt,
		"params":       item.Params,
		"language":     item.Language,
		"contract":     item.Contract,
		"summary":      item.Summary,
		"riskAnalysis": item.Risks,
		"pdf":          nil,
		"ipfs":         nil,
		"walrus":       nil,
		"documentId":   nilIfEmpty(item.DocumentID),
		"txDigest":     nilIfEmpty(item.TxDigest),
		"createdAt":    item.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":    item.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if item.PDF.SHA256 != "" {
		payload["pdf"] = map[string]any{"sha256": item.PDF.SHA256, "size": item.PDF.Size}
	}
	if item.IPFS.ID != "" {
		payload["ipfs"] = map[string]any{"cid": item.IPFS.ID, "viewUrl": item.IPFS.URL}
	}
	if item.Walrus.ID != "" {
		payload["walrus"] = map[string]any{"blobId": item.Walrus.ID, "viewUrl": item.Walrus.URL}
	}
	return payload
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
