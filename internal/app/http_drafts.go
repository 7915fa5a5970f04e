package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"blocksign/api/internal/export"
	"blocksign/api/internal/search"
)

func (s *HTTPServer) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	q := search.Query{
		Text:   strings.TrimSpace(r.URL.Query().Get("q")),
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	}
	payload, err := s.service.ListDrafts(r.Context(), session.Address, q)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	payload, err := s.service.GetDraft(r.Context(), session.Address, chi.URLParam(r, "draftID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var input UpdateDraftInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateDraft(r.Context(), session.Address, chi.URLParam(r, "draftID"), input)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleDraftHistory(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	payload, err := s.service.DraftHistory(r.Context(), session.Address, chi.URLParam(r, "draftID"), queryInt(r, "limit", 50))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleDraftRevision(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	payload, err := s.service.DraftRevision(r.Context(), session.Address, chi.URLParam(r, "draftID"), chi.URLParam(r, "hash"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleDraftPDF(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	rendered, err := s.service.DraftPDF(r.Context(), session.Address, chi.URLParam(r, "draftID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	w.Header().Set("X-Content-SHA256", rendered.SHA256)
	writeFile(w, "application/pdf", rendered.Filename, rendered.Data)
}

func (s *HTTPServer) handleDraftReport(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(strings.ToLower(r.URL.Query().Get("format")))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	result, err := s.service.DraftReport(r.Context(), session.Address, chi.URLParam(r, "draftID"), format)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeFile(w, result.MimeType, result.Filename, result.Data)
}

// handlePublishDraft accepts ?targets=ipfs,walrus (both when omitted) and ?epochs=.
func (s *HTTPServer) handlePublishDraft(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	input := PublishInput{Epochs: queryInt(r, "epochs", 0)}
	if input.Epochs < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_EPOCHS", "epochs must be a positive integer", nil)
		return
	}
	targets := strings.TrimSpace(r.URL.Query().Get("targets"))
	if targets == "" {
		targets = "ipfs,walrus"
	}
	for _, target := range strings.Split(targets, ",") {
		switch strings.ToLower(strings.TrimSpace(target)) {
		case "ipfs":
			input.IPFS = true
		case "walrus":
			input.Walrus = true
		case "":
		default:
			writeError(w, http.StatusBadRequest, "INVALID_TARGET", "Unknown publish target", map[string]any{"target": target})
			return
		}
	}

	payload, err := s.service.PublishDraft(r.Context(), session.Address, chi.URLParam(r, "draftID"), input)
	if err != nil {
		if isProxyFailure(err) {
			s.writeProxyError(w, r, "publish", err)
			return
		}
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAnchorDraft(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Digest string `json:"digest"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.AnchorDraft(r.Context(), session.Address, chi.URLParam(r, "draftID"), body.Digest)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
