package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type documentRequest struct {
	DocumentID string `json:"document_id"`
	Address    string `json:"address"`
	Sender     string `json:"sender"`
}

type digestRequest struct {
	Digest string `json:"digest"`
}

func (s *HTTPServer) handleCreateBuild(w http.ResponseWriter, r *http.Request) {
	var input CreateBuildInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.CreateBuild(r.Context(), input)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleDocIDs(w http.ResponseWriter, r *http.Request) {
	var body digestRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ids, err := s.service.DocIDs(r.Context(), body.Digest)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_ids": ids})
}

func (s *HTTPServer) handleDocID(w http.ResponseWriter, r *http.Request) {
	var body digestRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.DocID(r.Context(), body.Digest)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleActionBuild serves the sign, issign, iscomplete, reject and cancel recipes.
func (s *HTTPServer) handleActionBuild(w http.ResponseWriter, r *http.Request) {
	var body documentRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	recipe, err := s.service.ActionBuild(chi.URLParam(r, "action"), body.DocumentID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

func (s *HTTPServer) handleReadIsActive(w http.ResponseWriter, r *http.Request) {
	var body documentRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	active, err := s.service.IsActive(r.Context(), body.DocumentID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"is_active": active})
}

func (s *HTTPServer) handleReadIsSigned(w http.ResponseWriter, r *http.Request) {
	var body documentRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	signed, err := s.service.IsSigned(r.Context(), body.DocumentID, body.Address)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issign": signed})
}

func (s *HTTPServer) handleReadIsComplete(w http.ResponseWriter, r *http.Request) {
	var body documentRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	completion, err := s.service.IsComplete(r.Context(), body.DocumentID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}
