package app

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"blocksign/api/internal/draft"
	"blocksign/api/internal/storage"
)

const (
	generateFailedMessage = "Sözleşme oluşturulurken hata oluştu"
	modelMissingMessage   = "API anahtarı yapılandırılmamış"
)

func (s *HTTPServer) handleGenerateContract(w http.ResponseWriter, r *http.Request) {
	var params draft.Params
	if err := decodeBody(r, &params); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	var owner string
	if session, ok := s.optionalSession(r); ok {
		owner = session.Address
	}
	contract, draftID, err := s.service.GenerateContract(r.Context(), params, owner)
	if err != nil {
		switch {
		case errors.Is(err, draft.ErrEmptyPrompt):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "prompt is required"})
		case errors.Is(err, draft.ErrModelUnavailable):
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": modelMissingMessage})
		default:
			s.logger.Error("contract generation failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": generateFailedMessage})
		}
		return
	}

	payload := map[string]any{
		"contract":     contract.Contract,
		"summary":      contract.Summary,
		"riskAnalysis": contract.RiskAnalysis,
	}
	if draftID != "" {
		payload["draftId"] = draftID
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handlePinata(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	// Empty headers fall through to the pinning client's file-<ms> and octet-stream defaults.
	filename := strings.TrimSpace(r.Header.Get("x-filename"))
	mimeType := strings.TrimSpace(r.Header.Get("x-mime"))

	result, err := s.service.PinFile(r.Context(), filename, mimeType, bytes.NewReader(body))
	if err != nil {
		s.writeProxyError(w, r, "pinata", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"cid":     result.CID,
		"viewUrl": result.ViewURL,
		"raw":     result.Raw,
	})
}

func (s *HTTPServer) handleWalrus(w http.ResponseWriter, r *http.Request) {
	epochs := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("epochs")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "epochs must be a positive integer"})
			return
		}
		epochs = parsed
	}
	body, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	mimeType := headerOr(r, "x-blob-mime", "application/octet-stream")

	result, err := s.service.StoreBlob(r.Context(), epochs, mimeType, bytes.NewReader(body))
	if err != nil {
		s.writeProxyError(w, r, "walrus", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"blobId":  result.BlobID,
		"viewUrl": result.ViewURL,
		"raw":     result.Raw,
	})
}

func (s *HTTPServer) handlePDF(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text  string `json:"text"`
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	rendered, err := s.service.RenderPDF(body.Text, body.Title)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	w.Header().Set("X-Content-SHA256", rendered.SHA256)
	writeFile(w, "application/pdf", rendered.Filename, rendered.Data)
}

// readUpload reads the raw request body, bounded by the configured upload limit.
func (s *HTTPServer) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limit := s.service.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = 20 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"ok": false, "error": "upload exceeds " + strconv.FormatInt(limit, 10) + " bytes"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "could not read request body"})
		return nil, false
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "request body is empty"})
		return nil, false
	}
	return body, true
}

// writeProxyError renders storage failures as {ok:false, status, error}. Every
// failure is a 500; the upstream status travels in the body.
func (s *HTTPServer) writeProxyError(w http.ResponseWriter, r *http.Request, provider string, err error) {
	s.logger.Warn("upstream storage failed",
		zap.String("request_id", requestID(r.Context())),
		zap.String("provider", provider),
		zap.Error(err),
	)
	var upstream *storage.UpstreamError
	switch {
	case errors.As(err, &upstream):
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "status": upstream.Status, "error": upstream.Body})
	case errors.Is(err, storage.ErrMissingCredentials):
		message := strings.TrimSuffix(err.Error(), ": "+storage.ErrMissingCredentials.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": message})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
	}
}

func isProxyFailure(err error) bool {
	var upstream *storage.UpstreamError
	return errors.As(err, &upstream) || errors.Is(err, storage.ErrMissingCredentials)
}

func headerOr(r *http.Request, name, fallback string) string {
	if value := strings.TrimSpace(r.Header.Get(name)); value != "" {
		return value
	}
	return fallback
}
