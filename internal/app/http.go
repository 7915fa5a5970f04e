package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"blocksign/api/internal/auth"
	"blocksign/api/internal/draft"
	"blocksign/api/internal/export"
	"blocksign/api/internal/pdf"
	"blocksign/api/internal/revisions"
	"blocksign/api/internal/store"
	"blocksign/api/internal/sui"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Head("/api/ready", s.handleReady)

	// Proxy routes
	r.Post("/api/generate-contract", s.handleGenerateContract)
	r.Post("/api/pinata", s.handlePinata)
	r.Post("/api/walrus", s.handleWalrus)
	r.Post("/api/pdf", s.handlePDF)

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", s.handleSession)
		r.Post("/connect", s.handleSessionConnect)
		r.Post("/refresh", s.handleSessionRefresh)
		r.Post("/disconnect", s.handleSessionDisconnect)
	})

	r.Route("/api/drafts", func(r chi.Router) {
		r.Get("/", s.handleListDrafts)
		r.Get("/{draftID}", s.handleGetDraft)
		r.Put("/{draftID}", s.handleUpdateDraft)
		r.Get("/{draftID}/history", s.handleDraftHistory)
		r.Get("/{draftID}/revisions/{hash}", s.handleDraftRevision)
		r.Get("/{draftID}/pdf", s.handleDraftPDF)
		r.Post("/{draftID}/pdf", s.handleDraftPDF)
		r.Get("/{draftID}/report", s.handleDraftReport)
		r.Post("/{draftID}/publish", s.handlePublishDraft)
		r.Post("/{draftID}/anchor", s.handleAnchorDraft)
	})

	r.Get("/api/documents/{documentID}", s.handleDocument)
	r.Post("/api/documents/{documentID}/refresh", s.handleRefreshDocument)
	r.Get("/api/dashboard", s.handleDashboard)

	r.Route("/sui", func(r chi.Router) {
		r.Post("/create/build", s.handleCreateBuild)
		r.Post("/tx/doc-ids", s.handleDocIDs)
		r.Post("/tx/doc-id", s.handleDocID)
		r.Post("/{action:sign|issign|iscomplete|reject|cancel}/build", s.handleActionBuild)
		r.Post("/read/isactive", s.handleReadIsActive)
		r.Post("/read/issign", s.handleReadIsSigned)
		r.Post("/read/iscomplete", s.handleReadIsComplete)
	})

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Readiness(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	disconnected := map[string]any{"isConnected": false, "address": nil, "walletType": nil, "balance": nil}
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, disconnected)
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, disconnected)
		return
	}
	writeJSON(w, http.StatusOK, s.service.SessionState(r.Context(), session))
}

func (s *HTTPServer) handleSessionConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address    string `json:"address"`
		WalletType string `json:"walletType"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Connect(r.Context(), body.Address, body.WalletType)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "REFRESH_TOKEN_REQUIRED", "refreshToken is required", nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleSessionDisconnect(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	s.service.Disconnect(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "isConnected": false})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"address":      session.Address,
		"walletType":   session.WalletType,
		"expiresAt":    session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Document(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleRefreshDocument(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	if err := s.service.RefreshDocument(r.Context(), documentID); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	s.handleDocument(w, r)
}

// handleDashboard serves the connected wallet, or ?address= for read-only views.
func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		address = session.Address
	}
	view, err := s.service.Dashboard(r.Context(), address)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// optionalSession returns the session of a valid bearer token, if any.
func (s *HTTPServer) optionalSession(r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Filename, X-Mime, X-Blob-Mime")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Content-SHA256, Content-Disposition")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// writeFile sends binary content as an attachment.
func writeFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var rpcErr *sui.RPCError
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, sui.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT", strings.TrimPrefix(err.Error(), sui.ErrInvalidInput.Error()+": "), nil
	case errors.Is(err, sui.ErrDocumentNotFound):
		return http.StatusNotFound, "DOCUMENT_NOT_FOUND", err.Error(), nil
	case errors.As(err, &rpcErr):
		return http.StatusBadGateway, "SUI_RPC_ERROR", rpcErr.Message, map[string]any{"rpcCode": rpcErr.Code}
	case errors.Is(err, sui.ErrTransport):
		return http.StatusBadGateway, "SUI_UNAVAILABLE", "Sui fullnode unavailable", nil
	case errors.Is(err, revisions.ErrNoHistory):
		return http.StatusNotFound, "NO_HISTORY", "Draft has no revisions", nil
	case errors.Is(err, pdf.ErrEmptyText), errors.Is(err, export.ErrEmptyReport):
		return http.StatusBadRequest, "EMPTY_TEXT", "There is no contract text to render", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Format must be pdf or html", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF reports need a Chromium installation", nil
	case errors.Is(err, draft.ErrEmptyPrompt):
		return http.StatusBadRequest, "EMPTY_PROMPT", "prompt is required", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
