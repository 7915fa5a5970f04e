package app

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"blocksign/api/internal/auth"
	"blocksign/api/internal/config"
	"blocksign/api/internal/draft"
	"blocksign/api/internal/export"
	"blocksign/api/internal/revisions"
	"blocksign/api/internal/search"
	"blocksign/api/internal/storage"
	"blocksign/api/internal/store"
	"blocksign/api/internal/sui"
	"blocksign/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	Address      string
	WalletType   string
	JTI          string
	ExpiresAt    time.Time
}

type draftStore interface {
	InsertDraft(context.Context, store.Draft) (store.Draft, error)
	GetDraft(context.Context, string) (store.Draft, error)
	ListDrafts(context.Context, string, int) ([]store.Draft, error)
	UpdateDraftContent(context.Context, string, store.DraftContent) (store.Draft, error)
	SetDraftPDF(context.Context, string, store.PDFInfo) error
	SetDraftPublication(context.Context, string, store.Pin, store.Pin) error
	SetDraftAnchor(context.Context, string, string, string) error
	DraftByDocument(context.Context, string) (store.Draft, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.WalletSession, time.Time) error
	ConsumeRefreshSession(context.Context, string) (store.WalletSession, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type contractGenerator interface {
	Generate(context.Context, draft.Params) (draft.Contract, error)
}

type pdfRenderer interface {
	Render(text, title string) ([]byte, error)
}

type ipfsPinner interface {
	Pin(ctx context.Context, filename, mimeType string, body io.Reader) (storage.PinResult, error)
}

type blobStore interface {
	Store(ctx context.Context, epochs int, mimeType string, body io.Reader) (storage.BlobResult, error)
}

type artifactMirror interface {
	Put(context.Context, string, []byte) (string, error)
	Get(context.Context, string) ([]byte, error)
}

type chainBridge interface {
	CreateAndMaybeExecute(context.Context, sui.CreateRequest, sui.PayCoin, *sui.ExecutePayload) (sui.CreateOutcome, error)
	ActionRecipe(function, documentID string) (sui.MoveCall, error)
	DocIDs(context.Context, string) ([]string, error)
	QueryEvents(ctx context.Context, name string, limit int) ([]sui.Event, error)
	Balance(context.Context, string) (sui.Balance, error)
	GetDocument(context.Context, string) (sui.Document, error)
}

type dashboardBuilder interface {
	Build(context.Context, string) (sui.DashboardView, error)
}

type draftIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexDraft(search.DraftRecord)
	DeleteDraft(string)
}

type revisionStore interface {
	Save(draftID string, content revisions.Content, author, message string) (revisions.Commit, bool, error)
	History(draftID string, limit int) ([]revisions.Commit, error)
	Content(draftID, hash string) (revisions.Content, revisions.Commit, error)
	Tag(draftID, name, message string) error
}

type reportExporter interface {
	Export(context.Context, export.Report, export.Format) (*export.Result, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type documentInvalidator interface {
	Invalidate(ctx context.Context, documentID string) error
}

// Deps are the collaborators of a Service. Artifacts and Redis are optional and
// must be left nil, not set to a typed nil, when the backing system is absent.
// Documents is the projection source shared with the dashboard, possibly cached;
// single-document reads always go to Chain.
type Deps struct {
	Drafts    draftStore
	Sessions  sessionStore
	Generator contractGenerator
	Renderer  pdfRenderer
	Pinata    ipfsPinner
	Walrus    blobStore
	Artifacts artifactMirror
	Chain     chainBridge
	Documents sui.DocumentSource
	Dashboard dashboardBuilder
	Search    draftIndex
	Revisions revisionStore
	Reports   reportExporter
	Redis     pinger
}

type Service struct {
	cfg       config.Config
	logger    *zap.Logger
	drafts    draftStore
	sessions  sessionStore
	generator contractGenerator
	renderer  pdfRenderer
	pinata    ipfsPinner
	walrus    blobStore
	artifacts artifactMirror
	chain     chainBridge
	documents sui.DocumentSource
	dashboard dashboardBuilder
	search    draftIndex
	revisions revisionStore
	reports   reportExporter
	redis     pinger
	now       func() time.Time
}

func New(cfg config.Config, deps Deps, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		logger:    logger,
		drafts:    deps.Drafts,
		sessions:  deps.Sessions,
		generator: deps.Generator,
		renderer:  deps.Renderer,
		pinata:    deps.Pinata,
		walrus:    deps.Walrus,
		artifacts: deps.Artifacts,
		chain:     deps.Chain,
		documents: deps.Documents,
		dashboard: deps.Dashboard,
		search:    deps.Search,
		revisions: deps.Revisions,
		reports:   deps.Reports,
		redis:     deps.Redis,
		now:       time.Now,
	}
}

var suiAddress = regexp.MustCompile(`^0x[0-9a-f]{1,64}$`)

// Connect opens a wallet session for address. The wallet signature is not
// verified here; the wallet extension already proved key ownership to the client.
func (s *Service) Connect(ctx context.Context, address, walletType string) (Session, error) {
	owner := sui.NormalizeAddress(address)
	if !suiAddress.MatchString(owner) {
		return Session{}, domainError(http.StatusBadRequest, "INVALID_ADDRESS", "Invalid address", map[string]any{"address": address})
	}
	walletType = strings.TrimSpace(walletType)
	if walletType == "" {
		walletType = "sui-wallet"
	}
	return s.issueSession(ctx, store.WalletSession{Address: owner, WalletType: walletType, CreatedAt: s.now().UTC()})
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	wallet, err := s.sessions.ConsumeRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, wallet)
}

func (s *Service) issueSession(ctx context.Context, wallet store.WalletSession) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:        wallet.Address,
		WalletType: wallet.WalletType,
		JTI:        jti,
		Exp:        expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), wallet, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		Address:      wallet.Address,
		WalletType:   wallet.WalletType,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:      token,
		Address:    claims.Sub,
		WalletType: claims.WalletType,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

// Disconnect revokes the access token and, when given, the refresh token.
func (s *Service) Disconnect(ctx context.Context, session Session, refreshToken string) {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.String("jti", session.JTI), zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session", zap.Error(err))
		}
	}
}

// SessionState is the wallet view returned by GET /api/session. Balance is nil
// when the fullnode could not be asked.
func (s *Service) SessionState(ctx context.Context, session Session) map[string]any {
	var balance any
	if s.chain != nil {
		b, err := s.chain.Balance(ctx, session.Address)
		if err != nil {
			s.logger.Warn("read balance", zap.String("address", session.Address), zap.Error(err))
		} else {
			balance = b.SUI
		}
	}
	return map[string]any{
		"isConnected": true,
		"address":     session.Address,
		"walletType":  session.WalletType,
		"balance":     balance,
	}
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.drafts.Ping(ctx)
}

// Readiness pings every backing system. A nil value means healthy.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.Ping(ctx)}
	if s.redis != nil {
		checks["redis"] = s.redis.Ping(ctx)
	}
	return checks
}
