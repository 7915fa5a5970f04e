package app

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"blocksign/api/internal/config"
	"blocksign/api/internal/draft"
	"blocksign/api/internal/export"
	"blocksign/api/internal/pdf"
	"blocksign/api/internal/revisions"
	"blocksign/api/internal/search"
	"blocksign/api/internal/storage"
	"blocksign/api/internal/store"
	"blocksign/api/internal/sui"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testPackage = "0xpkg"
	alice       = "0xa11ce"
	bob         = "0xb0b"
)

type memoryDrafts struct {
	mu        sync.Mutex
	items     map[string]store.Draft
	insertErr error
	pingErr   error
	clock     time.Time
}

func newMemoryDrafts() *memoryDrafts {
	return &memoryDrafts{items: map[string]store.Draft{}, clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *memoryDrafts) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memoryDrafts) InsertDraft(_ context.Context, item store.Draft) (store.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return store.Draft{}, m.insertErr
	}
	now := m.tick()
	item.CreatedAt, item.UpdatedAt = now, now
	m.items[item.ID] = item
	return item, nil
}

func (m *memoryDrafts) GetDraft(_ context.Context, id string) (store.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return store.Draft{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memoryDrafts) ListDrafts(_ context.Context, owner string, limit int) ([]store.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Draft{}
	for _, item := range m.items {
		if item.Owner == owner {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryDrafts) UpdateDraftContent(_ context.Context, id string, content store.DraftContent) (store.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return store.Draft{}, sql.ErrNoRows
	}
	item.Title = content.Title
	item.Contract = content.Contract
	item.Summary = content.Summary
	item.Risks = content.Risks
	item.UpdatedAt = m.tick()
	m.items[id] = item
	return item, nil
}

func (m *memoryDrafts) SetDraftPDF(_ context.Context, id string, info store.PDFInfo) error {
	return m.update(id, func(item *store.Draft) { item.PDF = info })
}

func (m *memoryDrafts) SetDraftPublication(_ context.Context, id string, ipfs, walrus store.Pin) error {
	return m.update(id, func(item *store.Draft) {
		if ipfs.ID != "" {
			item.IPFS = ipfs
		}
		if walrus.ID != "" {
			item.Walrus = walrus
		}
	})
}

func (m *memoryDrafts) SetDraftAnchor(_ context.Context, id, documentID, digest string) error {
	return m.update(id, func(item *store.Draft) {
		item.DocumentID = documentID
		item.TxDigest = digest
	})
}

func (m *memoryDrafts) DraftByDocument(_ context.Context, documentID string) (store.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.DocumentID == documentID {
			return item, nil
		}
	}
	return store.Draft{}, sql.ErrNoRows
}

func (m *memoryDrafts) Ping(context.Context) error {
	return m.pingErr
}

func (m *memoryDrafts) update(id string, fn func(*store.Draft)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	fn(&item)
	m.items[id] = item
	return nil
}

func (m *memoryDrafts) get(t *testing.T, id string) store.Draft {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	require.True(t, ok, "draft %s not stored", id)
	return item
}

type memorySessions struct {
	mu      sync.Mutex
	refresh map[string]store.WalletSession
	revoked map[string]time.Time
}

func newMemorySessions() *memorySessions {
	return &memorySessions{refresh: map[string]store.WalletSession{}, revoked: map[string]time.Time{}}
}

func (m *memorySessions) SaveRefreshSession(_ context.Context, tokenHash string, session store.WalletSession, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = session
	return nil
}

func (m *memorySessions) ConsumeRefreshSession(_ context.Context, tokenHash string) (store.WalletSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.refresh[tokenHash]
	if !ok {
		return store.WalletSession{}, store.ErrSessionNotFound
	}
	delete(m.refresh, tokenHash)
	return session, nil
}

func (m *memorySessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, tokenHash)
	return nil
}

func (m *memorySessions) RevokeAccessToken(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = expiresAt
	return nil
}

func (m *memorySessions) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

type fakeGenerator struct {
	contract draft.Contract
	err      error
	got      draft.Params
}

func (f *fakeGenerator) Generate(_ context.Context, params draft.Params) (draft.Contract, error) {
	f.got = params
	if strings.TrimSpace(params.Prompt) == "" {
		return draft.Contract{}, draft.ErrEmptyPrompt
	}
	if f.err != nil {
		return draft.Contract{}, f.err
	}
	return f.contract, nil
}

type fakeRenderer struct{}

func (fakeRenderer) Render(text, title string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, pdf.ErrEmptyText
	}
	return []byte("%PDF-1.4\n" + title + "\n" + text), nil
}

func pdfDigest(title, text string) string {
	data, _ := fakeRenderer{}.Render(text, title)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type fakePinner struct {
	mu       sync.Mutex
	err      error
	filename string
	mimeType string
	body     []byte
	calls    int
}

func (f *fakePinner) Pin(_ context.Context, filename, mimeType string, body io.Reader) (storage.PinResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return storage.PinResult{}, f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.PinResult{}, err
	}
	f.filename, f.mimeType, f.body = filename, mimeType, data
	return storage.PinResult{
		CID:     "bafytest",
		ViewURL: "https://gateway.test/ipfs/bafytest",
		Raw:     map[string]any{"IpfsHash": "bafytest", "PinSize": len(data)},
	}, nil
}

type fakeBlobs struct {
	mu       sync.Mutex
	err      error
	epochs   int
	mimeType string
	body     []byte
	calls    int
}

func (f *fakeBlobs) Store(_ context.Context, epochs int, mimeType string, body io.Reader) (storage.BlobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return storage.BlobResult{}, f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.BlobResult{}, err
	}
	f.epochs, f.mimeType, f.body = epochs, mimeType, data
	return storage.BlobResult{
		BlobID:  "blob-1",
		ViewURL: "https://walrus.test/v1/blobs/blob-1",
		Raw:     map[string]any{"newlyCreated": map[string]any{"blobObject": map[string]any{"blobId": "blob-1"}}},
	}, nil
}

type memoryArtifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (m *memoryArtifacts) Put(_ context.Context, sha string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.puts++
	key := "pdf/" + sha + ".pdf"
	m.objects[sha] = append([]byte(nil), data...)
	return key, nil
}

func (m *memoryArtifacts) Get(_ context.Context, sha string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[sha]
	if !ok {
		return nil, storage.ErrArtifactNotFound
	}
	return data, nil
}

type recordingIndex struct {
	mu      sync.Mutex
	records map[string]search.DraftRecord
}

func (r *recordingIndex) Healthy() bool { return true }

func (r *recordingIndex) Search(_ context.Context, q search.Query) ([]search.Result, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []search.Result{}
	for _, record := range r.records {
		if record.Owner != q.Owner {
			continue
		}
		if strings.Contains(strings.ToLower(record.Contract+" "+record.Title), strings.ToLower(q.Text)) {
			out = append(out, search.Result{ID: record.ID, Title: record.Title, Owner: record.Owner, DocumentID: record.DocumentID})
		}
	}
	return out, len(out), nil
}

func (r *recordingIndex) IndexDrafts(records []search.DraftRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records == nil {
		r.records = map[string]search.DraftRecord{}
	}
	for _, record := range records {
		r.records[record.ID] = record
	}
	return nil
}

func (r *recordingIndex) DeleteDraft(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

func (r *recordingIndex) record(id string) (search.DraftRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	return record, ok
}

// chainFixture answers the JSON-RPC methods the bridge uses from in-memory state.
type chainFixture struct {
	mu      sync.Mutex
	objects map[string]map[string]any
	txs     map[string][]string
	events  map[string][]map[string]any
	balance string
	fail    error
	calls   map[string]int
}

func newChainFixture() *chainFixture {
	return &chainFixture{
		objects: map[string]map[string]any{},
		txs:     map[string][]string{},
		events:  map[string][]map[string]any{},
		balance: "1500000000",
		calls:   map[string]int{},
	}
}

func (c *chainFixture) addDocument(id, owner, fileHash string, signers, signed []string, canceled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[id] = map[string]any{
		"data": map[string]any{
			"objectId": id,
			"content": map[string]any{
				"dataType": "moveObject",
				"type":     testPackage + "::contract::Document",
				"fields": map[string]any{
					"doc_id":    id,
					"owner":     owner,
					"file_hash": fileHash,
					"signers":   signers,
					"signed":    signed,
					"canceled":  canceled,
				},
			},
		},
	}
}

func (c *chainFixture) addTransaction(digest string, documentIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[digest] = documentIDs
}

func (c *chainFixture) addEvent(name, timestampMs string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[name] = append(c.events[name], map[string]any{
		"id":          map[string]any{"txDigest": "0xevent", "eventSeq": "0"},
		"type":        testPackage + "::contract::" + name,
		"parsedJson":  fields,
		"timestampMs": timestampMs,
	})
}

func (c *chainFixture) Call(_ context.Context, method string, params []any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
	if c.fail != nil {
		return c.fail
	}

	var result any
	switch method {
	case "sui_getObject":
		id, _ := params[0].(string)
		obj, ok := c.objects[id]
		if !ok {
			result = map[string]any{"error": map[string]any{"code": "notExists", "object_id": id}}
			break
		}
		result = obj
	case "sui_getTransactionBlock", "suix_getTransactionBlock":
		digest, _ := params[0].(string)
		result = txResult(digest, c.txs[digest])
	case "sui_executeTransactionBlock":
		block := txResult("0xexecuted", []string{"0xnewdoc"})
		block["effects"] = map[string]any{"status": map[string]any{"status": "success"}}
		result = block
	case "suix_queryEvents":
		query, _ := params[0].(map[string]string)
		eventType := query["MoveEventType"]
		name := eventType[strings.LastIndex(eventType, "::")+2:]
		data := c.events[name]
		if data == nil {
			data = []map[string]any{}
		}
		result = map[string]any{"data": data, "hasNextPage": false}
	case "suix_getBalance":
		result = map[string]any{"coinType": "0x2::sui::SUI", "totalBalance": c.balance}
	default:
		return fmt.Errorf("unexpected method %s", method)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func txResult(digest string, documentIDs []string) map[string]any {
	changes := []map[string]any{{"type": "mutated", "objectType": "0x2::coin::Coin<0x2::sui::SUI>", "objectId": "0xgas"}}
	for _, id := range documentIDs {
		changes = append(changes, map[string]any{"type": "created", "objectType": testPackage + "::contract::Document", "objectId": id})
	}
	return map[string]any{"digest": digest, "objectChanges": changes}
}

// snapshotDocuments keeps the first projection read per document until invalidated.
type snapshotDocuments struct {
	source sui.DocumentSource

	mu    sync.Mutex
	items map[string]sui.Document
}

func (d *snapshotDocuments) GetDocument(ctx context.Context, documentID string) (sui.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if doc, ok := d.items[documentID]; ok {
		return doc, nil
	}
	doc, err := d.source.GetDocument(ctx, documentID)
	if err != nil {
		return sui.Document{}, err
	}
	if d.items == nil {
		d.items = map[string]sui.Document{}
	}
	d.items[documentID] = doc
	return doc, nil
}

func (d *snapshotDocuments) Invalidate(_ context.Context, documentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, documentID)
	return nil
}

type harness struct {
	svc       *Service
	server    http.Handler
	drafts    *memoryDrafts
	sessions  *memorySessions
	generator *fakeGenerator
	pinner    *fakePinner
	blobs     *fakeBlobs
	artifacts *memoryArtifacts
	index     *recordingIndex
	chain     *chainFixture
	documents *snapshotDocuments
	search    *search.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	h := &harness{
		drafts:   newMemoryDrafts(),
		sessions: newMemorySessions(),
		generator: &fakeGenerator{contract: draft.Contract{
			Contract: "# Hizmet Sözleşmesi\n\nTaraflar aşağıdaki şartlarda anlaşmıştır.",
			Summary:  []string{"Aylık ödeme yapılır."},
			RiskAnalysis: []draft.Risk{
				{Level: draft.LevelMedium, Description: "Fesih süresi kısa."},
			},
		}},
		pinner:    &fakePinner{},
		blobs:     &fakeBlobs{},
		artifacts: &memoryArtifacts{},
		index:     &recordingIndex{},
		chain:     newChainFixture(),
	}
	h.search = search.NewService(h.index, nil, nil, logger)
	t.Cleanup(h.search.Wait)

	bridge, err := sui.NewBridge(h.chain, sui.BridgeConfig{
		PackageID:  testPackage,
		TreasuryID: "0xtreasury",
		RegistryID: "0xregistry",
		FeeMist:    2_000_000,
	})
	require.NoError(t, err)
	h.documents = &snapshotDocuments{source: bridge}

	cfg := config.Config{
		JWTSecret:      "test-secret",
		AccessTTL:      time.Hour,
		RefreshTTL:     24 * time.Hour,
		MaxUploadBytes: 1 << 20,
	}
	h.svc = New(cfg, Deps{
		Drafts:    h.drafts,
		Sessions:  h.sessions,
		Generator: h.generator,
		Renderer:  fakeRenderer{},
		Pinata:    h.pinner,
		Walrus:    h.blobs,
		Artifacts: h.artifacts,
		Chain:     bridge,
		Documents: h.documents,
		Dashboard: sui.NewDashboard(bridge, h.documents, 4, logger),
		Search:    h.search,
		Revisions: revisions.New(t.TempDir()),
		Reports:   export.NewService(nil),
	}, logger)
	h.server = NewHTTPServer(h.svc, "*", logger).Handler()
	return h
}

func (h *harness) connect(t *testing.T, address string) Session {
	t.Helper()
	session, err := h.svc.Connect(context.Background(), address, "")
	require.NoError(t, err)
	return session
}

func (h *harness) generate(t *testing.T, owner string) string {
	t.Helper()
	_, id, err := h.svc.GenerateContract(context.Background(), draft.Params{Prompt: "Yazılım hizmet sözleşmesi"}, owner)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %v", err)
	return domainErr.Code
}

func TestConnectNormalizesAddress(t *testing.T) {
	h := newHarness(t)

	session, err := h.svc.Connect(context.Background(), "  0xA11CE ", "")
	require.NoError(t, err)
	assert.Equal(t, alice, session.Address)
	assert.Equal(t, "sui-wallet", session.WalletType)
	assert.NotEmpty(t, session.Token)
	assert.NotEmpty(t, session.RefreshToken)

	resolved, err := h.svc.SessionFromToken(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Equal(t, alice, resolved.Address)
	assert.Equal(t, session.JTI, resolved.JTI)
}

func TestConnectRejectsInvalidAddress(t *testing.T) {
	h := newHarness(t)

	for _, address := range []string{"", "0x", "0xnothex", "0x" + strings.Repeat("a", 65)} {
		_, err := h.svc.Connect(context.Background(), address, "")
		require.Error(t, err, address)
		assert.Equal(t, "INVALID_ADDRESS", domainCode(t, err))
	}
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	h := newHarness(t)
	first, err := h.svc.Connect(context.Background(), alice, "slush")
	require.NoError(t, err)

	second, err := h.svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, alice, second.Address)
	assert.Equal(t, "slush", second.WalletType)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = h.svc.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestConcurrentRefreshRotatesOnce(t *testing.T) {
	h := newHarness(t)
	session := h.connect(t, alice)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Refresh(context.Background(), session.RefreshToken)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestDisconnectRevokesTokens(t *testing.T) {
	h := newHarness(t)
	session := h.connect(t, alice)

	h.svc.Disconnect(context.Background(), session, session.RefreshToken)

	_, err := h.svc.SessionFromToken(context.Background(), session.Token)
	require.Error(t, err)
	_, err = h.svc.Refresh(context.Background(), session.RefreshToken)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestSessionStateReadsBalance(t *testing.T) {
	h := newHarness(t)
	session := h.connect(t, alice)

	state := h.svc.SessionState(context.Background(), session)
	assert.Equal(t, true, state["isConnected"])
	assert.Equal(t, alice, state["address"])
	assert.InDelta(t, 1.5, state["balance"], 1e-9)

	h.chain.fail = fmt.Errorf("%w: connection refused", sui.ErrTransport)
	state = h.svc.SessionState(context.Background(), session)
	assert.Nil(t, state["balance"])
}

func TestGenerateContractPersistsDraftForOwner(t *testing.T) {
	h := newHarness(t)

	contract, id, err := h.svc.GenerateContract(context.Background(), draft.Params{Prompt: "Yazılım hizmet sözleşmesi", Currency: "TRY"}, alice)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, h.generator.contract, contract)
	assert.Equal(t, "TRY", h.generator.got.Currency)

	item := h.drafts.get(t, id)
	assert.Equal(t, alice, item.Owner)
	assert.Equal(t, "Hizmet Sözleşmesi", item.Title)
	assert.Equal(t, string(draft.Turkish), item.Language)

	history, err := h.svc.revisions.History(id, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Initial draft", history[0].Message)

	h.search.Wait()
	record, ok := h.index.record(id)
	require.True(t, ok)
	assert.Equal(t, alice, record.Owner)
	assert.Equal(t, "Aylık ödeme yapılır.", record.Summary)
}

func TestGenerateContractWithoutOwnerIsNotStored(t *testing.T) {
	h := newHarness(t)

	_, id, err := h.svc.GenerateContract(context.Background(), draft.Params{Prompt: "NDA"}, "")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, h.drafts.items)
}

func TestGenerateContractSurvivesStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.drafts.insertErr = errors.New("connection reset")

	contract, id, err := h.svc.GenerateContract(context.Background(), draft.Params{Prompt: "NDA"}, alice)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, h.generator.contract.Contract, contract.Contract)
}

func TestDraftTitle(t *testing.T) {
	tests := []struct {
		name     string
		contract string
		prompt   string
		want     string
	}{
		{name: "heading", contract: "\n## Kira Sözleşmesi\nMadde 1", want: "Kira Sözleşmesi"},
		{name: "first line", contract: "**SERVICE AGREEMENT**\n\nThe parties...", want: "SERVICE AGREEMENT"},
		{name: "prompt", contract: "   ", prompt: " Freelance design work ", want: "Freelance design work"},
		{name: "fallback", want: "Sözleşme"},
		{name: "clipped", contract: "# " + strings.Repeat("ş", 130), want: strings.Repeat("ş", maxTitleRunes)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, draftTitle(tt.contract, tt.prompt))
		})
	}
}

func TestOwnedDraftForbidsOtherWallets(t *testing.T) {
	h := newHarness(t)
	id := h.generate(t, alice)

	_, err := h.svc.GetDraft(context.Background(), bob, id)
	assert.Equal(t, "FORBIDDEN", domainCode(t, err))

	_, err = h.svc.GetDraft(context.Background(), alice, "drf_missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUpdateDraftRecordsRevisionAndClearsPDF(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.generate(t, alice)
	_, err := h.svc.DraftPDF(ctx, alice, id)
	require.NoError(t, err)
	require.NotEmpty(t, h.drafts.get(t, id).PDF.SHA256)

	payload, err := h.svc.UpdateDraft(ctx, alice, id, UpdateDraftInput{
		Contract: "# Hizmet Sözleşmesi\n\nÖdeme 30 gün içinde yapılır.",
		Risks:    []draft.Risk{{Level: draft.LevelHigh, Description: "Cezai şart yok."}},
		Message:  "Ödeme süresi",
	})
	require.NoError(t, err)
	assert.Equal(t, true, payload["changed"])
	assert.Nil(t, payload["pdf"])

	changes, ok := payload["changes"].([]revisions.FieldChange)
	require.True(t, ok)
	fields := []string{}
	for _, change := range changes {
		fields = append(fields, change.Field)
	}
	assert.ElementsMatch(t, []string{"contract", "risks"}, fields)

	item := h.drafts.get(t, id)
	assert.Empty(t, item.PDF.SHA256)
	assert.Equal(t, []string{"Aylık ödeme yapılır."}, item.Summary)

	history, err := h.svc.revisions.History(id, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Ödeme süresi", history[0].Message)
}

func TestUpdateDraftWithoutChangesIsNoop(t *testing.T) {
	h := newHarness(t)
	id := h.generate(t, alice)

	payload, err := h.svc.UpdateDraft(context.Background(), alice, id, UpdateDraftInput{Title: "Hizmet Sözleşmesi"})
	require.NoError(t, err)
	assert.Equal(t, false, payload["changed"])

	history, err := h.svc.revisions.History(id, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUpdateDraftRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.generate(t, alice)

	_, err := h.svc.UpdateDraft(ctx, alice, id, UpdateDraftInput{Risks: []draft.Risk{{Level: "Critical"}}})
	assert.Equal(t, "INVALID_RISK_LEVEL", domainCode(t, err))

	require.NoError(t, h.drafts.SetDraftAnchor(ctx, id, "0xdoc", "0xdigest"))
	_, err = h.svc.UpdateDraft(ctx, alice, id, UpdateDraftInput{Contract: "changed"})
	assert.Equal(t, "DRAFT_ANCHORED", domainCode(t, err))
}

func TestDraftRevisionShowsDiffAgainstCurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.generate(t, alice)
	history, err := h.svc.revisions.History(id, 1)
	require.NoError(t, err)
	initial := history[0].Hash

	_, err = h.svc.UpdateDraft(ctx, alice, id, UpdateDraftInput{Title: "Yeni Başlık"})
	require.NoError(t, err)

	payload, err := h.svc.DraftRevision(ctx, alice, id, initial)
	require.NoError(t, err)
	assert.Equal(t, "Hizmet Sözleşmesi", payload["title"])
	changes := payload["changes"].([]revisions.FieldChange)
	require.Len(t, changes, 1)
	assert.Equal(t, "title", changes[0].Field)
}

func TestDraftPDFMirrorsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.generate(t, alice)
	item := h.drafts.get(t, id)
	want := pdfDigest(item.Title, item.Contract)

	first, err := h.svc.DraftPDF(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, want, first.SHA256)
	assert.Equal(t, "hizmet-szlemesi.pdf", pdfFilename("Hizmet Sözleşmesi"))
	assert.True(t, bytes.HasPrefix(first.Data, []byte("%PDF")))

	stored := h.drafts.get(t, id).PDF
	assert.Equal(t, want, stored.SHA256)
	assert.Equal(t, int64(len(first.Data)), stored.Size)
	assert.Equal(t, "pdf/"+want+".pdf", stored.ObjectKey)

	second, err := h.svc.DraftPDF(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, h.artifacts.puts)
}

func TestPDFFilename(t *testing.T) {
	assert.Equal(t, "contract.pdf", pdfFilename(""))
	assert.Equal(t, "contract.pdf", pdfFilename("ğüş"))
	assert.Equal(t, "nda-2026.pdf", pdfFilename("  NDA 2026 "))
	assert.Equal(t, strings.Repeat("a", 60)+".pdf", pdfFilename(strings.Repeat("a", 80)))
}

func TestPublishDraftToBothTargets(t *testing.T) {
	h := newHarness(t)
	id := h.generate(t, alice)

	payload, err := h.svc.PublishDraft(context.Background(), alice, id, PublishInput{IPFS: true, Walrus: true, Epochs: 3})
	require.NoError(t, err)
	assert.Equal(t, true, payload["ok"])
	assert.Equal(t, map[string]any{"cid": "bafytest", "viewUrl": "https://gateway.test/ipfs/bafytest"}, payload["ipfs"])
	assert.Equal(t, map[string]any{"blobId": "blob-1", "viewUrl": "https://walrus.test/v1/blobs/blob-1"}, payload["walrus"])

	assert.Equal(t, "hizmet-szlemesi.pdf", h.pinner.filename)
	assert.Equal(t, "application/pdf", h.pinner.mimeType)
	assert.Equal(t, 3, h.blobs.epochs)
	assert.Equal(t, h.pinner.body, h.blobs.body)

	item := h.drafts.get(t, id)
	assert.Equal(t, store.Pin{ID: "bafytest", URL: "https://gateway.test/ipfs/bafytest"}, item.IPFS)
	assert.Equal(t, "blob-1", item.Walrus.ID)
	assert.Equal(t, payload["sha256"], item.PDF.SHA256)
}

func TestPublishDraftStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	id := h.generate(t, alice)
	h.pinner.err = &storage.UpstreamError{Status: http.StatusUnauthorized, Body: "invalid jwt"}

	_, err := h.svc.PublishDraft(context.Background(), alice, id, PublishInput{IPFS: true, Walrus: true})
	var upstream *storage.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 0, h.blobs.calls)
	assert.Empty(t, h.drafts.get(t, id).IPFS.ID)

	_, err = h.svc.PublishDraft(context.Background(), alice, id, PublishInput{})
	assert.Equal(t, "NO_TARGET", domainCode(t, err))
}

func TestAnchorDraftVerifiesFileHash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.generate(t, alice)

	_, err := h.svc.AnchorDraft(ctx, alice, id, "0xtx1")
	assert.Equal(t, "PDF_REQUIRED", domainCode(t, err))

	rendered, err := h.svc.DraftPDF(ctx, alice, id)
	require.NoError(t, err)

	h.chain.addTransaction("0xtx0")
	_, err = h.svc.AnchorDraft(ctx, alice, id, "0xtx0")
	assert.Equal(t, "NO_DOCUMENT", domainCode(t, err))

	h.chain.addDocument("0xbad", alice, "0x"+strings.Repeat("0", 64), []string{bob}, nil, false)
	h.chain.addTransaction("0xtx2", "0xbad")
	_, err = h.svc.AnchorDraft(ctx, alice, id, "0xtx2")
	assert.Equal(t, "HASH_MISMATCH", domainCode(t, err))

	h.chain.addDocument("0xd0c", alice, "0x"+strings.ToUpper(rendered.SHA256), []string{bob}, nil, false)
	h.chain.addTransaction("0xtx1", "0xD0C")
	payload, err := h.svc.AnchorDraft(ctx, alice, id, " 0xtx1 ")
	require.NoError(t, err)
	assert.Equal(t, "0xd0c", payload["documentId"])
	assert.Equal(t, "0xtx1", payload["digest"])
	assert.Equal(t, sui.StatusDraft, payload["status"])

	item := h.drafts.get(t, id)
	assert.Equal(t, "0xd0c", item.DocumentID)
	assert.Equal(t, "0xtx1", item.TxDigest)

	h.search.Wait()
	record, ok := h.index.record(id)
	require.True(t, ok)
	assert.Equal(t, "0xd0c", record.DocumentID)
}

func TestDocumentJoinsDraftAndRejection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.generate(t, alice)
	require.NoError(t, h.drafts.SetDraftAnchor(ctx, id, "0xd0c", "0xtx1"))
	h.chain.addDocument("0xd0c", alice, "0x"+strings.Repeat("ab", 32), []string{bob, "0xc4a"}, []string{bob}, false)

	payload, err := h.svc.Document(ctx, "0xD0C")
	require.NoError(t, err)
	assert.Equal(t, sui.StatusWaiting, payload["status"])
	assert.Equal(t, "Hizmet Sözleşmesi", payload["title"])
	assert.Equal(t, 1, payload["isActive"])
	draftInfo := payload["draft"].(map[string]any)
	assert.Equal(t, id, draftInfo["id"])

	h.chain.addEvent(sui.EventRejected, "1700", map[string]any{"doc": "0xd0c", "signer": "0xc4a"})
	payload, err = h.svc.Document(ctx, "0xd0c")
	require.NoError(t, err)
	assert.Equal(t, sui.StatusRejected, payload["status"])

	_, err = h.svc.Document(ctx, "0xmissing")
	assert.ErrorIs(t, err, sui.ErrDocumentNotFound)
}

func TestDraftReportIncludesChainStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.generate(t, alice)
	require.NoError(t, h.drafts.SetDraftAnchor(ctx, id, "0xd0c", "0xtx1"))
	h.chain.addDocument("0xd0c", alice, "0x"+strings.Repeat("ab", 32), []string{bob}, []string{bob}, false)

	result, err := h.svc.DraftReport(ctx, alice, id, export.FormatHTML)
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", result.MimeType)
	html := string(result.Data)
	assert.Contains(t, html, "Hizmet Sözleşmesi")
	assert.Contains(t, html, "Completed")
	assert.Contains(t, html, "0xd0c")

	_, err = h.svc.DraftReport(ctx, alice, id, export.FormatPDF)
	assert.ErrorIs(t, err, export.ErrPDFDependencyMissing)
}

func TestReadinessReportsEachBackend(t *testing.T) {
	h := newHarness(t)
	h.drafts.pingErr = errors.New("db down")

	checks := h.svc.Readiness(context.Background())
	assert.EqualError(t, checks["database"], "db down")
	_, hasRedis := checks["redis"]
	assert.False(t, hasRedis)
}

func TestDocumentReadsBypassProjectionCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hash := "0x" + strings.Repeat("ab", 32)
	h.chain.addDocument("0xd0c", alice, hash, []string{bob}, nil, false)

	signed, err := h.svc.IsSigned(ctx, "0xd0c", bob)
	require.NoError(t, err)
	assert.Equal(t, 0, signed)
	cached, err := h.documents.GetDocument(ctx, "0xd0c")
	require.NoError(t, err)
	assert.Empty(t, cached.Signed)

	h.chain.addDocument("0xd0c", alice, hash, []string{bob}, []string{bob}, false)

	signed, err = h.svc.IsSigned(ctx, "0xd0c", bob)
	require.NoError(t, err)
	assert.Equal(t, 1, signed)
	completion, err := h.svc.IsComplete(ctx, "0xd0c")
	require.NoError(t, err)
	assert.Equal(t, 1, completion.IsComplete)
	payload, err := h.svc.Document(ctx, "0xd0c")
	require.NoError(t, err)
	assert.Equal(t, sui.StatusCompleted, payload["status"])

	cached, err = h.documents.GetDocument(ctx, "0xd0c")
	require.NoError(t, err)
	assert.Empty(t, cached.Signed)

	require.NoError(t, h.svc.RefreshDocument(ctx, "0xd0c"))
	cached, err = h.documents.GetDocument(ctx, "0xd0c")
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, cached.Signed)
}
