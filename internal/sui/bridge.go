package sui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	contractModule = "contract"
	documentSuffix = "::contract::Document"
	mistPerSUI     = 1_000_000_000
)

// MoveCall is a transaction recipe the wallet turns into a moveCall.
type MoveCall struct {
	TxKind    string         `json:"tx_kind"`
	Package   string         `json:"package"`
	Module    string         `json:"module"`
	Function  string         `json:"function"`
	Arguments map[string]any `json:"arguments"`
	Note      string         `json:"note,omitempty"`
}

type CreateRequest struct {
	Sender      string   `json:"sender"`
	FileHashHex string   `json:"file_hash_hex"`
	Signers     []string `json:"signers"`
}

type PayCoin struct {
	ObjectID string `json:"object_id"`
}

// ExecutePayload carries the wallet-signed transaction. Both fields must be set
// for execution to happen.
type ExecutePayload struct {
	TxBytes    string   `json:"tx_bytes"`
	Signatures []string `json:"signatures"`
}

func (p *ExecutePayload) ready() bool {
	return p != nil && p.TxBytes != "" && len(p.Signatures) > 0
}

type TxResult struct {
	EffectsStatus      string `json:"effectsStatus"`
	ObjectChangesCount int    `json:"objectChangesCount"`
}

type Execution struct {
	Executed    bool     `json:"executed"`
	Digest      string   `json:"digest"`
	DocumentIDs []string `json:"document_ids"`
	TxResult    TxResult `json:"tx_result"`
	BuildEcho   MoveCall `json:"build_echo"`
}

// CreateOutcome holds the recipe, and the execution when signed bytes were supplied.
type CreateOutcome struct {
	Recipe    MoveCall
	Execution *Execution
}

type Completion struct {
	IsComplete   int    `json:"iscomplete"`
	Reason       string `json:"reason,omitempty"`
	TotalSigners int    `json:"total_signers"`
	SignedCount  int    `json:"signed_count"`
}

type Balance struct {
	Address string  `json:"address"`
	Mist    uint64  `json:"mist"`
	SUI     float64 `json:"sui"`
}

// BridgeConfig names the published package and its shared objects.
type BridgeConfig struct {
	PackageID  string
	TreasuryID string
	RegistryID string
	FeeMist    uint64
}

// Bridge builds move-call recipes for the contract package and reads its objects.
type Bridge struct {
	rpc Caller
	cfg BridgeConfig
}

func NewBridge(rpc Caller, cfg BridgeConfig) (*Bridge, error) {
	for name, id := range map[string]string{"package": cfg.PackageID, "treasury": cfg.TreasuryID, "registry": cfg.RegistryID} {
		if !strings.HasPrefix(id, "0x") {
			return nil, fmt.Errorf("%s id must be a hex id starting with 0x, got %q", name, id)
		}
	}
	return &Bridge{rpc: rpc, cfg: cfg}, nil
}

func (b *Bridge) PackageID() string {
	return b.cfg.PackageID
}

// EventType returns the fully qualified type of a contract event such as "CreatedEvent".
func (b *Bridge) EventType(name string) string {
	return b.cfg.PackageID + "::" + contractModule + "::" + name
}

func (b *Bridge) CreateRecipe(req CreateRequest, pay PayCoin) (MoveCall, error) {
	fileHash, err := NormalizeFileHash(req.FileHashHex)
	if err != nil {
		return MoveCall{}, err
	}
	return MoveCall{
		TxKind:   "moveCall",
		Package:  b.cfg.PackageID,
		Module:   contractModule,
		Function: "create_contract",
		Arguments: map[string]any{
			"treasury":     b.cfg.TreasuryID,
			"registry":     b.cfg.RegistryID,
			"file_hash":    fileHash,
			"signers":      NormalizeAddresses(req.Signers),
			"payment_coin": NormalizeAddress(pay.ObjectID),
			"fee_mist":     b.cfg.FeeMist,
		},
		Note: "tx.moveCall({target:`{package}::contract::create_contract`, args:[obj(TREASURY), obj(REGISTRY), pure(file_hash_bytes), pure(signers), obj(payment_coin)]})",
	}, nil
}

// CreateAndMaybeExecute returns the create recipe and, when exec carries signed
// bytes, executes it and reports the created Document ids.
func (b *Bridge) CreateAndMaybeExecute(ctx context.Context, req CreateRequest, pay PayCoin, exec *ExecutePayload) (CreateOutcome, error) {
	recipe, err := b.CreateRecipe(req, pay)
	if err != nil {
		return CreateOutcome{}, err
	}
	if !exec.ready() {
		return CreateOutcome{Recipe: recipe}, nil
	}

	options := map[string]bool{
		"showInput":          false,
		"showRawInput":       false,
		"showEffects":        true,
		"showEvents":         true,
		"showObjectChanges":  true,
		"showBalanceChanges": false,
	}
	var res txBlock
	err = b.rpc.Call(ctx, "sui_executeTransactionBlock", []any{exec.TxBytes, exec.Signatures, options, "WaitForLocalExecution"}, &res)
	if err != nil {
		return CreateOutcome{}, err
	}
	return CreateOutcome{
		Recipe: recipe,
		Execution: &Execution{
			Executed:    true,
			Digest:      res.Digest,
			DocumentIDs: res.documentIDs(),
			TxResult: TxResult{
				EffectsStatus:      res.effectsStatus(),
				ObjectChangesCount: len(res.ObjectChanges),
			},
			BuildEcho: recipe,
		},
	}, nil
}

// ActionRecipe builds the single-document recipes: sign, issign, iscomplete, reject, cancel.
func (b *Bridge) ActionRecipe(function, documentID string) (MoveCall, error) {
	var note string
	switch function {
	case "sign":
		note = "tx.moveCall({target:`{package}::contract::sign`, args:[obj(document)]})"
	case "issign":
		note = "For gasless check use /sui/read/issign."
	case "iscomplete":
		note = "For gasless check use /sui/read/iscomplete."
	case "reject", "cancel":
	default:
		return MoveCall{}, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, function)
	}
	return MoveCall{
		TxKind:    "moveCall",
		Package:   b.cfg.PackageID,
		Module:    contractModule,
		Function:  function,
		Arguments: map[string]any{"document": NormalizeAddress(documentID)},
		Note:      note,
	}, nil
}

type objectChange struct {
	Type       string `json:"type"`
	ObjectType string `json:"objectType"`
	ObjectID   string `json:"objectId"`
}

type txBlock struct {
	Digest  string `json:"digest"`
	Effects *struct {
		Status struct {
			Status string `json:"status"`
		} `json:"status"`
	} `json:"effects"`
	ObjectChanges []objectChange `json:"objectChanges"`
}

func (t txBlock) effectsStatus() string {
	if t.Effects == nil {
		return ""
	}
	return t.Effects.Status.Status
}

func (t txBlock) documentIDs() []string {
	ids := []string{}
	for _, change := range t.ObjectChanges {
		if change.Type == "created" && strings.HasSuffix(change.ObjectType, documentSuffix) && change.ObjectID != "" {
			ids = append(ids, change.ObjectID)
		}
	}
	return ids
}

// DocIDs lists the Documents created by a transaction.
func (b *Bridge) DocIDs(ctx context.Context, digest string) ([]string, error) {
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return nil, fmt.Errorf("%w: digest is required", ErrInvalidInput)
	}
	options := map[string]bool{"showObjectChanges": true, "showEvents": true, "showEffects": true}
	var tx txBlock
	err := b.rpc.Call(ctx, "sui_getTransactionBlock", []any{digest, options}, &tx)
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return nil, err
		}
		if fallbackErr := b.rpc.Call(ctx, "suix_getTransactionBlock", []any{digest, options}, &tx); fallbackErr != nil {
			return nil, fallbackErr
		}
	}
	return tx.documentIDs(), nil
}

func (b *Bridge) GetDocument(ctx context.Context, documentID string) (Document, error) {
	objectID := NormalizeAddress(documentID)
	if objectID == "" {
		return Document{}, fmt.Errorf("%w: document_id is required", ErrInvalidInput)
	}
	var res objectResponse
	if err := b.rpc.Call(ctx, "sui_getObject", []any{objectID, map[string]bool{"showContent": true}}, &res); err != nil {
		return Document{}, err
	}
	return documentFromObject(objectID, res)
}

// IsActive returns 0 for canceled documents and 1 otherwise.
func IsActive(doc Document) int {
	if doc.Canceled {
		return 0
	}
	return 1
}

// IsSigned returns 1 when address is in the signed list.
func IsSigned(doc Document, address string) (int, error) {
	who := NormalizeAddress(address)
	if who == "" || who == "0x" {
		return 0, fmt.Errorf("%w: Invalid address", ErrInvalidInput)
	}
	if doc.HasSigned(who) {
		return 1, nil
	}
	return 0, nil
}

func IsComplete(doc Document) Completion {
	completion := Completion{TotalSigners: len(doc.Signers), SignedCount: len(doc.Signed)}
	if doc.Canceled {
		completion.Reason = "canceled"
		return completion
	}
	if doc.AllSigned() {
		completion.IsComplete = 1
	}
	return completion
}

// Balance reads the SUI balance of address.
func (b *Bridge) Balance(ctx context.Context, address string) (Balance, error) {
	owner := NormalizeAddress(address)
	if owner == "" || owner == "0x" {
		return Balance{}, fmt.Errorf("%w: Invalid address", ErrInvalidInput)
	}
	var res struct {
		TotalBalance string `json:"totalBalance"`
	}
	if err := b.rpc.Call(ctx, "suix_getBalance", []any{owner, "0x2::sui::SUI"}, &res); err != nil {
		return Balance{}, err
	}
	mist, err := strconv.ParseUint(res.TotalBalance, 10, 64)
	if err != nil && res.TotalBalance != "" {
		return Balance{}, fmt.Errorf("parse balance %q: %w", res.TotalBalance, err)
	}
	return Balance{Address: owner, Mist: mist, SUI: float64(mist) / mistPerSUI}, nil
}
