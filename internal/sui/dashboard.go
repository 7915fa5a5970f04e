package sui

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EventSource lists contract events, newest first.
type EventSource interface {
	QueryEvents(ctx context.Context, name string, limit int) ([]Event, error)
}

// DocumentSource reads Document projections.
type DocumentSource interface {
	GetDocument(ctx context.Context, documentID string) (Document, error)
}

type Row struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Owner        string   `json:"owner"`
	Parties      []string `json:"parties"`
	CreatedTs    *int64   `json:"createdTs"`
	FileHash     string   `json:"fileHash"`
	Status       Status   `json:"status"`
	SignedCount  int      `json:"signedCount"`
	TotalSigners int      `json:"totalSigners"`
}

type Stats struct {
	Uploaded        int `json:"uploaded"`
	Signed          int `json:"signed"`
	PendingRequests int `json:"pendingRequests"`
}

type DashboardView struct {
	Address  string `json:"address"`
	Uploaded []Row  `json:"uploaded"`
	Signed   []Row  `json:"signed"`
	Requests []Row  `json:"requests"`
	Stats    Stats  `json:"stats"`
}

// Dashboard assembles the per-address view from contract events and document reads.
type Dashboard struct {
	events EventSource
	docs   DocumentSource
	fanout int
	logger *zap.Logger
}

func NewDashboard(events EventSource, docs DocumentSource, fanout int, logger *zap.Logger) *Dashboard {
	if fanout <= 0 {
		fanout = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dashboard{events: events, docs: docs, fanout: fanout, logger: logger}
}

// Title is the display title of a document without off-chain metadata.
func Title(documentID string) string {
	return "Sözleşme (" + ShortAddress(documentID) + ")"
}

// NewRow projects doc for display.
func NewRow(doc Document, createdTs *int64, rejected bool) Row {
	return Row{
		ID:           doc.DocID,
		Title:        Title(doc.DocID),
		Owner:        doc.Owner,
		Parties:      doc.Signers,
		CreatedTs:    createdTs,
		FileHash:     doc.FileHash,
		Status:       DeriveStatus(doc, rejected),
		SignedCount:  len(doc.Signed),
		TotalSigners: len(doc.Signers),
	}
}

func (d *Dashboard) Build(ctx context.Context, address string) (DashboardView, error) {
	me := NormalizeAddress(address)
	if me == "" || me == "0x" {
		return DashboardView{}, fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	var created, signed, rejected []Event
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		created, err = d.events.QueryEvents(gctx, EventCreated, DefaultEventLimit)
		return err
	})
	g.Go(func() (err error) {
		signed, err = d.events.QueryEvents(gctx, EventSigned, DefaultEventLimit)
		return err
	})
	g.Go(func() (err error) {
		rejected, err = d.events.QueryEvents(gctx, EventRejected, DefaultEventLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return DashboardView{}, err
	}

	rejectedDocs := make(map[string]bool, len(rejected))
	for _, ev := range rejected {
		if id := ev.DocID(); id != "" {
			rejectedDocs[NormalizeAddress(id)] = true
		}
	}

	var ids []string
	seen := map[string]bool{}
	collect := func(id string) {
		id = NormalizeAddress(id)
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, ev := range created {
		collect(ev.DocID())
	}
	for _, ev := range signed {
		if sameAddress(ev.Field("signer"), me) {
			collect(ev.Field("doc"))
		}
	}

	docs, err := d.fetch(ctx, ids)
	if err != nil {
		return DashboardView{}, err
	}

	view := DashboardView{Address: me, Uploaded: []Row{}, Signed: []Row{}, Requests: []Row{}}
	row := func(id string, ev Event) (Row, bool) {
		doc, ok := docs[NormalizeAddress(id)]
		if !ok {
			return Row{}, false
		}
		var ts *int64
		if ms, ok := ev.Timestamp(); ok {
			ts = &ms
		}
		return NewRow(doc, ts, rejectedDocs[doc.DocID]), true
	}

	requested := map[string]bool{}
	for _, ev := range created {
		id := ev.DocID()
		if id == "" {
			continue
		}
		if sameAddress(ev.Field("owner"), me) {
			if r, ok := row(id, ev); ok {
				view.Uploaded = append(view.Uploaded, r)
			}
		}
		key := NormalizeAddress(id)
		if requested[key] {
			continue
		}
		requested[key] = true
		r, ok := row(id, ev)
		if !ok {
			continue
		}
		doc := docs[key]
		if isRequest(doc, r.Status, me) {
			view.Requests = append(view.Requests, r)
		}
	}

	for _, ev := range signed {
		id := ev.Field("doc")
		if id == "" || !sameAddress(ev.Field("signer"), me) {
			continue
		}
		if r, ok := row(id, ev); ok {
			view.Signed = append(view.Signed, r)
		}
	}

	view.Stats = statsFor(view)
	return view, nil
}

// isRequest reports whether me still has to act on doc.
func isRequest(doc Document, status Status, me string) bool {
	if !doc.IsSigner(me) || doc.Owner == me || doc.HasSigned(me) {
		return false
	}
	switch status {
	case StatusCanceled, StatusCompleted, StatusRejected:
		return false
	default:
		return true
	}
}

func statsFor(view DashboardView) Stats {
	stats := Stats{Uploaded: len(view.Uploaded)}
	for _, r := range view.Signed {
		if r.Status != StatusRejected && r.Status != StatusCanceled {
			stats.Signed++
		}
	}
	for _, r := range view.Requests {
		if r.Status == StatusWaiting {
			stats.PendingRequests++
		}
	}
	return stats
}

// fetch reads documents with at most d.fanout reads in flight. Objects that are
// gone or are not Documents are skipped.
func (d *Dashboard) fetch(ctx context.Context, ids []string) (map[string]Document, error) {
	var mu sync.Mutex
	docs := make(map[string]Document, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.fanout)
	for _, id := range ids {
		g.Go(func() error {
			doc, err := d.docs.GetDocument(gctx, id)
			if errors.Is(err, ErrDocumentNotFound) {
				d.logger.Debug("skipping unreadable document", zap.String("document_id", id), zap.Error(err))
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			docs[id] = doc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}
