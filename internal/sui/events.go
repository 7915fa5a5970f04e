package sui

import (
	"context"
	"strconv"
	"strings"
)

const (
	EventCreated  = "CreatedEvent"
	EventSigned   = "SignedEvent"
	EventRejected = "RejectedEvent"
	EventCanceled = "CanceledEvent"

	DefaultEventLimit = 200
)

type EventID struct {
	TxDigest string `json:"txDigest"`
	EventSeq string `json:"eventSeq"`
}

type Event struct {
	ID          EventID        `json:"id"`
	Type        string         `json:"type"`
	ParsedJSON  map[string]any `json:"parsedJson"`
	TimestampMs string         `json:"timestampMs"`
}

// Field returns a parsedJson field as a string, empty when absent.
func (e Event) Field(name string) string {
	return stringField(e.ParsedJSON[name])
}

// DocID returns the document id named by the event, from "doc" or "id".
func (e Event) DocID() string {
	if doc := e.Field("doc"); doc != "" {
		return doc
	}
	return e.Field("id")
}

// Timestamp returns the event time in unix milliseconds.
func (e Event) Timestamp() (int64, bool) {
	if e.TimestampMs == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(e.TimestampMs, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

type eventPage struct {
	Data        []Event `json:"data"`
	HasNextPage bool    `json:"hasNextPage"`
}

// QueryEvents returns the newest events of a contract event type such as EventCreated.
func (b *Bridge) QueryEvents(ctx context.Context, name string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	query := map[string]string{"MoveEventType": b.EventType(name)}
	var page eventPage
	if err := b.rpc.Call(ctx, "suix_queryEvents", []any{query, nil, limit, true}, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

func sameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(NormalizeAddress(a), NormalizeAddress(b))
}
