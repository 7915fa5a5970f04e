package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the drafts table's generated tsvector column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres the service is not serving.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks drafts with ts_rank and renders ts_headline snippets. The 'simple'
// configuration is used because drafts are written in Turkish or English.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	where := "d.fts @@ plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	if q.Owner != "" {
		where += " AND d.owner_address = $2"
		args = append(args, q.Owner)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM drafts d WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.title,
			ts_headline('simple', coalesce(d.contract, ''), plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			d.owner_address, d.document_id, d.language
		FROM drafts d
		WHERE %s
		ORDER BY ts_rank(d.fts, plainto_tsquery('simple', $1)) DESC, d.updated_at DESC
		LIMIT %d OFFSET %d`, where, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Owner, &r.DocumentID, &r.Language); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every draft for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DraftRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, contract,
			coalesce((SELECT string_agg(value, ' ') FROM jsonb_array_elements_text(summary) AS value), ''),
			owner_address, language, document_id
		FROM drafts
	`)
	if err != nil {
		return nil, fmt.Errorf("load drafts: %w", err)
	}
	defer rows.Close()

	records := make([]DraftRecord, 0)
	for rows.Next() {
		var r DraftRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Contract, &r.Summary, &r.Owner, &r.Language, &r.DocumentID); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return records, nil
}
