package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Index is a search backend that can also be written to.
type Index interface {
	Searcher
	Indexer
}

// RecordLoader reads every indexable draft from the system of record.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]DraftRecord, error)
}

// Service is the facade that tries the index first and falls back to fallback.
type Service struct {
	index    Index
	fallback Searcher
	loader   RecordLoader
	logger   *zap.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. index may be nil when Meilisearch is not
// configured; loader may be nil when reindexing is not needed.
func NewService(index Index, fallback Searcher, loader RecordLoader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{index: index, fallback: fallback, loader: loader, logger: logger}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise falls back. Failures degrade to
// an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.logger.Warn("index search failed, falling back", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Engine: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "postgres"}
}

// IndexDraft pushes a draft to the index in the background.
func (s *Service) IndexDraft(record DraftRecord) {
	if !s.indexReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.index.IndexDrafts([]DraftRecord{record}); err != nil {
			s.logger.Warn("index draft", zap.String("draft_id", record.ID), zap.Error(err))
		}
	}()
}

// DeleteDraft removes a draft from the index in the background.
func (s *Service) DeleteDraft(id string) {
	if !s.indexReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.index.DeleteDraft(id); err != nil {
			s.logger.Warn("delete draft from index", zap.String("draft_id", id), zap.Error(err))
		}
	}()
}

// ReindexAll loads every draft and pushes it to the index. It returns the number
// of records sent.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if !s.indexReady() || s.loader == nil {
		return 0, nil
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.index.IndexDrafts(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Wait blocks until background index writes have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
