// Package memstore is an in-memory store.Store, used for tests and for the no-DATABASE_URL
// development mode (§10.3: with DATABASE_URL empty, the in-memory store is used).
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/herohde/stockpool/pkg/store"
)

// Store is a process-local, mutex-guarded implementation of store.Store.
type Store struct {
	mu       sync.Mutex
	games    map[string]store.GameRow
	analysis map[string][]store.Row
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		games:    make(map[string]store.GameRow),
		analysis: make(map[string][]store.Row),
	}
}

// PutGame registers a game row, generating an ID if row.ID is empty, and returns the final ID.
// Not part of store.Store: this is the memstore-specific seam dev tooling uses to load PGNs.
func (s *Store) PutGame(row store.GameRow) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	s.games[row.ID] = row
	return row.ID
}

func (s *Store) GetGame(ctx context.Context, gameID string) (store.GameRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.games[gameID]
	if !ok {
		return store.GameRow{}, fmt.Errorf("%w: %v", store.ErrGameNotFound, gameID)
	}
	return row, nil
}

// ReplaceAnalysis swaps gameID's rows under a single lock hold, so a concurrent
// FindAnalysisByGameID never observes the deleted-but-not-yet-reinserted gap (§8 all-or-nothing).
func (s *Store) ReplaceAnalysis(ctx context.Context, gameID string, rows []store.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replacement := append([]store.Row(nil), rows...)
	s.analysis[gameID] = replacement
	return nil
}

func (s *Store) FindAnalysisByGameID(ctx context.Context, gameID string) ([]store.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]store.Row(nil), s.analysis[gameID]...), nil
}
