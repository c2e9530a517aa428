package store

import (
	"context"
	"sort"
	"sync"

	"github.com/DoyleJ11/arcade-match-backend/internal/match"
	"github.com/DoyleJ11/arcade-match-backend/internal/tournament"
)

// Memory keeps records for the life of the process. Tournaments go through
// the same record encoding as Postgres so both behave alike.
type Memory struct {
	mu          sync.RWMutex
	tournaments map[string]TournamentRecord
	results     map[string]MatchResultRecord
	seq         int
	order       map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		tournaments: make(map[string]TournamentRecord),
		results:     make(map[string]MatchResultRecord),
		order:       make(map[string]int),
	}
}

func (m *Memory) SaveTournament(ctx context.Context, t tournament.Tournament) error {
	rec, err := tournamentRecord(t)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.order[rec.ID]; !ok {
		m.seq++
		m.order[rec.ID] = m.seq
	}
	m.tournaments[rec.ID] = rec
	return nil
}

func (m *Memory) LoadTournaments(ctx context.Context) ([]tournament.Tournament, error) {
	m.mu.RLock()
	recs := make([]TournamentRecord, 0, len(m.tournaments))
	for _, rec := range m.tournaments {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return m.order[recs[i].ID] < m.order[recs[j].ID] })
	m.mu.RUnlock()

	out := make([]tournament.Tournament, 0, len(recs))
	for _, rec := range recs {
		t, err := rec.tournament()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *Memory) SaveMatchResult(ctx context.Context, r match.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[r.SessionID]; !ok {
		m.results[r.SessionID] = resultRecord(r)
	}
	return nil
}

func (m *Memory) LoadMatchResult(ctx context.Context, sessionID string) (match.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.results[sessionID]
	if !ok {
		return match.Result{}, ErrResultNotFound
	}
	return rec.result(), nil
}

func (m *Memory) Close() error { return nil }
