package trivia

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"
)

// queue is a Dispatcher that holds completions until the test drains them,
// standing in for the goroutine that owns a session.
type queue struct {
	ch chan func()
}

func newQueue() *queue {
	return &queue{ch: make(chan func(), 64)}
}

func (q *queue) dispatch(fn func()) {
	q.ch <- fn
}

// next runs exactly one queued completion, failing the test if none arrives.
func (q *queue) next(t *testing.T) {
	t.Helper()

	select {
	case fn := <-q.ch:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dispatched completion")
	}
}

type fakeSource struct {
	mu      sync.Mutex
	game    Payload
	batches [][]Question
	fetches int
	reports [][]QuestionID
	report  error
}

func (f *fakeSource) FetchGame(_ context.Context, _ string) (Payload, error) {
	return f.game, nil
}

func (f *fakeSource) FetchReplacementQuestions(_ context.Context, _ string, _ int) ([]Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches++
	if len(f.batches) == 0 {
		return nil, errors.New("no content")
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeSource) ReportRoundFinished(_ context.Context, _ string, played []QuestionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reports = append(f.reports, played)
	return f.report
}

type memPersister struct {
	mu     sync.Mutex
	saved  map[string]Snapshot
	purged chan string
}

func newMemPersister() *memPersister {
	return &memPersister{saved: make(map[string]Snapshot), purged: make(chan string, 8)}
}

func (m *memPersister) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.saved[snap.GameID]; ok && cur.Revision >= snap.Revision {
		return nil
	}
	m.saved[snap.GameID] = snap
	return nil
}

func (m *memPersister) Load(_ context.Context, gameID string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.saved[gameID]
	return snap, ok, nil
}

func (m *memPersister) Purge(_ context.Context, gameID string, _ uint64) error {
	m.mu.Lock()
	delete(m.saved, gameID)
	m.mu.Unlock()

	m.purged <- gameID
	return nil
}

func q(id, cat string, points int) Question {
	return Question{ID: QuestionID(id), CategoryID: cat, Points: points, Text: "question " + id, Answer: "answer " + id}
}

func twoTeams() []Team {
	return []Team{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}}
}

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

// hydrated returns an active session over a small board with the given
// backups and no source.
func hydrated(t *testing.T, backups ...Question) *Session {
	t.Helper()

	s := NewSession(WithRand(testRand()))
	s.Hydrate("g1", Payload{
		Teams:           twoTeams(),
		BoardQuestions:  []Question{q("a1", "a", 200), q("a2", "a", 400), q("b1", "b", 400)},
		BackupQuestions: backups,
	})
	if !s.Active() {
		t.Fatal("session not active after hydrate")
	}
	return s
}
