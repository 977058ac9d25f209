package trivia

import (
	"context"
	"testing"
	"time"
)

func TestOrganizeByCategory(t *testing.T) {
	t.Parallel()

	cats := OrganizeByCategory([]Question{
		q("b1", "b", 200), q("a1", "a", 200), q("a2", "a", 600), q("b2", "b", 400), q("a3", "a", 400),
	})

	if len(cats) != 2 {
		t.Fatalf("categories = %d, want 2", len(cats))
	}
	if cats[0].ID != "b" || cats[1].ID != "a" {
		t.Fatalf("category order = %s,%s, want b,a", cats[0].ID, cats[1].ID)
	}

	var points []int
	for _, qq := range cats[1].Questions {
		points = append(points, qq.Points)
	}
	if points[0] != 600 || points[1] != 400 || points[2] != 200 {
		t.Fatalf("points = %v, want [600 400 200]", points)
	}
}

func TestRerollUsesBufferedCandidate(t *testing.T) {
	t.Parallel()

	s := hydrated(t, q("x1", "x", 200), q("x2", "x", 200), q("x3", "x", 200))
	want, ok := s.Buffered("1")
	if !ok {
		t.Fatal("no buffered candidate for team 1")
	}

	var got Question
	s.Reroll(context.Background(), "1", "a1", func(dest Question, ok bool) {
		if !ok {
			t.Fatal("reroll failed")
		}
		got = dest
	})

	if got.ID != want {
		t.Fatalf("destination = %q, want buffered %q", got.ID, want)
	}
	if !s.IsPlayed("a1") {
		t.Fatal("current question not marked played")
	}
	for _, b := range s.Backups() {
		if b.ID == want {
			t.Fatalf("consumed candidate %q still queued", want)
		}
	}
}

func TestRerollBuffersAreDistinct(t *testing.T) {
	t.Parallel()

	s := hydrated(t, q("x1", "x", 200), q("x2", "x", 200))
	one, ok1 := s.Buffered("1")
	two, ok2 := s.Buffered("2")

	if !ok1 || !ok2 {
		t.Fatal("buffers not filled")
	}
	if one == two {
		t.Fatalf("both teams reserved %q", one)
	}
}

func TestRerollBufferMayStayEmpty(t *testing.T) {
	t.Parallel()

	s := hydrated(t, q("x1", "x", 200))
	_, ok1 := s.Buffered("1")
	_, ok2 := s.Buffered("2")

	if !ok1 || ok2 {
		t.Fatalf("buffers = %v,%v, want only team 1 filled", ok1, ok2)
	}
}

func TestRerollFallsBackToQueueHead(t *testing.T) {
	t.Parallel()

	s := hydrated(t, q("x1", "x", 200))
	s.SwitchToNextTeam()

	var got QuestionID
	s.Reroll(context.Background(), "2", "a1", func(dest Question, ok bool) {
		got = dest.ID
	})

	if got != "x1" {
		t.Fatalf("destination = %q, want x1", got)
	}
	if _, ok := s.Buffered("1"); ok {
		t.Fatal("team 1 still holds a consumed candidate")
	}
}

func TestRerollFetchesWhenQueueEmpty(t *testing.T) {
	t.Parallel()

	src := &fakeSource{batches: [][]Question{
		{}, // refill on hydrate
		{{ID: "9", CategoryID: "x", Points: 200}, {ID: "5", CategoryID: "x", Points: 200}},
	}}
	disp := newQueue()
	s := NewSession(WithSource(src), WithDispatcher(disp.dispatch), WithRand(testRand()))
	s.Hydrate("g1", Payload{
		Teams:          twoTeams(),
		BoardQuestions: []Question{{ID: "1", CategoryID: "a", Points: 200}, {ID: "5", CategoryID: "a", Points: 200}},
	})
	disp.next(t)
	s.MarkPlayed("5")

	var got QuestionID
	var ok bool
	s.Reroll(context.Background(), "1", "1", func(dest Question, found bool) {
		got, ok = dest.ID, found
	})
	disp.next(t)

	if !ok || got != "9" {
		t.Fatalf("destination = %q, %v, want 9, true", got, ok)
	}
	if !s.IsPlayed("1") {
		t.Fatal("current question not marked played")
	}
	if len(s.Backups()) != 0 {
		t.Fatalf("backups = %v, want empty", s.Backups())
	}
	if _, ok := s.Question("9"); !ok {
		t.Fatal("rerolled question not retrievable for scoring")
	}
}

func TestRerollUsesBatchAlreadyQueuedByRefill(t *testing.T) {
	t.Parallel()

	batch := []Question{q("x1", "x", 200), q("x2", "x", 400)}
	src := &fakeSource{batches: [][]Question{batch, batch}}
	disp := newQueue()
	s := NewSession(WithSource(src), WithDispatcher(disp.dispatch), WithRand(testRand()))
	s.Hydrate("g1", Payload{
		Teams:          twoTeams(),
		BoardQuestions: []Question{q("a1", "a", 200), q("b1", "b", 400)},
	})

	// The refill started by hydrate lands while the reroll fetch is pending.
	var refill func()
	select {
	case refill = <-disp.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the hydrate refill")
	}

	var got QuestionID
	var ok bool
	if !s.UseReroll(context.Background(), "1", "a1", func(dest Question, found bool) {
		got, ok = dest.ID, found
	}) {
		t.Fatal("reroll rejected")
	}

	refill()
	if len(s.Backups()) != 2 {
		t.Fatalf("backups after refill = %v, want 2 questions", s.Backups())
	}
	disp.next(t)

	if !ok || (got != "x1" && got != "x2") {
		t.Fatalf("destination = %q, %v, want x1 or x2", got, ok)
	}
	if !s.IsPlayed("a1") {
		t.Fatal("current question not marked played")
	}
	for _, b := range s.Backups() {
		if b.ID == got {
			t.Fatalf("destination %q still queued", got)
		}
	}
	if len(s.Backups()) != 1 {
		t.Fatalf("backups = %v, want 1 question", s.Backups())
	}
}

func TestRerollFailsSilentlyWhenNothingEligible(t *testing.T) {
	t.Parallel()

	src := &fakeSource{batches: [][]Question{
		{},
		{{ID: "a1"}, {ID: "cur"}},
	}}
	disp := newQueue()
	s := NewSession(WithSource(src), WithDispatcher(disp.dispatch))
	s.Hydrate("g1", Payload{
		Teams:          twoTeams(),
		BoardQuestions: []Question{q("a1", "a", 200), q("cur", "a", 400)},
	})
	disp.next(t)

	called, ok := false, true
	s.Reroll(context.Background(), "1", "cur", func(_ Question, found bool) {
		called, ok = true, found
	})
	disp.next(t)

	if !called || ok {
		t.Fatalf("done called=%v ok=%v, want true,false", called, ok)
	}
	if s.IsPlayed("cur") {
		t.Fatal("failed reroll marked the current question played")
	}
}

func TestRerollNeverOffersBoardPlayedOrCurrent(t *testing.T) {
	t.Parallel()

	board := []Question{q("a1", "a", 200), q("a2", "a", 400), q("a3", "a", 600)}
	backups := []Question{q("a2", "a", 400), q("x1", "x", 200), q("x2", "x", 200), q("x3", "x", 200)}

	s := NewSession(WithRand(testRand()))
	s.Hydrate("g", Payload{Teams: twoTeams(), BoardQuestions: board, BackupQuestions: backups})
	s.MarkPlayed("x2")

	current := QuestionID("a1")
	for range 4 {
		s.Reroll(context.Background(), s.CurrentTeam(), current, func(dest Question, ok bool) {
			if !ok {
				return
			}
			if dest.ID == current || dest.ID == "a2" || dest.ID == "a3" || dest.ID == "x2" {
				t.Fatalf("reroll offered %q", dest.ID)
			}
			current = dest.ID
		})
		s.SwitchToNextTeam()
	}
}

func TestLowWaterRefill(t *testing.T) {
	t.Parallel()

	src := &fakeSource{batches: [][]Question{
		{q("a1", "a", 200), q("x1", "x", 200), q("r1", "r", 200), q("r2", "r", 400)},
	}}
	disp := newQueue()
	s := NewSession(WithSource(src), WithDispatcher(disp.dispatch), WithRand(testRand()))
	s.Hydrate("g1", Payload{
		Teams:           twoTeams(),
		BoardQuestions:  []Question{q("a1", "a", 200)},
		BackupQuestions: []Question{q("x1", "x", 200)},
	})
	disp.next(t)

	got := s.Backups()
	if len(got) != 3 || got[0].ID != "x1" || got[1].ID != "r1" || got[2].ID != "r2" {
		t.Fatalf("backups = %v, want [x1 r1 r2]", got)
	}
	if _, ok := s.Buffered("2"); !ok {
		t.Fatal("refill did not fill the empty team buffer")
	}
}

func TestStaleRefillDropped(t *testing.T) {
	t.Parallel()

	src := &fakeSource{batches: [][]Question{{q("old", "x", 200)}}}
	disp := newQueue()
	s := NewSession(WithSource(src), WithDispatcher(disp.dispatch))
	s.Hydrate("g1", Payload{Teams: twoTeams()})

	// Hold the first game's refill until a new game has started.
	var first func()
	select {
	case first = <-disp.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first refill")
	}
	s.Hydrate("g2", Payload{Teams: twoTeams()})

	first()
	disp.next(t)

	for _, b := range s.Backups() {
		if b.ID == "old" {
			t.Fatal("refill from the previous game was applied")
		}
	}
}

func TestStaleRerollReportsFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{batches: [][]Question{{}, {q("x1", "x", 200)}}}
	disp := newQueue()
	s := NewSession(WithSource(src), WithDispatcher(disp.dispatch))
	s.Hydrate("g1", Payload{Teams: twoTeams(), BoardQuestions: []Question{q("a1", "a", 200)}})
	disp.next(t)

	ok := true
	s.Reroll(context.Background(), "1", "a1", func(_ Question, found bool) { ok = found })
	s.ResetSession()
	disp.next(t)

	if ok {
		t.Fatal("reroll applied to a reset session")
	}
	if s.IsPlayed("a1") {
		t.Fatal("stale reroll touched the reset session")
	}
}
