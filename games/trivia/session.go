/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRefillBatch = 6
	defaultTimeout     = 10 * time.Second
)

var (
	ErrNoSource       = errors.New("no question source configured")
	ErrSessionChanged = errors.New("session changed while the request was in flight")
)

// Session is the aggregate state of one game.
type Session struct {
	gameID   string
	epoch    string
	revision uint64
	active   bool

	ledger ledger
	turns  turns
	perks  perkEngine
	board  board

	// showing is the question last known to be on screen. It is kept out of
	// the backup queue and saved so a reload can reopen it.
	showing   QuestionID
	refilling bool
	ending    bool

	source      Source
	persister   Persister
	dispatch    Dispatcher
	logger      Logger
	rng         *rand.Rand
	refillBatch int
	timeout     time.Duration
	now         func() time.Time
}

type Option func(*Session)

func WithSource(src Source) Option {
	return func(s *Session) { s.source = src }
}

func WithPersister(p Persister) Option {
	return func(s *Session) { s.persister = p }
}

// WithDispatcher sets how async completions re-enter the owning goroutine.
// Without one they run inline on the goroutine that finished the work, which
// is only safe when nothing else touches the session concurrently.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Session) { s.dispatch = d }
}

func WithLogger(l Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithRand(rng *rand.Rand) Option {
	return func(s *Session) { s.rng = rng }
}

func WithRefillBatch(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.refillBatch = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSession returns an empty, inactive session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		dispatch:    func(fn func()) { fn() },
		logger:      func(string, ...any) {},
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		refillBatch: defaultRefillBatch,
		timeout:     defaultTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Revisions start from the clock so a game purged by an earlier process
	// can be saved again after a restart.
	s.revision = uint64(s.now().UnixMicro())
	s.clear()
	return s
}

func (s *Session) logf(format string, args ...any) {
	s.logger(format, args...)
}

// clear wipes game state but keeps collaborators and the revision counter.
func (s *Session) clear() {
	s.gameID = ""
	s.epoch = uuid.NewString()
	s.active = false
	s.ledger = ledger{}
	s.turns = turns{}
	s.perks = newPerkEngine()
	s.board = newBoard()
	s.showing = ""
	s.refilling = false
	s.ending = false
}

func (s *Session) stale(epoch string) bool {
	return !s.active || s.epoch != epoch
}

// Load restores gameID from the persister if a snapshot exists, otherwise
// fetches it from the source and hydrates.
func (s *Session) Load(ctx context.Context, gameID string) error {
	if s.persister != nil {
		snap, ok, err := s.persister.Load(ctx, gameID)
		switch {
		case err != nil:
			s.logf("load snapshot for %s: %v", gameID, err)
		case ok && s.Restore(snap):
			return nil
		}
	}

	if s.source == nil {
		return ErrNoSource
	}

	payload, err := s.source.FetchGame(ctx, gameID)
	if err != nil {
		return err
	}

	s.Hydrate(gameID, payload)

	return nil
}

// Hydrate resets the session to the start of the game described by p.
func (s *Session) Hydrate(gameID string, p Payload) {
	s.clear()
	s.gameID = gameID

	s.ledger.teams = slices.Clone(p.Teams)
	for i := range s.ledger.teams {
		s.ledger.teams[i].Score = max(0, s.ledger.teams[i].Score)
	}
	s.turns.current = 1
	s.board.setQuestions(p.BoardQuestions)
	s.board.appendBackups(p.BackupQuestions, "")

	s.active = true
	s.logf("hydrated game %s: %d teams, %d questions, %d backups",
		gameID, len(s.ledger.teams), len(s.board.questions), len(s.board.backups))

	s.settle()
}

// settle refreshes the reroll buffers, tops up the backup queue and persists.
func (s *Session) settle() {
	s.board.precompute(s.ledger.teams, s.showing, s.rng)
	s.maybeRefill()
	s.changed()
}

func (s *Session) changed() {
	s.revision++
	if s.persister == nil || !s.active {
		return
	}

	snap := s.Snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.persister.Save(ctx, snap); err != nil {
			s.logf("save game %s: %v", snap.GameID, err)
		}
	}()
}

func (s *Session) purge(gameID string) {
	if s.persister == nil || gameID == "" {
		return
	}

	rev := s.revision
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.persister.Purge(ctx, gameID, rev); err != nil {
			s.logf("purge game %s: %v", gameID, err)
		}
	}()
}

// fetch asks the source for replacement questions. Errors degrade to an
// empty list.
func (s *Session) fetch(ctx context.Context, gameID string) []Question {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	qs, err := s.source.FetchReplacementQuestions(ctx, gameID, s.refillBatch)
	if err != nil {
		s.logf("fetch replacement questions for %s: %v", gameID, err)
		return nil
	}
	return qs
}

func (s *Session) maybeRefill() {
	if !s.active || s.source == nil || s.refilling || !s.board.needsRefill() {
		return
	}

	s.refilling = true
	epoch, gameID := s.epoch, s.gameID

	go func() {
		qs := s.fetch(context.Background(), gameID)
		s.dispatch(func() {
			if s.stale(epoch) {
				return
			}
			s.refilling = false
			if added := s.board.appendBackups(qs, s.showing); added > 0 {
				s.logf("refilled %d backup questions for %s", added, gameID)
				s.board.precompute(s.ledger.teams, s.showing, s.rng)
				s.changed()
			}
		})
	}()
}

// Active reports whether the session has been hydrated and not ended.
func (s *Session) Active() bool { return s.active }

func (s *Session) GameID() string { return s.gameID }

// Epoch identifies the current incarnation of the session; it changes on
// every hydrate, restore and reset.
func (s *Session) Epoch() string { return s.epoch }

func (s *Session) Revision() uint64 { return s.revision }

func (s *Session) Teams() []Team { return s.ledger.snapshot() }

func (s *Session) CurrentTeamIndex() int { return s.turns.current }

// CurrentTeam returns the id of the team whose turn it is, or "".
func (s *Session) CurrentTeam() TeamID { return s.turns.team(s.ledger.teams) }

func (s *Session) Questions() []Question { return slices.Clone(s.board.questions) }

func (s *Session) Board() []Category { return OrganizeByCategory(s.board.questions) }

func (s *Session) Backups() []Question { return slices.Clone(s.board.backups) }

func (s *Session) Played() []QuestionID { return slices.Clone(s.board.played) }

func (s *Session) IsPlayed(id QuestionID) bool { return s.board.isPlayed[id] }

func (s *Session) PerkUsed(k Perk, team TeamID) bool { return s.perks.used[k][team] }

func (s *Session) ActiveDouble() TeamID { return s.perks.activeDouble }

func (s *Session) PerksLocked() bool { return s.perks.locked }

// Question looks up any question seen by this game.
func (s *Session) Question(id QuestionID) (Question, bool) { return s.board.find(id) }

// Buffered returns the replacement precomputed for team, if any.
func (s *Session) Buffered(team TeamID) (QuestionID, bool) {
	id, ok := s.board.buffer[team]
	return id, ok
}

func (s *Session) SwitchToNextTeam() bool {
	if !s.active || !s.turns.next(len(s.ledger.teams)) {
		return false
	}
	s.changed()
	return true
}

func (s *Session) LockPerks() {
	if !s.active {
		return
	}
	s.perks.locked = true
}

func (s *Session) UnlockPerks() {
	if !s.active {
		return
	}
	s.perks.locked = false
}

func (s *Session) ActivateDouble(team TeamID) bool {
	if !s.active || !s.perks.activateDouble(team, s.CurrentTeam()) {
		return false
	}
	s.changed()
	return true
}

func (s *Session) ClearActivePerk() {
	if s.perks.activeDouble == "" {
		return
	}
	s.perks.clearActive()
	s.changed()
}

func (s *Session) ActivateReroll(team TeamID) bool {
	if !s.active || !s.perks.activate(PerkReroll, team, s.CurrentTeam()) {
		return false
	}
	s.changed()
	return true
}

// ActivateChoices spends the team's reveal-choices perk and returns the
// question's answer options in a fresh random order.
func (s *Session) ActivateChoices(team TeamID, id QuestionID) ([]string, bool) {
	if !s.active {
		return nil, false
	}
	q, ok := s.board.find(id)
	if !ok || !s.perks.activate(PerkChoices, team, s.CurrentTeam()) {
		return nil, false
	}
	s.changed()
	return shuffledChoices(q, s.rng), true
}

// AwardPoints credits team with the points of question id, doubled when the
// team's double perk is armed. The armed perk is cleared either way.
func (s *Session) AwardPoints(team TeamID, id QuestionID) (int, bool) {
	if !s.active {
		return 0, false
	}
	defer s.ClearActivePerk()

	q, ok := s.board.find(id)
	if !ok {
		return 0, false
	}

	delta := q.Points * s.perks.multiplier(team)
	if !s.ledger.award(team, delta) {
		return 0, false
	}
	s.changed()

	return delta, true
}

// AdjustScore applies a manual correction to a team's score.
func (s *Session) AdjustScore(team TeamID, delta int) bool {
	if !s.active || !s.ledger.award(team, delta) {
		return false
	}
	s.changed()
	return true
}

func (s *Session) MarkPlayed(id QuestionID) bool {
	if !s.active || !s.board.markPlayed(id) {
		return false
	}
	if s.showing == id {
		s.showing = ""
	}
	s.changed()
	return true
}

// Showing returns the question on screen, or "" once it has been played.
func (s *Session) Showing() QuestionID { return s.showing }

// Focus records which question is on screen so refills never queue it.
func (s *Session) Focus(id QuestionID) {
	if !s.active {
		return
	}
	s.showing = id
}

// UseReroll spends team's reroll perk and replaces current. It reports
// whether the perk was accepted; done runs on the owning goroutine once the
// replacement is known.
func (s *Session) UseReroll(ctx context.Context, team TeamID, current QuestionID, done func(Question, bool)) bool {
	if !s.ActivateReroll(team) {
		return false
	}
	s.Reroll(ctx, team, current, done)
	return true
}

// Reroll finds a replacement for current: team's buffered candidate, then the
// head of the backup queue, then a fresh batch from the source. done gets
// ok=false when nothing eligible turned up.
func (s *Session) Reroll(ctx context.Context, team TeamID, current QuestionID, done func(Question, bool)) {
	if done == nil {
		done = func(Question, bool) {}
	}
	if !s.active {
		done(Question{}, false)
		return
	}

	if q, ok := s.board.take(team, current); ok {
		s.finishReroll(current, q)
		done(q, true)
		return
	}

	if s.source == nil {
		done(Question{}, false)
		return
	}

	epoch, gameID := s.epoch, s.gameID
	go func() {
		qs := s.fetch(ctx, gameID)
		s.dispatch(func() {
			if s.stale(epoch) {
				done(Question{}, false)
				return
			}

			// A refill may have queued the same batch while this fetch was in
			// flight, so draw from the queue rather than from qs directly.
			s.board.appendBackups(qs, current)
			if q, ok := s.board.take(team, current); ok {
				s.finishReroll(current, q)
				done(q, true)
				return
			}

			s.logf("reroll for team %s in %s found no eligible question", team, gameID)
			done(Question{}, false)
		})
	}()
}

func (s *Session) finishReroll(current QuestionID, dest Question) {
	s.board.markPlayed(current)
	s.showing = dest.ID
	s.settle()
}

// EndSession reports the round to the source and, once acknowledged, ends
// the session. On failure the session stays active so the caller may retry.
// It reports whether the request was started.
func (s *Session) EndSession(ctx context.Context, done func(error)) bool {
	if done == nil {
		done = func(error) {}
	}
	if !s.active || s.ending {
		return false
	}

	if s.source == nil {
		s.finishEnd()
		done(nil)
		return true
	}

	s.ending = true
	epoch, gameID, played := s.epoch, s.gameID, slices.Clone(s.board.played)

	go func() {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.source.ReportRoundFinished(ctx, gameID, played)
		cancel()

		s.dispatch(func() {
			if s.stale(epoch) {
				done(ErrSessionChanged)
				return
			}
			s.ending = false
			if err != nil {
				s.logf("report round for %s: %v", gameID, err)
				done(err)
				return
			}
			s.finishEnd()
			done(nil)
		})
	}()

	return true
}

func (s *Session) finishEnd() {
	s.active = false
	s.epoch = uuid.NewString()
	s.board.backups = nil
	s.board.played = nil
	s.board.known = make(map[QuestionID]Question)
	s.board.isPlayed = make(map[QuestionID]bool)
	s.board.buffer = make(map[TeamID]QuestionID)
	s.perks.clearActive()
	s.showing = ""
	s.refilling = false
	s.revision++
	s.logf("ended game %s", s.gameID)
	s.purge(s.gameID)
}

// ResetSession drops everything, returning to the pre-hydration state.
func (s *Session) ResetSession() {
	gameID := s.gameID
	s.clear()
	s.revision++
	s.purge(gameID)
}
