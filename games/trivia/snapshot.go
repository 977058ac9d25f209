/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

import (
	"slices"
	"time"
)

// Snapshot is the whitelisted subset of session state that is persisted.
// The view gate, reroll buffers and in-flight fetches are not saved; they are
// rebuilt after a restore. Showing is the question open on screen, if any.
type Snapshot struct {
	GameID           string            `json:"game_id"`
	Revision         uint64            `json:"revision"`
	Teams            []Team            `json:"teams"`
	CurrentTeamIndex int               `json:"current_team_index"`
	Questions        []Question        `json:"questions"`
	Played           []QuestionID      `json:"played"`
	Backups          []Question        `json:"backups"`
	PerkUsed         map[Perk][]TeamID `json:"perk_used"`
	ActiveDouble     TeamID            `json:"active_double,omitempty"`
	Showing          *Question         `json:"showing,omitempty"`
	SavedAt          time.Time         `json:"saved_at"`
}

// Snapshot captures the persistable state. The result shares nothing with
// the session.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		GameID:           s.gameID,
		Revision:         s.revision,
		Teams:            s.ledger.snapshot(),
		CurrentTeamIndex: s.turns.current,
		Questions:        slices.Clone(s.board.questions),
		Played:           slices.Clone(s.board.played),
		Backups:          slices.Clone(s.board.backups),
		PerkUsed:         make(map[Perk][]TeamID, len(perks)),
		ActiveDouble:     s.perks.activeDouble,
		SavedAt:          s.now(),
	}

	// A rerolled question is on neither the board nor the queue, so it is
	// saved whole.
	if q, ok := s.board.find(s.showing); ok && !s.board.isPlayed[q.ID] {
		snap.Showing = &q
	}

	for _, k := range perks {
		for _, t := range s.ledger.teams {
			if s.perks.used[k][t.ID] {
				snap.PerkUsed[k] = append(snap.PerkUsed[k], t.ID)
			}
		}
	}

	return snap
}

// Restore replaces the session state with snap and activates the session.
// It reports false, leaving the session untouched, for a snapshot without a
// game id.
func (s *Session) Restore(snap Snapshot) bool {
	if snap.GameID == "" {
		return false
	}

	s.clear()
	s.gameID = snap.GameID
	s.revision = max(s.revision, snap.Revision)

	s.ledger.teams = slices.Clone(snap.Teams)
	for i := range s.ledger.teams {
		s.ledger.teams[i].Score = max(0, s.ledger.teams[i].Score)
	}

	s.turns.current = 1
	if snap.CurrentTeamIndex >= 1 && snap.CurrentTeamIndex <= len(s.ledger.teams) {
		s.turns.current = snap.CurrentTeamIndex
	}

	s.board.setQuestions(snap.Questions)
	for _, id := range snap.Played {
		s.board.markPlayed(id)
	}
	s.board.appendBackups(snap.Backups, "")

	for k, ids := range snap.PerkUsed {
		if _, ok := s.perks.used[k]; !ok {
			continue
		}
		for _, id := range ids {
			s.perks.used[k][id] = true
		}
	}
	if s.ledger.index(snap.ActiveDouble) >= 0 {
		s.perks.activeDouble = snap.ActiveDouble
	}
	if q := snap.Showing; q != nil && q.ID != "" && !s.board.isPlayed[q.ID] {
		if i := s.board.queued(q.ID); i >= 0 {
			s.board.backups = slices.Delete(s.board.backups, i, i+1)
		}
		s.board.known[q.ID] = *q
		s.showing = q.ID
	}

	s.active = true
	s.logf("restored game %s at revision %d", s.gameID, s.revision)
	s.settle()

	return true
}
