/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

import (
	"math/rand/v2"
	"slices"
)

// lowWater is the backup queue length at or under which a refill starts.
const lowWater = 2

// Category is one column of the board.
type Category struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

// OrganizeByCategory groups questions by category, in order of first
// appearance, with each column sorted by descending points.
func OrganizeByCategory(questions []Question) []Category {
	var out []Category
	pos := make(map[string]int)

	for _, q := range questions {
		i, ok := pos[q.CategoryID]
		if !ok {
			i = len(out)
			pos[q.CategoryID] = i
			out = append(out, Category{ID: q.CategoryID, Name: q.Category})
		}
		out[i].Questions = append(out[i].Questions, q)
	}

	for i := range out {
		slices.SortStableFunc(out[i].Questions, func(a, b Question) int {
			return b.Points - a.Points
		})
	}

	return out
}

type board struct {
	questions []Question
	played    []QuestionID
	isPlayed  map[QuestionID]bool
	backups   []Question
	buffer    map[TeamID]QuestionID
	known     map[QuestionID]Question
}

func newBoard() board {
	return board{
		isPlayed: make(map[QuestionID]bool),
		buffer:   make(map[TeamID]QuestionID),
		known:    make(map[QuestionID]Question),
	}
}

func (b *board) setQuestions(qs []Question) {
	b.questions = slices.Clone(qs)
	for _, q := range qs {
		b.known[q.ID] = q
	}
}

func (b *board) markPlayed(id QuestionID) bool {
	if id == "" || b.isPlayed[id] {
		return false
	}
	b.isPlayed[id] = true
	b.played = append(b.played, id)
	return true
}

func (b *board) onBoard(id QuestionID) bool {
	return slices.ContainsFunc(b.questions, func(q Question) bool { return q.ID == id })
}

// find looks up any question the board has seen this game, including
// backups already handed out by a reroll.
func (b *board) find(id QuestionID) (Question, bool) {
	q, ok := b.known[id]
	return q, ok
}

// eligible reports whether q can be offered as a replacement for current.
func (b *board) eligible(q Question, current QuestionID) bool {
	return q.ID != "" && q.ID != current && !b.isPlayed[q.ID] && !b.onBoard(q.ID)
}

// queued returns the position of id in the backup queue, or -1.
func (b *board) queued(id QuestionID) int {
	return slices.IndexFunc(b.backups, func(q Question) bool { return q.ID == id })
}

// reserved reports whether some team's buffer points at id.
func (b *board) reserved(id QuestionID) bool {
	for _, v := range b.buffer {
		if v == id {
			return true
		}
	}
	return false
}

// appendBackups adds every eligible question not already queued, preserving
// order, and returns how many were added.
func (b *board) appendBackups(qs []Question, current QuestionID) int {
	added := 0
	for _, q := range qs {
		if !b.eligible(q, current) || b.queued(q.ID) >= 0 {
			continue
		}
		b.backups = append(b.backups, q)
		b.known[q.ID] = q
		added++
	}
	return added
}

// take returns the next replacement for team: its buffered candidate if it is
// still queued and valid, otherwise the head of the backup queue.
func (b *board) take(team TeamID, current QuestionID) (Question, bool) {
	if id, ok := b.buffer[team]; ok {
		delete(b.buffer, team)
		if i := b.queued(id); i >= 0 {
			q := b.backups[i]
			b.backups = slices.Delete(b.backups, i, i+1)
			if b.eligible(q, current) {
				return q, true
			}
		}
	}

	for len(b.backups) > 0 {
		q := b.backups[0]
		b.backups = b.backups[1:]
		if b.eligible(q, current) {
			return q, true
		}
	}

	return Question{}, false
}

// precompute points every empty team buffer at a uniformly random eligible
// backup that no other team has reserved. Entries may stay empty.
func (b *board) precompute(teams []Team, current QuestionID, rng *rand.Rand) {
	for id, qid := range b.buffer {
		if i := b.queued(qid); i < 0 || !b.eligible(b.backups[i], current) {
			delete(b.buffer, id)
		}
	}

	for _, t := range teams {
		if _, ok := b.buffer[t.ID]; ok {
			continue
		}

		var candidates []QuestionID
		for _, q := range b.backups {
			if b.eligible(q, current) && !b.reserved(q.ID) {
				candidates = append(candidates, q.ID)
			}
		}
		if len(candidates) == 0 {
			return
		}

		b.buffer[t.ID] = candidates[rng.IntN(len(candidates))]
	}
}

func (b *board) needsRefill() bool {
	return len(b.backups) <= lowWater
}
