/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

// ledger owns the per-team point totals.
type ledger struct {
	teams []Team
}

func (l *ledger) index(id TeamID) int {
	for i := range l.teams {
		if l.teams[i].ID == id {
			return i
		}
	}
	return -1
}

// award adds delta to the team's score, clamping at zero. Reports whether the
// team exists.
func (l *ledger) award(id TeamID, delta int) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	l.teams[i].Score = max(0, l.teams[i].Score+delta)
	return true
}

func (l *ledger) snapshot() []Team {
	out := make([]Team, len(l.teams))
	copy(out, l.teams)
	return out
}
