/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

// turns is a 1-based round-robin pointer over the team list.
type turns struct {
	current int
}

func (t *turns) next(teamCount int) bool {
	if teamCount <= 0 {
		return false
	}
	t.current = t.current%teamCount + 1
	return true
}

// team returns the id at the pointer, or "" if the pointer is out of range.
func (t *turns) team(teams []Team) TeamID {
	if t.current < 1 || t.current > len(teams) {
		return ""
	}
	return teams[t.current-1].ID
}
