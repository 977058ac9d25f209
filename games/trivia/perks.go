/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

import (
	"math/rand/v2"
)

// perkEngine tracks one-shot perk usage per team, the armed double-points
// multiplier and the view gate.
type perkEngine struct {
	used         map[Perk]map[TeamID]bool
	activeDouble TeamID
	locked       bool
}

func newPerkEngine() perkEngine {
	p := perkEngine{used: make(map[Perk]map[TeamID]bool, len(perks))}
	for _, k := range perks {
		p.used[k] = make(map[TeamID]bool)
	}
	return p
}

// allowed applies the common gate: perks unlocked, the team holds the turn,
// and the perk is still unused for it.
func (p *perkEngine) allowed(k Perk, team, turn TeamID) bool {
	if p.locked || team == "" || team != turn {
		return false
	}
	return !p.used[k][team]
}

func (p *perkEngine) activateDouble(team, turn TeamID) bool {
	if p.activeDouble != "" || !p.allowed(PerkDouble, team, turn) {
		return false
	}
	p.activeDouble = team
	p.used[PerkDouble][team] = true
	return true
}

func (p *perkEngine) activate(k Perk, team, turn TeamID) bool {
	if !p.allowed(k, team, turn) {
		return false
	}
	p.used[k][team] = true
	return true
}

func (p *perkEngine) clearActive() {
	p.activeDouble = ""
}

// multiplier returns the factor points for team are scaled by.
func (p *perkEngine) multiplier(team TeamID) int {
	if p.activeDouble != "" && p.activeDouble == team {
		return 2
	}
	return 1
}

// shuffledChoices returns the non-empty answer options of q in a fresh
// uniformly random order.
func shuffledChoices(q Question, rng *rand.Rand) []string {
	choices := make([]string, 0, 4)
	for _, c := range []string{q.Answer, q.Choice2, q.Choice3, q.Choice4} {
		if c != "" {
			choices = append(choices, c)
		}
	}
	// Fisher-Yates
	for i := len(choices) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		choices[i], choices[j] = choices[j], choices[i]
	}
	return choices
}
