/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package trivia holds the state of one board-style trivia game: teams and
// their scores, whose turn it is, which questions were played, the one-shot
// help perks and the replacement ("reroll") question queue.
//
// A Session is not safe for concurrent use. It is meant to be owned by a
// single goroutine; asynchronous work it starts re-enters that goroutine
// through the Dispatcher given to NewSession.
package trivia

import (
	"context"
)

type TeamID string

type QuestionID string

type Team struct {
	ID     TeamID `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Score  int    `json:"score"`
}

type Question struct {
	ID         QuestionID `json:"id"`
	CategoryID string     `json:"category_id"`
	Category   string     `json:"category,omitempty"`
	Points     int        `json:"points"`
	Text       string     `json:"text"`
	Answer     string     `json:"answer"`
	Choice2    string     `json:"choice_2,omitempty"`
	Choice3    string     `json:"choice_3,omitempty"`
	Choice4    string     `json:"choice_4,omitempty"`
	Media      string     `json:"media,omitempty"`
}

// Payload is what a Source returns for a game id, used once to hydrate.
type Payload struct {
	Teams           []Team
	BoardQuestions  []Question
	BackupQuestions []Question
}

// Perk names the three one-shot help actions.
type Perk string

const (
	PerkDouble  Perk = "double"
	PerkReroll  Perk = "reroll"
	PerkChoices Perk = "choices"
)

var perks = []Perk{PerkDouble, PerkReroll, PerkChoices}

// Source is the remote backend the session pulls games and replacement
// questions from, and reports finished rounds to.
type Source interface {
	FetchGame(ctx context.Context, gameID string) (Payload, error)
	FetchReplacementQuestions(ctx context.Context, gameID string, count int) ([]Question, error)
	ReportRoundFinished(ctx context.Context, gameID string, played []QuestionID) error
}

// Persister keeps a whitelisted snapshot of a session so it survives reloads.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, gameID string) (Snapshot, bool, error)
	Purge(ctx context.Context, gameID string, revision uint64) error
}

// Dispatcher queues fn to run on the goroutine that owns the session.
type Dispatcher func(fn func())

// Logger receives diagnostic lines from the session.
type Logger func(format string, args ...any)
