/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/Seednode/quizboard/games/trivia"
	"github.com/tidwall/gjson"
)

const defaultCatalogGame = "default"

// Catalog serves games from a local JSON file, for play without a backend.
//
//	{
//	  "games": {"default": {"teams": [...], "questions": [...], "backup_questions": [...]}},
//	  "replacements": [...]
//	}
//
// Game ids missing from "games" get the "default" game. Replacement
// questions are handed out round-robin from the shared pool, per game.
type Catalog struct {
	mu           sync.Mutex
	games        map[string]trivia.Payload
	replacements []trivia.Question
	cursors      map[string]int
	finished     map[string][]trivia.QuestionID
}

func loadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return parseCatalog(data)
}

func parseCatalog(data []byte) (*Catalog, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("catalog is not valid json")
	}

	root := gjson.ParseBytes(data)

	c := &Catalog{
		games:        make(map[string]trivia.Payload),
		replacements: parseQuestions(root.Get("replacements")),
		cursors:      make(map[string]int),
		finished:     make(map[string][]trivia.QuestionID),
	}

	root.Get("games").ForEach(func(k, v gjson.Result) bool {
		c.games[k.String()] = parsePayload(v)
		return true
	})

	if len(c.games) == 0 {
		return nil, errors.New("catalog defines no games")
	}

	return c, nil
}

func (c *Catalog) FetchGame(_ context.Context, gameID string) (trivia.Payload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.games[gameID]; ok {
		return p, nil
	}
	if p, ok := c.games[defaultCatalogGame]; ok {
		return p, nil
	}

	return trivia.Payload{}, fmt.Errorf("game %s not found in catalog", gameID)
}

func (c *Catalog) FetchReplacementQuestions(_ context.Context, gameID string, count int) ([]trivia.Question, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.replacements) == 0 || count <= 0 {
		return nil, nil
	}

	n := min(count, len(c.replacements))
	out := make([]trivia.Question, 0, n)
	cur := c.cursors[gameID]
	for range n {
		out = append(out, c.replacements[cur%len(c.replacements)])
		cur++
	}
	c.cursors[gameID] = cur % len(c.replacements)

	return out, nil
}

func (c *Catalog) ReportRoundFinished(_ context.Context, gameID string, played []trivia.QuestionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finished[gameID] = append(c.finished[gameID], played...)
	delete(c.cursors, gameID)

	return nil
}
