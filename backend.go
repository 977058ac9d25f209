/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/quizboard/games/trivia"
	"github.com/tidwall/gjson"
)

const maxBackendBody = 4 << 20

// Backend fetches games from a remote trivia backend over HTTP.
//
//	GET  {base}/games/:id
//	GET  {base}/games/:id/replacement-questions?count=n
//	POST {base}/games/:id/finish
type Backend struct {
	base   *url.URL
	token  string
	client *http.Client
}

func newBackend(base, token string, timeout time.Duration) (*Backend, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return nil, err
	}

	return &Backend{
		base:   u,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (b *Backend) endpoint(gameID string, parts ...string) string {
	u := *b.base
	u.Path = u.Path + "/games/" + url.PathEscape(gameID)
	for _, p := range parts {
		u.Path += "/" + p
	}
	return u.String()
}

func (b *Backend) do(ctx context.Context, method, target string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}

	return resp.StatusCode, data, nil
}

func (b *Backend) FetchGame(ctx context.Context, gameID string) (trivia.Payload, error) {
	status, data, err := b.do(ctx, http.MethodGet, b.endpoint(gameID), nil)
	if err != nil {
		return trivia.Payload{}, fmt.Errorf("fetch game %s: %w", gameID, err)
	}
	if status != http.StatusOK {
		return trivia.Payload{}, fmt.Errorf("fetch game %s: unexpected status %d", gameID, status)
	}
	if !gjson.ValidBytes(data) {
		return trivia.Payload{}, fmt.Errorf("fetch game %s: invalid json", gameID)
	}

	return parsePayload(gjson.ParseBytes(data)), nil
}

func (b *Backend) FetchReplacementQuestions(ctx context.Context, gameID string, count int) ([]trivia.Question, error) {
	target := b.endpoint(gameID, "replacement-questions") + "?count=" + strconv.Itoa(count)

	status, data, err := b.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch replacements for %s: %w", gameID, err)
	}
	switch {
	case status == http.StatusNoContent, status == http.StatusNotFound:
		return nil, nil
	case status != http.StatusOK:
		return nil, fmt.Errorf("fetch replacements for %s: unexpected status %d", gameID, status)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("fetch replacements for %s: invalid json", gameID)
	}

	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		root = firstOf(root, "questions", "data")
	}

	return parseQuestions(root), nil
}

func (b *Backend) ReportRoundFinished(ctx context.Context, gameID string, played []trivia.QuestionID) error {
	body, err := json.Marshal(struct {
		Played []trivia.QuestionID `json:"played_question_ids"`
	}{Played: played})
	if err != nil {
		return err
	}

	status, data, err := b.do(ctx, http.MethodPost, b.endpoint(gameID, "finish"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("report round for %s: %w", gameID, err)
	}
	if status < 200 || status > 299 {
		msg := gjson.GetBytes(data, "message").String()
		if msg == "" {
			msg = http.StatusText(status)
		}
		return fmt.Errorf("report round for %s: %d %s", gameID, status, msg)
	}

	return nil
}

// firstOf returns the first of paths present in r.
func firstOf(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// parsePayload reads a game document. Missing sections become empty lists.
func parsePayload(r gjson.Result) trivia.Payload {
	if d := r.Get("data"); d.IsObject() {
		r = d
	}

	p := trivia.Payload{
		BoardQuestions:  parseQuestions(firstOf(r, "questions", "board_questions")),
		BackupQuestions: parseQuestions(firstOf(r, "backup_questions", "backups")),
	}

	firstOf(r, "teams").ForEach(func(_, t gjson.Result) bool {
		id := t.Get("id").String()
		if id == "" {
			return true
		}
		p.Teams = append(p.Teams, trivia.Team{
			ID:     trivia.TeamID(id),
			Name:   t.Get("name").String(),
			Avatar: firstOf(t, "avatar", "image").String(),
			Score:  int(t.Get("score").Int()),
		})
		return true
	})

	// Some documents nest questions under their category.
	firstOf(r, "categories").ForEach(func(_, c gjson.Result) bool {
		for _, q := range parseQuestions(c.Get("questions")) {
			if q.CategoryID == "" {
				q.CategoryID = c.Get("id").String()
			}
			if q.Category == "" {
				q.Category = c.Get("name").String()
			}
			p.BoardQuestions = append(p.BoardQuestions, q)
		}
		return true
	})

	return p
}

func parseQuestions(r gjson.Result) []trivia.Question {
	var out []trivia.Question
	r.ForEach(func(_, v gjson.Result) bool {
		if q, ok := parseQuestion(v); ok {
			out = append(out, q)
		}
		return true
	})
	return out
}

func parseQuestion(r gjson.Result) (trivia.Question, bool) {
	id := r.Get("id").String()
	if id == "" {
		return trivia.Question{}, false
	}

	category := firstOf(r, "category_name", "category.name").String()
	if c := r.Get("category"); category == "" && c.Type == gjson.String {
		category = c.String()
	}

	return trivia.Question{
		ID:         trivia.QuestionID(id),
		CategoryID: firstOf(r, "category_id", "category.id").String(),
		Category:   category,
		Points:     int(r.Get("points").Int()),
		Text:       firstOf(r, "text", "question").String(),
		Answer:     r.Get("answer").String(),
		Choice2:    r.Get("choice_2").String(),
		Choice3:    r.Get("choice_3").String(),
		Choice4:    r.Get("choice_4").String(),
		Media:      firstOf(r, "media", "image", "question_image").String(),
	}, true
}
