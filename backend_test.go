package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/Seednode/quizboard/games/trivia"
)

const gameDocument = `{
  "data": {
    "teams": [
      {"id": "t1", "name": "Owls", "image": "https://cdn.example.com/owl.png", "score": 100},
      {"name": "no id"},
      {"id": "t2", "name": "Foxes"}
    ],
    "categories": [
      {"id": "c1", "name": "Rivers", "questions": [
        {"id": "q1", "points": 200, "text": "Longest river?", "answer": "Nile", "choice_2": "Amazon"}
      ]}
    ],
    "questions": [
      {"id": "q2", "category": "Space", "category_id": "c2", "points": 400, "question": "Red planet?", "answer": "Mars"}
    ],
    "backup_questions": [
      {"id": "b1", "category": {"id": "c1", "name": "Rivers"}, "points": 200, "text": "Rome's river?", "answer": "Tiber"}
    ]
  }
}`

func newTestBackend(t *testing.T, h http.HandlerFunc) *Backend {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	b, err := newBackend(srv.URL+"/api/", "secret", time.Second)
	if err != nil {
		t.Fatalf("newBackend() error = %v", err)
	}
	return b
}

func TestBackendFetchGame(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/games/g1" {
			t.Errorf("path = %q, want /api/games/g1", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q, want Bearer secret", got)
		}
		_, _ = w.Write([]byte(gameDocument))
	})

	p, err := b.FetchGame(context.Background(), "g1")
	if err != nil {
		t.Fatalf("FetchGame() error = %v", err)
	}

	if len(p.Teams) != 2 || p.Teams[0].Avatar != "https://cdn.example.com/owl.png" || p.Teams[0].Score != 100 {
		t.Fatalf("teams = %+v", p.Teams)
	}

	ids := make([]trivia.QuestionID, 0, len(p.BoardQuestions))
	for _, q := range p.BoardQuestions {
		ids = append(ids, q.ID)
	}
	if !slices.Equal(ids, []trivia.QuestionID{"q2", "q1"}) {
		t.Fatalf("board ids = %v, want [q2 q1]", ids)
	}
	if q := p.BoardQuestions[1]; q.Category != "Rivers" || q.CategoryID != "c1" || q.Choice2 != "Amazon" {
		t.Fatalf("nested question = %+v", q)
	}
	if q := p.BoardQuestions[0]; q.Category != "Space" || q.Text != "Red planet?" {
		t.Fatalf("flat question = %+v", q)
	}
	if len(p.BackupQuestions) != 1 || p.BackupQuestions[0].Category != "Rivers" || p.BackupQuestions[0].CategoryID != "c1" {
		t.Fatalf("backups = %+v", p.BackupQuestions)
	}
}

func TestBackendFetchGameStatus(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})

	if _, err := b.FetchGame(context.Background(), "g1"); err == nil {
		t.Fatal("FetchGame() error = nil, want error")
	}
}

func TestBackendFetchReplacementQuestions(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("count"); got != "4" {
			t.Errorf("count = %q, want 4", got)
		}
		switch r.URL.Path {
		case "/api/games/array/replacement-questions":
			_, _ = w.Write([]byte(`[{"id": "r1", "points": 100}, {"points": 200}]`))
		case "/api/games/wrapped/replacement-questions":
			_, _ = w.Write([]byte(`{"questions": [{"id": "r2", "points": 300}]}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	ctx := context.Background()

	qs, err := b.FetchReplacementQuestions(ctx, "array", 4)
	if err != nil || len(qs) != 1 || qs[0].ID != "r1" {
		t.Fatalf("array = %+v, %v", qs, err)
	}

	qs, err = b.FetchReplacementQuestions(ctx, "wrapped", 4)
	if err != nil || len(qs) != 1 || qs[0].ID != "r2" {
		t.Fatalf("wrapped = %+v, %v", qs, err)
	}

	qs, err = b.FetchReplacementQuestions(ctx, "empty", 4)
	if err != nil || len(qs) != 0 {
		t.Fatalf("empty = %+v, %v", qs, err)
	}
}

func TestBackendReportRoundFinished(t *testing.T) {
	t.Parallel()

	var got []trivia.QuestionID
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/games/g1/finish" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Played []trivia.QuestionID `json:"played_question_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		got = body.Played
		w.WriteHeader(http.StatusNoContent)
	})

	played := []trivia.QuestionID{"q1", "q2"}
	if err := b.ReportRoundFinished(context.Background(), "g1", played); err != nil {
		t.Fatalf("ReportRoundFinished() error = %v", err)
	}
	if !slices.Equal(got, played) {
		t.Fatalf("played = %v, want %v", got, played)
	}
}

func TestBackendReportRoundFinishedError(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message": "round already finished"}`))
	})

	err := b.ReportRoundFinished(context.Background(), "g1", nil)
	if err == nil {
		t.Fatal("ReportRoundFinished() error = nil, want error")
	}
	if want := "report round for g1: 409 round already finished"; err.Error() != want {
		t.Fatalf("error = %q, want %q", err, want)
	}
}
