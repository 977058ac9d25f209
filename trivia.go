// Quizboard trivia host
//
// A game is a category x points board played by 2-4 teams in turn. The host
// screen drives the game; team devices may follow along read-only.
//
// Features:
// - WebSockets per game ID: /path/:gameid and /path/:gameid/ws
// - First connection to a game becomes the host; only the host issues commands
// - Games are loaded from the backend (or catalog), or restored from sqlite
// - Views: board -> question -> answer -> board, and results after the round
// - Perks (double points, reroll, reveal choices) only usable on the question view
// - Rerolls never repeat a played, on-board or current question
// - Ending the round reports played questions; on failure the round stays open
// - Games auto-reaped after configurable idle timeout
// - In-browser QR button to share the current game, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/quizboard/games/trivia"
	"github.com/Seednode/quizboard/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	viewBoard    = "board"
	viewQuestion = "question"
	viewAnswer   = "answer"
	viewResults  = "results"
)

// snapshotRetention is how long saved games are kept after their last change.
const snapshotRetention = 7 * 24 * time.Hour

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`               // see Hub.handleCommand
	Team     string `json:"team,omitempty"`     // award, adjust_score, perk_*
	Question string `json:"question,omitempty"` // open_question
	Delta    int    `json:"delta,omitempty"`    // adjust_score
}

// SimpleMessage is for generic notifications ("not_host", "round_error", etc.)
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SessionInfoMessage is sent immediately on connect so the client knows
// which role this cookie has.
type SessionInfoMessage struct {
	Type   string `json:"type"` // "session_info"
	GameID string `json:"game_id"`
	IsHost bool   `json:"is_host"`
}

type TeamView struct {
	trivia.Team
	Current     bool                 `json:"current"`
	PerksUsed   map[trivia.Perk]bool `json:"perks_used"`
	DoubleArmed bool                 `json:"double_armed"`
}

type SlotView struct {
	ID     trivia.QuestionID `json:"id"`
	Points int               `json:"points"`
	Played bool              `json:"played"`
}

type CategoryView struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Slots []SlotView `json:"slots"`
}

type QuestionView struct {
	ID       trivia.QuestionID `json:"id"`
	Category string            `json:"category,omitempty"`
	Points   int               `json:"points"`
	Text     string            `json:"text"`
	Media    string            `json:"media,omitempty"`
	Answer   string            `json:"answer,omitempty"`
	Choices  []string          `json:"choices,omitempty"`
}

// GameStateMessage is broadcast after every change.
type GameStateMessage struct {
	Type        string         `json:"type"` // "game_state"
	GameID      string         `json:"game_id"`
	Active      bool           `json:"active"`
	View        string         `json:"view"`
	Teams       []TeamView     `json:"teams"`
	Board       []CategoryView `json:"board"`
	Question    *QuestionView  `json:"question,omitempty"`
	PerksLocked bool           `json:"perks_locked"`
	Backups     int            `json:"backups"`
	Busy        bool           `json:"busy"`
	Error       string         `json:"error,omitempty"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type command struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id  string
	cfg *Config

	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	commands chan command
	effects  chan func()
	done     chan struct{}
	stop     sync.Once

	mu sync.RWMutex

	createdAt    time.Time
	lastActive   time.Time
	hostPlayerID string // cookie/playerID of the host screen

	session *trivia.Session
	view    string
	current trivia.QuestionID
	choices []string
	busy    bool // a reroll or round report is in flight
	loadErr string
}

func newHub(cfg *Config, gameID string, src trivia.Source, persister trivia.Persister) *Hub {
	now := time.Now()
	h := &Hub{
		id:         gameID,
		cfg:        cfg,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		commands:   make(chan command),
		effects:    make(chan func(), 16),
		done:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
	}

	opts := []trivia.Option{
		trivia.WithSource(src),
		trivia.WithDispatcher(h.dispatch),
		trivia.WithRefillBatch(cfg.refillBatch),
		trivia.WithTimeout(cfg.backendTimeout),
		trivia.WithLogger(func(format string, args ...any) {
			logf(cfg, "GAMES: %s | "+format, append([]any{gameID}, args...)...)
		}),
	}
	if persister != nil {
		opts = append(opts, trivia.WithPersister(persister))
	}
	h.session = trivia.NewSession(opts...)

	return h
}

// dispatch hands fn to the run loop; it is the session's Dispatcher.
func (h *Hub) dispatch(fn func()) {
	select {
	case h.effects <- fn:
	case <-h.done:
	}
}

func (h *Hub) run() {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.backendTimeout)
	err := h.session.Load(ctx, h.id)
	cancel()

	h.mu.Lock()
	if err != nil {
		h.loadErr = "This game could not be loaded."
		logf(h.cfg, "ERROR: Loading game %s: %v", h.id, err)
	} else if id := h.session.Showing(); id != "" {
		// Reopen the question that was on screen before a reload.
		h.current = id
		h.enterViewLocked(viewQuestion)
		logf(h.cfg, "GAMES: Loaded game %s on question %s", h.id, id)
	} else {
		h.enterViewLocked(viewBoard)
		logf(h.cfg, "GAMES: Loaded game %s", h.id)
	}
	h.mu.Unlock()

	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()

			// First connection becomes the host
			if h.hostPlayerID == "" {
				h.hostPlayerID = c.playerID
			}

			h.clients[c] = true

			h.sendLocked(c, SessionInfoMessage{
				Type:   "session_info",
				GameID: h.id,
				IsHost: c.playerID == h.hostPlayerID,
			})
			h.sendLocked(c, h.stateLocked(c.playerID == h.hostPlayerID))

			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case cmd := <-h.commands:
			h.handleCommand(cmd)

		case fn := <-h.effects:
			h.mu.Lock()
			fn()
			h.broadcastStateLocked()
			h.mu.Unlock()
		}
	}
}

// enterViewLocked switches the visible view; perks are only usable while a
// question is showing.
func (h *Hub) enterViewLocked(view string) {
	h.view = view
	if view == viewQuestion {
		h.session.UnlockPerks()
	} else {
		h.session.LockPerks()
	}
}

// finishQuestionLocked retires the current question and passes the turn.
func (h *Hub) finishQuestionLocked() {
	h.session.MarkPlayed(h.current)
	h.session.ClearActivePerk()
	h.session.SwitchToNextTeam()
	h.current = ""
	h.choices = nil
	h.enterViewLocked(viewBoard)
}

func (h *Hub) onBoardLocked(id trivia.QuestionID) bool {
	return slices.ContainsFunc(h.session.Questions(), func(q trivia.Question) bool {
		return q.ID == id
	})
}

// handleCommand processes host commands.
func (h *Hub) handleCommand(cmd command) {
	c := cmd.client
	msg := cmd.msg

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if h.hostPlayerID == "" || c.playerID != h.hostPlayerID {
		h.sendLocked(c, SimpleMessage{
			Type:    "not_host",
			Message: "Only the host screen can control the game.",
		})
		return
	}

	s := h.session
	team := trivia.TeamID(msg.Team)

	switch msg.Type {
	case "open_question":
		id := trivia.QuestionID(msg.Question)
		if h.view != viewBoard || h.busy || !s.Active() || s.IsPlayed(id) || !h.onBoardLocked(id) {
			return
		}
		h.current = id
		h.choices = nil
		s.Focus(id)
		h.enterViewLocked(viewQuestion)

	case "show_answer":
		if h.view != viewQuestion || h.busy {
			return
		}
		h.enterViewLocked(viewAnswer)

	case "award":
		if (h.view != viewQuestion && h.view != viewAnswer) || h.busy {
			return
		}
		if team != "" {
			if delta, ok := s.AwardPoints(team, h.current); ok {
				logf(h.cfg, "GAMES: Team %q scored %d in %s", team, delta, h.id)
			}
		}
		h.finishQuestionLocked()

	case "back_to_board":
		if (h.view != viewQuestion && h.view != viewAnswer) || h.busy {
			return
		}
		h.finishQuestionLocked()

	case "adjust_score":
		s.AdjustScore(team, msg.Delta)

	case "switch_turn":
		s.SwitchToNextTeam()

	case "perk_double":
		s.ActivateDouble(team)

	case "perk_choices":
		if h.busy {
			return
		}
		if choices, ok := s.ActivateChoices(team, h.current); ok {
			h.choices = choices
		}

	case "perk_reroll":
		if h.view != viewQuestion || h.busy {
			return
		}
		h.rerollLocked(team)

	case "end_round":
		if h.busy {
			return
		}
		h.endRoundLocked()

	case "reset":
		s.ResetSession()
		h.current = ""
		h.choices = nil
		h.view = ""
		h.broadcastLocked(SimpleMessage{
			Type:    "reset",
			Message: "The host abandoned this game.",
		})
		logf(h.cfg, "GAMES: Reset game %s", h.id)

	default:
		return
	}

	h.broadcastStateLocked()
}

func (h *Hub) rerollLocked(team trivia.TeamID) {
	s := h.session
	current := h.current
	epoch := s.Epoch()

	h.busy = true
	accepted := s.UseReroll(context.Background(), team, current, func(dest trivia.Question, ok bool) {
		h.busy = false
		if !ok || s.Epoch() != epoch || h.current != current {
			h.broadcastLocked(SimpleMessage{
				Type:    "reroll_failed",
				Message: "No replacement question is available.",
			})
			return
		}
		h.current = dest.ID
		h.choices = nil
		s.Focus(dest.ID)
		logf(h.cfg, "GAMES: Team %q rerolled %s to %s in %s", team, current, dest.ID, h.id)
	})
	if !accepted {
		h.busy = false
	}
}

func (h *Hub) endRoundLocked() {
	h.busy = true
	started := h.session.EndSession(context.Background(), func(err error) {
		h.busy = false
		if err != nil {
			logf(h.cfg, "ERROR: Ending game %s: %v", h.id, err)
			h.broadcastLocked(SimpleMessage{
				Type:    "round_error",
				Message: "The round could not be saved. Please try again.",
			})
			return
		}
		h.current = ""
		h.choices = nil
		h.enterViewLocked(viewResults)
		logf(h.cfg, "GAMES: Finished game %s", h.id)
	})
	if !started {
		h.busy = false
	}
}

// stateLocked builds the game state. Answers are only included for the host
// or once the answer is revealed.
func (h *Hub) stateLocked(forHost bool) GameStateMessage {
	s := h.session

	msg := GameStateMessage{
		Type:        "game_state",
		GameID:      h.id,
		Active:      s.Active(),
		View:        h.view,
		PerksLocked: s.PerksLocked(),
		Backups:     len(s.Backups()),
		Busy:        h.busy,
		Error:       h.loadErr,
	}

	current := s.CurrentTeamIndex()
	for i, t := range s.Teams() {
		used := make(map[trivia.Perk]bool, 3)
		for _, k := range []trivia.Perk{trivia.PerkDouble, trivia.PerkReroll, trivia.PerkChoices} {
			used[k] = s.PerkUsed(k, t.ID)
		}
		msg.Teams = append(msg.Teams, TeamView{
			Team:        t,
			Current:     s.Active() && i+1 == current,
			PerksUsed:   used,
			DoubleArmed: s.ActiveDouble() == t.ID,
		})
	}

	for _, cat := range s.Board() {
		cv := CategoryView{ID: cat.ID, Name: cat.Name}
		for _, q := range cat.Questions {
			cv.Slots = append(cv.Slots, SlotView{ID: q.ID, Points: q.Points, Played: s.IsPlayed(q.ID)})
		}
		msg.Board = append(msg.Board, cv)
	}

	if q, ok := s.Question(h.current); ok && h.current != "" {
		qv := &QuestionView{
			ID:       q.ID,
			Category: q.Category,
			Points:   q.Points,
			Text:     q.Text,
			Media:    q.Media,
			Choices:  h.choices,
		}
		if forHost || h.view == viewAnswer {
			qv.Answer = q.Answer
		}
		msg.Question = qv
	}

	return msg
}

// sendLocked queues msg for c, dropping clients that cannot keep up.
func (h *Hub) sendLocked(c *Client, msg any) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		h.sendLocked(client, msg)
	}
}

func (h *Hub) broadcastStateLocked() {
	host := h.stateLocked(true)
	guest := h.stateLocked(false)

	for client := range h.clients {
		if client.playerID == h.hostPlayerID {
			h.sendLocked(client, host)
		} else {
			h.sendLocked(client, guest)
		}
	}
}

// closeAll disconnects all clients of this hub and stops its loop (used by reaper).
func (h *Hub) closeAll() {
	h.stop.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "quizboard_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated game.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
	source      trivia.Source
	store       *store.Store
}

func newGameManager(idleTimeout time.Duration, src trivia.Source, st *store.Store) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
		source:      src,
		store:       st,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	// A nil *store.Store must not become a non-nil trivia.Persister.
	var persister trivia.Persister
	if gm.store != nil {
		persister = gm.store
	}

	hub := newHub(cfg, gameID, gm.source, persister)
	gm.hubs[gameID] = hub
	go hub.run()
	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than
// idleTimeout, and old saved games.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for id, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.hubs, id)
				go hub.closeAll()
			}
		}
		gm.mu.Unlock()

		if gm.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			_, _ = gm.store.Sweep(ctx, time.Now().Add(-snapshotRetention))
			cancel()
		}
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: Websocket upgrade from %s: %v", realIP(r), err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "open_question", "show_answer", "award", "back_to_board", "adjust_score",
			"switch_turn", "perk_double", "perk_reroll", "perk_choices", "end_round", "reset":
			select {
			case h.commands <- command{client: c, msg: msg}:
			case <-h.done:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	const qrSize = 320
	png, err := qrcode.Encode(scheme+"://"+r.Host+path, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func getIndexHandler(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/trivia/index.html")
		if err != nil {
			errs <- err
			http.Error(w, "missing page", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(data)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
// Games from a backend have ids of their own, so there is nothing to create.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if cfg.catalog == "" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			_, _ = w.Write([]byte(newPage("Quizboard", "Open a game from your trivia backend at "+cfg.prefix+path+"/&lt;game id&gt;")))
			return
		}

		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerTriviaGame sets up routes so that:
//   - $path                  → redirects to new random game (catalog mode)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerTriviaGame(cfg *Config, path string, mux *httprouter.Router, gm *GameManager, errs chan<- error) {
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg, errs))

	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)
}
