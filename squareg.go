// Squareg Multiplayer
//
// A real-time, room-based puzzle race. Every player gets the same ordered
// board of colored tiles and a shared scrambled target pattern; rotating
// rows and columns, players race to be the first to reproduce the target's
// color layout. First to the round wins the round; best-of-N rounds wins
// the match.
//
// Features:
// - One WebSocket endpoint at /squareg/ws; rooms are joined by 6-char codes
// - All room mutations serialized through a single gateway event loop
// - Rooms auto-start a short grace period after a second player joins
// - Countdown and round-advance transitions driven by schedulable pending
//   transitions with stale-timer guards, never ad hoc callbacks
// - Full room snapshots broadcast on every change, never diffs
// - Invalid moves and join failures reported only to the offending client
// - Idle rooms reaped after a configurable timeout
// - In-browser QR button to share a room's join link, backed by go-qrcode

package main

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	_ "embed"
)

const (
	minGridSize = 2
	maxGridSize = 8

	// A second player arriving in a waiting room triggers auto-start.
	autoStartPlayers = 2
)

// ClientMessage covers every inbound intent.
type ClientMessage struct {
	Type       string `json:"type"`                 // "createGame", "joinGame", "startGame", "makeMove"
	PlayerName string `json:"playerName,omitempty"` // createGame / joinGame
	GridSize   int    `json:"gridSize,omitempty"`   // createGame
	RoomCode   string `json:"roomCode,omitempty"`   // joinGame
	MoveType   string `json:"moveType,omitempty"`   // makeMove
	Index      int    `json:"index"`                // makeMove
}

// Sent only to the creating connection.
type GameCreatedMessage struct {
	Type      string        `json:"type"` // "gameCreated"
	PlayerID  string        `json:"playerId"`
	RoomID    string        `json:"roomId"`
	RoomCode  string        `json:"roomCode"`
	GameState *RoomSnapshot `json:"gameState"`
}

// Sent only to the joining connection.
type GameJoinedMessage struct {
	Type      string        `json:"type"` // "gameJoined"
	PlayerID  string        `json:"playerId"`
	RoomID    string        `json:"roomId"`
	RoomCode  string        `json:"roomCode"`
	GameState *RoomSnapshot `json:"gameState"`
}

// Broadcast whenever room state changes without a more specific event.
type GameStateUpdateMessage struct {
	Type      string        `json:"type"` // "gameStateUpdate"
	GameState *RoomSnapshot `json:"gameState"`
}

type GameStartingMessage struct {
	Type      string        `json:"type"` // "gameStarting"
	Countdown int           `json:"countdown"`
	GameState *RoomSnapshot `json:"gameState"`
}

type RoundWonMessage struct {
	Type       string        `json:"type"` // "roundWon"
	WinnerID   string        `json:"winnerId"`
	WinnerName string        `json:"winnerName"`
	Score      int           `json:"score"`
	GameState  *RoomSnapshot `json:"gameState"`
}

type MatchWonMessage struct {
	Type       string        `json:"type"` // "matchWon"
	WinnerID   string        `json:"winnerId"`
	WinnerName string        `json:"winnerName"`
	GameState  *RoomSnapshot `json:"gameState"`
}

type NextRoundStartingMessage struct {
	Type        string        `json:"type"` // "nextRoundStarting"
	RoundNumber int           `json:"roundNumber"`
	Countdown   int           `json:"countdown"`
	GameState   *RoomSnapshot `json:"gameState"`
}

type PlayerLeftMessage struct {
	Type       string        `json:"type"` // "playerLeft"
	PlayerID   string        `json:"playerId"`
	PlayerName string        `json:"playerName"`
	GameState  *RoomSnapshot `json:"gameState"`
}

// Sent to a single client when a create/join/start request is refused.
type JoinErrorMessage struct {
	Type    string `json:"type"` // "joinError"
	Message string `json:"message"`
}

// Sent to the mover only; never broadcast.
type InvalidMoveMessage struct {
	Type    string `json:"type"` // "invalidMove"
	Message string `json:"message"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
	id   string
}

type intent struct {
	client *Client
	msg    ClientMessage
}

// timerEvent re-enters the gateway loop when a scheduled delay elapses.
// seq guards room phase transitions; autoStart marks the join-grace timer.
type timerEvent struct {
	roomID    string
	seq       uint64
	autoStart bool
}

// Gateway owns the map from connection ids to transport handles and the
// single event loop that serializes every room mutation in the process.
// Rooms never see the transport; the gateway resolves each intent's room
// through the registry and fans snapshots back out.
type Gateway struct {
	cfg      *Config
	registry *Registry

	clients  map[string]*Client
	register chan *Client
	unreg    chan *Client
	intents  chan intent
	timers   chan timerEvent
}

func newGateway(cfg *Config, registry *Registry) *Gateway {
	return &Gateway{
		cfg:      cfg,
		registry: registry,
		clients:  make(map[string]*Client),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		intents:  make(chan intent),
		timers:   make(chan timerEvent, 64),
	}
}

// run is the single serialized execution context for all rooms. Timer
// callbacks post into the same loop, so no two mutations of any room ever
// race and the state machine needs no locks.
func (g *Gateway) run() {
	var reap <-chan time.Time
	if g.cfg.sessionTimeout > 0 {
		ticker := time.NewTicker(g.cfg.sessionTimeout / 2)
		defer ticker.Stop()
		reap = ticker.C
	}

	for {
		select {
		case c := <-g.register:
			g.clients[c.id] = c

		case c := <-g.unreg:
			g.handleDisconnect(c)

		case in := <-g.intents:
			g.handleIntent(in)

		case ev := <-g.timers:
			g.handleTimer(ev)

		case <-reap:
			g.reapIdleRooms()
		}
	}
}

func (g *Gateway) handleIntent(in intent) {
	switch in.msg.Type {
	case "createGame":
		g.handleCreate(in.client, in.msg)
	case "joinGame":
		g.handleJoin(in.client, in.msg)
	case "startGame":
		g.handleStart(in.client)
	case "makeMove":
		g.handleMove(in.client, in.msg)
	default:
		// ignore unknown types
	}
}

func (g *Gateway) handleCreate(c *Client, msg ClientMessage) {
	if g.registry.roomFor(c.id) != nil {
		g.sendTo(c, JoinErrorMessage{Type: "joinError", Message: "You are already in a game."})
		return
	}

	size := msg.GridSize
	if size < minGridSize || size > maxGridSize {
		g.sendTo(c, JoinErrorMessage{Type: "joinError", Message: "Invalid grid size."})
		return
	}

	room := g.registry.createRoom(g.cfg, size)
	if err := room.addPlayer(c.id, playerName(msg.PlayerName)); err != nil {
		g.registry.destroy(room.id)
		g.sendTo(c, JoinErrorMessage{Type: "joinError", Message: err.Error()})
		return
	}
	g.registry.bind(c.id, room.id)

	logf(g.cfg, "GAMES: %q created room %s (%dx%d)", playerName(msg.PlayerName), room.code, size, size)

	g.sendTo(c, GameCreatedMessage{
		Type:      "gameCreated",
		PlayerID:  c.id,
		RoomID:    room.id,
		RoomCode:  room.code,
		GameState: room.snapshot(),
	})
}

func (g *Gateway) handleJoin(c *Client, msg ClientMessage) {
	if g.registry.roomFor(c.id) != nil {
		g.sendTo(c, JoinErrorMessage{Type: "joinError", Message: "You are already in a game."})
		return
	}

	code := normalizeRoomCode(msg.RoomCode)
	if code == "" {
		g.sendTo(c, JoinErrorMessage{Type: "joinError", Message: "Missing room code."})
		return
	}

	room := g.registry.findByCode(code)
	if room == nil {
		g.sendTo(c, JoinErrorMessage{Type: "joinError", Message: "Game not found."})
		return
	}

	name := playerName(msg.PlayerName)

	if err := room.addPlayer(c.id, name); err != nil {
		reason := "Unable to join game."
		switch err {
		case errRoomFull:
			reason = "Game is full."
		case errGameInProgress:
			reason = "Game already in progress."
		}
		g.sendTo(c, JoinErrorMessage{Type: "joinError", Message: reason})
		return
	}
	g.registry.bind(c.id, room.id)

	logf(g.cfg, "GAMES: %q joined room %s", name, room.code)

	g.sendTo(c, GameJoinedMessage{
		Type:      "gameJoined",
		PlayerID:  c.id,
		RoomID:    room.id,
		RoomCode:  room.code,
		GameState: room.snapshot(),
	})
	g.broadcast(room, GameStateUpdateMessage{
		Type:      "gameStateUpdate",
		GameState: room.snapshot(),
	})

	// Auto-start policy lives here, not in the room: once a second player
	// is present, start after a short grace period. The timer handler
	// re-checks the room state, so an explicit earlier start wins.
	if room.state == StateWaiting && room.playerCount() >= autoStartPlayers {
		roomID := room.id
		time.AfterFunc(g.cfg.startDelay, func() {
			g.timers <- timerEvent{roomID: roomID, autoStart: true}
		})
	}
}

func (g *Gateway) handleStart(c *Client) {
	room := g.registry.roomFor(c.id)
	if room == nil {
		g.sendTo(c, JoinErrorMessage{Type: "joinError", Message: "You are not in a game."})
		return
	}

	pending, err := room.startGame()
	if err != nil {
		g.sendTo(c, JoinErrorMessage{Type: "joinError", Message: err.Error()})
		return
	}

	g.beginCountdown(room, pending)
}

func (g *Gateway) handleMove(c *Client, msg ClientMessage) {
	room := g.registry.roomFor(c.id)
	if room == nil {
		g.sendTo(c, InvalidMoveMessage{Type: "invalidMove", Message: "You are not in a game."})
		return
	}

	switch room.applyMove(c.id, MoveType(msg.MoveType), msg.Index) {
	case MoveRejected:
		g.sendTo(c, InvalidMoveMessage{Type: "invalidMove", Message: "Move not allowed."})

	case MoveApplied:
		g.broadcast(room, GameStateUpdateMessage{
			Type:      "gameStateUpdate",
			GameState: room.snapshot(),
		})

	case MoveRoundWin:
		winner := room.players[c.id]
		logf(g.cfg, "GAMES: %q won round %d in room %s", winner.Name, room.currentRound, room.code)

		g.broadcast(room, RoundWonMessage{
			Type:       "roundWon",
			WinnerID:   winner.ID,
			WinnerName: winner.Name,
			Score:      winner.RoundWins,
			GameState:  room.snapshot(),
		})
		g.scheduleTransition(room, room.pending)

	case MoveMatchWin:
		winner := room.players[c.id]
		logf(g.cfg, "GAMES: %q won the match in room %s", winner.Name, room.code)

		g.broadcast(room, MatchWonMessage{
			Type:       "matchWon",
			WinnerID:   winner.ID,
			WinnerName: winner.Name,
			GameState:  room.snapshot(),
		})
	}
}

// handleDisconnect removes the player from their room and destroys the room
// if it empties. Cleanup is not an error: remaining players just see a
// playerLeft broadcast with a fresh snapshot.
func (g *Gateway) handleDisconnect(c *Client) {
	if _, ok := g.clients[c.id]; ok {
		delete(g.clients, c.id)
		close(c.send)
	}

	room := g.registry.roomFor(c.id)
	g.registry.unbind(c.id)

	if room == nil {
		return
	}

	player, exists := room.players[c.id]
	if !exists || !room.removePlayer(c.id) {
		return
	}

	if room.playerCount() == 0 {
		g.registry.destroy(room.id)
		logf(g.cfg, "GAMES: Room %s emptied and was destroyed", room.code)
		return
	}

	g.broadcast(room, PlayerLeftMessage{
		Type:       "playerLeft",
		PlayerID:   player.ID,
		PlayerName: player.Name,
		GameState:  room.snapshot(),
	})
}

// handleTimer drives scheduled transitions. The room may have been
// destroyed or may have moved past the transition the timer was armed for;
// both cases fall through as no-ops.
func (g *Gateway) handleTimer(ev timerEvent) {
	room := g.registry.room(ev.roomID)
	if room == nil {
		return
	}

	if ev.autoStart {
		if room.state != StateWaiting || room.playerCount() < autoStartPlayers {
			return
		}

		pending, err := room.startGame()
		if err != nil {
			return
		}
		g.beginCountdown(room, pending)

		return
	}

	next, changed := room.fireTransition(ev.seq)
	if !changed {
		return
	}

	switch room.state {
	case StatePlaying:
		g.broadcast(room, GameStateUpdateMessage{
			Type:      "gameStateUpdate",
			GameState: room.snapshot(),
		})

	case StateCountdown:
		g.broadcast(room, NextRoundStartingMessage{
			Type:        "nextRoundStarting",
			RoundNumber: room.currentRound,
			Countdown:   int(room.countdown.Seconds()),
			GameState:   room.snapshot(),
		})
		g.scheduleTransition(room, next)
	}
}

func (g *Gateway) beginCountdown(room *Room, pending *pendingTransition) {
	logf(g.cfg, "GAMES: Room %s starting round %d", room.code, room.currentRound)

	g.broadcast(room, GameStartingMessage{
		Type:      "gameStarting",
		Countdown: int(room.countdown.Seconds()),
		GameState: room.snapshot(),
	})
	g.scheduleTransition(room, pending)
}

func (g *Gateway) scheduleTransition(room *Room, pending *pendingTransition) {
	if pending == nil {
		return
	}

	roomID := room.id
	seq := pending.seq

	time.AfterFunc(pending.after, func() {
		g.timers <- timerEvent{roomID: roomID, seq: seq}
	})
}

// reapIdleRooms destroys rooms idle past the session timeout and drops any
// connections still bound to them.
func (g *Gateway) reapIdleRooms() {
	cutoff := time.Now().Add(-g.cfg.sessionTimeout)

	for _, id := range g.registry.idleRooms(cutoff) {
		room := g.registry.room(id)
		if room == nil {
			continue
		}

		for _, c := range g.clients {
			if bound := g.registry.roomFor(c.id); bound != nil && bound.id == id {
				g.dropClient(c)
				g.registry.unbind(c.id)
			}
		}

		g.registry.destroy(id)
		logf(g.cfg, "GAMES: Reaped idle room %s", room.code)
	}
}

// sendTo delivers to one client, dropping the client if its buffer is full.
// A client the gateway has already dropped has a closed send channel, but
// its readPump may still have intents queued; those fall through here as
// no-ops rather than sends on the closed channel.
func (g *Gateway) sendTo(c *Client, msg any) {
	if _, ok := g.clients[c.id]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		g.dropClient(c)
	}
}

// broadcast fans a message out to every connection bound to the room.
// Fire-and-forget, at-most-once: a slow or dead recipient is dropped and
// simply misses the update.
func (g *Gateway) broadcast(room *Room, msg any) {
	for _, c := range g.clients {
		bound := g.registry.roomFor(c.id)
		if bound == nil || bound.id != room.id {
			continue
		}

		g.sendTo(c, msg)
	}
}

func (g *Gateway) dropClient(c *Client) {
	if _, ok := g.clients[c.id]; !ok {
		return
	}

	delete(g.clients, c.id)
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func playerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Player"
	}
	if runes := []rune(name); len(runes) > 24 {
		name = string(runes[:24])
	}

	return name
}

// normalizeRoomCode uppercases and strips anything outside A-Z0-9, matching
// what the browser client does to the input field.
func normalizeRoomCode(code string) string {
	var out strings.Builder
	for _, r := range strings.ToUpper(code) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out.WriteRune(r)
		}
	}

	return out.String()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWS upgrades the connection, assigns it an ephemeral identity, and
// runs the read side until disconnect.
func serveWS(g *Gateway) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 16),
			id:   uuid.New().String(),
		}

		g.register <- client

		go client.writePump()
		client.readPump(g)
	}
}

func (c *Client) readPump(g *Gateway) {
	defer func() {
		g.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		g.intents <- intent{
			client: c,
			msg:    msg,
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

// QR handler: generates a PNG QR code for a room's join URL using go-qrcode.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := normalizeRoomCode(ps.ByName("code"))
		if code == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/squareg?code=" + code

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// ---- Static file paths ----

//go:embed squareg/index.html
var indexHTML []byte

//go:embed squareg/app.css
var squaregCSS []byte

//go:embed squareg/app.js
var squaregJS []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(squaregCSS)
	}
}

func getJsHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(squaregJS)
	}
}

// registerSquaregGame sets up routes so that:
//   - $prefix/squareg               → HTML client (reads ?code= to prefill joins)
//   - $prefix/squareg/ws            → shared WebSocket endpoint
//   - $prefix/squareg/qr/:code      → PNG QR code for a room's join URL
//   - $prefix/assets/squareg/*      → shared client assets
func registerSquaregGame(cfg *Config, mux *httprouter.Router, g *Gateway) {
	go g.run()

	mux.GET(cfg.prefix+"/squareg", getIndexHandler(cfg))

	mux.GET(cfg.prefix+"/assets/squareg/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/squareg/app.js", getJsHandler(cfg))

	mux.GET(cfg.prefix+"/squareg/ws", serveWS(g))

	mux.GET(cfg.prefix+"/squareg/qr/:code", qrHandler(cfg))
}
