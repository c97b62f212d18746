package main

import (
	"errors"
	"time"
)

// GameState is the phase a room is in. waiting is initial; matchFinished is
// terminal, after which the room is inert and a new one must be created.
//
//	waiting → countdown → playing → roundFinished → countdown → … → matchFinished
type GameState string

const (
	StateWaiting       GameState = "waiting"
	StateCountdown     GameState = "countdown"
	StatePlaying       GameState = "playing"
	StateRoundFinished GameState = "roundFinished"
	StateMatchFinished GameState = "matchFinished"
)

// MoveOutcome is the result of applying one move intent.
type MoveOutcome int

const (
	MoveRejected MoveOutcome = iota
	MoveApplied
	MoveRoundWin
	MoveMatchWin
)

// Join and start validation failures, reported to the single requesting
// connection only.
var (
	errRoomFull       = errors.New("room is full")
	errGameInProgress = errors.New("game already in progress")
	errNoPlayers      = errors.New("no players in room")
	errAlreadyStarted = errors.New("game already started")
	errPlayerExists   = errors.New("player already in room")
)

// transitionKind names a scheduled phase change.
type transitionKind int

const (
	transitionPlay      transitionKind = iota + 1 // countdown → playing
	transitionNextRound                           // roundFinished → countdown
)

// pendingTransition is a schedulable phase change: what fires, after what
// delay, guarded by a sequence number so a stale timer firing after the
// room has moved on becomes a no-op.
type pendingTransition struct {
	kind  transitionKind
	after time.Duration
	seq   uint64
}

// Player is one participant's server-side state. Board starts ordered each
// round; Moves counts every accepted rotation within the round; RoundWins
// persists for the life of the room.
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Moves     int    `json:"moves"`
	RoundWins int    `json:"roundWins"`
	Board     Board  `json:"board"`
}

// Room owns one match: the target pattern, every player's board, and the
// round/match state machine. Rooms are only ever touched from the gateway's
// event loop, so they carry no locks; the registry is the concurrent layer
// above them.
type Room struct {
	id          string
	code        string
	size        int
	maxPlayers  int
	maxRounds   int
	scrambleMin int
	scrambleMax int
	countdown   time.Duration
	roundDelay  time.Duration

	state        GameState
	players      map[string]*Player
	order        []string
	target       Board
	winner       string
	matchWinner  string
	currentRound int
	startTime    time.Time
	lastActive   time.Time

	pending *pendingTransition
	seq     uint64
}

func newRoom(cfg *Config, id, code string, size int) *Room {
	now := time.Now()

	return &Room{
		id:           id,
		code:         code,
		size:         size,
		maxPlayers:   cfg.maxPlayers,
		maxRounds:    cfg.maxRounds,
		scrambleMin:  cfg.scrambleMin,
		scrambleMax:  cfg.scrambleMax,
		countdown:    cfg.countdown,
		roundDelay:   cfg.roundDelay,
		state:        StateWaiting,
		players:      make(map[string]*Player),
		target:       generateScrambled(size, cfg.scrambleMin, cfg.scrambleMax),
		currentRound: 1,
		lastActive:   now,
	}
}

// roundsToWin is the best-of threshold: ceil(maxRounds/2).
func (r *Room) roundsToWin() int {
	return r.maxRounds/2 + 1
}

// addPlayer admits a player with a fresh ordered board. Players race to
// scramble-match the target, so boards start ordered, not shuffled.
func (r *Room) addPlayer(playerID, name string) error {
	if r.state != StateWaiting {
		return errGameInProgress
	}

	if len(r.players) >= r.maxPlayers {
		return errRoomFull
	}

	if _, exists := r.players[playerID]; exists {
		return errPlayerExists
	}

	r.players[playerID] = &Player{
		ID:    playerID,
		Name:  name,
		Board: generateOrdered(r.size),
	}
	r.order = append(r.order, playerID)
	r.lastActive = time.Now()

	return nil
}

// removePlayer drops a player in any state. The room never destroys itself;
// the caller destroys it when the player set empties.
func (r *Room) removePlayer(playerID string) bool {
	if _, exists := r.players[playerID]; !exists {
		return false
	}

	delete(r.players, playerID)
	for i, id := range r.order {
		if id == playerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.lastActive = time.Now()

	return true
}

func (r *Room) playerCount() int {
	return len(r.players)
}

// startGame moves waiting → countdown and returns the scheduled
// countdown → playing transition for the caller to drive.
func (r *Room) startGame() (*pendingTransition, error) {
	if r.state != StateWaiting {
		return nil, errAlreadyStarted
	}

	if len(r.players) == 0 {
		return nil, errNoPlayers
	}

	r.state = StateCountdown
	r.startTime = time.Now()
	r.lastActive = r.startTime
	r.schedule(transitionPlay, r.countdown)

	return r.pending, nil
}

// applyMove validates and applies one rotation to the moving player's board
// only, then checks the win predicate against the target. Rejections leave
// the room untouched. An out-of-range index is an accepted no-op move, so
// it still counts.
func (r *Room) applyMove(playerID string, move MoveType, index int) MoveOutcome {
	if r.state != StatePlaying {
		return MoveRejected
	}

	player, exists := r.players[playerID]
	if !exists {
		return MoveRejected
	}

	if !player.Board.rotate(move, index) {
		return MoveRejected
	}

	player.Moves++
	r.lastActive = time.Now()

	if !player.Board.matchesByColor(r.target) {
		return MoveApplied
	}

	player.RoundWins++

	if player.RoundWins >= r.roundsToWin() {
		r.matchWinner = playerID
		r.state = StateMatchFinished
		r.pending = nil
		return MoveMatchWin
	}

	r.winner = playerID
	r.state = StateRoundFinished
	r.schedule(transitionNextRound, r.roundDelay)

	return MoveRoundWin
}

// startNextRound regenerates the target, resets every board to ordered and
// every move counter to zero (round wins persist), and re-enters the
// countdown.
func (r *Room) startNextRound() {
	r.currentRound++
	r.winner = ""
	r.target = generateScrambled(r.size, r.scrambleMin, r.scrambleMax)

	for _, player := range r.players {
		player.Board = generateOrdered(r.size)
		player.Moves = 0
	}

	r.state = StateCountdown
	r.startTime = time.Now()
	r.lastActive = r.startTime
	r.schedule(transitionPlay, r.countdown)
}

func (r *Room) schedule(kind transitionKind, after time.Duration) {
	r.seq++
	r.pending = &pendingTransition{
		kind:  kind,
		after: after,
		seq:   r.seq,
	}
}

// fireTransition advances the pending transition identified by seq. Stale
// or unknown sequence numbers are ignored, which is how timers that outlive
// a round (or the whole room) die quietly. The returned transition, if any,
// is the follow-up the driver must schedule next.
func (r *Room) fireTransition(seq uint64) (*pendingTransition, bool) {
	if r.pending == nil || r.pending.seq != seq {
		return nil, false
	}

	kind := r.pending.kind
	r.pending = nil

	switch kind {
	case transitionPlay:
		if r.state != StateCountdown {
			return nil, false
		}
		r.state = StatePlaying
		r.lastActive = time.Now()
		return nil, true

	case transitionNextRound:
		if r.state != StateRoundFinished {
			return nil, false
		}
		r.startNextRound()
		return r.pending, true
	}

	return nil, false
}

func (r *Room) idle(cutoff time.Time) bool {
	return r.lastActive.Before(cutoff)
}

// PlayerSnapshot and RoomSnapshot are the complete, self-contained
// serialization of a room sent to clients. Always the full state, never a
// diff; boards are deep-copied so the writer goroutines see stable data.
type PlayerSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Moves     int    `json:"moves"`
	RoundWins int    `json:"roundWins"`
	Board     Board  `json:"board"`
}

type RoomSnapshot struct {
	ID           string           `json:"id"`
	RoomCode     string           `json:"roomCode"`
	Size         int              `json:"size"`
	GameState    GameState        `json:"gameState"`
	CurrentRound int              `json:"currentRound"`
	MaxRounds    int              `json:"maxRounds"`
	TargetBoard  Board            `json:"targetBoard"`
	Players      []PlayerSnapshot `json:"players"`
	Winner       string           `json:"winner"`
	MatchWinner  string           `json:"matchWinner"`
	RoundScores  map[string]int   `json:"roundScores"`
	StartTime    int64            `json:"startTime"`
}

func (r *Room) snapshot() *RoomSnapshot {
	players := make([]PlayerSnapshot, 0, len(r.order))
	scores := make(map[string]int, len(r.order))

	for _, id := range r.order {
		player := r.players[id]
		players = append(players, PlayerSnapshot{
			ID:        player.ID,
			Name:      player.Name,
			Moves:     player.Moves,
			RoundWins: player.RoundWins,
			Board:     player.Board.clone(),
		})
		scores[player.ID] = player.RoundWins
	}

	var startTime int64
	if !r.startTime.IsZero() {
		startTime = r.startTime.UnixMilli()
	}

	return &RoomSnapshot{
		ID:           r.id,
		RoomCode:     r.code,
		Size:         r.size,
		GameState:    r.state,
		CurrentRound: r.currentRound,
		MaxRounds:    r.maxRounds,
		TargetBoard:  r.target.clone(),
		Players:      players,
		Winner:       r.winner,
		MatchWinner:  r.matchWinner,
		RoundScores:  scores,
		StartTime:    startTime,
	}
}
