package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		countdown:      3 * time.Second,
		maxPlayers:     4,
		maxRounds:      7,
		roundDelay:     5 * time.Second,
		scrambleMax:    35,
		scrambleMin:    15,
		sessionTimeout: time.Hour,
		startDelay:     2 * time.Second,
	}
}

// playingRoom builds a room with the given players and drives it through
// the countdown into the playing state.
func playingRoom(t *testing.T, playerIDs ...string) *Room {
	t.Helper()

	room := newRoom(testConfig(), "room-1", "ABC123", 3)
	for _, id := range playerIDs {
		require.NoError(t, room.addPlayer(id, "player "+id))
	}

	pending, err := room.startGame()
	require.NoError(t, err)
	require.Equal(t, StateCountdown, room.state)

	_, changed := room.fireTransition(pending.seq)
	require.True(t, changed)
	require.Equal(t, StatePlaying, room.state)

	return room
}

// winNextMove rigs the target so that the given rotation by the given
// player completes the round.
func winNextMove(room *Room, playerID string, move MoveType, index int) {
	target := room.players[playerID].Board.clone()
	target.rotate(move, index)
	room.target = target
}

func TestRoundsToWin(t *testing.T) {
	tests := []struct {
		maxRounds int
		expected  int
	}{
		{1, 1},
		{3, 2},
		{5, 3},
		{7, 4},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("best of %d", tt.maxRounds), func(t *testing.T) {
			cfg := testConfig()
			cfg.maxRounds = tt.maxRounds

			room := newRoom(cfg, "room-1", "ABC123", 3)
			assert.Equal(t, tt.expected, room.roundsToWin())
		})
	}
}

func TestRoomAddPlayer(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(room *Room)
		playerID    string
		expectedErr error
	}{
		{
			name:     "first player joins waiting room",
			setup:    func(room *Room) {},
			playerID: "p1",
		},
		{
			name: "duplicate player rejected",
			setup: func(room *Room) {
				require.NoError(t, room.addPlayer("p1", "one"))
			},
			playerID:    "p1",
			expectedErr: errPlayerExists,
		},
		{
			name: "full room rejected",
			setup: func(room *Room) {
				for i := 0; i < 4; i++ {
					require.NoError(t, room.addPlayer(fmt.Sprintf("p%d", i), "player"))
				}
			},
			playerID:    "late",
			expectedErr: errRoomFull,
		},
		{
			name: "join after start rejected",
			setup: func(room *Room) {
				require.NoError(t, room.addPlayer("p1", "one"))
				_, err := room.startGame()
				require.NoError(t, err)
			},
			playerID:    "late",
			expectedErr: errGameInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := newRoom(testConfig(), "room-1", "ABC123", 3)
			tt.setup(room)

			err := room.addPlayer(tt.playerID, "name")
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}

			require.NoError(t, err)
			player := room.players[tt.playerID]
			require.NotNil(t, player)
			assert.Equal(t, 0, player.Moves)
			assert.Equal(t, 0, player.RoundWins)
			assert.True(t, player.Board.matchesByColor(generateOrdered(3)), "players start with an ordered board")
		})
	}
}

func TestRoomStartGame(t *testing.T) {
	t.Run("empty room cannot start", func(t *testing.T) {
		room := newRoom(testConfig(), "room-1", "ABC123", 3)

		_, err := room.startGame()
		assert.ErrorIs(t, err, errNoPlayers)
		assert.Equal(t, StateWaiting, room.state)
	})

	t.Run("single player may start", func(t *testing.T) {
		room := newRoom(testConfig(), "room-1", "ABC123", 3)
		require.NoError(t, room.addPlayer("p1", "one"))

		pending, err := room.startGame()
		require.NoError(t, err)
		assert.Equal(t, StateCountdown, room.state)
		assert.False(t, room.startTime.IsZero())
		require.NotNil(t, pending)
		assert.Equal(t, transitionPlay, pending.kind)
		assert.Equal(t, room.countdown, pending.after)
	})

	t.Run("double start rejected", func(t *testing.T) {
		room := newRoom(testConfig(), "room-1", "ABC123", 3)
		require.NoError(t, room.addPlayer("p1", "one"))

		_, err := room.startGame()
		require.NoError(t, err)

		_, err = room.startGame()
		assert.ErrorIs(t, err, errAlreadyStarted)
	})
}

func TestRoomApplyMoveRejections(t *testing.T) {
	t.Run("move before playing changes nothing", func(t *testing.T) {
		room := newRoom(testConfig(), "room-1", "ABC123", 3)
		require.NoError(t, room.addPlayer("p1", "one"))

		before := room.players["p1"].Board.clone()

		assert.Equal(t, MoveRejected, room.applyMove("p1", MoveRowLeft, 0))
		assert.Equal(t, before, room.players["p1"].Board)
		assert.Equal(t, 0, room.players["p1"].Moves)
	})

	t.Run("move during countdown rejected", func(t *testing.T) {
		room := newRoom(testConfig(), "room-1", "ABC123", 3)
		require.NoError(t, room.addPlayer("p1", "one"))
		_, err := room.startGame()
		require.NoError(t, err)

		assert.Equal(t, MoveRejected, room.applyMove("p1", MoveRowLeft, 0))
		assert.Equal(t, 0, room.players["p1"].Moves)
	})

	t.Run("unknown player rejected", func(t *testing.T) {
		room := playingRoom(t, "p1")

		assert.Equal(t, MoveRejected, room.applyMove("ghost", MoveRowLeft, 0))
	})

	t.Run("unknown move type rejected", func(t *testing.T) {
		room := playingRoom(t, "p1")

		assert.Equal(t, MoveRejected, room.applyMove("p1", MoveType("diagonal"), 0))
		assert.Equal(t, 0, room.players["p1"].Moves)
	})

	t.Run("out-of-range index accepted as no-op", func(t *testing.T) {
		room := playingRoom(t, "p1")
		before := room.players["p1"].Board.clone()

		assert.Equal(t, MoveApplied, room.applyMove("p1", MoveRowLeft, 99))
		assert.Equal(t, before, room.players["p1"].Board)
		assert.Equal(t, 1, room.players["p1"].Moves, "accepted rotations count regardless of outcome")
	})
}

func TestRoomApplyMoveCounts(t *testing.T) {
	room := playingRoom(t, "p1", "p2")

	// A target one column-rotation away from ordered, on a different
	// column than the one being moved, cannot match after the move.
	target := generateOrdered(3)
	target.rotateColumnDown(2)
	room.target = target

	assert.Equal(t, MoveApplied, room.applyMove("p1", MoveColumnDown, 0))
	assert.Equal(t, 1, room.players["p1"].Moves)
	assert.Equal(t, 0, room.players["p2"].Moves, "moves apply to the mover's board only")
	assert.True(t, room.players["p2"].Board.matchesByColor(generateOrdered(3)))
}

func TestRoomRoundWin(t *testing.T) {
	room := playingRoom(t, "p1", "p2")

	// Pin the target so p2's progress move cannot accidentally win.
	room.target = generateOrdered(3)
	room.target.rotateColumnDown(2)

	// Give p2 some progress that must survive the round boundary.
	require.Equal(t, MoveApplied, room.applyMove("p2", MoveColumnDown, 1))
	p2Board := room.players["p2"].Board.clone()

	winNextMove(room, "p1", MoveRowLeft, 0)

	assert.Equal(t, MoveRoundWin, room.applyMove("p1", MoveRowLeft, 0))
	assert.Equal(t, StateRoundFinished, room.state)
	assert.Equal(t, "p1", room.winner)
	assert.Empty(t, room.matchWinner)
	assert.Equal(t, 1, room.players["p1"].RoundWins)
	assert.Equal(t, 1, room.players["p1"].Moves, "move counters reset on the next round, not on the win")
	assert.Equal(t, p2Board, room.players["p2"].Board, "other players' boards are untouched by a win")
	assert.Equal(t, 0, room.players["p2"].RoundWins)

	require.NotNil(t, room.pending)
	assert.Equal(t, transitionNextRound, room.pending.kind)
	assert.Equal(t, room.roundDelay, room.pending.after)

	// Late moves between roundFinished and the next countdown are rejected.
	assert.Equal(t, MoveRejected, room.applyMove("p2", MoveRowLeft, 0))

	next, changed := room.fireTransition(room.pending.seq)
	require.True(t, changed)
	assert.Equal(t, StateCountdown, room.state)
	assert.Equal(t, 2, room.currentRound)
	assert.Empty(t, room.winner)
	require.NotNil(t, next)
	assert.Equal(t, transitionPlay, next.kind)

	for _, id := range []string{"p1", "p2"} {
		player := room.players[id]
		assert.Equal(t, 0, player.Moves)
		assert.True(t, player.Board.matchesByColor(generateOrdered(3)), "boards reset to ordered for the new round")
	}
	assert.Equal(t, 1, room.players["p1"].RoundWins, "round wins persist across rounds")

	_, changed = room.fireTransition(next.seq)
	require.True(t, changed)
	assert.Equal(t, StatePlaying, room.state)
}

func TestRoomMatchWin(t *testing.T) {
	room := playingRoom(t, "p1", "p2")
	room.players["p1"].RoundWins = room.roundsToWin() - 1

	winNextMove(room, "p1", MoveColumnUp, 2)

	assert.Equal(t, MoveMatchWin, room.applyMove("p1", MoveColumnUp, 2))
	assert.Equal(t, StateMatchFinished, room.state)
	assert.Equal(t, "p1", room.matchWinner)
	assert.Equal(t, room.roundsToWin(), room.players["p1"].RoundWins)
	assert.Nil(t, room.pending, "a finished match schedules nothing further")

	// The room is inert: no further moves are accepted.
	moves := room.players["p2"].Moves
	assert.Equal(t, MoveRejected, room.applyMove("p2", MoveRowLeft, 0))
	assert.Equal(t, moves, room.players["p2"].Moves)
}

func TestRoomStaleTransition(t *testing.T) {
	room := newRoom(testConfig(), "room-1", "ABC123", 3)
	require.NoError(t, room.addPlayer("p1", "one"))

	pending, err := room.startGame()
	require.NoError(t, err)

	_, changed := room.fireTransition(pending.seq + 10)
	assert.False(t, changed, "unknown sequence numbers are ignored")
	assert.Equal(t, StateCountdown, room.state)

	_, changed = room.fireTransition(pending.seq)
	require.True(t, changed)

	_, changed = room.fireTransition(pending.seq)
	assert.False(t, changed, "a fired transition cannot fire twice")
	assert.Equal(t, StatePlaying, room.state)
}

func TestRoomRemovePlayer(t *testing.T) {
	room := playingRoom(t, "p1", "p2")

	assert.True(t, room.removePlayer("p1"))
	assert.False(t, room.removePlayer("p1"))
	assert.Equal(t, 1, room.playerCount())
	assert.Equal(t, StatePlaying, room.state, "removal does not change the game state")
	assert.NotContains(t, room.order, "p1")
}

func TestRoomSnapshot(t *testing.T) {
	room := playingRoom(t, "p1", "p2")
	room.target = generateOrdered(3)
	room.target.rotateColumnDown(2)
	require.Equal(t, MoveApplied, room.applyMove("p1", MoveRowLeft, 1))

	snapshot := room.snapshot()

	assert.Equal(t, "room-1", snapshot.ID)
	assert.Equal(t, "ABC123", snapshot.RoomCode)
	assert.Equal(t, 3, snapshot.Size)
	assert.Equal(t, StatePlaying, snapshot.GameState)
	assert.Equal(t, 1, snapshot.CurrentRound)
	assert.Equal(t, 7, snapshot.MaxRounds)
	assert.NotZero(t, snapshot.StartTime)

	require.Len(t, snapshot.Players, 2)
	assert.Equal(t, "p1", snapshot.Players[0].ID, "players are listed in join order")
	assert.Equal(t, 1, snapshot.Players[0].Moves)
	assert.Equal(t, map[string]int{"p1": 0, "p2": 0}, snapshot.RoundScores)

	// Snapshots are deep copies: mutating the room afterwards must not
	// affect an already-taken snapshot.
	before := snapshot.Players[0].Board.clone()
	require.Equal(t, MoveApplied, room.applyMove("p1", MoveColumnDown, 0))
	assert.Equal(t, before, snapshot.Players[0].Board)

	targetBefore := snapshot.TargetBoard.clone()
	room.target.rotateRowLeft(0)
	assert.Equal(t, targetBefore, snapshot.TargetBoard)
}
