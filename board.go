package main

import (
	"math/rand"
)

// Tile is a single cell of a board. ColorIndex records the tile's row of
// origin and is the only field that matters for winning; Value is a fixed
// display label. Tiles are never mutated after generation; rotations move
// tile values between cells.
type Tile struct {
	ID         int `json:"id"`
	ColorIndex int `json:"colorIndex"`
	Value      int `json:"value"`
}

// Board is a square matrix of tiles. Every rotation is a cyclic permutation
// of one row or column, so the set of tiles on a board never changes.
type Board [][]Tile

// MoveType names one of the four rotations a player can make.
type MoveType string

const (
	MoveColumnDown MoveType = "columnDown"
	MoveColumnUp   MoveType = "columnUp"
	MoveRowRight   MoveType = "rowRight"
	MoveRowLeft    MoveType = "rowLeft"
)

var moveTypes = [4]MoveType{MoveColumnDown, MoveColumnUp, MoveRowRight, MoveRowLeft}

// generateOrdered builds the initial board: colorIndex equals the row,
// value and id equal the row-major position.
func generateOrdered(size int) Board {
	board := make(Board, size)

	for row := 0; row < size; row++ {
		board[row] = make([]Tile, size)
		for col := 0; col < size; col++ {
			board[row][col] = Tile{
				ID:         row*size + col,
				ColorIndex: row,
				Value:      row*size + col,
			}
		}
	}

	return board
}

// generateScrambled builds an ordered board and applies a random walk of
// between minMoves and maxMoves rotations, picking a uniform move type and
// line index at each step. Used to produce target patterns.
func generateScrambled(size, minMoves, maxMoves int) Board {
	board := generateOrdered(size)

	moves := minMoves
	if maxMoves > minMoves {
		moves += rand.Intn(maxMoves - minMoves + 1)
	}

	for i := 0; i < moves; i++ {
		board.rotate(moveTypes[rand.Intn(len(moveTypes))], rand.Intn(size))
	}

	return board
}

func (b Board) size() int {
	return len(b)
}

// rotateColumnDown moves the bottom tile of col to row 0 and shifts the
// rest down one row. Out-of-range indices are a no-op, not an error.
func (b Board) rotateColumnDown(col int) {
	size := b.size()
	if col < 0 || col >= size {
		return
	}

	temp := b[size-1][col]
	for row := size - 1; row > 0; row-- {
		b[row][col] = b[row-1][col]
	}
	b[0][col] = temp
}

// rotateColumnUp is the inverse of rotateColumnDown.
func (b Board) rotateColumnUp(col int) {
	size := b.size()
	if col < 0 || col >= size {
		return
	}

	temp := b[0][col]
	for row := 0; row < size-1; row++ {
		b[row][col] = b[row+1][col]
	}
	b[size-1][col] = temp
}

// rotateRowRight moves the rightmost tile of row to column 0 and shifts the
// rest right one column.
func (b Board) rotateRowRight(row int) {
	size := b.size()
	if row < 0 || row >= size {
		return
	}

	temp := b[row][size-1]
	for col := size - 1; col > 0; col-- {
		b[row][col] = b[row][col-1]
	}
	b[row][0] = temp
}

// rotateRowLeft is the inverse of rotateRowRight.
func (b Board) rotateRowLeft(row int) {
	size := b.size()
	if row < 0 || row >= size {
		return
	}

	temp := b[row][0]
	for col := 0; col < size-1; col++ {
		b[row][col] = b[row][col+1]
	}
	b[row][size-1] = temp
}

// rotate applies the named rotation to the given line index. It returns
// false if the move type is unknown; index handling follows the individual
// rotations (out-of-range is an accepted no-op).
func (b Board) rotate(move MoveType, index int) bool {
	switch move {
	case MoveColumnDown:
		b.rotateColumnDown(index)
	case MoveColumnUp:
		b.rotateColumnUp(index)
	case MoveRowRight:
		b.rotateRowRight(index)
	case MoveRowLeft:
		b.rotateRowLeft(index)
	default:
		return false
	}

	return true
}

// matchesByColor reports whether both boards have the same color group in
// every cell. Tile ids and values are irrelevant; this is the win predicate.
func (b Board) matchesByColor(other Board) bool {
	if b.size() != other.size() {
		return false
	}

	for row := range b {
		for col := range b[row] {
			if b[row][col].ColorIndex != other[row][col].ColorIndex {
				return false
			}
		}
	}

	return true
}

// clone deep-copies a board so snapshots stay stable while the original
// keeps mutating.
func (b Board) clone() Board {
	out := make(Board, len(b))
	for row := range b {
		out[row] = make([]Tile, len(b[row]))
		copy(out[row], b[row])
	}

	return out
}
