package gridgame

// BoardSize is the side length of the board.
const BoardSize = 4

// BoardCells is the total number of cells.
const BoardCells = BoardSize * BoardSize

// PiecesPerPlayer is how many pieces each player places before the game
// switches to the movement phase.
const PiecesPerPlayer = 4

// Cell holds the owner of a board cell: 0 empty, 1 or 2.
type Cell int32

// Board is the authoritative 4x4 grid, indexed row-major (cell = row*4+col).
type Board [BoardCells]Cell

// winPatterns lists every 4-cell line on the board: 4 rows, 4 columns and
// the 2 diagonals.
var winPatterns = [10][4]int{
	{0, 1, 2, 3},
	{4, 5, 6, 7},
	{8, 9, 10, 11},
	{12, 13, 14, 15},
	{0, 4, 8, 12},
	{1, 5, 9, 13},
	{2, 6, 10, 14},
	{3, 7, 11, 15},
	{0, 5, 10, 15},
	{3, 6, 9, 12},
}

// CheckWinner returns the player number owning a full line, or 0 when no
// line is fully owned. The first matching pattern wins; with legal boards
// at most one player can own a full line anyway.
func (b *Board) CheckWinner() int32 {
	for _, p := range winPatterns {
		owner := b[p[0]]
		if owner == 0 {
			continue
		}
		if b[p[1]] == owner && b[p[2]] == owner && b[p[3]] == owner {
			return int32(owner)
		}
	}
	return 0
}

// PieceCount returns how many cells the given player currently occupies.
func (b *Board) PieceCount(player int32) int {
	n := 0
	for _, c := range b {
		if int32(c) == player {
			n++
		}
	}
	return n
}

// InBounds reports whether idx addresses a valid cell.
func InBounds(idx int) bool {
	return idx >= 0 && idx < BoardCells
}
