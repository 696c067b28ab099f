package gridgame

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Snapshot reads must serialize against move writes: run the race detector
// over a reader loop concurrent with a full game.
func TestSnapshotsDuringMovesAreConsistent(t *testing.T) {
	r := newTestReferee(&fakePayout{})
	_ = r.RegisterMatch("g1", "esc-1", "addr-p1", "addr-p2")
	mgr := r.manager

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.Background()
		seq := []Move{
			place(1, 0), place(2, 4),
			place(1, 1), place(2, 5),
			place(1, 2), place(2, 6),
			place(1, 7), place(2, 3),
			relocate(1, 7, 12), relocate(2, 3, 13),
			relocate(1, 12, 3),
		}
		for i, mv := range seq {
			if res := r.ProcessMove(ctx, "g1", mv); !res.Accepted {
				t.Errorf("move %d rejected: %s", i, res.Reason)
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			g, ok := mgr.Game("g1")
			assert.True(t, ok)
			assert.Equal(t, int32(1), g.Winner)
			return
		default:
		}
		g, ok := mgr.Game("g1")
		if !ok {
			continue
		}
		// Every observed snapshot is a complete state, never a move
		// half-applied.
		assert.LessOrEqual(t, g.Board.PieceCount(1), PiecesPerPlayer)
		assert.LessOrEqual(t, g.Board.PieceCount(2), PiecesPerPlayer)
		if replayed, err := ReplayMoves(g.Moves); assert.NoError(t, err) {
			assert.Equal(t, g.Board, replayed.Board)
		}
		for _, s := range mgr.GamesSnapshot() {
			assert.Equal(t, "g1", s.ID)
		}
	}
}

func TestGamesSnapshotListsAllGames(t *testing.T) {
	r := newTestReferee(&fakePayout{})
	ctx := context.Background()
	r.ProcessMove(ctx, "a", place(1, 0))
	r.ProcessMove(ctx, "b", place(1, 5))

	snaps := r.manager.GamesSnapshot()
	assert.Len(t, snaps, 2)
	ids := map[string]bool{}
	for _, s := range snaps {
		ids[s.ID] = true
		assert.Len(t, s.Moves, 1)
	}
	assert.True(t, ids["a"] && ids["b"])
}

func TestDeleteGameRemovesState(t *testing.T) {
	r := newTestReferee(&fakePayout{})
	r.ProcessMove(context.Background(), "g1", place(1, 0))

	r.manager.DeleteGame("g1")
	_, ok := r.manager.Game("g1")
	assert.False(t, ok)
	assert.Empty(t, r.manager.GamesSnapshot())

	// A new move on the same id starts a fresh game.
	res := r.ProcessMove(context.Background(), "g1", place(1, 3))
	assert.True(t, res.Accepted)
	g, _ := r.manager.Game("g1")
	assert.Len(t, g.Moves, 1)
}
