package gridgame

import (
	"sync"

	"github.com/decred/slog"
)

// Manager owns every live GameState, keyed by game id. Each state is owned
// by exactly one per-game mutex: the Referee holds it while mutating and
// the manager holds it while snapshotting, so reads never observe a move
// half-applied. m.mu only guards the maps, never the states.
type Manager struct {
	mu    sync.RWMutex
	games map[string]*GameState
	locks map[string]*sync.Mutex

	Log slog.Logger
}

func NewManager(log slog.Logger) *Manager {
	if log == nil {
		log = slog.Disabled
	}
	return &Manager{
		games: make(map[string]*GameState),
		locks: make(map[string]*sync.Mutex),
		Log:   log,
	}
}

// lockFor returns the mutex owning all access to one game's state. Lock
// entries are kept for the life of the manager so every holder of an id
// always contends on the same mutex. Lock order is always the per-game
// mutex first, m.mu second.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// getOrCreate returns the state for id, creating it on first use. Callers
// must hold the game's lock.
func (m *Manager) getOrCreate(id string) *GameState {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		g = newGameState(id)
		m.games[id] = g
		m.Log.Debugf("game %s: state initialized", id)
	}
	return g
}

// Game returns a snapshot of the state for id, or false when unknown.
func (m *Manager) Game(id string) (GameState, bool) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	m.mu.RLock()
	g, ok := m.games[id]
	m.mu.RUnlock()
	if !ok {
		return GameState{}, false
	}
	return g.Snapshot(), true
}

// GamesSnapshot returns snapshots of all tracked games.
func (m *Manager) GamesSnapshot() []GameState {
	m.mu.RLock()
	ids := make([]string, 0, len(m.games))
	for id := range m.games {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]GameState, 0, len(ids))
	for _, id := range ids {
		if g, ok := m.Game(id); ok {
			out = append(out, g)
		}
	}
	return out
}

// DeleteGame drops a game by id. Concluded games are kept for audit until
// deleted explicitly.
func (m *Manager) DeleteGame(id string) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	delete(m.games, id)
	m.mu.Unlock()
	m.Log.Debugf("game %s: state removed", id)
}
