package game

import "sync"

// gameLocks hands out one mutex per game ID. Entries are dropped once no
// caller holds or waits on them.
type gameLocks struct {
	mu sync.Mutex
	m  map[string]*gameLock
}

type gameLock struct {
	sync.Mutex
	refs int
}

// lock blocks until the caller owns gameID and returns the release func.
func (l *gameLocks) lock(gameID string) func() {
	l.mu.Lock()
	gl, ok := l.m[gameID]
	if !ok {
		gl = &gameLock{}
		l.m[gameID] = gl
	}
	gl.refs++
	l.mu.Unlock()

	gl.Lock()
	return func() {
		gl.Unlock()
		l.mu.Lock()
		gl.refs--
		if gl.refs == 0 {
			delete(l.m, gameID)
		}
		l.mu.Unlock()
	}
}
