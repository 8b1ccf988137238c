// Package presence tracks which users are viewing which board.
//
// The Store is advisory: it drives the presence listing clients render and
// is never consulted for access control. It is process-local and empty after
// a restart; clients re-announce themselves when they reconnect.
package presence

import (
	"sort"
	"sync"
)

// Store indexes live connections as board -> user -> connection set. A user
// is present on a board iff their connection set there is non-empty; empty
// users and boards are removed eagerly.
type Store struct {
	mu     sync.RWMutex
	boards map[int64]map[string]map[string]struct{}
	// connections is the reverse index connection -> board -> user, so
	// RemoveConnectionEverywhere touches only what the connection joined.
	connections map[string]map[int64]string
}

// Stats summarises the tracked state.
type Stats struct {
	Boards      int `json:"boards"`
	Users       int `json:"users"`
	Connections int `json:"connections"`
}

// NewStore constructs an empty presence store.
func NewStore() *Store {
	return &Store{
		boards:      make(map[int64]map[string]map[string]struct{}),
		connections: make(map[string]map[int64]string),
	}
}

// Add registers connectionID for userID on boardID. Repeated calls with the
// same triple are no-ops.
func (s *Store) Add(boardID int64, userID, connectionID string) {
	if userID == "" || connectionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.boards[boardID]
	if !ok {
		users = make(map[string]map[string]struct{})
		s.boards[boardID] = users
	}
	conns, ok := users[userID]
	if !ok {
		conns = make(map[string]struct{})
		users[userID] = conns
	}
	conns[connectionID] = struct{}{}

	joined, ok := s.connections[connectionID]
	if !ok {
		joined = make(map[int64]string)
		s.connections[connectionID] = joined
	}
	joined[boardID] = userID
}

// Remove unregisters connectionID for userID on boardID.
func (s *Store) Remove(boardID int64, userID, connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(boardID, userID, connectionID)
}

// RemoveConnectionEverywhere purges connectionID from every board it joined and
// returns the affected board ids in ascending order.
func (s *Store) RemoveConnectionEverywhere(connectionID string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	joined := s.connections[connectionID]
	affected := make([]int64, 0, len(joined))
	for boardID, userID := range joined {
		affected = append(affected, boardID)
		s.removeLocked(boardID, userID, connectionID)
	}
	delete(s.connections, connectionID)
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })
	return affected
}

// ListUsers returns the distinct users present on boardID, sorted.
func (s *Store) ListUsers(boardID int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := s.boards[boardID]
	listed := make([]string, 0, len(users))
	for userID := range users {
		listed = append(listed, userID)
	}
	sort.Strings(listed)
	return listed
}

// Snapshot returns the current board, user and connection counts.
func (s *Store) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Boards: len(s.boards), Connections: len(s.connections)}
	for _, users := range s.boards {
		stats.Users += len(users)
	}
	return stats
}

func (s *Store) removeLocked(boardID int64, userID, connectionID string) {
	if users, ok := s.boards[boardID]; ok {
		if conns, ok := users[userID]; ok {
			delete(conns, connectionID)
			if len(conns) == 0 {
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(s.boards, boardID)
		}
	}
	if joined, ok := s.connections[connectionID]; ok {
		if joined[boardID] == userID {
			delete(joined, boardID)
		}
		if len(joined) == 0 {
			delete(s.connections, connectionID)
		}
	}
}
