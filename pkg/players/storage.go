package players

import (
	"sync"

	"github.com/QYUbit/Expanse/pkg/ids"
)

// Storage indexes players by login.
type Storage struct {
	mu      sync.RWMutex
	players *ids.IndexedVector[string, *Player]
}

func NewStorage() *Storage {
	return &Storage{
		players: ids.NewIndexedVector(func(p *Player) string { return p.Login() }),
	}
}

func (s *Storage) Add(p *Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.players.Push(p) {
		return ErrPlayerExists
	}
	return nil
}

func (s *Storage) Get(login string) (*Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players.Get(login)
}

func (s *Storage) Remove(login string) (*Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players.Remove(login)
}

func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players.Len()
}

// All returns a snapshot of the stored players.
func (s *Storage) All() []*Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Player(nil), s.players.Items()...)
}
