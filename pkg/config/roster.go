package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalidRoster = errors.New("invalid roster")

// RosterEntry describes one player. Exactly one of Password and PasswordHash is set; the hash is
// a bcrypt hash.
type RosterEntry struct {
	Login        string `yaml:"login"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

type rosterFile struct {
	Players []RosterEntry `yaml:"players"`
}

// LoadRoster reads the player roster at path.
func LoadRoster(path string) ([]RosterEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(raw)
}

func ParseRoster(raw []byte) ([]RosterEntry, error) {
	var f rosterFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}

	seen := make(map[string]bool, len(f.Players))
	for i, e := range f.Players {
		switch {
		case e.Login == "":
			return nil, fmt.Errorf("%w: entry %d has no login", ErrInvalidRoster, i)
		case seen[e.Login]:
			return nil, fmt.Errorf("%w: duplicate login %q", ErrInvalidRoster, e.Login)
		case (e.Password == "") == (e.PasswordHash == ""):
			return nil, fmt.Errorf("%w: %q needs either password or password_hash", ErrInvalidRoster, e.Login)
		}
		seen[e.Login] = true
	}
	return f.Players, nil
}
