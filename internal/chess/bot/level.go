package bot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/park285/cheese-coach/internal/chess/uci"
)

// Level is a named playing strength. WindowCP widens as the level drops so
// weaker bots pick among more near-equal moves.
type Level struct {
	Name           string
	SkillLevel     int
	Elo            int
	HashMB         int
	Depth          int
	MoveTimeMillis int
	MultiPV        int
	WindowCP       int
}

var levels = map[string]Level{
	"level1": {Name: "level1", SkillLevel: 0, Elo: 600, HashMB: 16, Depth: 5, MoveTimeMillis: 20, MultiPV: 5, WindowCP: 80},
	"level2": {Name: "level2", SkillLevel: 0, Elo: 700, HashMB: 16, Depth: 6, MoveTimeMillis: 60, MultiPV: 5, WindowCP: 60},
	"level3": {Name: "level3", SkillLevel: 1, Elo: 800, HashMB: 24, Depth: 8, MoveTimeMillis: 80, MultiPV: 5, WindowCP: 45},
	"level4": {Name: "level4", SkillLevel: 3, Elo: 1000, HashMB: 32, Depth: 10, MoveTimeMillis: 140, MultiPV: 5, WindowCP: 30},
	"level5": {Name: "level5", SkillLevel: 7, Elo: 1200, HashMB: 48, Depth: 12, MoveTimeMillis: 200, MultiPV: 5, WindowCP: 25},
	"level6": {Name: "level6", SkillLevel: 11, Elo: 1400, HashMB: 64, Depth: 16, MoveTimeMillis: 300, MultiPV: 2, WindowCP: 10},
	"level7": {Name: "level7", SkillLevel: 16, Elo: 1650, HashMB: 96, Depth: 20, MoveTimeMillis: 500, MultiPV: 2, WindowCP: 5},
	"level8": {Name: "level8", SkillLevel: 20, Elo: 1900, HashMB: 128, Depth: 30, MoveTimeMillis: 1000, MultiPV: 1, WindowCP: 0},
}

var levelAliases = map[string]string{
	"beginner":     "level1",
	"intermediate": "level5",
	"advanced":     "level7",
	"master":       "level8",
}

func LookupLevel(name string) (Level, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := levelAliases[key]; ok {
		key = alias
	}
	if l, ok := levels[key]; ok {
		return l, nil
	}
	return Level{}, fmt.Errorf("unknown bot level: %s", name)
}

// LevelNames lists the canonical level names in order.
func LevelNames() []string {
	names := make([]string, 0, len(levels))
	for name := range levels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l Level) Validate() error {
	switch {
	case l.SkillLevel < 0 || l.SkillLevel > 20:
		return fmt.Errorf("skill level %d out of range 0-20", l.SkillLevel)
	case l.HashMB <= 0:
		return fmt.Errorf("hash size must be > 0: %d", l.HashMB)
	case l.MultiPV <= 0:
		return fmt.Errorf("multipv must be > 0: %d", l.MultiPV)
	case l.Depth <= 0 && l.MoveTimeMillis <= 0:
		return uci.ErrNoSearchLimits
	case l.WindowCP < 0:
		return fmt.Errorf("window must be >= 0: %d", l.WindowCP)
	}
	return nil
}

// Config builds a player configuration for the level.
func (l Level) Config(threads int) Config {
	return Config{
		Options: uci.Options{
			Threads:    threads,
			HashMB:     l.HashMB,
			MultiPV:    l.MultiPV,
			SkillLevel: l.SkillLevel,
			Elo:        l.Elo,
		},
		Depth:          l.Depth,
		MoveTimeMillis: l.MoveTimeMillis,
		WindowCP:       l.WindowCP,
	}
}
