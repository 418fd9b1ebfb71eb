package core

import "fmt"

// Level is a member's rank within a channel's permission hierarchy.
// Levels are strictly ordered; every privilege comparison in this package
// goes through the ordering rather than a mode bitmask so that "strictly
// exceeds" checks are unambiguous.
type Level int16

const (
	LevelNone Level = iota
	LevelVoice
	LevelOperator
	LevelAdmin
	LevelOwner
)

var levelNames = map[Level]string{
	LevelNone:     "none",
	LevelVoice:    "voice",
	LevelOperator: "operator",
	LevelAdmin:    "admin",
	LevelOwner:    "owner",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int16(l))
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// ParseLevel maps a level name back to its Level.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return LevelNone, fmt.Errorf("unknown permission level: %q", s)
}
