// Package camelot implements the Camelot-wheel key model used for harmonic
// mixing: 24 canonical keys (1A-12A minor, 1B-12B major) and a static
// compatibility table built once at package init.
package camelot

import (
	"fmt"
	"strconv"
	"strings"
)

// Score values for harmonic fit. Mismatch is a soft penalty, never a hard
// exclusion, so the therapeutic and novelty signals can still override it.
const (
	ScorePerfect    = 1.0
	ScoreCompatible = 0.8
	ScoreMismatch   = 0.2
)

// Key is a parsed Camelot key.
type Key struct {
	Number int  // 1-12
	Letter byte // 'A' (minor) or 'B' (major)
}

func (k Key) String() string {
	return fmt.Sprintf("%d%c", k.Number, k.Letter)
}

// ParseKey parses and normalizes a Camelot key string like "8a" or "12B".
func ParseKey(raw string) (Key, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) < 2 {
		return Key{}, fmt.Errorf("invalid camelot key: %q", raw)
	}

	letter := s[len(s)-1]
	if letter != 'A' && letter != 'B' {
		return Key{}, fmt.Errorf("invalid camelot letter in %q", raw)
	}

	number, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || number < 1 || number > 12 {
		return Key{}, fmt.Errorf("invalid camelot number in %q", raw)
	}

	return Key{Number: number, Letter: letter}, nil
}

// IsValid reports whether raw is one of the 24 canonical key strings.
func IsValid(raw string) bool {
	_, err := ParseKey(raw)
	return err == nil
}

// AllKeys returns the 24 canonical keys in wheel order (1A..12A, 1B..12B).
func AllKeys() []Key {
	keys := make([]Key, 0, 24)
	for _, letter := range []byte{'A', 'B'} {
		for number := 1; number <= 12; number++ {
			keys = append(keys, Key{Number: number, Letter: letter})
		}
	}
	return keys
}

// table maps each canonical key to its compatible set: the relative
// major/minor (same number, opposite letter) and the adjacent numbers on the
// same letter with 12->1 wraparound. Built once, never mutated.
var table map[Key]map[Key]bool

func init() {
	table = make(map[Key]map[Key]bool, 24)
	for _, k := range AllKeys() {
		next := k.Number%12 + 1
		prev := k.Number - 1
		if prev == 0 {
			prev = 12
		}
		relative := byte('A')
		if k.Letter == 'A' {
			relative = 'B'
		}
		table[k] = map[Key]bool{
			{Number: k.Number, Letter: relative}: true,
			{Number: next, Letter: k.Letter}:     true,
			{Number: prev, Letter: k.Letter}:     true,
		}
	}
}

// Compatible reports whether b is in a's compatible set. Equal keys are not
// part of the set; they are a perfect match scored separately.
func Compatible(a, b Key) bool {
	return table[a][b]
}

// CompatibleSet returns a copy of the compatible set for k.
func CompatibleSet(k Key) []Key {
	set := make([]Key, 0, len(table[k]))
	for other := range table[k] {
		set = append(set, other)
	}
	return set
}

// Score computes the harmonic-fit score between two keys: 1.0 for a perfect
// match, 0.8 for a compatible pair, 0.2 otherwise.
func Score(a, b Key) float64 {
	if a == b {
		return ScorePerfect
	}
	if Compatible(a, b) {
		return ScoreCompatible
	}
	return ScoreMismatch
}
