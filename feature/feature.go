// Package feature tracks the raw evidence a session run produced for each
// fact under test, keyed by (tile, bel, attr, val).
package feature

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/teranos/hammer/diff"
	"github.com/teranos/hammer/errors"
)

// Key identifies one fact under test
type Key struct {
	Tile string `yaml:"tile"`
	Bel  string `yaml:"bel"`
	Attr string `yaml:"attr"`
	Val  string `yaml:"val"`
}

// String formats the key as tile:bel:attr:val
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Tile, k.Bel, k.Attr, k.Val)
}

// ParseKey reads the tile:bel:attr:val form. The value may itself contain ':'.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 {
		return Key{}, errors.Newf("invalid feature key %q: want tile:bel:attr:val", s)
	}
	for i, p := range parts[:3] {
		if p == "" {
			return Key{}, errors.Newf("invalid feature key %q: component %d is empty", s, i)
		}
	}
	return Key{Tile: parts[0], Bel: parts[1], Attr: parts[2], Val: parts[3]}, nil
}

// Compare orders keys field by field
func (k Key) Compare(o Key) int {
	return cmp.Or(
		cmp.Compare(k.Tile, o.Tile),
		cmp.Compare(k.Bel, o.Bel),
		cmp.Compare(k.Attr, o.Attr),
		cmp.Compare(k.Val, o.Val),
	)
}

// Data is the aggregated evidence for one key
type Data struct {
	Diffs  []diff.Diff // one per job recipe, in recipe order
	Source string      // job that produced the diffs
	Trials int         // number of agreeing trials
}

type entry struct {
	data  Data
	taken bool
}

// State maps feature keys to their evidence. Safe for concurrent use.
//
// GetDiff(s) consumes an entry; asking for it again is an assertion failure.
// PeekDiff(s) returns copies and leaves the entry in place.
type State struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

// NewState creates an empty state
func NewState() *State {
	return &State{entries: make(map[Key]*entry)}
}

// Record stores the evidence for key. Each key may be recorded once.
func (s *State) Record(key Key, data Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return errors.AssertionFailedf("feature %s recorded twice", key)
	}
	s.entries[key] = &entry{data: data}
	return nil
}

// GetDiffs consumes and returns every diff of key
func (s *State) GetDiffs(key Key) ([]diff.Diff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, errors.NewNotFoundError("feature %s", key)
	}
	if e.taken {
		return nil, errors.AssertionFailedf("diffs of feature %s already consumed", key)
	}
	e.taken = true
	diffs := e.data.Diffs
	e.data.Diffs = nil
	return diffs, nil
}

// GetDiff consumes the single diff of key
func (s *State) GetDiff(key Key) (diff.Diff, error) {
	diffs, err := s.GetDiffs(key)
	if err != nil {
		return diff.Diff{}, err
	}
	if len(diffs) != 1 {
		return diff.Diff{}, errors.AssertionFailedf("feature %s has %d diffs, expected exactly one", key, len(diffs))
	}
	return diffs[0], nil
}

// PeekDiffs returns copies of the diffs of key without consuming them
func (s *State) PeekDiffs(key Key) ([]diff.Diff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, errors.NewNotFoundError("feature %s", key)
	}
	if e.taken {
		return nil, errors.AssertionFailedf("diffs of feature %s already consumed", key)
	}
	res := make([]diff.Diff, len(e.data.Diffs))
	for i, d := range e.data.Diffs {
		res[i] = d.Clone()
	}
	return res, nil
}

// PeekDiff returns a copy of the single diff of key
func (s *State) PeekDiff(key Key) (diff.Diff, error) {
	diffs, err := s.PeekDiffs(key)
	if err != nil {
		return diff.Diff{}, err
	}
	if len(diffs) != 1 {
		return diff.Diff{}, errors.AssertionFailedf("feature %s has %d diffs, expected exactly one", key, len(diffs))
	}
	return diffs[0], nil
}

// Has reports whether key was recorded
func (s *State) Has(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Info returns the provenance of key
func (s *State) Info(key Key) (source string, trials int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", 0, false
	}
	return e.data.Source, e.data.Trials, true
}

// Len returns the number of recorded keys
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns every recorded key in sorted order
func (s *State) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.SortedFunc(maps.Keys(s.entries), Key.Compare)
}

// Remaining returns the keys not yet consumed whose diffs still carry bits
func (s *State) Remaining() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []Key
	for k, e := range s.entries {
		if e.taken {
			continue
		}
		for _, d := range e.data.Diffs {
			if !d.IsEmpty() {
				res = append(res, k)
				break
			}
		}
	}
	slices.SortFunc(res, Key.Compare)
	return res
}
