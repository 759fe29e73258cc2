package session

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/teranos/hammer/errors"
)

// SettingKind is the kind of change a recipe applies to a design
type SettingKind string

const (
	SettingMode SettingKind = "mode" // place a bel in a mode; Value names the mode
	SettingAttr SettingKind = "attr" // set a bel attribute
	SettingPin  SettingKind = "pin"  // connect or invert a bel pin
	SettingPip  SettingKind = "pip"  // enable a routing edge in a tile
)

// IsValidSettingKind reports whether s names a known setting kind
func IsValidSettingKind(s string) bool {
	switch SettingKind(s) {
	case SettingMode, SettingAttr, SettingPin, SettingPip:
		return true
	default:
		return false
	}
}

// Setting is one change applied to the baseline design
type Setting struct {
	Kind   SettingKind `yaml:"kind"`
	Target string      `yaml:"target"`         // bel or tile instance the setting applies to
	Name   string      `yaml:"name,omitempty"` // attribute, pin or edge name; empty for modes
	Value  string      `yaml:"value,omitempty"`
}

type settingKey struct {
	kind   SettingKind
	target string
	name   string
}

func (s Setting) key() settingKey {
	return settingKey{kind: s.Kind, target: s.Target, name: s.Name}
}

// String formats the setting as kind:target[.name]=value
func (s Setting) String() string {
	var sb strings.Builder
	sb.WriteString(string(s.Kind))
	sb.WriteByte(':')
	sb.WriteString(s.Target)
	if s.Name != "" {
		sb.WriteByte('.')
		sb.WriteString(s.Name)
	}
	if s.Value != "" {
		sb.WriteByte('=')
		sb.WriteString(s.Value)
	}
	return sb.String()
}

// Validate checks that the setting is well formed
func (s Setting) Validate() error {
	if !IsValidSettingKind(string(s.Kind)) {
		return errors.Newf("unknown setting kind %q", s.Kind)
	}
	if s.Target == "" {
		return errors.Newf("%s setting has no target", s.Kind)
	}
	switch s.Kind {
	case SettingMode:
		if s.Value == "" {
			return errors.Newf("mode setting for %s names no mode", s.Target)
		}
	default:
		if s.Name == "" {
			return errors.Newf("%s setting for %s has no name", s.Kind, s.Target)
		}
	}
	return nil
}

// Recipe is the set of changes that turns the baseline design into a test design
type Recipe struct {
	Settings []Setting `yaml:"settings"`
}

// NewRecipe builds a recipe from settings
func NewRecipe(settings ...Setting) Recipe {
	return Recipe{Settings: slices.Clone(settings)}
}

// Validate checks every setting and rejects two settings for the same
// (kind, target, name)
func (r Recipe) Validate() error {
	seen := make(map[settingKey]int, len(r.Settings))
	for i, s := range r.Settings {
		if err := s.Validate(); err != nil {
			return errors.Wrapf(err, "setting %d", i)
		}
		if prev, dup := seen[s.key()]; dup {
			return errors.Newf("settings %d and %d both set %s", prev, i, s)
		}
		seen[s.key()] = i
	}
	return nil
}

// Over merges r onto base. Settings of r replace base settings with the same
// (kind, target, name) in place; the rest are appended in order.
func (r Recipe) Over(base Recipe) Recipe {
	res := make([]Setting, 0, len(base.Settings)+len(r.Settings))
	pos := make(map[settingKey]int, len(base.Settings))
	for _, s := range base.Settings {
		pos[s.key()] = len(res)
		res = append(res, s)
	}
	for _, s := range r.Settings {
		if i, ok := pos[s.key()]; ok {
			res[i] = s
			continue
		}
		pos[s.key()] = len(res)
		res = append(res, s)
	}
	return Recipe{Settings: res}
}

// Sorted returns a copy with settings in canonical order
func (r Recipe) Sorted() Recipe {
	res := slices.Clone(r.Settings)
	slices.SortStableFunc(res, func(a, b Setting) int {
		return cmp.Or(
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Target, b.Target),
			cmp.Compare(a.Name, b.Name),
		)
	})
	return Recipe{Settings: res}
}

// String joins the settings with spaces
func (r Recipe) String() string {
	parts := make([]string, len(r.Settings))
	for i, s := range r.Settings {
		parts[i] = s.String()
	}
	return fmt.Sprintf("{%s}", strings.Join(parts, " "))
}
