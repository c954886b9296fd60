package core

import (
	"strings"
	"time"
)

// Resource is a point-in-time view of an externally owned resource, such as a
// browser tab. The engine reads its attributes but never mutates them.
type Resource struct {
	ID         string            `json:"id" yaml:"id"`
	Scope      string            `json:"scope,omitempty" yaml:"scope,omitempty"`
	Location   string            `json:"location,omitempty" yaml:"location,omitempty"`
	Title      string            `json:"title,omitempty" yaml:"title,omitempty"`
	LastUsedAt time.Time         `json:"last_used_at,omitempty" yaml:"last_used_at,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Attr resolves a named attribute. The well-known names location, title and
// scope map to the typed fields; anything else is looked up in Attributes.
func (r Resource) Attr(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "location", "url":
		return r.Location, r.Location != ""
	case "title", "name":
		return r.Title, r.Title != ""
	case "scope":
		return r.Scope, r.Scope != ""
	case "id":
		return r.ID, r.ID != ""
	}
	v, ok := r.Attributes[name]
	return v, ok
}

func (r Resource) clone() Resource {
	if r.Attributes == nil {
		return r
	}
	attrs := make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	r.Attributes = attrs
	return r
}

// Key is the grouping discriminator produced by a KeyExtractor. Tuple keys are
// encoded with KeySeparator between parts so they stay comparable.
type Key string

// KeySeparator joins the parts of a composite key (ASCII unit separator).
const KeySeparator = "\x1f"

// JoinKey builds a composite key from its parts.
func JoinKey(parts ...Key) Key {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = string(p)
	}
	return Key(strings.Join(strs, KeySeparator))
}

// Parts splits a composite key back into its parts.
func (k Key) Parts() []Key {
	raw := strings.Split(string(k), KeySeparator)
	parts := make([]Key, len(raw))
	for i, p := range raw {
		parts[i] = Key(p)
	}
	return parts
}

// String renders composite keys with " | " for display.
func (k Key) String() string {
	return strings.ReplaceAll(string(k), KeySeparator, " | ")
}
