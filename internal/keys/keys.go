// Package keys provides the KeyExtractor strategies used to group resources.
package keys

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bakkerme/culler/internal/core"
)

// Options normalise extracted values before they become keys.
type Options struct {
	IgnoreFragment      bool `json:"ignore_fragment" yaml:"ignore_fragment"`
	IgnoreQuery         bool `json:"ignore_query" yaml:"ignore_query"`
	IgnoreTrailingSlash bool `json:"ignore_trailing_slash" yaml:"ignore_trailing_slash"`
	FoldCase            bool `json:"fold_case" yaml:"fold_case"`
}

type extractor struct {
	name string
	fn   func(core.Resource) (core.Key, error)
}

func (e extractor) Name() string { return e.name }

func (e extractor) Key(r core.Resource) (core.Key, error) { return e.fn(r) }

// Func adapts a plain function into a KeyExtractor.
func Func(name string, fn func(core.Resource) (core.Key, error)) core.KeyExtractor {
	return extractor{name: name, fn: fn}
}

// Location groups by the location attribute (a URL for browser tabs).
func Location(opts Options) core.KeyExtractor {
	return extractor{name: "location", fn: func(r core.Resource) (core.Key, error) {
		if strings.TrimSpace(r.Location) == "" {
			return "", fmt.Errorf("location is empty")
		}
		normalized, err := normalizeLocation(r.Location, opts)
		if err != nil {
			return "", err
		}
		return core.Key(normalized), nil
	}}
}

// Title groups by the display-name attribute.
func Title(opts Options) core.KeyExtractor {
	return extractor{name: "title", fn: func(r core.Resource) (core.Key, error) {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			return "", fmt.Errorf("title is empty")
		}
		if opts.FoldCase {
			title = strings.ToLower(title)
		}
		return core.Key(title), nil
	}}
}

// Attribute groups by an arbitrary named attribute. Resources without it fail extraction.
func Attribute(name string, opts Options) core.KeyExtractor {
	return extractor{name: "attribute:" + name, fn: func(r core.Resource) (core.Key, error) {
		v, ok := r.Attr(name)
		if !ok {
			return "", fmt.Errorf("attribute %q is missing", name)
		}
		if opts.FoldCase {
			v = strings.ToLower(v)
		}
		return core.Key(v), nil
	}}
}

// Composite builds a tuple key from several extractors; any part failing fails the whole key.
func Composite(parts ...core.KeyExtractor) core.KeyExtractor {
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.Name()
	}
	return extractor{name: strings.Join(names, "+"), fn: func(r core.Resource) (core.Key, error) {
		keys := make([]core.Key, 0, len(parts))
		for _, p := range parts {
			k, err := p.Key(r)
			if err != nil {
				return "", fmt.Errorf("%s: %w", p.Name(), err)
			}
			keys = append(keys, k)
		}
		return core.JoinKey(keys...), nil
	}}
}

// Parse builds an extractor from its config name: "location", "title",
// "attribute:<name>" or several of those joined with "+".
func Parse(spec string, opts Options) (core.KeyExtractor, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("key extractor is required")
	}
	if strings.Contains(spec, "+") {
		var parts []core.KeyExtractor
		for _, raw := range strings.Split(spec, "+") {
			part, err := Parse(raw, opts)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		return Composite(parts...), nil
	}
	switch {
	case spec == "location" || spec == "url":
		return Location(opts), nil
	case spec == "title" || spec == "name":
		return Title(opts), nil
	case strings.HasPrefix(spec, "attribute:"):
		name := strings.TrimSpace(strings.TrimPrefix(spec, "attribute:"))
		if name == "" {
			return nil, fmt.Errorf("attribute key requires a name")
		}
		return Attribute(name, opts), nil
	default:
		return nil, fmt.Errorf("unknown key extractor %q", spec)
	}
}

func normalizeLocation(raw string, opts Options) (string, error) {
	if !opts.IgnoreFragment && !opts.IgnoreQuery && !opts.IgnoreTrailingSlash && !opts.FoldCase {
		return raw, nil
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse location: %w", err)
	}
	if opts.IgnoreFragment {
		u.Fragment = ""
		u.RawFragment = ""
	}
	if opts.IgnoreQuery {
		u.RawQuery = ""
		u.ForceQuery = false
	}
	if opts.IgnoreTrailingSlash && len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	if opts.FoldCase {
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
	}
	return u.String(), nil
}
