// Package track provides the track reference and resolution entities.
package track

import "strings"

// Ref is an opaque reference to a playable item (URL or search query).
// The playback core only compares refs for equality.
type Ref string

// String returns the ref as a string.
func (r Ref) String() string {
	return string(r)
}

// IsURL reports whether the ref looks like an http(s) URL.
func (r Ref) IsURL() bool {
	s := strings.ToLower(strings.TrimSpace(string(r)))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Short returns the last n characters of the ref, for log lines.
func (r Ref) Short(n int) string {
	if n <= 0 || len(r) <= n {
		return string(r)
	}
	return "..." + string(r[len(r)-n:])
}

// Kind represents what a ref resolved to.
type Kind int

const (
	KindSingle Kind = iota // A single streamable item
	KindList               // An expandable list of refs
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Resolution is the result of resolving a ref.
type Resolution struct {
	Kind     Kind   // Single or list
	Title    string // Display title
	Endpoint string // Streamable endpoint (single only, may be empty)
	Members  []Ref  // Member refs in play order (list only)
}

// NewSingle creates a single-item resolution.
func NewSingle(title, endpoint string) *Resolution {
	return &Resolution{
		Kind:     KindSingle,
		Title:    title,
		Endpoint: endpoint,
	}
}

// NewList creates a list resolution.
func NewList(title string, members []Ref) *Resolution {
	return &Resolution{
		Kind:    KindList,
		Title:   title,
		Members: members,
	}
}

// Playable reports whether the resolution carries a streamable endpoint.
func (r *Resolution) Playable() bool {
	return r != nil && r.Kind == KindSingle && r.Endpoint != ""
}

// Refs converts plain strings to refs, dropping blanks.
func Refs(values ...string) []Ref {
	refs := make([]Ref, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		refs = append(refs, Ref(v))
	}
	return refs
}
