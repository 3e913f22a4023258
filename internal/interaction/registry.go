// Package interaction parses the custom ids of persistent message controls.
// Controls outlive the process that posted them, so the id itself carries
// everything needed to route a click: a fixed prefix plus named regex
// groups such as map_code and thread_id.
package interaction

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
)

var (
	// ErrNoMatch is returned when no registered pattern matches a custom id.
	ErrNoMatch = errors.New("interaction: no control matches custom id")
	// ErrMalformedID is returned when a pattern matches but an id group
	// does not fit an int64. It wraps ErrNoMatch.
	ErrMalformedID = fmt.Errorf("%w: id out of range", ErrNoMatch)
	// ErrBadPattern is returned by Register for an invalid or duplicate pattern.
	ErrBadPattern = errors.New("interaction: invalid pattern")
)

// Control kinds.
const (
	KindConfirmChanges = "change_request.confirm"
	KindDenyChanges    = "change_request.deny"
	KindRequestArchive = "change_request.archive"
	KindModClose       = "change_request.mod_close"
	KindPlaytestVote   = "playtest.vote"
)

// Control is a parsed click target.
type Control struct {
	Kind      string `json:"kind"`
	CustomID  string `json:"custom_id"`
	Button    string `json:"button,omitempty"`
	MapCode   string `json:"map_code,omitempty"`
	ThreadID  int64  `json:"thread_id,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
}

// Factory builds a Control from the named groups of a match.
type Factory func(customID string, groups map[string]string) (Control, error)

type entry struct {
	re      *regexp.Regexp
	factory Factory
}

// Registry maps custom-id patterns to control factories. Patterns are tried
// in registration order and must match the whole id.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// Register adds pattern. It is anchored on both ends before compiling.
func (r *Registry) Register(pattern string, f Factory) error {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPattern, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.re.String() == re.String() {
			return fmt.Errorf("%w: %q registered twice", ErrBadPattern, pattern)
		}
	}
	r.entries = append(r.entries, entry{re: re, factory: f})
	return nil
}

// Dispatch finds the first pattern matching customID and builds its control.
func (r *Registry) Dispatch(customID string) (Control, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		m := e.re.FindStringSubmatch(customID)
		if m == nil {
			continue
		}
		groups := make(map[string]string, len(m))
		for i, name := range e.re.SubexpNames() {
			if name != "" {
				groups[name] = m[i]
			}
		}
		return e.factory(customID, groups)
	}
	return Control{}, fmt.Errorf("%w: %q", ErrNoMatch, customID)
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
