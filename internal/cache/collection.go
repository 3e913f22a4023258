// Package cache keeps an in-memory mirror of the reference data the bot
// serves to autocomplete and embeds: users, maps and the lookup string
// tables. The database stays the source of truth; every collection can be
// rebuilt from it at any time.
package cache

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// MaxChoices is the number of autocomplete entries the chat platform accepts.
const MaxChoices = 25

// Choice is the display form of a cached entry.
type Choice struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type entry[V any] struct {
	value  V
	choice Choice
	folded string
}

// Collection is a keyed set of values with a derived Choice per entry. It is
// safe for concurrent use; the derived Choice is updated under the same lock
// as its value, so readers never observe one without the other.
type Collection[K cmp.Ordered, V any] struct {
	mu       sync.RWMutex
	name     string
	items    map[K]*entry[V]
	keyOf    func(V) K
	display  func(V) Choice
	validate func(V) error
}

// NewCollection builds an empty collection. validate may be nil.
func NewCollection[K cmp.Ordered, V any](name string, keyOf func(V) K, display func(V) Choice, validate func(V) error) *Collection[K, V] {
	return &Collection[K, V]{
		name:     name,
		items:    make(map[K]*entry[V]),
		keyOf:    keyOf,
		display:  display,
		validate: validate,
	}
}

// Name identifies the collection in logs and metrics.
func (c *Collection[K, V]) Name() string { return c.name }

func (c *Collection[K, V]) newEntry(v V) *entry[V] {
	ch := c.display(v)
	return &entry[V]{value: v, choice: ch, folded: fold(ch.Name)}
}

// Find returns the value stored under key.
func (c *Collection[K, V]) Find(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Get is Find with ErrDoesNotExist for a missing key.
func (c *Collection[K, V]) Get(key K) (V, error) {
	v, ok := c.Find(key)
	if !ok {
		return v, fmt.Errorf("%w: %s %v", ErrDoesNotExist, c.name, key)
	}
	return v, nil
}

// Choice returns the display form of the entry under key.
func (c *Collection[K, V]) Choice(key K) (Choice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok {
		return Choice{}, false
	}
	return e.choice, true
}

// AddOne inserts v. ErrAlreadyExists when its key is present.
func (c *Collection[K, V]) AddOne(v V) error {
	return c.AddMany([]V{v})
}

// AddMany inserts every value or none of them.
func (c *Collection[K, V]) AddMany(vs []V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := make(map[K]struct{}, len(vs))
	for _, v := range vs {
		k := c.keyOf(v)
		if _, ok := c.items[k]; ok {
			return fmt.Errorf("%w: %s %v", ErrAlreadyExists, c.name, k)
		}
		if _, ok := batch[k]; ok {
			return fmt.Errorf("%w: %s %v", ErrAlreadyExists, c.name, k)
		}
		if c.validate != nil {
			if err := c.validate(v); err != nil {
				return err
			}
		}
		batch[k] = struct{}{}
	}
	for _, v := range vs {
		c.items[c.keyOf(v)] = c.newEntry(v)
	}
	c.observe()
	return nil
}

// RemoveOne deletes key. ErrDoesNotExist when absent.
func (c *Collection[K, V]) RemoveOne(key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return fmt.Errorf("%w: %s %v", ErrDoesNotExist, c.name, key)
	}
	delete(c.items, key)
	c.observe()
	return nil
}

// Update applies fn to a copy of the value under key and stores the result
// with a freshly derived Choice. If fn returns an error nothing changes.
// The key must not change.
func (c *Collection[K, V]) Update(key K, fn func(*V) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return fmt.Errorf("%w: %s %v", ErrDoesNotExist, c.name, key)
	}
	v := e.value
	if err := fn(&v); err != nil {
		return err
	}
	if c.keyOf(v) != key {
		return fmt.Errorf("%w: %s key changed during update", ErrInvalidEntry, c.name)
	}
	if c.validate != nil {
		if err := c.validate(v); err != nil {
			return err
		}
	}
	c.items[key] = c.newEntry(v)
	return nil
}

// Choices returns up to MaxChoices entries, in key order, whose display
// name contains query case-insensitively. An empty query matches all.
func (c *Collection[K, V]) Choices(query string) []Choice {
	return c.ChoicesWhere(query, nil)
}

// ChoicesWhere is Choices restricted to values accepted by keep.
func (c *Collection[K, V]) ChoicesWhere(query string, keep func(V) bool) []Choice {
	q := fold(strings.TrimSpace(query))

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Choice, 0, min(len(c.items), MaxChoices))
	for _, k := range c.sortedKeys() {
		e := c.items[k]
		if keep != nil && !keep(e.value) {
			continue
		}
		if q != "" && !strings.Contains(e.folded, q) {
			continue
		}
		out = append(out, e.choice)
		if len(out) == MaxChoices {
			break
		}
	}
	return out
}

// Keys returns every key in order.
func (c *Collection[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedKeys()
}

// Len reports the number of entries.
func (c *Collection[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Refresh re-derives every Choice without changing membership.
func (c *Collection[K, V]) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.items {
		c.items[k] = c.newEntry(e.value)
	}
}

// Reset replaces the whole collection with vs. Duplicate keys or invalid
// values leave the previous contents in place.
func (c *Collection[K, V]) Reset(vs []V) error {
	next := make(map[K]*entry[V], len(vs))
	for _, v := range vs {
		k := c.keyOf(v)
		if _, ok := next[k]; ok {
			return fmt.Errorf("%w: %s %v", ErrAlreadyExists, c.name, k)
		}
		if c.validate != nil {
			if err := c.validate(v); err != nil {
				return err
			}
		}
		next[k] = c.newEntry(v)
	}
	c.mu.Lock()
	c.items = next
	c.observe()
	c.mu.Unlock()
	return nil
}

// sortedKeys requires c.mu held.
func (c *Collection[K, V]) sortedKeys() []K {
	keys := make([]K, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// observe requires c.mu held for writing.
func (c *Collection[K, V]) observe() {
	cacheEntries.WithLabelValues(c.name).Set(float64(len(c.items)))
}

// fold returns the case-folded form used for matching. cases.Caser is not
// safe for concurrent use, so one is built per call.
func fold(s string) string {
	return cases.Fold().String(s)
}
