package cache

import (
	"fmt"
	"slices"

	"github.com/tbourn/genji-bot/internal/domain"
)

// MapData is the cached view of a map. UserIDs is never modified in place;
// mutators install a fresh slice, so values returned by Find stay stable.
type MapData struct {
	Code     string
	UserIDs  []int64
	Archived bool
}

// Maps caches maps keyed by code.
type Maps struct {
	*Collection[string, MapData]
}

// NewMaps builds an empty map collection.
func NewMaps() *Maps {
	return &Maps{NewCollection("maps",
		func(m MapData) string { return m.Code },
		func(m MapData) Choice { return Choice{Name: m.Code, Value: m.Code} },
		validateMap,
	)}
}

func validateMap(m MapData) error {
	if len(m.UserIDs) == 0 {
		return fmt.Errorf("%w: map %s has no creators", ErrInvalidEntry, m.Code)
	}
	seen := make(map[int64]struct{}, len(m.UserIDs))
	for _, id := range m.UserIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: map %s lists creator %d twice", ErrInvalidEntry, m.Code, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// AddCreator appends userID to the map's creators.
func (m *Maps) AddCreator(code string, userID int64) error {
	return m.Update(code, func(v *MapData) error {
		if slices.Contains(v.UserIDs, userID) {
			return fmt.Errorf("%w: %d on %s", ErrCreatorAlreadyExists, userID, code)
		}
		next := make([]int64, 0, len(v.UserIDs)+1)
		v.UserIDs = append(append(next, v.UserIDs...), userID)
		return nil
	})
}

// RemoveCreator drops userID from the map's creators. Removing the last
// creator is rejected.
func (m *Maps) RemoveCreator(code string, userID int64) error {
	return m.Update(code, func(v *MapData) error {
		i := slices.Index(v.UserIDs, userID)
		if i < 0 {
			return fmt.Errorf("%w: %d on %s", ErrCreatorDoesNotExist, userID, code)
		}
		v.UserIDs = slices.Delete(slices.Clone(v.UserIDs), i, i+1)
		return nil
	})
}

// SetArchived updates the archived flag.
func (m *Maps) SetArchived(code string, archived bool) error {
	return m.Update(code, func(v *MapData) error {
		v.Archived = archived
		return nil
	})
}

// ChoicesFor normalizes the typed code (O counts as 0) before matching.
func (m *Maps) ChoicesFor(query string) []Choice {
	return m.Choices(domain.NormalizeMapCode(query))
}

// IsCreator reports whether userID is credited on code.
func (m *Maps) IsCreator(code string, userID int64) bool {
	v, ok := m.Find(code)
	return ok && slices.Contains(v.UserIDs, userID)
}
