package cache

// Strings caches one lookup table (map names, types, mechanics,
// restrictions or tags).
type Strings struct {
	*Collection[string, string]
}

// NewStrings builds an empty lookup collection named after its kind.
func NewStrings(kind string) *Strings {
	return &Strings{NewCollection(kind,
		func(s string) string { return s },
		func(s string) Choice { return Choice{Name: s, Value: s} },
		nil,
	)}
}

// Contains reports whether value is a known lookup entry.
func (s *Strings) Contains(value string) bool {
	_, ok := s.Find(value)
	return ok
}

// ContainsAll reports whether every value is known.
func (s *Strings) ContainsAll(values []string) bool {
	for _, v := range values {
		if !s.Contains(v) {
			return false
		}
	}
	return true
}
