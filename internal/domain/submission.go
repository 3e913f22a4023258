package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalidMapCode is returned for codes outside ^[A-Z0-9]{4,6}$.
	ErrInvalidMapCode = errors.New("map code must be 4 to 6 characters of A-Z and 0-9")
	// ErrInvalidMedals is returned when set medals are not 0 < gold < silver < bronze.
	ErrInvalidMedals = errors.New("medals must satisfy 0 < gold < silver < bronze")
	// ErrInvalidRecord is returned by ParseRecord for malformed times.
	ErrInvalidRecord = errors.New("record must look like HH:MM:SS.ss")
	// ErrInvalidSubmission covers missing required submission fields.
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrUnknownDifficulty is returned for a difficulty that is not on the scale.
	ErrUnknownDifficulty = errors.New("unknown difficulty")
)

var mapCodeRE = regexp.MustCompile(`^[A-Z0-9]{4,6}$`)

// NormalizeMapCode upper-cases the code, maps the letter O to the digit 0
// and trims surrounding space.
func NormalizeMapCode(code string) string {
	return strings.TrimSpace(strings.ReplaceAll(strings.ToUpper(code), "O", "0"))
}

// ValidateMapCode checks an already normalized code.
func ValidateMapCode(code string) error {
	if !mapCodeRE.MatchString(code) {
		return ErrInvalidMapCode
	}
	return nil
}

// ParseRecord converts "HH:MM:SS.ss", "MM:SS.ss" or "SS.ss" to seconds.
func ParseRecord(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidRecord
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, ErrInvalidRecord
	}
	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		var v float64
		var err error
		if last {
			v, err = strconv.ParseFloat(p, 64)
		} else {
			var n int
			n, err = strconv.Atoi(p)
			v = float64(n)
		}
		if err != nil || v < 0 || (i > 0 && v >= 60) {
			return 0, ErrInvalidRecord
		}
		total = total*60 + v
	}
	return total, nil
}

// MapSubmission is a candidate map collected by the submit command and the
// details dialog. It is mutable until persisted.
type MapSubmission struct {
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Creators     []int64  `json:"creators"`
	Checkpoints  int      `json:"checkpoints"`
	Description  string   `json:"description,omitempty"`
	GuideURLs    []string `json:"guide_urls,omitempty"`
	Gold         float64  `json:"gold,omitempty"`
	Silver       float64  `json:"silver,omitempty"`
	Bronze       float64  `json:"bronze,omitempty"`
	MapTypes     []string `json:"map_types,omitempty"`
	Mechanics    []string `json:"mechanics,omitempty"`
	Restrictions []string `json:"restrictions,omitempty"`
	Difficulty   string   `json:"difficulty,omitempty"`
}

// Creator returns the submitting creator (the first in the list).
func (s *MapSubmission) Creator() int64 {
	if len(s.Creators) == 0 {
		return 0
	}
	return s.Creators[0]
}

// HasMedals reports whether any medal threshold was provided.
func (s *MapSubmission) HasMedals() bool {
	return s.Gold != 0 || s.Silver != 0 || s.Bronze != 0
}

// ValidateMedals enforces 0 < gold < silver < bronze when any medal is set.
func (s *MapSubmission) ValidateMedals() error {
	if !s.HasMedals() {
		return nil
	}
	if !(0 < s.Gold && s.Gold < s.Silver && s.Silver < s.Bronze) {
		return ErrInvalidMedals
	}
	return nil
}

// Normalize cleans user input in place.
func (s *MapSubmission) Normalize() {
	s.Code = NormalizeMapCode(s.Code)
	s.Name = strings.TrimSpace(s.Name)
	s.Description = strings.TrimSpace(s.Description)
	s.GuideURLs = compact(s.GuideURLs)
}

// Validate checks the fields required at submit time. Details collected
// later (types, mechanics, restrictions, difficulty) are not required here.
func (s *MapSubmission) Validate() error {
	if err := ValidateMapCode(s.Code); err != nil {
		return err
	}
	if s.Name == "" {
		return fmt.Errorf("%w: map name is required", ErrInvalidSubmission)
	}
	if s.Checkpoints <= 0 {
		return fmt.Errorf("%w: checkpoint count must be positive", ErrInvalidSubmission)
	}
	if len(s.Creators) == 0 {
		return fmt.Errorf("%w: at least one creator is required", ErrInvalidSubmission)
	}
	seen := make(map[int64]struct{}, len(s.Creators))
	for _, id := range s.Creators {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate creator %d", ErrInvalidSubmission, id)
		}
		seen[id] = struct{}{}
	}
	return s.ValidateMedals()
}

// SetExtras stores the details selected in the follow-up dialog.
func (s *MapSubmission) SetExtras(mapTypes, mechanics, restrictions []string, difficulty string) error {
	if difficulty != "" && !IsDifficulty(difficulty) {
		return fmt.Errorf("%w: %q", ErrUnknownDifficulty, difficulty)
	}
	s.MapTypes = compact(mapTypes)
	s.Mechanics = compact(mechanics)
	s.Restrictions = compact(restrictions)
	s.Difficulty = difficulty
	return nil
}

// DetailsComplete reports whether all four follow-up fields are supplied.
func (s *MapSubmission) DetailsComplete() bool {
	return len(s.MapTypes) > 0 && len(s.Mechanics) > 0 && len(s.Restrictions) > 0 && s.Difficulty != ""
}

// ThreadName is the playtest thread title.
func (s *MapSubmission) ThreadName() string {
	return fmt.Sprintf("%s | %s | %s %d CPs", s.Code, s.Difficulty, s.Name, s.Checkpoints)
}

// String renders the confirmation summary shown before publishing.
func (s *MapSubmission) String() string {
	var b strings.Builder
	line := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "`%s` %s\n", k, v)
		}
	}
	line("Code", s.Code)
	line("Map", s.Name)
	line("Type", strings.Join(s.MapTypes, ", "))
	line("Checkpoints", strconv.Itoa(s.Checkpoints))
	line("Difficulty", s.Difficulty)
	line("Mechanics", strings.Join(s.Mechanics, ", "))
	line("Restrictions", strings.Join(s.Restrictions, ", "))
	if len(s.GuideURLs) > 0 {
		links := make([]string, len(s.GuideURLs))
		for i, u := range s.GuideURLs {
			links[i] = fmt.Sprintf("[Link %d](%s)", i+1, u)
		}
		line("Guide", strings.Join(links, ", "))
	}
	if s.HasMedals() {
		line("Medals", fmt.Sprintf("Gold %.2f | Silver %.2f | Bronze %.2f", s.Gold, s.Silver, s.Bronze))
	}
	line("Desc", s.Description)
	return strings.TrimRight(b.String(), "\n")
}

func compact(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
