package domain

import "strings"

// DifficultyBucket is one step of the fixed 16-step difficulty scale.
// Low is inclusive and High exclusive, except for the last bucket whose
// upper bound 10.0 is inclusive.
type DifficultyBucket struct {
	Name  string
	Low   float64
	High  float64
	Color string
}

// DifficultyScale is the ordered difficulty scale used for submissions,
// voting and display.
var DifficultyScale = [16]DifficultyBucket{
	{"Easy -", 0.0, 1.18, "#66ff66"},
	{"Easy", 1.18, 1.76, "#4dcc4d"},
	{"Easy +", 1.76, 2.35, "#33cc33"},
	{"Medium -", 2.35, 2.94, "#99ff33"},
	{"Medium", 2.94, 3.53, "#99e600"},
	{"Medium +", 3.53, 4.12, "#80cc00"},
	{"Hard -", 4.12, 4.71, "#ffd633"},
	{"Hard", 4.71, 5.29, "#ffb300"},
	{"Hard +", 5.29, 5.88, "#ff9900"},
	{"Very Hard -", 5.88, 6.47, "#ff8000"},
	{"Very Hard", 6.47, 7.06, "#e67e00"},
	{"Very Hard +", 7.06, 7.65, "#cc6600"},
	{"Extreme -", 7.65, 8.24, "#ff4d00"},
	{"Extreme", 8.24, 8.82, "#e04300"},
	{"Extreme +", 8.82, 9.41, "#b92d00"},
	{"Hell", 9.41, 10.0, "#990000"},
}

// DifficultyNames returns the scale names in ascending order.
func DifficultyNames() []string {
	out := make([]string, len(DifficultyScale))
	for i, b := range DifficultyScale {
		out[i] = b.Name
	}
	return out
}

// DifficultyIndex returns the position of name on the scale, or -1.
func DifficultyIndex(name string) int {
	for i, b := range DifficultyScale {
		if b.Name == name {
			return i
		}
	}
	return -1
}

// IsDifficulty reports whether name is on the scale.
func IsDifficulty(name string) bool { return DifficultyIndex(name) >= 0 }

// DifficultyMidpoint returns the centre value of the named bucket.
func DifficultyMidpoint(name string) (float64, bool) {
	i := DifficultyIndex(name)
	if i < 0 {
		return 0, false
	}
	b := DifficultyScale[i]
	return (b.Low + b.High) / 2, true
}

// DifficultyFamily strips the +/- modifier ("Very Hard +" -> "Very Hard").
func DifficultyFamily(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, " +")
	name = strings.TrimSuffix(name, " -")
	return name
}

// requiredVotesByFamily is the number of playtest votes a map needs before
// moderators consider it for approval. Harder maps have fewer capable testers.
var requiredVotesByFamily = map[string]int{
	"Easy":      5,
	"Medium":    5,
	"Hard":      4,
	"Very Hard": 3,
	"Extreme":   2,
	"Hell":      1,
}

// RequiredVotes returns the vote threshold for a submission's difficulty.
// Unknown difficulties fall back to the strictest threshold.
func RequiredVotes(difficulty string) int {
	if n, ok := requiredVotesByFamily[DifficultyFamily(difficulty)]; ok {
		return n
	}
	return 5
}

// UserFlags is a bitset of per-user settings.
type UserFlags int

const (
	FlagVerification UserFlags = 1 << iota
	FlagPromotion
)

// Has reports whether every bit of x is set.
func (f UserFlags) Has(x UserFlags) bool { return f&x == x }

// Toggle flips the bits of x.
func (f UserFlags) Toggle(x UserFlags) UserFlags { return f ^ x }

var userFlagNames = map[string]UserFlags{
	"verification": FlagVerification,
	"promotion":    FlagPromotion,
}

// ParseUserFlag resolves a flag by its lowercase name.
func ParseUserFlag(name string) (UserFlags, bool) {
	f, ok := userFlagNames[name]
	return f, ok
}
