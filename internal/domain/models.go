// Package domain defines the persistence models and value types for map
// submissions, playtests, change requests and the reference data mirrored by
// the entity cache. Models are mapped with GORM and shared by the repository
// and service layers.
package domain

import (
	"fmt"
	"time"
)

// Map is a published or playtesting map, keyed by its normalized code.
type Map struct {
	Code        string    `json:"code"        gorm:"type:varchar(6);primaryKey"`
	Name        string    `json:"name"        gorm:"type:varchar(64);not null;index"`
	Checkpoints int       `json:"checkpoints" gorm:"not null;check:checkpoints > 0"`
	Description string    `json:"description" gorm:"type:text"`
	Difficulty  string    `json:"difficulty"  gorm:"type:varchar(16)"`
	Gold        float64   `json:"gold"`
	Silver      float64   `json:"silver"`
	Bronze      float64   `json:"bronze"`
	Official    bool      `json:"official"    gorm:"not null;default:false"`
	Archived    bool      `json:"archived"    gorm:"not null;default:false;index"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for Map.
func (Map) TableName() string { return "maps" }

// MapCreator links a map to one of its creators.
type MapCreator struct {
	MapCode string `gorm:"type:varchar(6);primaryKey"`
	UserID  int64  `gorm:"primaryKey;index"`
}

// TableName returns the database table name for MapCreator.
func (MapCreator) TableName() string { return "map_creators" }

// MapGuide is a guide URL attached to a map.
type MapGuide struct {
	ID      uint   `gorm:"primaryKey"`
	MapCode string `gorm:"type:varchar(6);not null;index"`
	URL     string `gorm:"type:text;not null"`
}

// TableName returns the database table name for MapGuide.
func (MapGuide) TableName() string { return "guides" }

// MapAttribute stores one selected map type, mechanic or restriction.
// Kind is one of the AttributeKind constants.
type MapAttribute struct {
	MapCode string `gorm:"type:varchar(6);primaryKey"`
	Kind    string `gorm:"type:varchar(16);primaryKey"`
	Value   string `gorm:"type:varchar(64);primaryKey"`
}

// TableName returns the database table name for MapAttribute.
func (MapAttribute) TableName() string { return "map_attributes" }

// Attribute kinds stored in MapAttribute.Kind.
const (
	AttributeMapType     = "map_type"
	AttributeMechanic    = "mechanic"
	AttributeRestriction = "restriction"
)

// User is a guild member known to the bot.
type User struct {
	UserID    int64     `json:"user_id"    gorm:"primaryKey;autoIncrement:false"`
	Nickname  string    `json:"nickname"   gorm:"type:varchar(64);not null"`
	Flags     UserFlags `json:"flags"      gorm:"not null;default:0"`
	IsCreator bool      `json:"is_creator" gorm:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Lookup is a single-valued reference row (map names, types, mechanics,
// restrictions, tags). Each kind lives in its own table; see LookupTables.
type Lookup struct {
	Value string `gorm:"type:varchar(64);primaryKey"`
}

// LookupTables lists the reference tables loaded into the cache, by kind.
var LookupTables = map[string]string{
	LookupMapNames:     "all_map_names",
	LookupMapTypes:     "all_map_types",
	LookupMechanics:    "all_map_mechanics",
	LookupRestrictions: "all_map_restrictions",
	LookupTags:         "all_tags",
}

// Lookup kinds.
const (
	LookupMapNames     = "map_names"
	LookupMapTypes     = "map_types"
	LookupMechanics    = "mechanics"
	LookupRestrictions = "restrictions"
	LookupTags         = "tags"
)

// Playtest status values.
const (
	PlaytestOpen       = "open"
	PlaytestRestarting = "restarting"
	PlaytestApproved   = "approved"
	PlaytestResolved   = "resolved"
	PlaytestDenied     = "denied"
)

// Playtest is the voting session opened for a non-moderator submission.
// ThreadID identifies the discussion thread; MessageID is the thread post
// that carries the voting control and histogram.
type Playtest struct {
	ThreadID          int64     `json:"thread_id"           gorm:"primaryKey;autoIncrement:false"`
	MapCode           string    `json:"map_code"            gorm:"type:varchar(6);not null;index"`
	UserID            int64     `json:"user_id"             gorm:"not null;index:idx_playtest_author,priority:1"`
	IsAuthor          bool      `json:"is_author"           gorm:"not null;index:idx_playtest_author,priority:2"`
	MessageID         int64     `json:"message_id"          gorm:"not null;uniqueIndex"`
	PlaytestMessageID int64     `json:"playtest_message_id" gorm:"not null"`
	RequiredVotes     int       `json:"required_votes"      gorm:"not null"`
	Difficulty        string    `json:"difficulty"          gorm:"type:varchar(16)"`
	Status            string    `json:"status"              gorm:"type:varchar(16);not null;default:'open';index"`
	Finalized         bool      `json:"finalized"           gorm:"not null;default:false"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName returns the database table name for Playtest.
func (Playtest) TableName() string { return "playtest" }

// Resolved reports whether the session has reached a final status.
// A restarting session is not resolved but accepts no votes either.
func (p Playtest) Resolved() bool {
	return p.Status != PlaytestOpen && p.Status != PlaytestRestarting
}

// Restarting reports whether a moderator restarted the session and the
// author has not yet re-entered the details.
func (p Playtest) Restarting() bool { return p.Status == PlaytestRestarting }

// PlaytestVote is a single voter's difficulty rating; one per voter per thread.
type PlaytestVote struct {
	ThreadID  int64     `json:"thread_id"  gorm:"primaryKey;autoIncrement:false"`
	UserID    int64     `json:"user_id"    gorm:"primaryKey;autoIncrement:false"`
	Value     float64   `json:"value"      gorm:"not null;check:value >= 0 AND value <= 10"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for PlaytestVote.
func (PlaytestVote) TableName() string { return "playtest_votes" }

// Completion is a record submitted by a playtester for a map.
type Completion struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	MapCode   string    `json:"map_code"   gorm:"type:varchar(6);not null;index"`
	UserID    int64     `json:"user_id"    gorm:"not null;index"`
	Record    float64   `json:"record"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Completion.
func (Completion) TableName() string { return "records" }

// MapSubmissionDate records when a user submitted a map (weekly quota).
type MapSubmissionDate struct {
	ID     uint      `gorm:"primaryKey"`
	UserID int64     `gorm:"not null;index:idx_submission_user_date,priority:1"`
	Date   time.Time `gorm:"not null;index:idx_submission_user_date,priority:2"`
}

// TableName returns the database table name for MapSubmissionDate.
func (MapSubmissionDate) TableName() string { return "map_submission_dates" }

// ChangeRequest is a post-publication request to modify a map.
type ChangeRequest struct {
	ThreadID        int64     `json:"thread_id"        gorm:"primaryKey;autoIncrement:false"`
	MapCode         string    `json:"map_code"         gorm:"type:varchar(6);not null;index"`
	UserID          int64     `json:"user_id"          gorm:"not null"`
	Content         string    `json:"content"          gorm:"type:text;not null"`
	CreatorMentions string    `json:"creator_mentions" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at"       gorm:"not null;index"`
	Resolved        bool      `json:"resolved"         gorm:"not null;default:false;index"`
	Alerted         bool      `json:"alerted"          gorm:"not null;default:false"`
}

// TableName returns the database table name for ChangeRequest.
func (ChangeRequest) TableName() string { return "change_requests" }

// JumpURL links to the request's discussion thread inside forumID.
func (c ChangeRequest) JumpURL(forumID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%d", forumID, c.ThreadID)
}

// AnalyticsEvent is one buffered command/interaction usage record.
type AnalyticsEvent struct {
	ID        uint      `gorm:"primaryKey"`
	Event     string    `gorm:"type:varchar(64);not null;index"`
	UserID    int64     `gorm:"not null"`
	Timestamp time.Time `gorm:"not null"`
	Args      string    `gorm:"type:text"` // JSON object
}

// TableName returns the database table name for AnalyticsEvent.
func (AnalyticsEvent) TableName() string { return "analytics" }
