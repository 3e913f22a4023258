package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Map{}).TableName():               "maps",
		(MapCreator{}).TableName():        "map_creators",
		(Playtest{}).TableName():          "playtest",
		(PlaytestVote{}).TableName():      "playtest_votes",
		(MapSubmissionDate{}).TableName(): "map_submission_dates",
		(ChangeRequest{}).TableName():     "change_requests",
		(AnalyticsEvent{}).TableName():    "analytics",
		(Idempotency{}).TableName():       "idempotency",
		(ProcessedMessage{}).TableName():  "processed_messages",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_VoteUniquePerVoter(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&PlaytestVote{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	v := PlaytestVote{ThreadID: 1, UserID: 2, Value: 3.5, UpdatedAt: time.Now()}
	if err := db.Create(&v).Error; err != nil {
		t.Fatalf("insert vote: %v", err)
	}
	dup := PlaytestVote{ThreadID: 1, UserID: 2, Value: 4}
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected primary key violation on second vote by same voter")
	}
}

func TestMigrations_ProcessedMessageUniqueKey(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&ProcessedMessage{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if err := db.Create(&ProcessedMessage{ID: "a", MessageKey: "k", Tag: "playtest"}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.Create(&ProcessedMessage{ID: "b", MessageKey: "k", Tag: "playtest"}).Error; err == nil {
		t.Fatalf("expected unique violation on message_key")
	}
}

func TestPlaytest_Resolved(t *testing.T) {
	if (Playtest{Status: PlaytestOpen}).Resolved() {
		t.Fatalf("open playtest reported resolved")
	}
	restarting := Playtest{Status: PlaytestRestarting}
	if restarting.Resolved() || !restarting.Restarting() {
		t.Fatalf("restarting playtest: resolved=%v restarting=%v", restarting.Resolved(), restarting.Restarting())
	}
	for _, s := range []string{PlaytestApproved, PlaytestResolved, PlaytestDenied} {
		if !(Playtest{Status: s}).Resolved() {
			t.Fatalf("status %q should be resolved", s)
		}
	}
}

func TestChangeRequest_JumpURL(t *testing.T) {
	cr := ChangeRequest{ThreadID: 99}
	if got := cr.JumpURL("123"); got != "https://discord.com/channels/123/99" {
		t.Fatalf("JumpURL = %q", got)
	}
}
