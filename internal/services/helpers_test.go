package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/events"
	"github.com/tbourn/genji-bot/internal/repo"
)

const (
	modRole   = "900"
	modUserID = int64(500001)
	creatorID = int64(500002)
	voterID   = int64(500003)
)

var (
	testPerms = Permissions{ModRoleIDs: []string{modRole}}
	modActor  = Actor{ID: modUserID, Roles: []string{modRole}}
	creator   = Actor{ID: creatorID}
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(db) })
	return db
}

// ----- Fake messenger -----

type sent struct {
	ChannelID int64
	MessageID int64
	Msg       Message
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int64
	sent    []sent
	edits   []sent
	threads []string
	forums  []string
	roles   []string
	closed  map[int64]string
	members map[int64]bool

	sendErr error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 7000, closed: map[int64]string{}, members: map[int64]bool{}}
}

func (m *fakeMessenger) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *fakeMessenger) SendMessage(_ context.Context, channelID int64, msg Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	id := m.id()
	m.sent = append(m.sent, sent{ChannelID: channelID, MessageID: id, Msg: msg})
	return id, nil
}

func (m *fakeMessenger) EditMessage(_ context.Context, channelID, messageID int64, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, sent{ChannelID: channelID, MessageID: messageID, Msg: msg})
	return nil
}

func (m *fakeMessenger) StartThread(_ context.Context, _, _ int64, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = append(m.threads, name)
	return m.id(), nil
}

func (m *fakeMessenger) StartForumThread(_ context.Context, _ int64, name string, _ Message) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forums = append(m.forums, name)
	return m.id(), m.id(), nil
}

func (m *fakeMessenger) AddRole(_ context.Context, userID int64, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles = append(m.roles, fmt.Sprintf("%d:%s", userID, roleID))
	return nil
}

func (m *fakeMessenger) MemberExists(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[userID], nil
}

func (m *fakeMessenger) CloseThread(_ context.Context, threadID int64, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[threadID] = tag
	return nil
}

func (m *fakeMessenger) sentTo(channelID int64) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, s := range m.sent {
		if s.ChannelID == channelID {
			out = append(out, s.Msg)
		}
	}
	return out
}

// ----- Fake quota -----

type fakeQuota struct {
	open   int64
	weekly int64
	oldest *time.Time
	err    error
}

func (q fakeQuota) CountOpenAuthoredPlaytests(context.Context, int64) (int64, error) {
	return q.open, q.err
}

func (q fakeQuota) WeeklySubmissions(context.Context, int64, time.Time) (int64, *time.Time, error) {
	return q.weekly, q.oldest, q.err
}

// ----- Fixture -----

type fixture struct {
	db     *gorm.DB
	cache  *cache.GenjiCache
	msgr   *fakeMessenger
	bus    *events.Bus
	engine *WorkflowEngine
	got    []events.Event
}

const playtestChannel = int64(42)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:    newTestDB(t),
		cache: cache.New(),
		msgr:  newFakeMessenger(),
		bus:   events.NewBus(),
	}
	record := func(_ context.Context, e events.Event) error {
		f.got = append(f.got, e)
		return nil
	}
	for _, tag := range []string{
		events.TagMapPublished, events.TagPlaytestCreated, events.TagPlaytestResolved,
		events.TagNewsfeed, events.TagMapArchived, events.TagMapUnarchived,
	} {
		f.bus.Subscribe(tag, record)
	}
	f.engine = NewWorkflowEngine(f.db, f.cache, NewSubmissionValidator(DBQuota{DB: f.db}), f.msgr, f.bus, testPerms, WorkflowSettings{
		PlaytestChannelID: playtestChannel,
		PlaytestForumID:   43,
		MapMakerRoleID:    "777",
		ModmailRoleID:     "888",
	})
	f.engine.ChangeRequests = NewChangeRequestService(f.db, f.cache, f.msgr, testPerms, ChangeRequestSettings{
		ForumID:       44,
		ModmailRoleID: "888",
	})
	return f
}

func (f *fixture) tags() []string {
	out := make([]string, len(f.got))
	for i, e := range f.got {
		out[i] = e.Tag
	}
	return out
}

func submission(code string) domain.MapSubmission {
	return domain.MapSubmission{Code: code, Name: "Hanamura", Checkpoints: 12}
}

func fullDetails(difficulty string) Details {
	return Details{
		MapTypes:     []string{"Classic"},
		Mechanics:    []string{"Bhop"},
		Restrictions: []string{"Wall Climb"},
		Difficulty:   difficulty,
	}
}

// openPlaytest runs a creator submission through to an open voting session.
func (f *fixture) openPlaytest(t *testing.T, code, difficulty string) *ConfirmResult {
	t.Helper()
	ctx := context.Background()
	d, err := f.engine.Begin(ctx, creator, submission(code), false)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := f.engine.SetDetails(ctx, d.ID, creatorID, fullDetails(difficulty)); err != nil {
		t.Fatalf("SetDetails: %v", err)
	}
	res, err := f.engine.Confirm(ctx, d.ID, creatorID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	return res
}

var errBoom = errors.New("boom")
