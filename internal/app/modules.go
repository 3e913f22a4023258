// Package app assembles the bot with fx: configuration, storage, the
// chat-platform session, the workflow services, the relay and the HTTP
// interaction API.
package app

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/companion"
	"github.com/tbourn/genji-bot/internal/config"
	"github.com/tbourn/genji-bot/internal/discord"
	"github.com/tbourn/genji-bot/internal/events"
	"github.com/tbourn/genji-bot/internal/http/handlers"
	"github.com/tbourn/genji-bot/internal/repo"
	"github.com/tbourn/genji-bot/internal/services"
	"github.com/tbourn/genji-bot/internal/sysutil"
)

// Version is stamped at build time with -ldflags "-X ...app.Version=...".
var Version = "dev"

// Module provides every component and starts the long-running parts.
var Module = fx.Options(
	fx.Provide(
		config.Load,
		newLogger,
		newDB,
		cache.New,
		events.NewBus,
		newSession,
		newMessenger,
		newPermissions,
		newMirror,
		newAnalytics,
		newChangeRequests,
		newWorkflow,
		newArchive,
		newCreators,
		newMembers,
		newHandlers,
	),
	fx.WithLogger(fxLogger),
	fx.Invoke(
		startTracing,
		loadCache,
		connectGateway,
		wireEvents,
		startRelay,
		startJobs,
		serveHTTP,
	),
)

func newLogger(cfg config.Config) zerolog.Logger {
	return sysutil.NewLogger(cfg.LogLevel, cfg.LogPretty)
}

// fxLogger prints the dependency graph events only at debug level.
func fxLogger(l zerolog.Logger) fxevent.Logger {
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		return fxevent.NopLogger
	}
	return &fxevent.ConsoleLogger{W: l}
}

func newDB(lc fx.Lifecycle, cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(cfg.DB, cfg.OTEL.Enabled)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DB.Driver, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		_ = repo.Close(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	lc.Append(fx.StopHook(func() error { return repo.Close(db) }))
	return db, nil
}

func newSession(cfg config.Config) (*discordgo.Session, error) {
	if cfg.Discord.Token == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}
	s, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discord.Intents
	return s, nil
}

func newMessenger(s *discordgo.Session, cfg config.Config) services.Messenger {
	return discord.NewMessenger(s, cfg.Discord.GuildID)
}

func newPermissions(cfg config.Config) services.Permissions {
	return services.Permissions{ModRoleIDs: cfg.Discord.ModRoleIDs}
}

// newMirror returns nil when no companion API is configured.
func newMirror(cfg config.Config) services.PlaytestMirror {
	c := companion.NewClient(cfg.Companion)
	if !c.Enabled() {
		return nil
	}
	return c
}

func newAnalytics(db *gorm.DB, cfg config.Config) *services.AnalyticsBuffer {
	return services.NewAnalyticsBuffer(db, cfg.Workflow.AnalyticsMaxBuffer)
}

func newChangeRequests(db *gorm.DB, c *cache.GenjiCache, m services.Messenger, perms services.Permissions, cfg config.Config) *services.ChangeRequestService {
	return services.NewChangeRequestService(db, c, m, perms, services.ChangeRequestSettings{
		ForumID:       config.Snowflake(cfg.Discord.ChangeRequestForum),
		ModmailRoleID: cfg.Discord.ModmailRoleID,
		StaleAfter:    cfg.Workflow.StaleAfter,
	})
}

type workflowParams struct {
	fx.In

	DB             *gorm.DB
	Cache          *cache.GenjiCache
	Messenger      services.Messenger
	Bus            *events.Bus
	Perms          services.Permissions
	Mirror         services.PlaytestMirror
	ChangeRequests *services.ChangeRequestService
	Config         config.Config
}

func newWorkflow(p workflowParams) *services.WorkflowEngine {
	d := p.Config.Discord
	e := services.NewWorkflowEngine(p.DB, p.Cache,
		services.NewSubmissionValidator(services.DBQuota{DB: p.DB}),
		p.Messenger, p.Bus, p.Perms,
		services.WorkflowSettings{
			PlaytestChannelID: config.Snowflake(d.PlaytestChannelID),
			PlaytestForumID:   config.Snowflake(d.PlaytestForumID),
			MapMakerRoleID:    d.MapMakerRoleID,
			ModmailRoleID:     d.ModmailRoleID,
			DraftTimeout:      p.Config.Workflow.DraftTimeout,
		})
	e.Mirror = p.Mirror
	e.ChangeRequests = p.ChangeRequests
	return e
}

func newArchive(db *gorm.DB, c *cache.GenjiCache, bus *events.Bus) *services.ArchiveService {
	return &services.ArchiveService{DB: db, Cache: c, Bus: bus}
}

func newCreators(db *gorm.DB, c *cache.GenjiCache, perms services.Permissions) *services.CreatorService {
	return &services.CreatorService{DB: db, Cache: c, Perms: perms}
}

func newMembers(db *gorm.DB, c *cache.GenjiCache, m services.Messenger, bus *events.Bus, cfg config.Config) *services.MemberService {
	return &services.MemberService{DB: db, Cache: c, Messenger: m, Bus: bus, MapMakerRoleID: cfg.Discord.MapMakerRoleID}
}

type handlerParams struct {
	fx.In

	DB             *gorm.DB
	Workflow       *services.WorkflowEngine
	ChangeRequests *services.ChangeRequestService
	Creators       *services.CreatorService
	Members        *services.MemberService
	Cache          *cache.GenjiCache
	Analytics      *services.AnalyticsBuffer
	Config         config.Config
}

func newHandlers(p handlerParams) *handlers.Handlers {
	return handlers.New(handlers.Deps{
		DB:             p.DB,
		Workflow:       p.Workflow,
		ChangeRequests: p.ChangeRequests,
		Creators:       p.Creators,
		Members:        p.Members,
		Choices:        p.Cache,
		Tracker:        p.Analytics,
		IdempotencyTTL: p.Config.IdempotencyTTL,
	})
}

// background runs fn on its own context between OnStart and OnStop. OnStop
// cancels it and waits for fn to return.
func background(lc fx.Lifecycle, name string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				fn(ctx)
			}()
			return nil
		},
		OnStop: func(stop context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stop.Done():
				return fmt.Errorf("%s did not stop: %w", name, stop.Err())
			}
		},
	})
}
