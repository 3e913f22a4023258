package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/config"
	"github.com/tbourn/genji-bot/internal/discord"
	"github.com/tbourn/genji-bot/internal/events"
	httpapi "github.com/tbourn/genji-bot/internal/http"
	"github.com/tbourn/genji-bot/internal/http/handlers"
	"github.com/tbourn/genji-bot/internal/observability"
	"github.com/tbourn/genji-bot/internal/relay"
	"github.com/tbourn/genji-bot/internal/services"
)

func startTracing(lc fx.Lifecycle, cfg config.Config) error {
	shutdown, err := observability.SetupOTel(context.Background(), cfg.OTEL, Version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	lc.Append(fx.StopHook(shutdown))
	return nil
}

// loadCache fills the cache before anything serves a request.
func loadCache(lc fx.Lifecycle, c *cache.GenjiCache, db *gorm.DB) {
	lc.Append(fx.StartHook(func(ctx context.Context) error {
		if err := c.Setup(ctx, cache.DBLoader{DB: db}); err != nil {
			return fmt.Errorf("load cache: %w", err)
		}
		log.Info().Str("event", "cache_ready").Msg("cache loaded")
		return nil
	}))
}

// connectGateway opens the gateway session and reattaches the vote
// controls of every open playtest.
func connectGateway(lc fx.Lifecycle, s *discordgo.Session, cfg config.Config, members *services.MemberService, wf *services.WorkflowEngine) {
	var remove func()
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			remove = discord.RegisterMemberHandlers(s, cfg.Discord.GuildID, members)
			if err := s.Open(); err != nil {
				remove()
				return fmt.Errorf("gateway: %w", err)
			}
			n, err := wf.RestoreSessions(ctx)
			if err != nil {
				log.Error().Err(err).Str("event", "restore_failed").Msg("playtest sessions not restored")
			}
			log.Info().Int("sessions", n).Str("guild_id", cfg.Discord.GuildID).Msg("gateway connected")
			return nil
		},
		OnStop: func(context.Context) error {
			if remove != nil {
				remove()
			}
			return s.Close()
		},
	})
}

// wireEvents subscribes the newsfeed channel and, when a broker is
// configured, the relay publisher to the event bus.
func wireEvents(lc fx.Lifecycle, bus *events.Bus, m services.Messenger, cfg config.Config) error {
	(&services.NewsfeedPoster{Messenger: m, ChannelID: config.Snowflake(cfg.Discord.NewsfeedChannelID)}).Subscribe(bus)

	if cfg.Queue.URL == "" {
		return nil
	}
	p, closeFn, err := relay.DialPublisher(cfg.Queue.URL, cfg.Queue.Queue)
	if err != nil {
		return fmt.Errorf("relay publisher: %w", err)
	}
	p.Subscribe(bus)
	lc.Append(fx.StopHook(closeFn))
	return nil
}

// startRelay consumes the relay queue until shutdown.
func startRelay(lc fx.Lifecycle, db *gorm.DB, wf *services.WorkflowEngine, archive *services.ArchiveService, cfg config.Config) {
	if cfg.Queue.URL == "" {
		log.Warn().Msg("AMQP_URL not set; relay consumer disabled")
		return
	}
	c := &relay.Consumer{
		URL:      cfg.Queue.URL,
		Queue:    cfg.Queue.Queue,
		Prefetch: cfg.Queue.Prefetch,
		Handler:  &relay.Dispatcher{DB: db, Playtests: wf, Archive: archive},
	}
	background(lc, "relay consumer", func(ctx context.Context) {
		if err := c.Run(ctx); err != nil {
			log.Error().Err(err).Msg("relay consumer exited")
		}
	})
}

func startJobs(lc fx.Lifecycle, p jobParams) {
	background(lc, "jobs", func(ctx context.Context) {
		if err := runJobs(ctx, p); err != nil {
			log.Error().Err(err).Msg("background jobs exited")
		}
	})
}

// serveHTTP mounts the interaction API and serves it until shutdown.
func serveHTTP(lc fx.Lifecycle, cfg config.Config, db *gorm.DB, h *handlers.Handlers) {
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, h, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info().Str("addr", srv.Addr).Str("version", Version).Msg("http server listening")
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("http server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("shutting down http server")
			return srv.Shutdown(ctx)
		},
	})
}
