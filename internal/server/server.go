// Package server wires the panel's services together behind the HTTP router.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/reedfamily/mcpanel/internal/api"
	"github.com/reedfamily/mcpanel/internal/auth"
	"github.com/reedfamily/mcpanel/internal/chat"
	"github.com/reedfamily/mcpanel/internal/commands"
	"github.com/reedfamily/mcpanel/internal/config"
	"github.com/reedfamily/mcpanel/internal/directory"
	"github.com/reedfamily/mcpanel/internal/docker"
	"github.com/reedfamily/mcpanel/internal/game"
	"github.com/reedfamily/mcpanel/internal/profile"
	"github.com/reedfamily/mcpanel/internal/registry"
	"github.com/reedfamily/mcpanel/internal/scheduler"
	"github.com/reedfamily/mcpanel/internal/stats"

	// Register game adapters
	_ "github.com/reedfamily/mcpanel/internal/game/minecraft"
)

const sessionPurgeInterval = time.Hour

type Server struct {
	cfg    *config.Config
	db     *sql.DB
	router chi.Router

	auth      *auth.Service
	directory *directory.Directory
	registry  *registry.Registry
	relay     *chat.Relay
	collector *stats.Collector
	scheduler *scheduler.Scheduler
	docker    *docker.Client
	bridge    *chat.Bridge
	sink      *chat.AMQPSink

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(ctx context.Context, cfg *config.Config, db *sql.DB) (*Server, error) {
	s := &Server{cfg: cfg, db: db}

	s.auth = auth.NewService(db)
	if _, err := s.auth.EnsureDefaultUser(ctx, cfg.Auth.DefaultUser, cfg.Auth.DefaultPass); err != nil {
		return nil, fmt.Errorf("ensure default user: %w", err)
	}

	dir, err := directory.New(ctx, directory.NewSQLStore(db))
	if err != nil {
		return nil, fmt.Errorf("load servers: %w", err)
	}
	s.directory = dir

	policy := registry.DefaultRetryPolicy
	policy.MaxRetries = cfg.RCON.MaxRetries
	s.registry = registry.New(dir,
		registry.WithDialer(registry.RCONDialer{DialTimeout: cfg.RCON.DialTimeout, Timeout: cfg.RCON.Timeout}),
		registry.WithIdleTimeout(cfg.RCON.IdleTimeout),
		registry.WithReapInterval(cfg.RCON.ReapInterval),
		registry.WithRetryPolicy(policy),
	)
	dir.SetInvalidator(s.registry)

	if b := cfg.Bootstrap; b.Host != "" {
		added, err := dir.EnsureDefault(ctx, directory.ServerConfig{
			Name:         b.Name,
			Host:         b.Host,
			GamePort:     b.GamePort,
			RconPort:     b.RconPort,
			RconPassword: b.RconPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap server: %w", err)
		}
		if added {
			log.Info().Str("host", b.Host).Int("rcon_port", b.RconPort).Msg("added bootstrap server")
		}
	}

	adapter := game.Get(game.Default)
	facade := commands.New(s.registry, adapter)

	relayOpts := []chat.Option{chat.WithHistory(cfg.Chat.History)}
	if cfg.AMQP.URL != "" {
		sink, err := chat.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Error().Err(err).Msg("amqp chat sink disabled")
		} else {
			s.sink = sink
			relayOpts = append(relayOpts, chat.WithSink(sink))
		}
	}
	s.relay = chat.New(relayOpts...)

	if !cfg.Stats.Disabled {
		s.collector = stats.NewCollector(db, facade, dir.IDs, stats.Config{
			Interval:    cfg.Stats.Interval,
			Retention:   cfg.Stats.Retention,
			Concurrency: cfg.Stats.Concurrency,
		})
	}

	scheduleStore := scheduler.NewStore(db)
	s.scheduler = scheduler.New(scheduleStore, s.registry)

	if cfg.Docker.Enabled {
		dc, err := docker.NewClient(cfg.Docker.Host)
		if err != nil {
			return nil, err
		}
		s.docker = dc
		if cfg.Docker.LogChat {
			s.bridge = chat.NewBridge(s.relay, dc, adapter, s.chatTargets)
		}
	}

	profiles := profile.NewClient(profile.WithBaseURLs(cfg.Profile.SessionURL, cfg.Profile.APIURL))

	s.router = s.routes(facade, scheduleStore, profiles)
	return s, nil
}

func (s *Server) chatTargets() []chat.Target {
	var targets []chat.Target
	for _, c := range s.directory.List() {
		if c.Container != "" {
			targets = append(targets, chat.Target{ServerID: c.ID, Container: c.Container})
		}
	}
	return targets
}

func (s *Server) forget(id string) {
	s.relay.Clear(id)
	if s.collector != nil {
		s.collector.Forget(id)
	}
}

func (s *Server) routes(facade *commands.Facade, schedules *scheduler.Store, profiles *profile.Client) chi.Router {
	authHandler := api.NewAuthHandler(s.auth)
	serverHandler := api.NewServerHandler(s.directory, s.registry, s.forget)
	commandHandler := api.NewCommandHandler(facade)
	consoleHandler := api.NewConsoleHandler(s.directory, facade)
	chatHandler := api.NewChatHandler(s.directory, s.relay)
	scheduleHandler := api.NewScheduleHandler(s.directory, schedules)
	profileHandler := api.NewProfileHandler(profiles)

	loginLimiter := api.NewRateLimiter(s.cfg.Auth.LoginRate)
	webhookLimiter := api.NewRateLimiter(s.cfg.Chat.WebhookRate)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.Server.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(api.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", serverHandler.Health)
		r.With(loginLimiter.Middleware).Post("/auth/login", authHandler.Login)
		r.With(webhookLimiter.Middleware, api.WebhookTokenMiddleware(s.cfg.Auth.WebhookToken)).
			Post("/chat/webhook", chatHandler.Webhook)

		// Protected routes; websockets pass the token as ?token=
		r.Group(func(r chi.Router) {
			r.Use(api.AuthMiddleware(s.auth))

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.Me)

			r.Get("/ws", chatHandler.Stream)
			r.Post("/profile", profileHandler.Lookup)
			r.Post("/mojang/profile", profileHandler.Lookup)

			r.Route("/servers", func(r chi.Router) {
				r.Get("/", serverHandler.List)
				r.Post("/", serverHandler.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", serverHandler.Get)
					r.Put("/", serverHandler.Update)
					r.Delete("/", serverHandler.Delete)
					r.Post("/test", serverHandler.Test)

					// Commands
					r.Post("/rcon", commandHandler.Execute)
					r.Post("/broadcast", commandHandler.Broadcast)
					r.Get("/players", commandHandler.Players)
					r.Post("/players/{player}/{action}", commandHandler.PlayerAction)
					r.Delete("/players/{player}/whitelist", commandHandler.WhitelistRemove)
					r.Get("/whitelist", commandHandler.Whitelist)
					r.Get("/console", consoleHandler.Handle)

					// Stats
					r.Get("/stats", commandHandler.Stats)
					if s.collector != nil {
						statsHandler := api.NewStatsHandler(s.directory, s.collector)
						r.Get("/stats/latest", statsHandler.Latest)
						r.Get("/stats/history", statsHandler.History)
						r.Get("/stats/live", statsHandler.Live)
					}

					// Chat
					r.Get("/chat", chatHandler.Messages)
					r.Delete("/chat", chatHandler.Clear)

					// Schedules
					r.Get("/schedules", scheduleHandler.List)
					r.Post("/schedules", scheduleHandler.Create)
					r.Put("/schedules/{scheduleId}", scheduleHandler.Update)
					r.Delete("/schedules/{scheduleId}", scheduleHandler.Delete)

					// Containers
					if s.docker != nil {
						containerHandler := api.NewContainerHandler(s.directory, s.docker, s.registry)
						r.Get("/power", containerHandler.Status)
						r.Post("/power/{action}", containerHandler.Power)
					}
				})
			})

			if s.docker != nil {
				containerHandler := api.NewContainerHandler(s.directory, s.docker, s.registry)
				r.Post("/containers/discover", containerHandler.Discover)
			}
		})
	})

	// Serve the dashboard if it has been built
	if distDir := s.cfg.Server.WebDir; dirExists(distDir) {
		fileServer := http.FileServer(http.Dir(distDir))
		r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Unknown paths fall back to index.html for client-side routing
			path := filepath.Join(distDir, filepath.Clean("/"+r.URL.Path))
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, r, filepath.Join(distDir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		}))
		log.Info().Str("dir", distDir).Msg("serving dashboard")
	}

	return r
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (s *Server) Router() chi.Router {
	return s.router
}

// Start launches the background workers: idle reaper, session purge, stats
// collector, scheduler and, when enabled, the container log chat bridge.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.registry.Start(ctx)
	}()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.purgeSessions(ctx)
	}()
	if s.bridge != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.bridge.Start(ctx)
		}()
	}
	if s.collector != nil {
		s.collector.Start()
	}
	s.scheduler.Start()
}

func (s *Server) purgeSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.auth.PurgeExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("purge expired sessions")
			} else if n > 0 {
				log.Debug().Int64("sessions", n).Msg("purged expired sessions")
			}
		}
	}
}

// Stop halts the workers and closes every session and external client.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
	if s.collector != nil {
		s.collector.Stop()
	}
	s.scheduler.Stop()
	s.registry.Close()
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			log.Error().Err(err).Msg("close amqp sink")
		}
	}
	if s.docker != nil {
		_ = s.docker.Close()
	}
}
