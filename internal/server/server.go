package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/arenaplay/arena/internal/api"
	"github.com/arenaplay/arena/internal/event"
	"github.com/arenaplay/arena/internal/leaderboard"
	"github.com/arenaplay/arena/internal/match"
	"github.com/arenaplay/arena/internal/matchmaking"
	"github.com/arenaplay/arena/internal/queue"
	"github.com/arenaplay/arena/internal/registry"
	"github.com/arenaplay/arena/internal/stats"
	"github.com/arenaplay/arena/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Matchmaking struct {
		Interval     time.Duration
		Threshold    int
		RoomDeadline time.Duration
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Profiles struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	core struct {
		registry *registry.Registry
		queue    *queue.Queue
		matches  *match.Manager
		engine   *matchmaking.Engine
	}

	service struct {
		stats       *stats.Service
		leaderboard *leaderboard.Service
	}

	http   *http.Server
	cancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initCore()
	s.initService()
	s.initAPI()
	return s, nil
}

// initInfra connects to the external collaborators. Both are optional: the
// orchestrator keeps pairing and adjudicating without them, with the
// leaderboard and the stats sink disabled.
func (s *Server) initInfra() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if addrs := s.c.Redis.Leaderboard.Addrs; len(addrs) > 0 {
		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: s.c.Redis.Leaderboard.Pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if err := r.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}

		s.infra.redis = r
	} else {
		slog.Warn("server: redis not configured, leaderboard disabled")
	}

	if p := s.c.Postgres.Profiles; p.Addr != "" {
		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}

		s.infra.postgres = db
	} else {
		slog.Warn("server: postgres not configured, stats sink disabled")
	}

	return nil
}

func (s *Server) initCore() {
	s.core.registry = registry.New()
	s.core.queue = queue.New()

	s.core.matches = match.NewManager(match.Config{
		EventBus:     s.eb,
		RoomDeadline: s.c.Matchmaking.RoomDeadline,
	})

	s.core.engine = matchmaking.NewEngine(matchmaking.Config{
		Queue:     s.core.queue,
		Matches:   s.core.matches,
		Interval:  s.c.Matchmaking.Interval,
		Threshold: s.c.Matchmaking.Threshold,
	})
}

func (s *Server) initService() {
	if s.infra.postgres != nil {
		s.service.stats = stats.NewService(stats.Config{
			EventBus: s.eb,
			DB:       s.infra.postgres,
		})
	}

	if s.infra.redis != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis,
			Prefix:   s.c.Redis.Leaderboard.Prefix,
		})
	}
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:       e,
		Registry:     s.core.registry,
		Queue:        s.core.queue,
		Matches:      s.core.matches,
		Leaderboard:  s.service.leaderboard,
		RedisMode:    mode(s.infra.redis != nil),
		PostgresMode: mode(s.infra.postgres != nil),
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, "server: pairing engine started")
		s.core.engine.Run(ctx)
		return nil
	})

	eg.Go(func() error {
		s.core.matches.Run(ctx)
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.cancel != nil {
		s.cancel()
	}

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}
	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}

func mode(configured bool) string {
	if configured {
		return "configured"
	}
	return "disabled"
}
