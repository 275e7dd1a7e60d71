package chessbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/park285/blundrbot/internal/chess"
	"github.com/park285/blundrbot/internal/chess/uci"
	"github.com/park285/blundrbot/internal/config"
	"github.com/park285/blundrbot/internal/httpapi"
	"github.com/park285/blundrbot/internal/movelog"
	"github.com/park285/blundrbot/internal/msgcat"
	"github.com/park285/blundrbot/internal/render"
	"github.com/park285/blundrbot/internal/service/cache"
)

const cachePrefix = "blundr:"

// Deps is the wired application. Pool, Cache and DB are nil when their
// backends are not configured.
type Deps struct {
	Engine  *chess.Engine
	Pool    *uci.Pool
	Cache   *cache.CacheService
	DB      *sql.DB
	Repo    movelog.Repository
	Catalog *msgcat.Catalog
	Server  *httpapi.Server
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	backend, err := chess.ParseBackend(cfg.EngineBackend)
	if err != nil {
		return nil, err
	}
	if backend == chess.BackendUCI {
		if strings.TrimSpace(cfg.StockfishPath) == "" {
			return nil, fmt.Errorf("STOCKFISH_PATH is required for the uci backend")
		}
		d.Pool, err = uci.NewPool(uci.PoolConfig{
			Session: uci.Config{
				BinaryPath:      cfg.StockfishPath,
				Options:         uci.Options{Threads: cfg.EngineThreads, HashMB: cfg.EngineHashMB},
				Depth:           cfg.EngineDepth,
				StartupTimeout:  cfg.EngineStartupTimeout,
				ReadTimeout:     cfg.EngineReadTimeout,
				ShutdownTimeout: cfg.EngineShutdownTimeout,
				Logger:          logger.Named("uci"),
			},
			MaxProcesses: cfg.EngineMaxProcesses,
		})
		if err != nil {
			return nil, fmt.Errorf("init engine pool: %w", err)
		}
	}

	// Score cache (Redis optional)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cconf, perr := parseRedisURL(cfg.RedisURL)
		if perr != nil {
			return nil, fmt.Errorf("parse redis url: %w", perr)
		}
		cconf.Prefix = cachePrefix
		d.Cache, err = cache.NewCacheService(*cconf, logger)
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
	}

	// Served-move log: Postgres when configured, otherwise in memory
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		d.DB, d.Repo, err = openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
	} else {
		d.Repo = movelog.NewMemoryRepository(0)
	}

	d.Catalog, err = msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	d.Engine, err = chess.NewEngine(chess.Options{
		Backend:  backend,
		Pool:     d.Pool,
		PoolSize: cfg.WorstPoolSize,
		Workers:  cfg.EvalWorkers,
		Fallback: cfg.EngineFallback,
		Cache:    d.Cache,
		CacheTTL: cfg.ScoreCacheTTL,
		Logger:   logger.Named("engine"),
	})
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	d.Server, err = httpapi.NewServer(httpapi.Deps{
		Engine:   d.Engine,
		Repo:     d.Repo,
		Cache:    d.Cache,
		Renderer: render.NewSVGBoardRenderer(),
		Catalog:  d.Catalog,
		Logger:   logger.Named("http"),
	}, httpapi.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("deps_ready",
		zap.String("backend", string(backend)),
		zap.Bool("cache", d.Cache != nil),
		zap.Bool("postgres", d.DB != nil),
	)
	ok = true
	return d, nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, movelog.Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	repo := movelog.NewRepository(db)
	if err := repo.EnsureSchema(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, repo, nil
}

// Close stops engine processes before releasing the stores.
func (d *Deps) Close() error {
	var errs []error
	if d.Engine != nil {
		errs = append(errs, d.Engine.Close())
	} else if d.Pool != nil {
		errs = append(errs, d.Pool.Close())
	}
	if d.Cache != nil {
		errs = append(errs, d.Cache.Close())
	}
	if d.DB != nil {
		errs = append(errs, d.DB.Close())
	}
	return errors.Join(errs...)
}

func parseRedisURL(raw string) (*cache.CacheConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("redis host required")
	}
	portStr := u.Port()
	if portStr == "" {
		portStr = "6379"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &cache.CacheConfig{Host: host, Port: port, Password: pass, DB: db}, nil
}
