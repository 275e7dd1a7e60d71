package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/park285/blundrbot/internal/chess"
	"github.com/park285/blundrbot/internal/config"
	"github.com/park285/blundrbot/internal/movelog"
	"github.com/park285/blundrbot/internal/msgcat"
	"github.com/park285/blundrbot/internal/render"
	"github.com/park285/blundrbot/internal/service/cache"
)

const defaultRequestTimeout = 10 * time.Second

type Config struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server holds the collaborators behind the HTTP surface. Repo, Cache and
// Renderer are optional.
type Server struct {
	engine   *chess.Engine
	repo     movelog.Repository
	cache    *cache.CacheService
	renderer render.BoardRenderer
	catalog  *msgcat.Catalog
	cfg      Config
	log      *zap.Logger
}

type Deps struct {
	Engine   *chess.Engine
	Repo     movelog.Repository
	Cache    *cache.CacheService
	Renderer render.BoardRenderer
	Catalog  *msgcat.Catalog
	Logger   *zap.Logger
}

func NewServer(deps Deps, cfg Config) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if deps.Catalog == nil {
		deps.Catalog = msgcat.MustDefault()
	}
	if deps.Renderer == nil {
		deps.Renderer = render.NewSVGBoardRenderer()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	// cors.New panics on an empty allow-list
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = append([]string(nil), config.DefaultAllowedOrigins...)
	}
	return &Server{
		engine:   deps.Engine,
		repo:     deps.Repo,
		cache:    deps.Cache,
		renderer: deps.Renderer,
		catalog:  deps.Catalog,
		cfg:      cfg,
		log:      deps.Logger,
	}, nil
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestID(), accessLog(s.log), recovery(s.log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: false,
		MaxAge:           10 * time.Minute,
	}))

	router.GET("/", s.handleRoot)
	router.GET("/healthz", s.handleHealth)
	router.POST("/worst-move", s.handleWorstMove)
	router.GET("/board.png", s.handleBoard)
	router.GET("/moves/recent", s.handleRecent)
	router.GET("/ws", s.handleWS)
	router.NoRoute(func(c *gin.Context) {
		abortDetail(c, http.StatusNotFound, "Not Found")
	})
	return router
}

func (s *Server) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.RequestTimeout)
}
