package api

import (
	"context"
	"net/http"

	"github.com/kashguard/go-secret-learn/internal/config"
	"github.com/kashguard/go-secret-learn/internal/mpc/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SessionSource 运维接口读取会话状态的来源（session.Manager）
type SessionSource interface {
	Snapshot() session.Session
}

type Router struct {
	Routes     []*echo.Route
	Root       *echo.Group
	Management *echo.Group
	APIV1      *echo.Group
}

// Server 参与方进程的运维 HTTP 接口：/metrics、/-/ready、/-/healthy 与会话状态查询
// 路由由 handlers.AttachAllRoutes 注册
type Server struct {
	Config  config.Server
	Echo    *echo.Echo
	Router  *Router
	Session SessionSource
}

func NewServer(cfg config.Server, source SessionSource) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	root := e.Group("")
	return &Server{
		Config:  cfg,
		Echo:    e,
		Session: source,
		Router: &Router{
			Root:       root,
			Management: root.Group("/-"),
			APIV1:      root.Group("/api/v1"),
		},
	}
}

// Ready 会话仍可参与计算（未失败、未终止）
func (s *Server) Ready() bool {
	if s.Session == nil {
		return false
	}
	state := s.Session.Snapshot().State
	return !state.Terminal() && state != session.StateFailed
}

// Start 阻塞提供服务，直到 Shutdown
func (s *Server) Start() error {
	if s.Config.Metrics.Listen == "" {
		return errors.New("metrics.listen is not configured")
	}
	log.Info().Str("listen", s.Config.Metrics.Listen).Msg("Starting ops HTTP server")
	if err := s.Echo.Start(s.Config.Metrics.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "ops HTTP server failed")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Debug().Msg("Shutting down ops HTTP server")
	if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "failed to shut down ops HTTP server")
	}
	return nil
}
