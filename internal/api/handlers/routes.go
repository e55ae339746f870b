package handlers

import (
	"github.com/kashguard/go-secret-learn/internal/api"
	"github.com/kashguard/go-secret-learn/internal/api/handlers/ops"
	"github.com/kashguard/go-secret-learn/internal/api/handlers/sessions"
	"github.com/labstack/echo/v4"
)

// AttachAllRoutes 注册全部路由
func AttachAllRoutes(s *api.Server) {
	s.Router.Routes = []*echo.Route{
		ops.GetMetricsRoute(s),
		ops.GetReadyRoute(s),
		ops.GetHealthyRoute(s),
		sessions.GetSessionRoute(s),
	}
}
