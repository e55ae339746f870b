package ops

import (
	"net/http"

	"github.com/kashguard/go-secret-learn/internal/api"
	"github.com/labstack/echo/v4"
)

// GetReadyRoute 会话失败或终止后返回 503
func GetReadyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/ready", getReadyHandler(s))
}

func getReadyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.Ready() {
			return c.String(http.StatusServiceUnavailable, "Not ready.")
		}
		return c.String(http.StatusOK, "Ready.")
	}
}
