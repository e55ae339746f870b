package ops

import (
	"net/http"

	"github.com/kashguard/go-secret-learn/internal/api"
	"github.com/labstack/echo/v4"
)

func GetHealthyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/healthy", func(c echo.Context) error {
		return c.String(http.StatusOK, "Healthy.")
	})
}
