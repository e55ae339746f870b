package sessions

import (
	"net/http"
	"time"

	"github.com/kashguard/go-secret-learn/internal/api"
	"github.com/kashguard/go-secret-learn/internal/mpc/protocol"
	"github.com/labstack/echo/v4"
)

// SessionResponse 会话快照（不含设备句柄）
type SessionResponse struct {
	SessionID   string    `json:"session_id"`
	Mode        string    `json:"mode"`
	Self        string    `json:"self"`
	Coordinator bool      `json:"coordinator"`
	Parties     []string  `json:"parties"`
	State       string    `json:"state"`
	HasDevice   bool      `json:"has_device"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Cause       string    `json:"cause,omitempty"`
	CauseType   string    `json:"cause_type,omitempty"`
}

func GetSessionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/session", getSessionHandler(s))
}

func getSessionHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.Session == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "no session")
		}
		snap := s.Session.Snapshot()

		response := &SessionResponse{
			SessionID:   snap.ID,
			Mode:        snap.Mode,
			Self:        snap.Self.Name,
			Coordinator: snap.Self.IsCoordinator(),
			Parties:     snap.PartyNames(),
			State:       string(snap.State),
			HasDevice:   snap.Device != nil,
			CreatedAt:   snap.CreatedAt,
			ExpiresAt:   snap.ExpiresAt(),
		}
		if snap.Cause != nil {
			response.Cause = snap.Cause.Error()
			response.CauseType = protocol.TypeOf(snap.Cause).String()
		}
		return c.JSON(http.StatusOK, response)
	}
}
